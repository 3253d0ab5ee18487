package withdrawal

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/uzmarket/marketplace-core/internal/middleware"
	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/errorhandler"
	"github.com/uzmarket/marketplace-core/internal/pkg/response"
	"github.com/uzmarket/marketplace-core/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// Create handles POST /withdrawals
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	wd, err := h.service.Request(r.Context(), userID, req.Amount, Method(req.Method), req.AccountRef)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, wd)
}

// List handles GET /withdrawals
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	items, total, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if items == nil {
		items = []*Withdrawal{}
	}
	response.WithMeta(w, items, response.NewMeta(total, limit, offset))
}

// Settle handles POST /admin/withdrawals/{id}/settle
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid withdrawal id")
		return
	}

	var req SettleRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	wd, err := h.service.Settle(r.Context(), id, Outcome(req.Outcome), middleware.GetUserID(r.Context()))
	if err != nil {
		// Approved but the rail is down: the payout worker finishes it.
		if wd != nil && wd.Status == StatusApproved && errors.Is(err, apperr.ErrTemporarilyUnavailable) {
			response.Accepted(w, wd)
			return
		}
		h.writeError(w, r, err)
		return
	}
	response.OK(w, wd)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrWithdrawalNotFound):
		response.NotFound(w, "withdrawal not found")
	case errors.Is(err, ErrInsufficientBalance):
		response.Unprocessable(w, "INSUFFICIENT_BALANCE", err.Error())
	case errors.Is(err, ErrInvalidStateTransition):
		response.Conflict(w, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, ErrInvalidAmount):
		response.ValidationError(w, map[string]string{"amount": "Value must be greater than 0"})
	case errors.Is(err, ErrInvalidMethod):
		response.ValidationError(w, map[string]string{"method": "Invalid payout method. Must be: click or payme"})
	case errors.Is(err, ErrInvalidOutcome):
		response.ValidationError(w, map[string]string{"outcome": "Invalid outcome. Must be: approved or rejected"})
	case errors.Is(err, apperr.ErrTemporarilyUnavailable):
		errorhandler.Unavailable(r.Context(), w, err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
