package commission

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
	ledger *Ledger
}

func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// Balance handles GET /affiliate/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	b, err := h.ledger.Balance(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, balanceResponse(userID, b))
}

// List handles GET /affiliate/transactions
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	q := r.URL.Query()
	filter := ListFilter{}
	if s := q.Get("status"); s != "" {
		st, err := ParseStatus(s)
		if err != nil {
			response.BadRequest(w, "status must be one of pending, approved, rejected, paid")
			return
		}
		filter.Status = &st
	}
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	filter.Offset, _ = strconv.Atoi(q.Get("offset"))

	items, total, err := h.ledger.List(r.Context(), userID, filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if filter.Limit <= 0 || filter.Limit > 100 {
		filter.Limit = 20
	}
	if items == nil {
		items = []*Transaction{}
	}
	response.WithMeta(w, items, response.NewMeta(total, filter.Limit, filter.Offset))
}

// Review handles POST /admin/commissions/{id}/review
func (h *Handler) Review(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid transaction id")
		return
	}

	var req ReviewRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	reviewerID := middleware.GetUserID(r.Context())
	t, err := h.ledger.Review(r.Context(), id, Decision(req.Decision), reviewerID, req.Reason)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, t)
}

// Get handles GET /admin/commissions/{id}
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid transaction id")
		return
	}

	t, err := h.ledger.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, t)
}

// Events handles GET /admin/commissions/{id}/events
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid transaction id")
		return
	}

	events, err := h.ledger.Events(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if events == nil {
		events = []*Event{}
	}
	response.OK(w, events)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrTransactionNotFound):
		response.NotFound(w, "commission transaction not found")
	case errors.Is(err, ErrInvalidStateTransition):
		response.Conflict(w, "INVALID_STATE_TRANSITION", err.Error())
	case errors.Is(err, ErrInvalidDecision):
		response.ValidationError(w, map[string]string{"decision": "Invalid decision. Must be: approve or reject"})
	case errors.Is(err, apperr.ErrTemporarilyUnavailable):
		errorhandler.Unavailable(r.Context(), w, err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
