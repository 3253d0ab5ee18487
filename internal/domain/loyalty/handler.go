package loyalty

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

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

func currentUser(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return uuid.Nil, false
	}
	return userID, true
}

// Info handles GET /rewards/info
func (h *Handler) Info(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	info, err := h.service.Info(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, info)
}

// Tiers handles GET /rewards/tiers
func (h *Handler) Tiers(w http.ResponseWriter, r *http.Request) {
	response.OK(w, TiersResponse{Tiers: h.service.Schedule().Tiers()})
}

// DailyClaim handles POST /rewards/daily-claim
func (h *Handler) DailyClaim(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}
	res, err := h.service.ClaimDaily(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, res)
}

// Quote handles GET /rewards/quote?points=&orderAmount=
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	points, err := strconv.ParseInt(q.Get("points"), 10, 64)
	if err != nil {
		response.BadRequest(w, "points must be an integer")
		return
	}
	amount, err := decimal.NewFromString(q.Get("orderAmount"))
	if err != nil {
		response.BadRequest(w, "orderAmount must be a number")
		return
	}

	quote, err := h.service.Quote(r.Context(), userID, points, amount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, quote)
}

// Redeem handles POST /rewards/redeem
func (h *Handler) Redeem(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req RedeemRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	red, err := h.service.Redeem(r.Context(), userID, req.OrderID, req.PointsToUse, req.OrderAmount)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if red.Replayed {
		response.OK(w, red)
		return
	}
	response.Created(w, red)
}

// SetTimezone handles PUT /rewards/timezone
func (h *Handler) SetTimezone(w http.ResponseWriter, r *http.Request) {
	userID, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req TimezoneRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	acc, err := h.service.SetTimezone(r.Context(), userID, req.Timezone)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, acc)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrAlreadyClaimedToday):
		response.Conflict(w, "ALREADY_CLAIMED_TODAY", "Daily reward already claimed today")
	case errors.Is(err, ErrInsufficientPoints):
		response.Unprocessable(w, "INSUFFICIENT_POINTS", "Not enough points")
	case errors.Is(err, ErrRedemptionConflict):
		response.Conflict(w, "REDEMPTION_CONFLICT", err.Error())
	case errors.Is(err, ErrInvalidPoints):
		response.ValidationError(w, map[string]string{"points": err.Error()})
	case errors.Is(err, ErrInvalidOrderAmount):
		response.ValidationError(w, map[string]string{"order_amount": err.Error()})
	case errors.Is(err, ErrInvalidOrderID):
		response.ValidationError(w, map[string]string{"order_id": err.Error()})
	case errors.Is(err, ErrInvalidTimezone):
		response.ValidationError(w, map[string]string{"timezone": err.Error()})
	case errors.Is(err, ErrAccountNotFound):
		response.NotFound(w, "loyalty account not found")
	case errors.Is(err, apperr.ErrTemporarilyUnavailable):
		errorhandler.Unavailable(r.Context(), w, err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
