package affiliate

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/uzmarket/marketplace-core/internal/domain/commission"
	"github.com/uzmarket/marketplace-core/internal/middleware"
	"github.com/uzmarket/marketplace-core/internal/pkg/apperr"
	"github.com/uzmarket/marketplace-core/internal/pkg/errorhandler"
	"github.com/uzmarket/marketplace-core/internal/pkg/jwt"
	"github.com/uzmarket/marketplace-core/internal/pkg/response"
	"github.com/uzmarket/marketplace-core/internal/pkg/validator"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// CreateLink handles POST /affiliate/links
func (h *Handler) CreateLink(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	if userID == uuid.Nil {
		response.Unauthorized(w, "unauthorized")
		return
	}

	var req CreateLinkRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	link, err := h.service.IssueLink(r.Context(), userID, req.ProductID, req.CampaignID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, linkResponse(link, 0, decimal.Zero))
}

// ListLinks handles GET /affiliate/links/{promoterId}
func (h *Handler) ListLinks(w http.ResponseWriter, r *http.Request) {
	promoterID, err := uuid.Parse(chi.URLParam(r, "promoterId"))
	if err != nil {
		response.BadRequest(w, "invalid promoter id")
		return
	}
	userID := middleware.GetUserID(r.Context())
	if userID != promoterID && middleware.GetRole(r.Context()) != jwt.RoleAdmin {
		response.Forbidden(w, "cannot view another promoter's links")
		return
	}

	views, err := h.service.ListLinks(r.Context(), promoterID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]*LinkResponse, len(views))
	for i, v := range views {
		out[i] = linkResponse(v.Link, v.Conversions, v.Earnings)
	}
	response.OK(w, out)
}

// DeactivateLink handles POST /affiliate/links/{id}/deactivate
func (h *Handler) DeactivateLink(w http.ResponseWriter, r *http.Request) {
	linkID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid link id")
		return
	}

	link, err := h.service.DeactivateLink(r.Context(), middleware.GetUserID(r.Context()), linkID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, linkResponse(link, 0, decimal.Zero))
}

// CreateCampaign handles POST /affiliate/campaigns
func (h *Handler) CreateCampaign(w http.ResponseWriter, r *http.Request) {
	var req CreateCampaignRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	c, err := h.service.CreateCampaign(r.Context(), middleware.GetUserID(r.Context()), req.input())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Created(w, c)
}

// EndCampaign handles POST /affiliate/campaigns/{id}/end
func (h *Handler) EndCampaign(w http.ResponseWriter, r *http.Request) {
	campaignID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.BadRequest(w, "invalid campaign id")
		return
	}

	isAdmin := middleware.GetRole(r.Context()) == jwt.RoleAdmin
	c, err := h.service.EndCampaign(r.Context(), middleware.GetUserID(r.Context()), campaignID, isAdmin)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, c)
}

// TrackClick handles POST /track/click. The server clock stamps the click.
func (h *Handler) TrackClick(w http.ResponseWriter, r *http.Request) {
	var req TrackClickRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		response.ValidationError(w, errs)
		return
	}

	res, err := h.service.RecordClick(r.Context(), Click{
		Code:               req.Code,
		VisitorFingerprint: req.VisitorFingerprint,
		IPAddress:          middleware.ClientIP(r),
		UserAgent:          r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.Accepted(w, TrackClickResponse{Outcome: res.Outcome})
}

// Attribute handles POST /internal/orders/attribution
func (h *Handler) Attribute(w http.ResponseWriter, r *http.Request) {
	var req AttributionRequest
	if err := response.DecodeJSON(r.Body, &req); err != nil {
		response.BadRequest(w, "invalid JSON body")
		return
	}
	if errs := validator.Validate(req); errs != nil {
		errorhandler.LogValidationError(r.Context(), errs)
		response.ValidationError(w, errs)
		return
	}

	res, err := h.service.Attribute(r.Context(), req.order())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, res)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrLinkNotFound):
		response.NotFound(w, "affiliate link not found")
	case errors.Is(err, ErrCampaignNotFound):
		response.NotFound(w, "affiliate campaign not found")
	case errors.Is(err, ErrNotLinkOwner), errors.Is(err, ErrNotCampaignOwner):
		response.Forbidden(w, err.Error())
	case errors.Is(err, ErrCampaignInactive):
		response.Conflict(w, "CAMPAIGN_INACTIVE", err.Error())
	case errors.Is(err, ErrInvalidProduct):
		response.ValidationError(w, map[string]string{"product_id": err.Error()})
	case errors.Is(err, ErrInvalidRate):
		response.ValidationError(w, map[string]string{"commission_rate": err.Error()})
	case errors.Is(err, ErrInvalidBudget):
		response.ValidationError(w, map[string]string{"budget": err.Error()})
	case errors.Is(err, ErrInvalidDates):
		response.ValidationError(w, map[string]string{"end_date": err.Error()})
	case errors.Is(err, ErrFingerprintRequired):
		response.ValidationError(w, map[string]string{"visitor_fingerprint": err.Error()})
	case errors.Is(err, ErrInvalidOrder), errors.Is(err, commission.ErrInvalidAmount):
		response.ValidationError(w, map[string]string{"order": err.Error()})
	case errors.Is(err, ErrDuplicateCodeExhausted), errors.Is(err, apperr.ErrTemporarilyUnavailable):
		errorhandler.Unavailable(r.Context(), w, err)
	default:
		errorhandler.Internal(r.Context(), w, err)
	}
}
