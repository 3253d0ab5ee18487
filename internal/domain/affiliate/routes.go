package affiliate

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uzmarket/marketplace-core/internal/middleware"
)

// Routes mounts under /api/v1/affiliate. extra lets other packages hang
// promoter reads off the same authenticated router.
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler, extra ...func(chi.Router)) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)

	r.Post("/links", h.CreateLink)
	r.Get("/links/{promoterId}", h.ListLinks)
	r.Post("/links/{id}/deactivate", h.DeactivateLink)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireMerchant())
		r.Post("/campaigns", h.CreateCampaign)
		r.Post("/campaigns/{id}/end", h.EndCampaign)
	})

	for _, register := range extra {
		register(r)
	}
	return r
}

// TrackRoutes mounts under /api/v1/track. It is public; limit caps each client IP.
func (h *Handler) TrackRoutes(limit func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	if limit != nil {
		r.Use(limit)
	}
	r.Post("/click", h.TrackClick)
	return r
}

// InternalRoutes mounts under /internal/orders for the checkout service.
func (h *Handler) InternalRoutes(serviceToken func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(serviceToken)
	r.Post("/attribution", h.Attribute)
	return r
}
