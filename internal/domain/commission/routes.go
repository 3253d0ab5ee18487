package commission

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uzmarket/marketplace-core/internal/middleware"
)

// RegisterPromoterRoutes adds ledger reads to the authenticated /affiliate router
func (h *Handler) RegisterPromoterRoutes(r chi.Router) {
	r.Get("/balance", h.Balance)
	r.Get("/transactions", h.List)
}

// AdminRoutes mounts under /api/admin/commissions
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Get)
		r.Post("/review", h.Review)
		r.Get("/events", h.Events)
	})
	return r
}
