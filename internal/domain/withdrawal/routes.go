package withdrawal

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/uzmarket/marketplace-core/internal/middleware"
)

// Routes mounts under /api/v1/withdrawals
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Post("/", h.Create)
	r.Get("/", h.List)
	return r
}

// AdminRoutes mounts under /api/admin/withdrawals
func (h *Handler) AdminRoutes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(authMiddleware)
	r.Use(middleware.RequireAdmin())
	r.Post("/{id}/settle", h.Settle)
	return r
}
