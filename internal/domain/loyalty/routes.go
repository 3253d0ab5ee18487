package loyalty

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes mounts under /api/v1/rewards
func (h *Handler) Routes(authMiddleware func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Get("/tiers", h.Tiers)

	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Get("/info", h.Info)
		r.Post("/daily-claim", h.DailyClaim)
		r.Get("/quote", h.Quote)
		r.Post("/redeem", h.Redeem)
		r.Put("/timezone", h.SetTimezone)
	})
	return r
}
