package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/NathanEdg/SpikeReports/internal/middleware"
)

// NewRouter builds the HTTP router. /health and /metrics are public; /api
// requires adminToken when it is set.
func NewRouter(h *Handler, adminToken string) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.CORS([]string{"*"}))

	h.RegisterHealth(r)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.AdminToken(adminToken))
		h.RegisterRoutes(r)
	})

	return r
}
