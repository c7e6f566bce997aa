package proxy

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vnmchuo/bedrock-gateway/internal/auth"
)

// NewRouter mounts the public and authenticated routes.
func NewRouter(h *Handler, authMiddleware auth.Middleware, allowOrigin string) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(AccessLog)
	r.Use(chimiddleware.Recoverer)
	r.Use(Metrics)
	r.Use(CORS(allowOrigin))

	// Public routes
	r.Get("/healthy", HandleHealthy)
	r.Get("/healthz", h.HandleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(authMiddleware)
		r.Post("/v1/chat/completions", h.HandleChatCompletions)
		r.Post("/v1/chat/reset", h.HandleReset)
		r.Get("/v1/requests", h.HandleRequests)
	})

	return r
}
