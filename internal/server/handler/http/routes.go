// Package http provides HTTP routing and middleware configuration for
// the drivelock service.
package http

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mkhumalo/drivelock/internal/middleware"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the
// drivelock API. Multipart endpoints carry camera uploads; JSON-only
// endpoints enforce their content type.
//
// Routes:
//
//	POST /api/register    → access.Register (multipart, 5 samples)
//	POST /api/verify-face → access.VerifyFace (multipart probe)
//	POST /api/verify-pin  → access.VerifyPIN (JSON)
//	GET  /api/users       → admin.Users
//	GET  /api/logs        → admin.Logs
//	GET  /api/stats       → admin.Stats
//	GET  /api/health      → admin.Health
//	POST /api/config      → admin.UpdateConfig (JSON, manager-gated)
//	GET  /metrics         → Prometheus metrics
//	GET  /                → admin.Root liveness probe
func NewRouter(
	access *AccessHandler,
	admin *AdminHandler,
	logger *zap.Logger,
) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	// Log each request and its metadata
	r.Use(middleware.WithRequestLogging(logger))

	r.Get("/", admin.Root)
	r.Handle("/metrics", promhttp.Handler())

	// Mount API routes
	r.Route("/api", func(r chi.Router) {
		r.Post("/register", access.Register)
		r.Post("/verify-face", access.VerifyFace)

		// JSON-only endpoints
		r.Group(func(r chi.Router) {
			r.Use(chiMiddleware.AllowContentType("application/json"))
			r.Post("/verify-pin", access.VerifyPIN)
			r.Post("/config", admin.UpdateConfig)
		})

		r.Get("/users", admin.Users)
		r.Get("/logs", admin.Logs)
		r.Get("/stats", admin.Stats)
		r.Get("/health", admin.Health)
	})

	return r
}
