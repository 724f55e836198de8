package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/aksiksi/vaulty/internal/health"
	appmiddleware "github.com/aksiksi/vaulty/internal/middleware"
	"github.com/aksiksi/vaulty/internal/metrics"
)

// Routes are the /postfix/* and /monitor/* handlers the Ingestion
// Controllers supply. Kept as plain http.HandlerFunc values (rather than
// an imported ingest.Controller type) so this package never imports
// ingest, which itself imports httpapi for ServerResult/WriteError.
type Routes struct {
	Index             http.HandlerFunc
	PostfixEmail      http.HandlerFunc
	PostfixAttachment http.HandlerFunc
	MonitorCache      http.HandlerFunc
}

// NewRouter assembles the chi router: the teacher's standard middleware
// chain, ambient health/metrics endpoints (unauthenticated), and the
// Basic-auth-guarded /postfix/* surface.
func NewRouter(logger *slog.Logger, health *health.Handler, authUser, authPass string, routes Routes) chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.StructuredLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/", routes.Index)

	r.Get("/health", health.Health)
	r.Get("/ready", health.Readiness)
	r.Get("/live", health.Liveness)
	r.Get("/metrics", metrics.Handler().ServeHTTP)
	r.Get("/monitor/cache", routes.MonitorCache)

	r.Group(func(r chi.Router) {
		r.Use(BasicAuth(logger, authUser, authPass))
		r.Post("/postfix/email", routes.PostfixEmail)
		r.Post("/postfix/attachment", routes.PostfixAttachment)
	})

	return r
}
