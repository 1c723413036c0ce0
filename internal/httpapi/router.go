package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/jobagent/orchestrator/internal/config"
	"github.com/jobagent/orchestrator/internal/observability"
)

// NewRouter assembles the full HTTP route table for the dispatcher process.
func NewRouter(cfg config.Config, s *Server) http.Handler {
	r := chi.NewRouter()

	r.Use(Recoverer())
	r.Use(RequestID())
	r.Use(TraceMiddleware)
	r.Use(AccessLog())
	r.Use(SecurityHeaders)
	r.Use(chimw.StripSlashes)
	r.Use(TimeoutMiddleware(cfg.HTTPHandlerTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowOrigins, ","),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "X-API-Key", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(observability.HTTPMetricsMiddleware)

	r.Get("/health", s.HealthHandler())
	r.Get("/metrics", s.MetricsHandler())

	r.Group(func(r chi.Router) {
		r.Use(RequireAPIKey(cfg.APIKey))

		r.Group(func(r chi.Router) {
			r.Use(httprate.LimitByIP(cfg.RateLimitIngestPerMin, time.Minute))
			r.Post("/ingest/profile", s.IngestProfileHandler())
		})

		r.Post("/jobs/apply/{role_id}", s.TriggerApplicationHandler())
		r.Get("/applications", s.ListApplicationsHandler())
		r.Get("/applications/{id}", s.GetApplicationHandler())
	})

	r.Post("/webhooks/sms", s.SMSWebhookHandler())

	return r
}
