package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/vendalia/catalog-ai-platform/internal/messaging"
	"github.com/vendalia/catalog-ai-platform/pkg/logging"
)

// Config holds router configuration.
type Config struct {
	Logger         *logging.Logger
	Webhook        *messaging.Handler
	Conversations  *ConversationHandler
	Admin          *AdminHandler
	Stats          *StatsHandler
	AdminJWTSecret string
	MetricsHandler http.Handler
}

// New creates a Chi router with all routes configured.
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if cfg.Logger != nil {
		r.Use(RequestLogger(cfg.Logger))
	}

	// Public endpoints: health, channel webhook, metrics.
	r.Group(func(public chi.Router) {
		if cfg.Webhook != nil {
			public.Get("/health", cfg.Webhook.HealthCheck)
			public.Route("/messaging", func(r chi.Router) {
				r.Post("/webhook", cfg.Webhook.Webhook)
			})
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	if cfg.Conversations != nil {
		r.Route("/conversations", func(r chi.Router) {
			r.Post("/message", cfg.Conversations.Message)
			r.Get("/jobs/{jobID}", cfg.Conversations.JobStatus)
		})
	}

	if cfg.Admin != nil && cfg.AdminJWTSecret != "" {
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(AdminJWT(cfg.AdminJWTSecret))
			admin.Get("/conversations/{conversationID}", cfg.Admin.GetTranscript)
			if cfg.Stats != nil {
				admin.Get("/stats", cfg.Stats.GetStats)
			}
		})
	}

	return r
}
