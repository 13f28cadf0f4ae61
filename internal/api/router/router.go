package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/voice-receptionist/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/voice-receptionist/internal/http/middleware"
	"github.com/wolfman30/voice-receptionist/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Voice          *handlers.VoiceHandler
	Health         *handlers.HealthHandler
	MetricsHandler http.Handler
	// WebhookRateLimit is requests per second per tenant; 0 disables it.
	WebhookRateLimit float64
	WebhookRateBurst int
	RequestTimeout   time.Duration
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	if cfg.Health != nil {
		r.Get("/health", cfg.Health.Live)
		r.Get("/ready", cfg.Health.Ready)
	}
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler)
	}

	if cfg.Voice == nil {
		return r
	}
	limit := func(next http.Handler) http.Handler { return next }
	if cfg.WebhookRateLimit > 0 {
		burst := cfg.WebhookRateBurst
		if burst <= 0 {
			burst = int(cfg.WebhookRateLimit*2) + 1
		}
		limit = httpmiddleware.RateLimit(cfg.WebhookRateLimit, burst)
	}

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(limit)
		v1.Post("/tool-call", cfg.Voice.HandleToolCall)
		v1.Post("/call-events", cfg.Voice.HandleCallEvent)
	})
	r.Route("/webhooks", func(wh chi.Router) {
		wh.With(httpmiddleware.TenantScope, limit).Post("/telnyx/voice-ai/{tenantID}", cfg.Voice.HandleTelnyxVoiceAI)
		wh.With(httpmiddleware.TenantScope, limit).Post("/retell/{tenantID}", cfg.Voice.HandleRetell)
	})
	return r
}
