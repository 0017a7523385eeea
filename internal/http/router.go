package http

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/ticketline/admission/internal/idempotency"
	"github.com/ticketline/admission/internal/observability"
	"github.com/ticketline/admission/internal/rateLimit"
)

func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)
	r.Use(RateLimitMiddleware(rl))
	r.Use(IdempotencyMiddleware(idemp))

	r.Post("/v1/events/{id}/admission", h.Enter)
	r.Get("/v1/admission/{id}", h.GetSession)
	r.Post("/v1/admission/{id}/heartbeat", h.Heartbeat)
	r.Delete("/v1/admission/{id}", h.Leave)

	r.Post("/v1/tiers/{id}/holds", h.PlaceHold)
	r.Get("/v1/tiers/{id}/availability", h.Availability)
	r.Post("/v1/holds/{id}/renew", h.RenewHold)
	r.Post("/v1/holds/{id}/confirm", h.ConfirmHold)
	r.Delete("/v1/holds/{id}", h.CancelHold)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}
