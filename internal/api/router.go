// Cadenza - Real-Time Collaborative Composition Server
// Copyright 2026 Cadenza Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/cadenzalab/cadenza

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cadenzalab/cadenza/internal/auth"
	"github.com/cadenzalab/cadenza/internal/metrics"
	"github.com/cadenzalab/cadenza/internal/middleware"
)

// Router builds the full HTTP routing tree.
//
// Layout:
//
//	/api/v1/health                     liveness, unauthenticated
//	/api/v1/auth/*                     register/login, IP rate limited
//	/api/v1/sessions/*                 authenticated REST surface
//	/api/v1/sessions/{id}/ws           WebSocket upgrade into the relay
//	/metrics                           Prometheus exposition
func Router(h *Handler, authMw *auth.Middleware) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   h.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.PrometheusMetrics)

		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			r.Use(authRateLimit(h))
			r.Post("/auth/register", h.Register)
			r.Post("/auth/login", h.Login)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Use(authMw.Authenticate)

			r.Post("/", h.CreateSession)
			r.Get("/", h.ListSessions)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/status", h.UpdateSessionStatus)
				r.Get("/changes", h.ListSessionChanges)
				r.Get("/comments", h.ListSessionComments)
				r.Post("/comments/{commentID}/resolve", h.ResolveComment)
				r.Get("/participants", h.ListSessionParticipants)
				r.Get("/events", h.ListSessionEvents)
				r.Get("/suggestions", h.SessionSuggestions)
				r.Get("/ws", h.SessionWebSocket)
			})
		})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// authRateLimit throttles credential endpoints by client IP. Disabled
// rate limiting returns a pass-through, used by tests.
func authRateLimit(h *Handler) func(http.Handler) http.Handler {
	if h.cfg.Security.RateLimitDisabled {
		return func(next http.Handler) http.Handler { return next }
	}

	reqs := h.cfg.Security.RateLimitReqs
	if reqs <= 0 {
		reqs = 20
	}
	window := h.cfg.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}

	return httprate.Limit(
		reqs,
		window,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.APIRateLimitHits.WithLabelValues("auth").Inc()
			respondError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests, slow down", nil)
		}),
	)
}
