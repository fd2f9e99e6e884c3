package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/medloop/telecall/internal/appointment"
	"github.com/medloop/telecall/internal/auth"
	"github.com/medloop/telecall/internal/signaling"
)

type RouterConfig struct {
	Service        *appointment.Service
	Relay          *signaling.Relay
	Gate           auth.Authenticator
	PgPool         *pgxpool.Pool
	Redis          *redis.Client
	AllowedOrigins []string
	Env            string
	Version        string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	if len(cfg.AllowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   cfg.AllowedOrigins,
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
	}

	// Health endpoints
	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Session lifecycle endpoints, all behind the access gate
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(cfg.Gate))
		r.Post("/appointments", bookAppointmentHandler(cfg.Service))
		r.Post("/appointments/{id}/start", startSessionHandler(cfg.Service))
		r.Post("/appointments/{id}/complete", completeSessionHandler(cfg.Service))
		r.Get("/appointments/{id}/session", activeSessionHandler(cfg.Service))
	})

	// Signaling socket authenticates via its token query parameter because
	// browsers cannot set headers on websocket dials.
	r.Get("/ws", cfg.Relay.HandleWS)

	return r
}
