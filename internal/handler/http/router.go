package http

import (
	"context"
	"log/slog"
	"net/http"
	"net/netip"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/identity/pkg/health"
	"github.com/utafrali/identity/pkg/middleware"
)

const serviceName = "identity"

// RouterConfig holds what NewRouter wires together.
type RouterConfig struct {
	Service        AuthService
	TokenValidator middleware.TokenValidator
	Health         *health.Handler
	Logger         *slog.Logger
	CORS           middleware.CORSConfig

	// TrustedProxies may report the client address in forwarding headers.
	// Requests from any other peer are keyed by their socket address.
	TrustedProxies []netip.Prefix

	// RateLimitRPS and RateLimitBurst bound /auth requests per client IP.
	// A zero rate disables the limiter.
	RateLimitRPS   float64
	RateLimitBurst int
}

// NewRouter creates a chi router with all identity routes registered. ctx
// bounds the lifetime of the rate limiter's background eviction.
func NewRouter(ctx context.Context, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.TrustedRealIP(cfg.TrustedProxies))
	r.Use(middleware.RequestLogging(cfg.Logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(cfg.CORS))

	// Health check endpoints
	r.Get("/health/live", cfg.Health.LivenessHandler())
	r.Get("/health/ready", cfg.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	authHandler := NewAuthHandler(cfg.Service, cfg.Logger)
	oauthHandler := NewOAuthHandler(cfg.Service, cfg.Logger)
	requireBearer := middleware.Auth(cfg.TokenValidator)

	r.Route("/auth", func(r chi.Router) {
		r.Use(middleware.NoStore())
		if cfg.RateLimitRPS > 0 {
			r.Use(middleware.RateLimit(ctx, cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.Logger))
		}

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/forget-password", authHandler.ForgetPassword)
		r.Put("/reset-password", authHandler.ResetPassword)
		r.Get("/login/external/redirect", authHandler.ExternalRedirect)
		r.Get("/login/external/google/callback", authHandler.ExternalCallback)

		r.Group(func(r chi.Router) {
			r.Use(requireBearer)

			r.Post("/otp", authHandler.IssueOTP)
			r.Get("/login/external/google", authHandler.StartExternalLogin)
		})
	})

	r.Route("/oauth", func(r chi.Router) {
		r.Use(middleware.NoStore())
		r.Use(requireBearer)

		r.Put("/set-context", oauthHandler.SetContext)
		r.Get("/get-context", oauthHandler.GetContext)
		r.Get("/user-info", oauthHandler.UserInfo)
		r.Post("/user-check-email-exists", oauthHandler.CheckEmailExists)
		r.Put("/user-assign-application-role", oauthHandler.AssignApplicationRole)
	})

	return r
}
