package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/teletherapy-platform/internal/compliance"
	httpmiddleware "github.com/wolfman30/teletherapy-platform/internal/http/middleware"
	"github.com/wolfman30/teletherapy-platform/internal/http/respond"
	"github.com/wolfman30/teletherapy-platform/internal/notes"
	"github.com/wolfman30/teletherapy-platform/internal/sessions"
	"github.com/wolfman30/teletherapy-platform/internal/tenancy"
	"github.com/wolfman30/teletherapy-platform/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	SessionsHandler    *sessions.Handler
	NotesHandler       *notes.Handler
	ComplianceHandler  *compliance.Handler
	MetricsHandler     http.Handler
	CORSAllowedOrigins []string

	// JWT verification for /v1 routes
	JWTSecret string
	JWTIssuer string

	// Applied to session booking only; nil disables it.
	BookingRateLimit *httpmiddleware.RateLimiter

	// HealthCheck reports whether backing stores are reachable.
	HealthCheck func(ctx context.Context) error
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	if cfg.SessionsHandler == nil {
		panic("router: sessions handler required")
	}
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.HealthCheck))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	r.Route("/v1", func(api chi.Router) {
		api.Use(middleware.Compress(5))
		api.Use(httpmiddleware.Auth(cfg.JWTSecret, cfg.JWTIssuer))
		api.Use(scopeOrg)

		var bookingMW []func(http.Handler) http.Handler
		if cfg.BookingRateLimit != nil {
			bookingMW = append(bookingMW, cfg.BookingRateLimit.Middleware)
		}
		cfg.SessionsHandler.RegisterRoutes(api, bookingMW...)

		if cfg.NotesHandler != nil {
			cfg.NotesHandler.RegisterRoutes(api)
		}
		if cfg.ComplianceHandler != nil {
			cfg.ComplianceHandler.RegisterRoutes(api.With(httpmiddleware.RequireRole(tenancy.RoleAdmin)))
		}
	})

	return r
}

func healthHandler(check func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if check != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := check(ctx); err != nil {
				respond.JSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
				return
			}
		}
		respond.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
