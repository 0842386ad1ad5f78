package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/jw6ventures/formsheets/internal/api"
	"github.com/jw6ventures/formsheets/internal/auth"
	"github.com/jw6ventures/formsheets/internal/config"
	"github.com/jw6ventures/formsheets/internal/http/csrf"
	"github.com/jw6ventures/formsheets/internal/http/ratelimit"
	"github.com/jw6ventures/formsheets/internal/logging"
	"github.com/jw6ventures/formsheets/internal/metrics"
)

// Deps are the components the router wires together.
type Deps struct {
	Config      *config.Config
	API         *api.Handler
	Guard       *auth.Guard
	AuthLimiter *ratelimit.IPRateLimiter
	// Ready reports whether backing services can take traffic.
	Ready  func(ctx context.Context) error
	Logger *zap.Logger
}

// NewRouter wires the JSON API and the ops endpoints.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	h := d.API
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	// RemoteAddr stays the peer address; forwarded headers are resolved by the limiter against trusted proxies.
	r.Use(middleware.RequestID)
	r.Use(logging.Middleware(logger))
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware())

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		if d.Ready != nil {
			if err := d.Ready(ctx); err != nil {
				http.Error(w, "unready", http.StatusServiceUnavailable)
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	if d.Config.PrometheusEnabled {
		r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
			metrics.Handler().ServeHTTP(w, r)
		})
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(csrf.Middleware(d.Config))
		r.Use(d.Guard.Middleware)

		r.Route("/auth", func(r chi.Router) {
			// The browser legs of the Google handshake always answer with a redirect, so they stay
			// outside the limiter.
			r.Get("/google", h.BeginGoogle)
			r.Get("/google/callback", h.GoogleCallback)

			r.Group(func(r chi.Router) {
				if d.AuthLimiter != nil {
					r.Use(d.AuthLimiter.Middleware())
				}
				r.Post("/register", h.Register)
				r.Post("/login", h.Login)
				r.Post("/refresh", h.Refresh)
				r.Post("/logout", h.Logout)
			})

			r.Group(func(r chi.Router) {
				r.Use(auth.RequireUser)
				r.Get("/me", h.Me)
				r.Get("/google/accounts/{formId}", h.ListGoogleAccounts)
			})
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUser)

			r.Post("/sheets/create", h.CreateSheet)
			r.Post("/sheets/connect", h.ConnectSheet)
			r.Get("/sheets/check", h.CheckSheet)

			r.Post("/forms", h.CreateForm)
			r.Get("/forms", h.ListForms)
		})
	})

	return r
}
