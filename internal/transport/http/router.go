package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-seat-broker/internal/config"
	"github.com/go-seat-broker/internal/domain"
	"github.com/go-seat-broker/internal/transport/http/handler"
	appmiddleware "github.com/go-seat-broker/internal/transport/http/middleware"
	"golang.org/x/time/rate"
)

// NewRouter builds and returns the application router. ctx bounds background
// work owned by the router, such as rate-limiter cleanup.
func NewRouter(ctx context.Context, cfg *config.Config, deps *Deps) http.Handler {
	r := chi.NewRouter()
	if cfg.TrustProxyHeaders {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(appmiddleware.RequestContext)
	if deps.Metrics != nil {
		r.Use(deps.Metrics.Instrument)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After", "X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	authMw := appmiddleware.Auth(deps.Verifier)

	// Flood guard on the seat write endpoints; the 30 s per-seat spacing lives in the service.
	seatRL := appmiddleware.NewRateLimiter(ctx, rate.Limit(cfg.IssueRatePerSecond), cfg.IssueRateBurst)

	healthH := handler.NewHealthHandler()
	windowH := handler.NewWindowHandler(nil)
	seatH := handler.NewSeatHandler(deps.Access)
	auditH := handler.NewAuditHandler(deps.Audit)

	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		// ── Public routes (no auth) ──────────────────────────────────────────
		r.Get("/health-check/{action}", healthH.Ping)
		r.Post("/health-check/{action}", healthH.Ping)
		r.Get("/issuance-window", windowH.Get)

		// ── Authenticated routes ─────────────────────────────────────────────
		r.Group(func(r chi.Router) {
			r.Use(authMw)

			// Seat owner
			r.Get("/seats/{orderItemID}", seatH.Status)
			r.With(seatRL.Limit).Post("/seats/{orderItemID}/code", seatH.IssueCode)
			r.With(seatRL.Limit).Post("/seats/{orderItemID}/confirm", seatH.Confirm)

			// Support-only routes
			r.Group(func(r chi.Router) {
				r.Use(appmiddleware.RequireRole(domain.RoleSupport, domain.RoleAdmin))

				r.Get("/support/seats/{seatID}/log", auditH.Trail)
				r.Post("/support/seats/{seatID}/export", auditH.Export)
			})
		})
	})

	return r
}
