// Package api wires all API routes onto the provided ServeMux.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/helpdesk/internal/api/handler"
	"github.com/d9705996/helpdesk/internal/api/middleware"
	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/apperr"
	"github.com/d9705996/helpdesk/internal/health"
	"github.com/d9705996/helpdesk/internal/model"
	"github.com/go-chi/cors"
)

// MaxBodyBytes bounds every request body.
const MaxBodyBytes = 1 << 20

// Routes holds the handlers and gates RegisterRoutes mounts.
type Routes struct {
	Health  *health.Handler
	Auth    *handler.AuthHandler
	Tickets *handler.TicketHandler
	Users   *handler.UserHandler
	Authn   *middleware.Authenticator
	Render  *respond.Renderer
	// AuthLimit wraps the credential endpoints. Nil disables rate limiting.
	AuthLimit func(http.Handler) http.Handler
	// Metrics serves GET /metrics when set.
	Metrics http.Handler
}

// RegisterRoutes registers all application routes on mux.
func RegisterRoutes(mux *http.ServeMux, rt Routes) {
	limited := func(h http.HandlerFunc) http.Handler {
		if rt.AuthLimit == nil {
			return h
		}
		return rt.AuthLimit(h)
	}
	authed := func(h http.HandlerFunc, gates ...func(http.Handler) http.Handler) http.Handler {
		return middleware.Chain(h, append([]func(http.Handler) http.Handler{rt.Authn.RequireAuth}, gates...)...)
	}

	// Public health endpoints
	mux.HandleFunc("GET /ping", rt.Health.ServePing)
	mux.HandleFunc("GET /api/v1/health", rt.Health.ServeHealth)
	mux.HandleFunc("GET /api/v1/ready", rt.Health.ServeReady)
	if rt.Metrics != nil {
		mux.Handle("GET /metrics", rt.Metrics)
	}

	// Auth
	mux.Handle("POST /api/v1/auth/register", limited(rt.Auth.Register))
	mux.Handle("POST /api/v1/auth/login", limited(rt.Auth.Login))
	mux.Handle("POST /api/v1/auth/refresh", limited(rt.Auth.Refresh))
	mux.HandleFunc("POST /api/v1/auth/logout", rt.Auth.Logout)
	mux.Handle("POST /api/v1/auth/logout-all", authed(rt.Auth.LogoutAll))
	mux.Handle("GET /api/v1/auth/me", authed(rt.Auth.Me))

	// Organisations and users
	mux.HandleFunc("GET /api/v1/organisations", rt.Users.ListOrganisations)
	mux.Handle("PATCH /api/v1/users/{id}/role", authed(rt.Users.UpdateRole, rt.Authn.RequireRole(model.RoleAdmin)))
	mux.Handle("PUT /api/v1/users/{id}/password", authed(rt.Users.ChangePassword, rt.Authn.RequireOwnership("id")))

	// Tickets
	mux.Handle("GET /api/v1/tickets", authed(rt.Tickets.List))
	mux.Handle("POST /api/v1/tickets", authed(rt.Tickets.Create))
	mux.Handle("GET /api/v1/tickets/{id}", authed(rt.Tickets.Get))
	mux.Handle("PATCH /api/v1/tickets/{id}", authed(rt.Tickets.Update))
	mux.Handle("DELETE /api/v1/tickets/{id}", authed(rt.Tickets.Delete))

	// Unknown API paths get a JSON 404 rather than the SPA.
	mux.HandleFunc("/api/", func(w http.ResponseWriter, r *http.Request) {
		rt.Render.Error(w, r, apperr.NotFound("Route").WithCode("ROUTE_NOT_FOUND"))
	})
}

// ServerOptions configures the outer middleware stack.
type ServerOptions struct {
	Logger         *slog.Logger
	Render         *respond.Renderer
	Observer       middleware.RequestObserver
	RequestTimeout time.Duration
	AllowedOrigins []string
}

// Handler wraps mux with the middleware every request passes through, from
// the outside in: request id, access log with panic recovery, metrics, CORS,
// security headers, deadline and body limit.
func Handler(mux http.Handler, opts ServerOptions) http.Handler {
	mws := []func(http.Handler) http.Handler{
		middleware.RequestID,
		middleware.AccessLog(opts.Logger, opts.Render),
	}
	if opts.Observer != nil {
		mws = append(mws, middleware.Instrument(opts.Observer))
	}
	mws = append(mws,
		cors.Handler(cors.Options{
			AllowedOrigins:   opts.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
			MaxAge:           300,
		}),
		middleware.SecurityHeaders,
	)
	if opts.RequestTimeout > 0 {
		mws = append(mws, middleware.Timeout(opts.RequestTimeout))
	}
	mws = append(mws, middleware.MaxBytes(MaxBodyBytes))
	return middleware.Chain(mux, mws...)
}
