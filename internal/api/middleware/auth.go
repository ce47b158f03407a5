// Package middleware provides HTTP middleware for the helpdesk API.
package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/auth"
	"github.com/d9705996/helpdesk/internal/model"
)

// Authenticator attaches the caller's identity to requests and enforces the
// role and ownership gates.
type Authenticator struct {
	resolver *auth.Resolver
	render   *respond.Renderer
}

// NewAuthenticator creates an Authenticator.
func NewAuthenticator(resolver *auth.Resolver, render *respond.Renderer) *Authenticator {
	return &Authenticator{resolver: resolver, render: render}
}

// RequireAuth rejects requests without a valid bearer token for a user that
// still exists. On success the auth.Identity is stored in the request context.
func (a *Authenticator) RequireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := a.resolver.Resolve(r.Context(), r.Header.Get("Authorization"))
		if err != nil {
			a.render.Error(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), id)))
	})
}

// OptionalAuth attaches an identity when one resolves and otherwise passes
// the request through untouched.
func (a *Authenticator) OptionalAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if id, err := a.resolver.Resolve(r.Context(), r.Header.Get("Authorization")); err == nil {
			r = r.WithContext(auth.WithIdentity(r.Context(), id))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireRole admits only identities holding one of roles. Must be chained
// after RequireAuth.
func (a *Authenticator) RequireRole(roles ...model.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := auth.RequireRole(auth.IdentityFrom(r.Context()), roles...); err != nil {
				a.render.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireOwnership admits the request only when the user id named param, taken
// from the path or else from a JSON body field, is the caller's own id.
func (a *Authenticator) RequireOwnership(param string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, _ := strconv.ParseUint(r.PathValue(param), 10, 64)
			if owner == 0 {
				owner = bodyID(r, param)
			}
			if err := auth.RequireOwner(auth.IdentityFrom(r.Context()), uint(owner)); err != nil {
				a.render.Error(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// bodyID reads field from a JSON object body and restores the body for the
// next handler. Numbers and numeric strings are accepted.
func bodyID(r *http.Request, field string) uint64 {
	if r.Body == nil || r.Body == http.NoBody {
		return 0
	}
	raw, err := io.ReadAll(r.Body)
	r.Body = io.NopCloser(bytes.NewReader(raw))
	if err != nil {
		return 0
	}
	var obj map[string]json.RawMessage
	if json.Unmarshal(raw, &obj) != nil {
		return 0
	}
	v, ok := obj[field]
	if !ok {
		return 0
	}
	var n uint64
	if json.Unmarshal(v, &n) == nil {
		return n
	}
	var s string
	if json.Unmarshal(v, &s) == nil {
		n, _ = strconv.ParseUint(s, 10, 64)
	}
	return n
}
