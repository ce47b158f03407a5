// Package health exposes the liveness and readiness HTTP handlers.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/d9705996/helpdesk/internal/api/respond"
	"github.com/d9705996/helpdesk/internal/version"
)

// Pinger is implemented by anything that can check a downstream dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds dependencies for the health and ready endpoints.
type Handler struct {
	db        Pinger
	startTime time.Time
}

// New creates a Handler. db may be nil during startup before the pool is
// established; in that case /ready will return 503 immediately.
func New(db Pinger) *Handler {
	return &Handler{db: db, startTime: time.Now()}
}

type healthBody struct {
	Status        string `json:"status"`
	Timestamp     string `json:"timestamp"`
	Version       string `json:"version"`
	Commit        string `json:"commit"`
	BuildDate     string `json:"buildDate"`
	UptimeSeconds int64  `json:"uptimeSeconds"`
}

// ServeHealth handles GET /api/v1/health.
func (h *Handler) ServeHealth(w http.ResponseWriter, _ *http.Request) {
	respond.JSON(w, http.StatusOK, healthBody{
		Status:        "OK",
		Timestamp:     time.Now().UTC().Format(time.RFC3339),
		Version:       version.Version,
		Commit:        version.Commit,
		BuildDate:     version.Date,
		UptimeSeconds: int64(time.Since(h.startTime).Seconds()),
	})
}

// ServePing handles GET /ping.
func (h *Handler) ServePing(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("pong"))
}

type readyBody struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// ServeReady handles GET /api/v1/ready.
// Returns 200 when the database is reachable; 503 otherwise.
func (h *Handler) ServeReady(w http.ResponseWriter, r *http.Request) {
	if h.db == nil {
		respond.JSON(w, http.StatusServiceUnavailable, readyBody{Status: "unavailable", Error: "database connection is not initialised"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := h.db.Ping(ctx); err != nil {
		respond.JSON(w, http.StatusServiceUnavailable, readyBody{Status: "unavailable", Error: "database is unreachable"})
		return
	}
	respond.JSON(w, http.StatusOK, readyBody{Status: "ok"})
}
