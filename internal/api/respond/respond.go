// Package respond writes JSON responses and is the one place where a
// classified error becomes an HTTP status and body.
package respond

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/d9705996/helpdesk/internal/apperr"
)

const contentType = "application/json; charset=utf-8"

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error     string         `json:"error"`
	Message   string         `json:"message"`
	Field     string         `json:"field,omitempty"`
	Timestamp string         `json:"timestamp"`
	RequestID string         `json:"requestId,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Debug     string         `json:"debug,omitempty"`
}

// Pagination describes one page of a collection.
type Pagination struct {
	Total  int64 `json:"total"`
	Limit  int   `json:"limit"`
	Offset int   `json:"offset"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Message writes {"message": msg} merged with extra top-level fields.
func Message(w http.ResponseWriter, status int, msg string, extra map[string]any) {
	body := make(map[string]any, len(extra)+1)
	for k, v := range extra {
		body[k] = v
	}
	body["message"] = msg
	JSON(w, status, body)
}

// NoContent writes a bare 204.
func NoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// Renderer maps errors to responses. Server-side failures are logged with
// their cause; clients only see the cause in development mode.
type Renderer struct {
	logger *slog.Logger
	dev    bool
	now    func() time.Time
}

// New returns a Renderer. A nil logger uses slog.Default.
func New(logger *slog.Logger, development bool) *Renderer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Renderer{logger: logger, dev: development, now: time.Now}
}

// Error writes err as a classified error response.
func (rr *Renderer) Error(w http.ResponseWriter, r *http.Request, err error) {
	ae := apperr.As(err)
	status := ae.Kind.Status()

	body := ErrorBody{
		Error:     ae.ErrorCode(),
		Message:   ae.Message,
		Field:     ae.Field,
		Timestamp: rr.now().UTC().Format(time.RFC3339),
		RequestID: RequestID(r.Context()),
		Details:   ae.Details,
	}
	if status >= http.StatusInternalServerError {
		rr.logger.ErrorContext(r.Context(), "request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", status,
			"code", body.Error,
			"request_id", body.RequestID,
			"err", err,
		)
		if rr.dev && ae.Err != nil {
			body.Debug = ae.Err.Error()
		}
	}
	JSON(w, status, body)
}

type requestIDKey struct{}

// WithRequestID stores a request id for inclusion in error bodies.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the id stored by WithRequestID, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
