// Package requestid assigns every served request an ID and forwards it to the
// upstream calls made on the request's behalf.
package requestid

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

type contextKey string

const (
	// RequestIDKey is the context key for storing request IDs.
	RequestIDKey contextKey = "request_id"
	// RequestIDHeader is the HTTP header name for request IDs.
	RequestIDHeader = "X-Request-ID"

	maxIDLength = 128
)

// FromContext returns the request ID in ctx, or "".
func FromContext(ctx context.Context) string {
	if id, ok := ctx.Value(RequestIDKey).(string); ok {
		return id
	}
	return ""
}

// WithRequestID stores id in ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// New returns a fresh UUID v4 request ID.
func New() string {
	return uuid.New().String()
}

// Valid reports whether a caller-supplied ID can be reused: non-empty, bounded,
// and made of visible ASCII only.
func Valid(id string) bool {
	if id == "" || len(id) > maxIDLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		if id[i] <= ' ' || id[i] > '~' {
			return false
		}
	}
	return true
}

// Inject copies the request ID in ctx onto an outgoing header set.
// Headers that already carry an ID are left alone.
func Inject(ctx context.Context, h http.Header) {
	id := FromContext(ctx)
	if id == "" || h.Get(RequestIDHeader) != "" {
		return
	}
	h.Set(RequestIDHeader, id)
}

// Middleware reuses a valid incoming X-Request-ID or generates a new one, and
// exposes it on the response header and the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !Valid(id) {
			id = New()
		}

		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(WithRequestID(r.Context(), id)))
	})
}
