package httpx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyConn
)

// RequestIDHeader carries the per-exchange request ID on the wire.
const RequestIDHeader = "X-Request-Id"

// WithRequestID returns a new context that carries a request ID. The
// Client sends it as X-Request-Id instead of generating one.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, id)
}

// RequestIDFrom extracts the request ID from ctx.
func RequestIDFrom(ctx context.Context) (string, bool) {
	v := ctx.Value(ctxKeyRequestID)
	if v == nil {
		return "", false
	}
	s, ok := v.(string)
	return s, ok && s != ""
}

// ConnIDFrom returns the ID of the server connection a handler context
// belongs to.
func ConnIDFrom(ctx context.Context) (string, bool) {
	s, ok := ctx.Value(ctxKeyConn).(string)
	return s, ok && s != ""
}

func withConnID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKeyConn, id)
}

// requestID returns the ID carried by ctx or h, or a fresh one.
func requestID(ctx context.Context, h *Header) string {
	if id := h.Get(RequestIDHeader); id != "" {
		return id
	}
	if id, ok := RequestIDFrom(ctx); ok {
		return id
	}
	return uuid.NewString()
}
