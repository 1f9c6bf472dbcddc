package middleware

import (
	"context"

	"github.com/shrek82/jconn/core"
)

// ContextKey is the type of the context keys the tracing middleware reads.
type ContextKey string

const (
	RequestIDKey ContextKey = "request_id"
	UserIPKey    ContextKey = "user_ip"
	TraceIDKey   ContextKey = "trace_id"
)

// TracingMiddleware adds tracing information to the execution.
// It extracts information like Request ID or User IP from the context
// and attaches it to the execution's log fields.
type TracingMiddleware struct {
	keys []ContextKey
}

// NewTracing reads the given keys, or the request id, user ip and trace id
// keys when none are given.
func NewTracing(keys ...ContextKey) *TracingMiddleware {
	if len(keys) == 0 {
		keys = []ContextKey{RequestIDKey, UserIPKey, TraceIDKey}
	}
	return &TracingMiddleware{keys: keys}
}

func (m *TracingMiddleware) Name() string {
	return "Tracing"
}

func (m *TracingMiddleware) Init(w *core.Wrapper) error {
	return nil
}

func (m *TracingMiddleware) Shutdown() error {
	return nil
}

func (m *TracingMiddleware) Process(ctx context.Context, e *core.Execution, next core.ExecFunc) (*core.Outcome, error) {
	fields := make(map[string]any)
	for _, k := range m.keys {
		if v := ctx.Value(k); v != nil {
			fields[string(k)] = v
		}
	}

	if len(fields) > 0 {
		e.WithFields(fields)
	}

	return next(ctx, e)
}
