package logger

import "context"

type ctxKey struct{}

// WithContext stores l in ctx. The runner uses it to hand a batch-scoped
// logger (carrying run_id) down to each feed build.
func WithContext(ctx context.Context, l Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext returns the logger stored in ctx, then fallback, then a no-op logger.
func FromContext(ctx context.Context, fallback Logger) Logger {
	if l, ok := ctx.Value(ctxKey{}).(Logger); ok && l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return NewNop()
}
