package model

import "context"

// RequestContext carries per-call metadata that travels with one data access
// call: the correlation id sent downstream, the locale used for user-facing
// messages, and the caller's request token. It is immutable after
// construction and safe for concurrent reads.
type RequestContext struct {
	CorrelationID string
	Locale        string
	// Token tags the call so the caller can discard stale completions.
	Token   uint64
	TraceID string
}

type contextKey struct{}

// WithRequestContext attaches a RequestContext to the given context.
func WithRequestContext(ctx context.Context, rctx *RequestContext) context.Context {
	return context.WithValue(ctx, contextKey{}, rctx)
}

// RequestContextFrom extracts the RequestContext from the context, or returns nil
// if not present.
func RequestContextFrom(ctx context.Context) *RequestContext {
	rctx, _ := ctx.Value(contextKey{}).(*RequestContext)
	return rctx
}

// LocaleFrom returns the locale of the RequestContext in ctx, or fallback.
func LocaleFrom(ctx context.Context, fallback string) string {
	if rctx := RequestContextFrom(ctx); rctx != nil && rctx.Locale != "" {
		return rctx.Locale
	}
	return fallback
}
