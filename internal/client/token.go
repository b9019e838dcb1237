package client

import (
	"context"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/pitabwire/tableview/model"
)

// TokenSource issues monotonically increasing request tokens. A caller tags
// each call with Next and drops any completion whose token is no longer
// current. The client never orders or de-duplicates calls itself.
type TokenSource struct {
	last atomic.Uint64
}

// Next returns a new token, greater than every token issued before it.
func (s *TokenSource) Next() uint64 {
	return s.last.Add(1)
}

// IsCurrent reports whether token is the most recently issued one.
func (s *TokenSource) IsCurrent(token uint64) bool {
	return s.last.Load() == token
}

// Tag returns a context carrying a RequestContext with a fresh token and the
// token itself. Locale and trace id are copied from any RequestContext
// already in ctx; the correlation id is new per call.
func (s *TokenSource) Tag(ctx context.Context) (context.Context, uint64) {
	token := s.Next()
	rctx := &model.RequestContext{
		CorrelationID: uuid.NewString(),
		Token:         token,
	}
	if prev := model.RequestContextFrom(ctx); prev != nil {
		rctx.Locale = prev.Locale
		rctx.TraceID = prev.TraceID
	}
	return model.WithRequestContext(ctx, rctx), token
}
