package goSession

import "context"

type sessionContextKey struct{}

// WithSession attaches s to ctx so request handlers deeper in the call chain can
// reach the current session without a global holder.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, s)
}

// SessionFromContext returns the session stored by [WithSession].
func SessionFromContext(ctx context.Context) (*Session, bool) {
	if ctx == nil {
		return nil, false
	}

	s, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || s == nil {
		return nil, false
	}
	return s, true
}
