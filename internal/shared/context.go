package shared

import (
	"context"
	"strings"
)

type sessionContextKey struct{}

// ContextWithSession stores the session in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// AdminNameFromContext returns the admin recorded in the session, or fallback.
func AdminNameFromContext(ctx context.Context, fallback string) string {
	if sess := SessionFromContext(ctx); sess != nil {
		if name := strings.TrimSpace(sess.Get(AdminNameKey)); name != "" {
			return name
		}
	}
	return fallback
}
