package identity

import (
	"context"

	"github.com/odyssey-erp/quote-approvals/internal/approval"
)

type sessionContextKey struct{}

// ContextWithSession stores the session pointer in context.
func ContextWithSession(ctx context.Context, sess *Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, sess)
}

// SessionFromContext extracts the session from context.
func SessionFromContext(ctx context.Context) *Session {
	sess, _ := ctx.Value(sessionContextKey{}).(*Session)
	return sess
}

// PrincipalFromContext returns the principal attached by LoadPrincipal.
func PrincipalFromContext(ctx context.Context) *approval.Principal {
	return approval.PrincipalFromContext(ctx)
}
