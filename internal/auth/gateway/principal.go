package gateway

import "context"

// Principal is the authenticated caller of a request.
type Principal struct {
	UserID       string
	SessionID    string
	Role         string
	TokenVersion int64
}

type ctxKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// PrincipalFromContext returns the principal placed by the gateway.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(ctxKey{}).(Principal)
	return p, ok
}
