package auth

import (
	"context"

	"rhythmflow.app/internal/booking"
)

type principalContextKey struct{}

// ContextWithPrincipal attaches the authenticated principal to the context.
func ContextWithPrincipal(ctx context.Context, principal booking.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, principal)
}

// PrincipalFromContext extracts the authenticated principal from the context.
func PrincipalFromContext(ctx context.Context) (booking.Principal, bool) {
	if ctx == nil {
		return booking.Principal{}, false
	}
	v, ok := ctx.Value(principalContextKey{}).(booking.Principal)
	if !ok || !v.Authenticated() {
		return booking.Principal{}, false
	}
	return v, true
}

// UserIDFromContext is a shortcut used by audit logging.
func UserIDFromContext(ctx context.Context) (string, bool) {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}
