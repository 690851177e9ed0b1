package middleware

import (
	"context"

	"github.com/angelmondragon/entitlements-backend/pkg/enums"
)

type principalKey struct{}

// Principal is the authenticated caller behind a request.
type Principal struct {
	UserID string
	Role   enums.UserRole
}

// IsAdmin reports whether the caller holds the admin role.
func (p Principal) IsAdmin() bool {
	return p.Role == enums.UserRoleAdmin
}

func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the caller set by Auth; ok is false on public
// routes.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	if ctx == nil {
		return Principal{}, false
	}
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
