package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

// RequireAdmin lets only admin principals through. Mount it after Auth.
func RequireAdmin(logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}
			if !p.IsAdmin() {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "admin role required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// AuthorizeSubject allows admins to act on any user and everyone else only
// on themselves.
func AuthorizeSubject(ctx context.Context, userID string) error {
	p, ok := PrincipalFromContext(ctx)
	if !ok {
		return pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	if p.IsAdmin() || p.UserID == strings.TrimSpace(userID) {
		return nil
	}
	return pkgerrors.New(pkgerrors.CodeForbidden, "cannot manage another user's subscription")
}
