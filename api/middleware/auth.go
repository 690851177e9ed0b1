package middleware

import (
	"net/http"
	"strings"

	"github.com/angelmondragon/entitlements-backend/api/responses"
	pkgAuth "github.com/angelmondragon/entitlements-backend/pkg/auth"
	"github.com/angelmondragon/entitlements-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/entitlements-backend/pkg/errors"
	"github.com/angelmondragon/entitlements-backend/pkg/logger"
)

const bearerPrefix = "bearer "

// Auth requires a valid bearer token and attaches its Principal.
func Auth(cfg config.JWTConfig, logg *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token, ok := bearerToken(r)
			if !ok {
				responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials"))
				return
			}

			claims, err := pkgAuth.ParseAccessToken(cfg, token)
			if err != nil {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid token"))
				return
			}

			principal := Principal{UserID: claims.UserID, Role: claims.Role}
			ctx = WithPrincipal(ctx, principal)
			if logg != nil {
				ctx = logg.WithFields(ctx, map[string]any{
					"actor_id":   principal.UserID,
					"actor_role": principal.Role.String(),
				})
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(raw) > len(bearerPrefix) && strings.EqualFold(raw[:len(bearerPrefix)], bearerPrefix) {
		raw = strings.TrimSpace(raw[len(bearerPrefix):])
	}
	return raw, raw != ""
}
