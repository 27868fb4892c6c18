package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/golang-jwt/jwt/v5"
	"github.com/propease/backend/internal/models"
	"github.com/spf13/viper"
)

type contextKey string

const principalKey contextKey = "principal"

var revocationStore *redis.Client

// InitAuthMiddleware wires the optional Redis-backed token revocation list.
func InitAuthMiddleware(rdb *redis.Client) {
	revocationStore = rdb
}

// PrincipalFromContext extracts the authenticated caller set by
// AuthMiddleware.
func PrincipalFromContext(ctx context.Context) (models.Principal, bool) {
	p, ok := ctx.Value(principalKey).(models.Principal)
	return p, ok
}

// WithPrincipal returns a context carrying the given principal.
func WithPrincipal(ctx context.Context, p models.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// AuthMiddleware validates the bearer JWT and places the principal (user
// id plus role claim) on the request context. Authorization downstream
// checks the role claim, never identities.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid authorization header format", http.StatusUnauthorized)
			return
		}

		principal, err := validateToken(r.Context(), parts[1])
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), principalKey, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole rejects callers whose role claim does not cover the given
// role.
func RequireRole(role models.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			if !principal.Can(role) {
				http.Error(w, "Insufficient role", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func validateToken(ctx context.Context, tokenString string) (models.Principal, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		return []byte(viper.GetString("jwt.secret_key")), nil
	})
	if err != nil || !token.Valid {
		return models.Principal{}, fmt.Errorf("invalid token: %w", err)
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return models.Principal{}, fmt.Errorf("invalid claims")
	}

	if revocationStore != nil {
		revoked, err := revocationStore.SIsMember(ctx, "auth:revoked", tokenString).Result()
		if err == nil && revoked {
			return models.Principal{}, fmt.Errorf("token revoked")
		}
	}

	principal := models.Principal{
		UserID: fmt.Sprintf("%v", claims["user_id"]),
		Role:   models.Role(fmt.Sprintf("%v", claims["role"])),
	}
	if principal.UserID == "" || principal.UserID == "<nil>" {
		return models.Principal{}, fmt.Errorf("missing user_id claim")
	}
	return principal, nil
}

// SecurityHeaders sets baseline response headers on every route.
func SecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}
