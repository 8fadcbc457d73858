package httpserver

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/filot/docverify/internal/domain"
	"github.com/filot/docverify/internal/observability"
	"github.com/filot/docverify/internal/usecase"
)

type userContextKey struct{}

// UserFromContext returns the authenticated user stored by RequireUser.
func UserFromContext(ctx domain.Context) (domain.User, bool) {
	u, ok := ctx.Value(userContextKey{}).(domain.User)
	return u, ok
}

type identityClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// RequireUser verifies the bearer token (HS256, shared secret with the
// identity provider) and provisions the user row lazily on first sight of a
// subject. The resolved user is stored in the request context.
func RequireUser(secret string, users usecase.UserService) func(http.Handler) http.Handler {
	key := []byte(secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing bearer token", nil)
				return
			}
			var claims identityClaims
			tok, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
				}
				return key, nil
			}, jwt.WithValidMethods([]string{"HS256"}))
			if err != nil || !tok.Valid || claims.Subject == "" {
				writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid bearer token", nil)
				return
			}
			u, err := users.EnsureUser(r.Context(), claims.Subject, claims.Email)
			if err != nil {
				observability.LoggerFromContext(r.Context()).Error("user provisioning failed",
					"sub", claims.Subject, "email", observability.MaskEmail(claims.Email), "error", err)
				writeError(w, r, err, nil)
				return
			}
			ctx := context.WithValue(r.Context(), userContextKey{}, u)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireServiceKey guards the internal callback surface with an opaque
// shared key in the x-service-key header. Comparison is constant time.
func RequireServiceKey(serviceKey string) func(http.Handler) http.Handler {
	want := []byte(serviceKey)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("x-service-key"))
			if len(want) == 0 || subtle.ConstantTimeCompare(got, want) != 1 {
				writeErrorCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid service key", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return strings.TrimSpace(h[len(prefix):])
	}
	return ""
}
