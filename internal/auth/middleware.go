package auth

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"tarot-system/internal/models"

	"github.com/google/uuid"
)

type contextKey string

const identityKey contextKey = "identity"

// ServiceKeyHeader передаёт ключ доверенного серверного вызывающего.
const ServiceKeyHeader = "X-Service-Key"

// TokenVerifier абстрагирует проверку токенов для middleware.
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// WithIdentity кладёт вызывающего в контекст.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityKey, identity)
}

// FromContext возвращает вызывающего, установленного RequireAuth.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityKey).(*Identity)
	return identity, ok && identity != nil
}

// RequireAuth проверяет Bearer-токен или ключ сервиса и кладёт Identity в контекст.
// Для SSE допускается токен в параметре access_token.
func RequireAuth(verifier TokenVerifier, serviceKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if serviceKey != "" {
				if key := r.Header.Get(ServiceKeyHeader); key != "" {
					if subtle.ConstantTimeCompare([]byte(key), []byte(serviceKey)) != 1 {
						respondWithError(w, http.StatusUnauthorized, "invalid service key")
						return
					}
					identity := &Identity{UserID: uuid.Nil, Role: models.UserRoleAdmin, Service: true}
					next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
					return
				}
			}

			tokenString, ok := extractToken(r)
			if !ok {
				respondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			identity, err := verifier.Verify(tokenString)
			if err != nil {
				respondWithError(w, http.StatusUnauthorized, "invalid or expired token")
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// RequireAdmin пропускает только администраторов. Ставится после RequireAuth.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, ok := FromContext(r.Context())
		if !ok {
			respondWithError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		if !identity.IsAdmin() {
			respondWithError(w, http.StatusForbidden, "admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractToken(r *http.Request) (string, bool) {
	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
			return "", false
		}
		token := strings.TrimSpace(parts[1])
		return token, token != ""
	}
	if token := r.URL.Query().Get("access_token"); token != "" {
		return token, true
	}
	return "", false
}

func respondWithError(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":   http.StatusText(statusCode),
		"message": message,
	})
}
