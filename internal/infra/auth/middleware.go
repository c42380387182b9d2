package auth

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/ndjobi-platform/emergency-access/internal/domain"
)

// TokenValidator — интерфейс проверки входящего токена платформы
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey string

const claimsKey ctxKey = "operator_claims"

// ClaimsFrom достает проверенные claims из контекста запроса.
func ClaimsFrom(ctx context.Context) (*domain.OperatorClaims, bool) {
	claims, ok := ctx.Value(claimsKey).(*domain.OperatorClaims)
	return claims, ok
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.Error(err))
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			// Прокидываем проверенные claims в контекст
			ctx := context.WithValue(r.Context(), claimsKey, claims)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope — второй слой после NewMiddleware: операция доступна только
// носителю конкретного скоупа. Роль super_admin проверяется глубже, в Gate.
func RequireScope(scope string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok || !claims.HasScope(scope) {
				logger.Warn("scope rejected",
					zap.String("scope", scope),
					zap.String("path", r.URL.Path))
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
