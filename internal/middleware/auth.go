package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"market-core/internal/authz"
	"market-core/internal/domain"
)

type contextKey string

const subjectKey contextKey = "subject"

// TokenValidator checks a presented bearer token against the current session.
type TokenValidator interface {
	ValidateToken(token string) (*domain.Session, *domain.Profile, error)
}

// AuthMiddleware validates bearer tokens and puts the acting subject on the
// request context.
func AuthMiddleware(identity TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			session, profile, err := identity.ValidateToken(parts[1])
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				RespondWithFault(w, err)
				return
			}

			subject := authz.SubjectFrom(session, profile)
			ctx := context.WithValue(r.Context(), subjectKey, subject)

			logger.Debug("Request authenticated",
				zap.String("account_id", subject.AccountID.String()),
				zap.String("role", subject.Role),
			)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSubject extracts the acting subject from the request context.
func GetSubject(ctx context.Context) (authz.Subject, bool) {
	subject, ok := ctx.Value(subjectKey).(authz.Subject)
	return subject, ok
}
