package middleware

import (
	"net/http"

	"go.uber.org/zap"
)

// RequireRole middleware ensures the authenticated subject holds one of the
// given roles. Informational sessions never pass; they cannot write.
func RequireRole(allowedRoles []string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := GetSubject(r.Context())
			if !ok {
				logger.Warn("Subject not found in context")
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			if subject.Informational {
				logger.Warn("Informational session attempted a gated endpoint")
				RespondWithError(w, http.StatusForbidden, "a full login is required")
				return
			}

			allowed := false
			for _, role := range allowedRoles {
				if subject.Role == role {
					allowed = true
					break
				}
			}

			if !allowed {
				logger.Warn("Role not authorized",
					zap.String("role", subject.Role),
					zap.Strings("allowed_roles", allowedRoles),
				)
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
