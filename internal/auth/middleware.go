package auth

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/pocketsage/pocketsage/pkg/models"
)

// defaultUserID identifies requests when authentication is disabled and no
// explicit identity header is supplied. Single-user local installs run in
// this mode.
const defaultUserID = "local"

// Middleware resolves the requesting user and attaches it to the request
// context. With auth enabled, a valid bearer token is required. With auth
// disabled, identity comes from the X-User-ID header, defaulting to "local".
func Middleware(service *JWTService, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !service.Enabled() {
				userID := strings.TrimSpace(r.Header.Get("X-User-ID"))
				if userID == "" {
					userID = defaultUserID
				}
				ctx := WithUser(r.Context(), &models.User{ID: userID})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			token := extractBearer(r)
			if token == "" {
				http.Error(w, "missing credentials", http.StatusUnauthorized)
				return
			}
			user, err := service.Validate(token)
			if err != nil {
				logger.Warn("jwt validation failed", "error", err)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), user)))
		})
	}
}

func extractBearer(r *http.Request) string {
	value := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(value), "bearer ") {
		return strings.TrimSpace(value[len("bearer "):])
	}
	return ""
}
