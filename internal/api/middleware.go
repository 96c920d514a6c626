package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// APIKeyAuth is middleware that validates requests against a backend API key.
// It checks the X-API-Key header first, then falls back to Authorization: Bearer <key>.
func APIKeyAuth(apiKey string) func(http.Handler) http.Handler {
	return sharedSecret(apiKey, "X-API-Key", "API key")
}

// WebhookSecretAuth checks the shared secret configured on the database webhook,
// sent as X-Webhook-Secret or Authorization: Bearer <secret>.
func WebhookSecretAuth(secret string) func(http.Handler) http.Handler {
	return sharedSecret(secret, "X-Webhook-Secret", "webhook secret")
}

func sharedSecret(expected, header, label string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(header)

			if key == "" {
				authHeader := r.Header.Get("Authorization")
				if strings.HasPrefix(authHeader, "Bearer ") {
					key = strings.TrimPrefix(authHeader, "Bearer ")
				}
			}

			if key == "" {
				respondError(w, http.StatusUnauthorized,
					"Missing "+label+". Provide "+header+" header or Authorization: Bearer <key>")
				return
			}

			// Constant-time comparison to prevent timing attacks
			if subtle.ConstantTimeCompare([]byte(key), []byte(expected)) != 1 {
				respondError(w, http.StatusForbidden, "Invalid "+label)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
