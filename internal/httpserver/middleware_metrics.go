package httpserver

import (
	"crypto/subtle"
	"net/http"

	apierrors "github.com/sketchsage/server/internal/errors"
)

// adminMetricsAuth protects the /metrics endpoint with an API key. If no key
// is configured the endpoint is open; otherwise requests must send
// "Authorization: Bearer {key}".
func adminMetricsAuth(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if apiKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			authHeader := r.Header.Get("Authorization")
			expected := "Bearer " + apiKey
			if subtle.ConstantTimeCompare([]byte(authHeader), []byte(expected)) != 1 {
				apierrors.WriteSimpleError(w, apierrors.ErrCodeUnauthorized, "Invalid or missing metrics API key")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
