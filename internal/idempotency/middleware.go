package idempotency

import (
	"bytes"
	"net/http"
	"time"

	"github.com/sketchsage/server/internal/auth"
)

const (
	// HeaderKey is the standard idempotency key header.
	HeaderKey = "Idempotency-Key"

	// DefaultTTL is how long cached responses are replayed.
	DefaultTTL = 24 * time.Hour
)

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
	body       *bytes.Buffer
}

func (rw *responseRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (rw *responseRecorder) Write(b []byte) (int, error) {
	rw.body.Write(b)
	return rw.ResponseWriter.Write(b)
}

// Middleware replays cached responses for repeated Idempotency-Key values.
// Keys are scoped per user, method, and path, so one user's key can never
// replay another's checkout.
func Middleware(store Store, ttl time.Duration) func(http.Handler) http.Handler {
	if ttl == 0 {
		ttl = DefaultTTL
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawKey := r.Header.Get(HeaderKey)
			if rawKey == "" {
				next.ServeHTTP(w, r)
				return
			}

			scope := "anon"
			if account, ok := auth.AccountFromContext(r.Context()); ok {
				scope = account.ID
			}
			key := scope + ":" + r.Method + ":" + r.URL.Path + ":" + rawKey

			if cached, found := store.Get(r.Context(), key); found {
				for k, v := range cached.Headers {
					w.Header().Set(k, v)
				}
				w.Header().Set("X-Idempotency-Replay", "true")
				w.WriteHeader(cached.StatusCode)
				_, _ = w.Write(cached.Body)
				return
			}

			rw := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK, body: &bytes.Buffer{}}
			next.ServeHTTP(rw, r)

			// Only successful outcomes are worth replaying; a failed attempt
			// should be retryable with the same key.
			if rw.statusCode >= 200 && rw.statusCode < 300 {
				headers := make(map[string]string)
				for k := range rw.ResponseWriter.Header() {
					headers[k] = rw.ResponseWriter.Header().Get(k)
				}
				_ = store.Set(r.Context(), key, &Response{
					StatusCode: rw.statusCode,
					Headers:    headers,
					Body:       rw.body.Bytes(),
					CachedAt:   time.Now(),
				}, ttl)
			}
		})
	}
}
