package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apperrors "github.com/sketchsage/server/internal/errors"
	"github.com/sketchsage/server/internal/storage"
)

type contextKey string

const accountContextKey contextKey = "auth.account"

// AccountFromContext returns the authenticated account, if any.
func AccountFromContext(ctx context.Context) (storage.Account, bool) {
	account, ok := ctx.Value(accountContextKey).(storage.Account)
	return account, ok
}

// WithAccount returns a context carrying the account. Exposed for tests.
func WithAccount(ctx context.Context, account storage.Account) context.Context {
	return context.WithValue(ctx, accountContextKey, account)
}

// Middleware validates the Authorization bearer token and loads the account
// into the request context.
func (s *Service) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Missing Authorization header")
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Authorization header must use Bearer scheme")
			return
		}

		claims, err := s.ValidateToken(token)
		if err != nil {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Invalid or expired token")
			return
		}

		// Load the account on every request so admin revocation and credit
		// balances are never served from stale claims.
		account, err := s.store.GetAccount(r.Context(), claims.Subject)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Account no longer exists")
				return
			}
			apperrors.WriteSimpleError(w, apperrors.ErrCodeDatabaseError, "Failed to load account")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// RequireAdmin rejects requests from non-admin accounts. It must run after
// Middleware.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := AccountFromContext(r.Context())
		if !ok {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeUnauthorized, "Authentication required")
			return
		}
		if !account.IsAdmin {
			apperrors.WriteSimpleError(w, apperrors.ErrCodeForbidden, "Admin access required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
