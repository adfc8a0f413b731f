package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sketchsage/server/internal/settings"
	"github.com/sketchsage/server/internal/storage"
)

func newTestService(t *testing.T) (*Service, storage.Store) {
	t.Helper()
	store := storage.NewMemoryStore()
	settingsSvc := settings.NewService(store, 0, zerolog.Nop())
	// Low bcrypt cost keeps the test suite fast
	svc := NewService(store, settingsSvc, "test-secret", time.Hour, 4, zerolog.Nop())
	return svc, store
}

func TestRegisterAndLogin(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, token, err := svc.Register(ctx, "Artist@Example.com", "hunter22", "An Artist")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if token == "" {
		t.Error("expected a session token")
	}
	if account.Email != "artist@example.com" {
		t.Errorf("email not normalized: %q", account.Email)
	}
	if account.Credits != settings.Defaults().DefaultWelcomeCredits {
		t.Errorf("expected welcome credits %d, got %d",
			settings.Defaults().DefaultWelcomeCredits, account.Credits)
	}
	if account.PasswordHash == "hunter22" {
		t.Error("password stored in plaintext")
	}

	loggedIn, token, err := svc.Login(ctx, "artist@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if loggedIn.ID != account.ID {
		t.Errorf("login returned wrong account")
	}

	claims, err := svc.ValidateToken(token)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Subject != account.ID {
		t.Errorf("token subject: expected %s, got %s", account.ID, claims.Subject)
	}
}

func TestRegisterAppliesWelcomeCreditsSetting(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()
	if err := store.SetSetting(ctx, settings.KeyDefaultWelcomeCredits, json.RawMessage(`8`)); err != nil {
		t.Fatalf("SetSetting failed: %v", err)
	}

	settingsSvc := settings.NewService(store, 0, zerolog.Nop())
	svc := NewService(store, settingsSvc, "test-secret", time.Hour, 4, zerolog.Nop())

	account, _, err := svc.Register(ctx, "artist@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if account.Credits != 8 {
		t.Errorf("expected 8 welcome credits, got %d", account.Credits)
	}
}

func TestRegisterDuplicateEmail(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "artist@example.com", "hunter22", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, _, err := svc.Register(ctx, "ARTIST@example.com", "other", ""); !errors.Is(err, ErrEmailTaken) {
		t.Errorf("expected ErrEmailTaken, got %v", err)
	}
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	if _, _, err := svc.Register(ctx, "artist@example.com", "hunter22", ""); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, _, err := svc.Login(ctx, "artist@example.com", "wrong"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("wrong password: expected ErrInvalidCredentials, got %v", err)
	}
	if _, _, err := svc.Login(ctx, "nobody@example.com", "hunter22"); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("unknown email: expected ErrInvalidCredentials, got %v", err)
	}
}

func TestValidateTokenRejectsForgery(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, token, err := svc.Register(ctx, "artist@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if _, err := svc.ValidateToken("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for garbage, got %v", err)
	}

	// A token signed with a different secret must not validate
	store := storage.NewMemoryStore()
	other := NewService(store, settings.NewService(store, 0, zerolog.Nop()),
		"different-secret", time.Hour, 4, zerolog.Nop())
	if _, err := other.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken across secrets, got %v", err)
	}
}

func TestValidateTokenRejectsExpired(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	_, token, err := svc.Register(ctx, "artist@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	svc.now = time.Now

	if _, err := svc.ValidateToken(token); !errors.Is(err, ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestMiddleware(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	account, token, err := svc.Register(ctx, "artist@example.com", "hunter22", "")
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	var seen storage.Account
	handler := svc.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = AccountFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		name       string
		authHeader string
		wantStatus int
	}{
		{"valid token", "Bearer " + token, http.StatusOK},
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer nope", http.StatusUnauthorized},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.authHeader != "" {
				req.Header.Set("Authorization", tc.authHeader)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			if rec.Code != tc.wantStatus {
				t.Errorf("expected status %d, got %d", tc.wantStatus, rec.Code)
			}
		})
	}

	if seen.ID != account.ID {
		t.Errorf("context account: expected %s, got %s", account.ID, seen.ID)
	}
}

func TestRequireAdmin(t *testing.T) {
	handler := RequireAdmin(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// No account in context
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("no account: expected 401, got %d", rec.Code)
	}

	// Non-admin account
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithAccount(req.Context(), storage.Account{ID: "u1"}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("non-admin: expected 403, got %d", rec.Code)
	}

	// Admin account
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(WithAccount(req.Context(), storage.Account{ID: "u2", IsAdmin: true}))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("admin: expected 200, got %d", rec.Code)
	}
}
