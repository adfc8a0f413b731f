package idempotency

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sketchsage/server/internal/auth"
	"github.com/sketchsage/server/internal/storage"
)

func TestMemoryStoreBasics(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()
	ctx := context.Background()

	if _, found := store.Get(ctx, "missing"); found {
		t.Error("expected miss for unknown key")
	}

	resp := &Response{StatusCode: 201, Body: []byte(`{"ok":true}`)}
	if err := store.Set(ctx, "k1", resp, time.Minute); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	got, found := store.Get(ctx, "k1")
	if !found || got.StatusCode != 201 {
		t.Errorf("expected cached 201, got %v %v", got, found)
	}

	if err := store.Delete(ctx, "k1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, found := store.Get(ctx, "k1"); found {
		t.Error("expected miss after delete")
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()
	ctx := context.Background()

	if err := store.Set(ctx, "k1", &Response{StatusCode: 200}, 10*time.Millisecond); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	if _, found := store.Get(ctx, "k1"); found {
		t.Error("expected expired entry to miss")
	}
}

func TestMemoryStoreEviction(t *testing.T) {
	store := NewMemoryStoreWithSize(2)
	defer store.Stop()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("k%d", i)
		if err := store.Set(ctx, key, &Response{StatusCode: 200}, time.Minute); err != nil {
			t.Fatalf("Set failed: %v", err)
		}
	}

	// Oldest entry evicted, newest two remain
	if _, found := store.Get(ctx, "k0"); found {
		t.Error("expected k0 evicted")
	}
	if _, found := store.Get(ctx, "k2"); !found {
		t.Error("expected k2 present")
	}
}

func TestMiddlewareReplaysResponse(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()

	var calls atomic.Int32
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusCreated)
		fmt.Fprintf(w, `{"attempt":%d}`, calls.Load())
	}))

	doRequest := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/payment/checkout", nil)
		req.Header.Set(HeaderKey, "key-1")
		req = req.WithContext(auth.WithAccount(req.Context(), storage.Account{ID: "user-1"}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := doRequest()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}
	second := doRequest()
	if second.Code != http.StatusCreated {
		t.Fatalf("replay: expected 201, got %d", second.Code)
	}
	if second.Header().Get("X-Idempotency-Replay") != "true" {
		t.Error("expected replay marker header")
	}
	if first.Body.String() != second.Body.String() {
		t.Errorf("replayed body differs: %q vs %q", first.Body.String(), second.Body.String())
	}
	if calls.Load() != 1 {
		t.Errorf("handler invoked %d times, expected 1", calls.Load())
	}
}

func TestMiddlewareScopesKeysPerUser(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()

	var calls atomic.Int32
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for _, userID := range []string{"user-1", "user-2"} {
		req := httptest.NewRequest(http.MethodPost, "/payment/checkout", nil)
		req.Header.Set(HeaderKey, "shared-key")
		req = req.WithContext(auth.WithAccount(req.Context(), storage.Account{ID: userID}))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	if calls.Load() != 2 {
		t.Errorf("same key across users must not replay: %d calls", calls.Load())
	}
}

func TestMiddlewareSkipsFailures(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()

	var calls atomic.Int32
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/payment/checkout", nil)
		req.Header.Set(HeaderKey, "key-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
	}

	if calls.Load() != 2 {
		t.Errorf("failed responses must not be cached: %d calls", calls.Load())
	}
}

func TestMiddlewarePassThroughWithoutKey(t *testing.T) {
	store := NewMemoryStoreWithSize(100)
	defer store.Stop()

	var calls atomic.Int32
	handler := Middleware(store, time.Minute)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))

	for i := 0; i < 2; i++ {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payment/checkout", nil))
	}

	if calls.Load() != 2 {
		t.Errorf("requests without keys must not replay: %d calls", calls.Load())
	}
}
