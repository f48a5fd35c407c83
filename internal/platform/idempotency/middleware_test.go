package idempotency

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/payforge/api/internal/platform/requestctx"
)

func newGuardedHandler(store Store, calls *int, opts ...MiddlewareOption) http.Handler {
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		*calls++
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"chk_1"}`))
	})
	return Middleware(store, opts...)(inner)
}

func tenantRequest(method, target, body, key string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if key != "" {
		req.Header.Set(defaultHeaderName, key)
	}
	return req.WithContext(requestctx.WithTenant(req.Context(), "tn_1"))
}

func TestMiddlewareReplaysCompletedResponse(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(NewMemoryStore(), &calls)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{"currency":"USD"}`, "key-1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201 on first request, got %d", first.Code)
	}
	if first.Header().Get(replayHeaderName) != "" {
		t.Fatal("first response must not be marked as replay")
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{"currency":"USD"}`, "key-1"))
	if second.Code != http.StatusCreated {
		t.Fatalf("expected replayed 201, got %d", second.Code)
	}
	if second.Header().Get(replayHeaderName) != "true" {
		t.Fatal("expected replay marker header")
	}
	if second.Body.String() != first.Body.String() {
		t.Fatalf("replayed body differs: %q vs %q", second.Body.String(), first.Body.String())
	}
	if calls != 1 {
		t.Fatalf("handler should run once, ran %d times", calls)
	}
}

func TestMiddlewarePassesThroughWithoutKey(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(NewMemoryStore(), &calls)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{}`, ""))
		if rr.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("handler should run per request without a key, ran %d times", calls)
	}
}

func TestMiddlewareRejectsKeyReuseWithDifferentBody(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(NewMemoryStore(), &calls)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{"currency":"USD"}`, "key-1"))
	if first.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{"currency":"EUR"}`, "key-1"))
	if second.Code != http.StatusConflict {
		t.Fatalf("expected 409 for fingerprint mismatch, got %d", second.Code)
	}
	if calls != 1 {
		t.Fatalf("handler should not run for the mismatched retry, ran %d times", calls)
	}
}

func TestMiddlewareIgnoresReads(t *testing.T) {
	calls := 0
	inner := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	})
	handler := Middleware(NewMemoryStore())(inner)

	for i := 0; i < 2; i++ {
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, tenantRequest(http.MethodGet, "/api/v1/checkouts", "", "key-1"))
		if rr.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rr.Code)
		}
	}
	if calls != 2 {
		t.Fatalf("reads must bypass the store, handler ran %d times", calls)
	}
}

func TestMiddlewareScopesKeysByTenant(t *testing.T) {
	calls := 0
	handler := newGuardedHandler(NewMemoryStore(), &calls)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, tenantRequest(http.MethodPost, "/api/v1/checkouts", `{}`, "key-1"))

	otherReq := httptest.NewRequest(http.MethodPost, "/api/v1/checkouts", strings.NewReader(`{}`))
	otherReq.Header.Set(defaultHeaderName, "key-1")
	otherReq = otherReq.WithContext(requestctx.WithTenant(otherReq.Context(), "tn_2"))
	second := httptest.NewRecorder()
	handler.ServeHTTP(second, otherReq)

	if second.Header().Get(replayHeaderName) != "" {
		t.Fatal("a different tenant must not replay another tenant's response")
	}
	if calls != 2 {
		t.Fatalf("expected both tenants to run the handler, ran %d times", calls)
	}
}

func TestMemoryStoreReportsInFlight(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	first, err := store.Begin(context.Background(), "key", "fp", now, time.Hour)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if first.Kind != OutcomeFirst {
		t.Fatalf("expected first claim, got %v", first.Kind)
	}

	second, err := store.Begin(context.Background(), "key", "fp", now.Add(time.Second), time.Hour)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if second.Kind != OutcomeInFlight {
		t.Fatalf("expected in-flight, got %v", second.Kind)
	}

	if err := store.Abandon(context.Background(), "key", "fp"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	third, err := store.Begin(context.Background(), "key", "fp", now.Add(2*time.Second), time.Hour)
	if err != nil {
		t.Fatalf("begin after abandon: %v", err)
	}
	if third.Kind != OutcomeFirst {
		t.Fatalf("expected fresh claim after abandon, got %v", third.Kind)
	}
}

func TestMemoryStoreCleanupExpired(t *testing.T) {
	store := NewMemoryStore()
	now := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)

	if _, err := store.Begin(context.Background(), "old", "fp", now, time.Minute); err != nil {
		t.Fatalf("begin: %v", err)
	}
	if _, err := store.Begin(context.Background(), "fresh", "fp", now, time.Hour); err != nil {
		t.Fatalf("begin: %v", err)
	}

	removed, err := store.CleanupExpired(context.Background(), now.Add(30*time.Minute), 10)
	if err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected one expired entry removed, got %d", removed)
	}

	claim, err := store.Begin(context.Background(), "fresh", "fp", now.Add(30*time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if claim.Kind != OutcomeInFlight {
		t.Fatalf("fresh entry should survive cleanup, got %v", claim.Kind)
	}
}
