package handlers

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/payforge/api/internal/platform/httpx"
	"github.com/payforge/api/internal/platform/requestctx"
)

// TenantHeader carries the calling tenant on every API request.
const TenantHeader = "X-Tenant-ID"

// RequireTenant extracts the tenant header and stores it on the request
// context. Requests without a tenant are rejected before reaching handlers.
func RequireTenant() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenant := strings.TrimSpace(r.Header.Get(TenantHeader))
			if tenant == "" {
				httpx.WriteError(r.Context(), w, httpx.NewError("tenant_required", "X-Tenant-ID header is required", http.StatusBadRequest))
				return
			}
			next.ServeHTTP(w, r.WithContext(requestctx.WithTenant(r.Context(), tenant)))
		})
	}
}

// TenantRateLimit throttles mutating requests per tenant using a fixed window
// counter. Reads pass through untouched.
func TenantRateLimit(limit int, window time.Duration) func(http.Handler) http.Handler {
	limiter := newTenantLimiter(limit, window, time.Now)
	return func(next http.Handler) http.Handler {
		if limiter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}
			tenant := requestctx.Tenant(r.Context())
			if !limiter.allow(tenant) {
				httpx.WriteError(r.Context(), w, httpx.NewError("rate_limited", "too many requests for tenant", http.StatusTooManyRequests))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

type tenantLimiter struct {
	limit  int
	window time.Duration
	clock  func() time.Time

	mu    sync.Mutex
	store map[string]limiterEntry
}

type limiterEntry struct {
	count int
	reset time.Time
}

func newTenantLimiter(limit int, window time.Duration, clock func() time.Time) *tenantLimiter {
	if limit <= 0 || window <= 0 {
		return nil
	}
	if clock == nil {
		clock = time.Now
	}
	return &tenantLimiter{
		limit:  limit,
		window: window,
		clock:  clock,
		store:  make(map[string]limiterEntry),
	}
}

func (l *tenantLimiter) allow(tenant string) bool {
	if l == nil {
		return true
	}
	tenant = strings.TrimSpace(tenant)
	if tenant == "" {
		tenant = "anonymous"
	}

	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.store[tenant]
	if !ok || now.After(entry.reset) {
		l.store[tenant] = limiterEntry{count: 1, reset: now.Add(l.window)}
		l.pruneLocked(now)
		return true
	}
	if entry.count >= l.limit {
		return false
	}
	entry.count++
	l.store[tenant] = entry
	return true
}

func (l *tenantLimiter) pruneLocked(now time.Time) {
	if len(l.store) < 1024 {
		return
	}
	for key, entry := range l.store {
		if now.After(entry.reset) {
			delete(l.store, key)
		}
	}
}
