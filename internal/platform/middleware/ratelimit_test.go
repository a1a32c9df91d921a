package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func TestTokenBucket_BurstThenDeny(t *testing.T) {
	// A refill rate of zero isolates the burst allowance.
	b := newTokenBucket(0, 3)

	for i := 0; i < 3; i++ {
		if !b.allow() {
			t.Fatalf("request %d within burst denied", i+1)
		}
	}
	if b.allow() {
		t.Error("request beyond burst allowed")
	}
}

func TestRateLimiterStore_EvictIdle(t *testing.T) {
	store := newRateLimiterStore(DefaultRateLimitConfig())

	active := store.getBucket("10.0.0.1")
	idle := store.getBucket("10.0.0.2")
	idle.mu.Lock()
	idle.lastSeen = time.Now().Add(-time.Hour)
	idle.mu.Unlock()

	if n := store.evictIdle(time.Now().Add(-bucketIdleTTL)); n != 1 {
		t.Fatalf("evicted %d buckets, want 1", n)
	}

	store.mu.RLock()
	_, activeKept := store.buckets["10.0.0.1"]
	_, idleKept := store.buckets["10.0.0.2"]
	store.mu.RUnlock()
	if !activeKept {
		t.Error("active bucket evicted")
	}
	if idleKept {
		t.Error("idle bucket survived the sweep")
	}

	// An evicted caller gets a fresh bucket, not the depleted one.
	if store.getBucket("10.0.0.2") == idle {
		t.Error("expected a new bucket after eviction")
	}
	_ = active
}

func TestRateLimit_TooManyRequests(t *testing.T) {
	e := echo.New()
	e.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 0, BurstSize: 1}))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	first := httptest.NewRecorder()
	e.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d", first.Code)
	}

	second := httptest.NewRecorder()
	e.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))
	if second.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", second.Code)
	}
	if second.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After header")
	}
}
