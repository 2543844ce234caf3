package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestTokenLimiterRefills(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTokenLimiter(60, 2)
	l.now = func() time.Time { return now }

	if !l.allow("ip") || !l.allow("ip") {
		t.Fatal("burst should be allowed")
	}
	if l.allow("ip") {
		t.Fatal("expected limiter to block after burst")
	}
	if !l.allow("other") {
		t.Fatal("keys are limited independently")
	}

	now = now.Add(time.Second)
	if !l.allow("ip") {
		t.Fatal("expected a token after one second")
	}
}

func TestTokenLimiterPrunesIdleBuckets(t *testing.T) {
	now := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	l := newTokenLimiter(60, 2)
	l.now = func() time.Time { return now }

	l.allow("a")
	now = now.Add(bucketIdle)
	l.allow("b")
	if _, ok := l.buckets["a"]; ok {
		t.Fatal("expected idle bucket to be pruned")
	}
	if len(l.buckets) != 1 {
		t.Fatalf("expected one bucket, got %d", len(l.buckets))
	}
}

func TestRateLimiterMiddleware(t *testing.T) {
	limiter := NewRateLimiter(RateLimitConfig{IPPerMinute: 1, IPBurst: 1, SessionPerMinute: 100, SessionBurst: 100})
	handler := limiter.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	for i, want := range []int{http.StatusNoContent, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/display", nil)
		req.Header.Set("X-Forwarded-For", "10.0.0.1")
		resp := httptest.NewRecorder()
		handler.ServeHTTP(resp, req)
		if resp.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, resp.Code)
		}
		if want == http.StatusTooManyRequests && resp.Header().Get("Retry-After") == "" {
			t.Fatal("expected Retry-After header")
		}
	}
}
