package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSlidingWindowLimiter(t *testing.T) {
	now := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	limiter := NewSlidingWindowLimiter(time.Minute, 2, func() time.Time { return now })

	if !limiter.Allow("a") || !limiter.Allow("a") {
		t.Fatal("expected first two calls to be allowed")
	}
	if limiter.Allow("a") {
		t.Fatal("expected third call to be denied")
	}
	if !limiter.Allow("b") {
		t.Fatal("expected a different key to have its own budget")
	}

	now = now.Add(30 * time.Second)
	if limiter.Allow("a") {
		t.Fatal("expected call within window to still be denied")
	}

	now = now.Add(31 * time.Second)
	if !limiter.Allow("a") {
		t.Fatal("expected limiter to permit call after window passes")
	}
	if keys := limiter.Keys(); keys != 1 {
		t.Fatalf("expected expired keys to be pruned, got %d", keys)
	}
}

func TestSlidingWindowLimiterDisabled(t *testing.T) {
	if !NewSlidingWindowLimiter(0, 0, nil).Allow("any") {
		t.Fatal("limiter with zero configuration should allow")
	}
	var nilLimiter *SlidingWindowLimiter
	if !nilLimiter.Allow("any") {
		t.Fatal("nil limiter should allow")
	}
}

func TestClientKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4312"
	if key := ClientKey(req); key != "10.0.0.5" {
		t.Fatalf("unexpected key %q", key)
	}
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	if key := ClientKey(req); key != "203.0.113.7" {
		t.Fatalf("unexpected forwarded key %q", key)
	}
}
