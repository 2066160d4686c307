package httpapi

import (
	"net"
	"net/http"
	"strings"
	"sync"
	"time"
)

// SlidingWindowLimiter caps how many events each key may record within a
// trailing window. Keys are typically client addresses.
type SlidingWindowLimiter struct {
	window time.Duration
	limit  int
	now    func() time.Time

	mu     sync.Mutex
	events map[string][]time.Time
}

// NewSlidingWindowLimiter constructs a limiter allowing up to limit events per
// window for every key. A non-positive window or limit disables limiting.
func NewSlidingWindowLimiter(window time.Duration, limit int, timeSource func() time.Time) *SlidingWindowLimiter {
	if timeSource == nil {
		timeSource = time.Now
	}
	return &SlidingWindowLimiter{
		window: window,
		limit:  limit,
		now:    timeSource,
		events: make(map[string][]time.Time),
	}
}

// Allow reports whether key may proceed and records the event when it can.
func (l *SlidingWindowLimiter) Allow(key string) bool {
	if l == nil || l.limit <= 0 || l.window <= 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	kept := l.prune(key, now)
	if len(kept) >= l.limit {
		return false
	}
	l.events[key] = append(kept, now)
	return true
}

// Keys returns how many keys currently hold events inside the window.
func (l *SlidingWindowLimiter) Keys() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	for key := range l.events {
		l.prune(key, now)
	}
	return len(l.events)
}

func (l *SlidingWindowLimiter) prune(key string, now time.Time) []time.Time {
	cutoff := now.Add(-l.window)
	events := l.events[key]
	kept := events[:0]
	for _, ts := range events {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) == 0 {
		delete(l.events, key)
		return nil
	}
	l.events[key] = kept
	return kept
}

// ClientKey derives the rate limiting key for r from its remote address,
// honouring the first X-Forwarded-For hop when present.
func ClientKey(r *http.Request) string {
	if forwarded := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); forwarded != "" {
		first, _, _ := strings.Cut(forwarded, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
