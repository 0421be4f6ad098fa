package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// TestRateLimit_AllowsUnderLimit verifies that requests within the burst
// capacity pass through to the downstream handler.
func TestRateLimit_AllowsUnderLimit(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(100, 5, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	for i := range 5 {
		req := httptest.NewRequest(http.MethodPost, "/api/event", nil)
		req.RemoteAddr = "127.0.0.1:12345"
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, w.Code)
		}
	}
}

// TestRateLimit_BlocksOverLimit verifies that requests beyond the burst
// receive 429 with a Retry-After header.
func TestRateLimit_BlocksOverLimit(t *testing.T) {
	t.Parallel()

	// burst=2 with a negligible refill rate — the third request must be
	// rejected immediately.
	rl, stop := newRateLimiter(0.001, 2, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	var last *httptest.ResponseRecorder
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/api/event", nil)
		req.RemoteAddr = "10.0.0.1:9999"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on third request, got %d", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header on 429")
	}
}

// TestRateLimit_IsolatesIPs verifies that one IP exhausting its bucket does
// not affect another.
func TestRateLimit_IsolatesIPs(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.Default())
	defer stop()

	h := rl.middleware(okHandler)

	first := httptest.NewRequest(http.MethodPost, "/api/event", nil)
	first.RemoteAddr = "10.0.0.1:1111"
	w := httptest.NewRecorder()
	h.ServeHTTP(w, first)
	h.ServeHTTP(httptest.NewRecorder(), first)

	other := httptest.NewRequest(http.MethodPost, "/api/event", nil)
	other.RemoteAddr = "10.0.0.2:2222"
	w = httptest.NewRecorder()
	h.ServeHTTP(w, other)
	if w.Code != http.StatusOK {
		t.Errorf("second IP should have its own bucket, got %d", w.Code)
	}
}

// TestRateLimit_Evict verifies that stale visitors are removed and active
// ones survive.
func TestRateLimit_Evict(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(10, 5, slog.Default())
	defer stop()

	rl.limiterFor("10.0.0.1")
	rl.limiterFor("10.0.0.2")

	rl.mu.Lock()
	rl.visitors["10.0.0.1"].lastSeen = time.Now().Add(-visitorTTL - time.Minute)
	rl.mu.Unlock()

	rl.evict()

	rl.mu.Lock()
	defer rl.mu.Unlock()
	if _, ok := rl.visitors["10.0.0.1"]; ok {
		t.Error("stale visitor should have been evicted")
	}
	if _, ok := rl.visitors["10.0.0.2"]; !ok {
		t.Error("fresh visitor should have survived eviction")
	}
}

// TestClientIP verifies port stripping for IPv4 and IPv6 remote addresses.
func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		addr string
		want string
	}{
		{"192.168.1.1:54321", "192.168.1.1"},
		{"[::1]:8080", "[::1]"},
		{"no-port", "no-port"},
	}

	for _, tc := range cases {
		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.RemoteAddr = tc.addr
		if got := clientIP(r); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.addr, got, tc.want)
		}
	}
}
