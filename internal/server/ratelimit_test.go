package server

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

func fire(h http.Handler, remote string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/query", nil)
	req.RemoteAddr = remote
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.01, 3, slog.New(slog.DiscardHandler))
	defer stop()
	rejected := 0
	rl.onReject = func() { rejected++ }
	h := rl.middleware(okHandler)

	for i := range 3 {
		if w := fire(h, "10.0.0.1:9999"); w.Code != http.StatusOK {
			t.Fatalf("request %d within burst: got %d", i, w.Code)
		}
	}

	w := fire(h, "10.0.0.1:9999")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after burst, got %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	// One token per 100s at 0.01 rps.
	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || secs < 90 || secs > 100 {
		t.Errorf("Retry-After = %q, want about 100", w.Header().Get("Retry-After"))
	}
	if rejected != 1 {
		t.Errorf("onReject called %d times, want 1", rejected)
	}
}

func TestRateLimit_RejectedRequestsDoNotConsume(t *testing.T) {
	t.Parallel()

	// 20 rps with burst 1: a token every 50ms.
	rl, stop := newRateLimiter(20, 1, slog.New(slog.DiscardHandler))
	defer stop()
	h := rl.middleware(okHandler)

	fire(h, "10.0.0.3:1")
	for range 5 {
		fire(h, "10.0.0.3:1")
	}
	time.Sleep(80 * time.Millisecond)
	if w := fire(h, "10.0.0.3:1"); w.Code != http.StatusOK {
		t.Errorf("refused requests must not push the next token back: got %d", w.Code)
	}
}

func TestRateLimit_PerClientIsolation(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(0.001, 1, slog.New(slog.DiscardHandler))
	defer stop()
	h := rl.middleware(okHandler)

	for range 3 {
		fire(h, "192.168.1.1:1111")
	}
	if w := fire(h, "192.168.1.2:2222"); w.Code != http.StatusOK {
		t.Errorf("second client: expected 200, got %d", w.Code)
	}
	// Same host on another port shares the bucket.
	if w := fire(h, "192.168.1.1:3333"); w.Code != http.StatusTooManyRequests {
		t.Errorf("same host, new port: expected 429, got %d", w.Code)
	}
}

func TestRateLimit_Sweep(t *testing.T) {
	t.Parallel()

	rl, stop := newRateLimiter(1, 1, slog.New(slog.DiscardHandler))
	stop()
	stop()

	now := time.Now()
	rl.bucket("a", now.Add(-10*time.Minute))
	rl.bucket("b", now)
	rl.sweep(now)
	if rl.size() != 1 {
		t.Errorf("size after sweep = %d, want 1", rl.size())
	}
}

func TestRetryAfter(t *testing.T) {
	t.Parallel()

	cases := []struct {
		ok    bool
		delay time.Duration
		want  string
	}{
		{true, 10 * time.Millisecond, "1"},
		{true, 2500 * time.Millisecond, "3"},
		{false, 0, "60"},
	}
	for _, tc := range cases {
		if got := retryAfter(tc.ok, tc.delay); got != tc.want {
			t.Errorf("retryAfter(%v, %v) = %q, want %q", tc.ok, tc.delay, got, tc.want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}
