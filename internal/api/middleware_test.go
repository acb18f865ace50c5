package api

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_AllowsWithinLimit(t *testing.T) {
	handler := RateLimitMiddleware("dispatch-order", 5)(okHandler())

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, w.Code)
		}
	}
}

func TestRateLimitMiddleware_BlocksOverLimit(t *testing.T) {
	handler := RateLimitMiddleware("dispatch-order", 3)(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest("POST", "/", nil)
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	// 4th request should be rate-limited
	req := httptest.NewRequest("POST", "/", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") == "" {
		t.Error("expected Retry-After header")
	}
}

func TestRateLimiter_SlidingWindow(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    2,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}

	if ok, _ := rl.allow("k"); !ok {
		t.Fatal("first request should pass")
	}
	now = now.Add(30 * time.Second)
	if ok, _ := rl.allow("k"); !ok {
		t.Fatal("second request should pass")
	}

	now = now.Add(10 * time.Second)
	ok, wait := rl.allow("k")
	if ok {
		t.Fatal("third request inside the window should be limited")
	}
	if wait != 20*time.Second {
		t.Errorf("expected 20s until the oldest request ages out, got %v", wait)
	}

	// Another key has its own window.
	if ok, _ := rl.allow("other"); !ok {
		t.Error("separate key should not be limited")
	}

	now = now.Add(21 * time.Second)
	if ok, _ := rl.allow("k"); !ok {
		t.Error("request after the oldest aged out should pass")
	}
}

func TestRateLimit_RetryAfterSeconds(t *testing.T) {
	now := time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)
	rl := &rateLimiter{
		requests: make(map[string][]time.Time),
		limit:    1,
		window:   time.Minute,
		now:      func() time.Time { return now },
	}
	handler := rateLimit(rl, "k")(okHandler())

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", nil))
	now = now.Add(15500 * time.Millisecond)

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("POST", "/", nil))
	if got := w.Header().Get("Retry-After"); got != "45" {
		t.Errorf("expected Retry-After 45, got %q", got)
	}
}

func TestAdminKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"match", "secret", "secret", http.StatusOK},
		{"mismatch", "secret", "guess", http.StatusUnauthorized},
		{"missing header", "secret", "", http.StatusUnauthorized},
		{"unset key", "", "", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := AdminKeyMiddleware(tt.key)(okHandler())
			req := httptest.NewRequest("POST", "/", nil)
			if tt.header != "" {
				req.Header.Set("X-Admin-Key", tt.header)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)
			if w.Code != tt.want {
				t.Errorf("expected %d, got %d", tt.want, w.Code)
			}
		})
	}
}

func TestRequestLogger(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	called := false
	handler := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest("GET", "/test", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !called {
		t.Error("inner handler was not called")
	}
	if w.Code != http.StatusTeapot {
		t.Errorf("expected 418, got %d", w.Code)
	}
}
