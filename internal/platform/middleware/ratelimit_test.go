package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
)

func newLimited(t *testing.T, cfg RateLimitConfig) (*RateLimiter, echo.HandlerFunc) {
	t.Helper()
	l := NewRateLimiter(cfg)
	t.Cleanup(l.Close)
	h := RateLimit(l)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
	return l, h
}

func doRequest(e *echo.Echo, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	return rec, h(e.NewContext(req, rec))
}

func TestRateLimit_RequestsWithinLimit(t *testing.T) {
	_, h := newLimited(t, RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})
	e := echo.New()

	for i := 0; i < 5; i++ {
		rec, err := doRequest(e, h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit '10', got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsLimit(t *testing.T) {
	_, h := newLimited(t, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})
	e := echo.New()

	for i := 0; i < 2; i++ {
		if _, err := doRequest(e, h, "10.0.0.1"); err != nil {
			t.Fatalf("request %d: expected no error, got %v", i+1, err)
		}
	}

	rec, err := doRequest(e, h, "10.0.0.1")
	if err == nil {
		t.Fatal("expected error for rate-limited request")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T", err)
	}
	if httpErr.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", httpErr.Code)
	}
	retry, convErr := strconv.Atoi(rec.Header().Get("Retry-After"))
	if convErr != nil || retry < 1 {
		t.Errorf("expected positive Retry-After, got %q", rec.Header().Get("Retry-After"))
	}
	if rec.Header().Get("X-RateLimit-Remaining") != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0")
	}
}

func TestRateLimit_SeparateClients(t *testing.T) {
	_, h := newLimited(t, RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	e := echo.New()

	if _, err := doRequest(e, h, "10.0.0.1"); err != nil {
		t.Fatalf("first client: %v", err)
	}
	if _, err := doRequest(e, h, "10.0.0.2"); err != nil {
		t.Fatalf("second client should have its own bucket: %v", err)
	}
	if _, err := doRequest(e, h, "10.0.0.1"); err == nil {
		t.Fatal("expected first client to be limited")
	}
}

func TestRateLimiter_DeniedRequestDoesNotConsume(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})
	defer l.Close()

	base := time.Now()
	l.now = func() time.Time { return base }

	if ok, _ := l.Allow("k"); !ok {
		t.Fatal("expected first request allowed")
	}
	for i := 0; i < 3; i++ {
		if ok, _ := l.Allow("k"); ok {
			t.Fatal("expected request to be denied")
		}
	}

	l.now = func() time.Time { return base.Add(1100 * time.Millisecond) }
	if ok, _ := l.Allow("k"); !ok {
		t.Error("expected token to be available after one second")
	}
}

func TestRateLimiter_SweepForgetsIdleClients(t *testing.T) {
	l := NewRateLimiter(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1, IdleTTL: time.Minute})
	defer l.Close()

	base := time.Now()
	l.now = func() time.Time { return base }
	l.Allow("old")
	l.now = func() time.Time { return base.Add(2 * time.Minute) }
	l.Allow("new")

	l.sweep()

	if l.Len() != 1 {
		t.Errorf("expected 1 client after sweep, got %d", l.Len())
	}
}

func TestDefaultRateLimitConfig(t *testing.T) {
	cfg := DefaultRateLimitConfig()
	if cfg.RequestsPerSecond != 100 || cfg.BurstSize != 200 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}
