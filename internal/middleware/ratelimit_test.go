package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newLimitedHandler(t *testing.T, cfg RateLimiterConfig) (*RateLimiter, http.Handler, *int) {
	t.Helper()
	rl := NewRateLimiter(cfg)
	t.Cleanup(rl.Stop)

	calls := 0
	h := rl.Middleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
	}))
	return rl, h, &calls
}

func requestFrom(addr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/auth/provider", nil)
	req.RemoteAddr = addr
	return req
}

// --- RateLimiter.Middleware のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	_, handler, calls := newLimitedHandler(t, RateLimiterConfig{
		Rate:            2,
		Burst:           5,
		CleanupInterval: time.Minute,
	})

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))
		if w.Code != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Code, http.StatusOK)
		}
	}

	if *calls != 5 {
		t.Errorf("handler call count = %d, want 5", *calls)
	}
}

func TestRateLimitMiddleware_Returns429WithRetryAfterHeader(t *testing.T) {
	_, handler, calls := newLimitedHandler(t, RateLimiterConfig{
		Rate:            0.5,
		Burst:           2,
		CleanupInterval: time.Minute,
	})

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}
	// 0.5 req/sec の場合、トークン補充まで2秒
	if got := w.Header().Get("Retry-After"); got != "2" {
		t.Errorf("Retry-After = %q, want %q", got, "2")
	}
	if *calls != 2 {
		t.Errorf("handler call count = %d, want 2", *calls)
	}
}

func TestRateLimitMiddleware_429ResponseIsJSON(t *testing.T) {
	_, handler, _ := newLimitedHandler(t, RateLimiterConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:1234"))

	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var body ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Code != "rate_limit_exceeded" {
		t.Errorf("code = %q, want rate_limit_exceeded", body.Code)
	}
	if body.Category != "system" {
		t.Errorf("category = %q, want system", body.Category)
	}
}

func TestRateLimitMiddleware_IsolatesClientsByIP(t *testing.T) {
	rl, handler, _ := newLimitedHandler(t, RateLimiterConfig{
		Rate:            1,
		Burst:           1,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1111"))

	// 同じIPの別ポートは同じクライアントとして扱う
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.1:2222"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("same IP: status = %d, want %d", w.Code, http.StatusTooManyRequests)
	}

	// 別のIPは影響を受けない
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("10.0.0.2:1111"))
	if w.Code != http.StatusOK {
		t.Errorf("other IP: status = %d, want %d", w.Code, http.StatusOK)
	}

	if got := rl.LimiterCount(); got != 2 {
		t.Errorf("LimiterCount = %d, want 2", got)
	}
}

func TestClientKey(t *testing.T) {
	tests := []struct {
		remoteAddr string
		want       string
	}{
		{"192.0.2.1:5555", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		// RealIPミドルウェア通過後はポートなしになる
		{"203.0.113.9", "203.0.113.9"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remoteAddr
		if got := clientKey(req); got != tt.want {
			t.Errorf("clientKey(%q) = %q, want %q", tt.remoteAddr, got, tt.want)
		}
	}
}

// --- クリーンアップのテスト ---

func TestRateLimiter_CleanupRemovesExpiredEntries(t *testing.T) {
	rl, handler, _ := newLimitedHandler(t, RateLimiterConfig{
		Rate:            2,
		Burst:           5,
		CleanupInterval: time.Minute,
	})

	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("10.0.0.1:1234"))
	if rl.LimiterCount() != 1 {
		t.Fatalf("LimiterCount = %d, want 1", rl.LimiterCount())
	}

	// TTL（CleanupIntervalの2倍）以内は残る
	rl.cleanup(time.Now().Add(90 * time.Second))
	if rl.LimiterCount() != 1 {
		t.Errorf("TTL内のエントリが削除されました")
	}

	rl.cleanup(time.Now().Add(3 * time.Minute))
	if got := rl.LimiterCount(); got != 0 {
		t.Errorf("expected 0 limiter entries after cleanup, got %d", got)
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig(10))
	rl.Stop()
	rl.Stop()
}

// --- デフォルト設定値のテスト ---

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig(120)

	if cfg.Rate != rate.Limit(2.0) { // 120/60 = 2
		t.Errorf("Rate = %v, want 2", cfg.Rate)
	}
	if cfg.Burst != 120 {
		t.Errorf("Burst = %d, want 120", cfg.Burst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}

func TestDefaultRateLimiterConfig_NonPositiveFallsBack(t *testing.T) {
	cfg := DefaultRateLimiterConfig(0)
	if cfg.Burst != 30 {
		t.Errorf("Burst = %d, want 30", cfg.Burst)
	}
}
