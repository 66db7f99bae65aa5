package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"
)

// --- RateLimitMiddleware (API全般) のテスト ---

func TestRateLimitMiddleware_AllowsRequestsWithinLimit(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     2, // 2 req/sec
		GeneralBurst:    5, // バースト5
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handlerCallCount := 0
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCallCount++
		w.WriteHeader(http.StatusOK)
	}))

	// バースト内の5リクエストは全て通る
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.RemoteAddr = "192.0.2.1:54321"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	if handlerCallCount != 5 {
		t.Errorf("handler call count = %d, want 5", handlerCallCount)
	}
}

func TestRateLimitMiddleware_Returns429WhenLimitExceeded(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1, // 1 req/sec
		GeneralBurst:    2, // バースト2
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()

	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// バースト分（2回）は通る
	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
		req.RemoteAddr = "192.0.2.2:54321"
		w := httptest.NewRecorder()

		handler.ServeHTTP(w, req)

		if w.Result().StatusCode != http.StatusOK {
			t.Errorf("request %d: status = %d, want %d", i, w.Result().StatusCode, http.StatusOK)
		}
	}

	// 3回目は429
	req := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	req.RemoteAddr = "192.0.2.2:54321"
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusTooManyRequests)
	}

	// Retry-Afterヘッダーが設定されていること
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		t.Error("Retry-After ヘッダーが設定されていない")
	}
	if sec, err := strconv.Atoi(retryAfter); err != nil || sec < 1 {
		t.Errorf("Retry-After = %q, 1以上の整数であるべき", retryAfter)
	}

	// 統一エラーフォーマットのボディが返ること
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response body: %v", err)
	}
	if body["code"] != "rate_limit_exceeded" {
		t.Errorf("code = %q, want %q", body["code"], "rate_limit_exceeded")
	}
}

func TestRateLimitMiddleware_SeparateLimitsPerClient(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CleanupInterval: 1 * time.Minute,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	mw := rl.GeneralMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// クライアントAはバーストを使い切る
	reqA := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	reqA.RemoteAddr = "192.0.2.10:1000"
	wA := httptest.NewRecorder()
	handler.ServeHTTP(wA, reqA)
	if wA.Result().StatusCode != http.StatusOK {
		t.Fatalf("クライアントAの1回目: status = %d, want 200", wA.Result().StatusCode)
	}

	reqA2 := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	reqA2.RemoteAddr = "192.0.2.10:1001"
	wA2 := httptest.NewRecorder()
	handler.ServeHTTP(wA2, reqA2)
	if wA2.Result().StatusCode != http.StatusTooManyRequests {
		t.Errorf("クライアントAの2回目: status = %d, want 429", wA2.Result().StatusCode)
	}

	// クライアントBは独立して通る
	reqB := httptest.NewRequest(http.MethodGet, "/api/test", nil)
	reqB.RemoteAddr = "192.0.2.20:2000"
	wB := httptest.NewRecorder()
	handler.ServeHTTP(wB, reqB)
	if wB.Result().StatusCode != http.StatusOK {
		t.Errorf("クライアントB: status = %d, want 200", wB.Result().StatusCode)
	}
}

func TestRateLimiter_LimiterCount(t *testing.T) {
	cfg := DefaultRateLimiterConfig()
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	if rl.LimiterCount() != 0 {
		t.Errorf("初期状態のエントリ数 = %d, want 0", rl.LimiterCount())
	}

	rl.getOrCreateLimiter("192.0.2.1")
	rl.getOrCreateLimiter("192.0.2.2")
	rl.getOrCreateLimiter("192.0.2.1") // 既存

	if rl.LimiterCount() != 2 {
		t.Errorf("エントリ数 = %d, want 2", rl.LimiterCount())
	}
}

func TestRateLimiter_CleanupRemovesStaleEntries(t *testing.T) {
	cfg := RateLimiterConfig{
		GeneralRate:     1,
		GeneralBurst:    1,
		CleanupInterval: 10 * time.Millisecond,
	}

	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	rl.getOrCreateLimiter("192.0.2.1")

	// 最終アクセスを過去に書き換える
	rl.mu.Lock()
	rl.limiters["192.0.2.1"].lastAccess = time.Now().Add(-1 * time.Hour)
	rl.mu.Unlock()

	rl.cleanup()

	if rl.LimiterCount() != 0 {
		t.Errorf("クリーンアップ後のエントリ数 = %d, want 0", rl.LimiterCount())
	}
}

func TestClientIPFromRequest(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		want       string
	}{
		{"IPv4とポート", "192.0.2.1:54321", "192.0.2.1"},
		{"IPv6とポート", "[2001:db8::1]:54321", "2001:db8::1"},
		{"ポートなし", "192.0.2.1", "192.0.2.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if got := clientIPFromRequest(req); got != tt.want {
				t.Errorf("clientIPFromRequest() = %q, want %q", got, tt.want)
			}
		})
	}
}
