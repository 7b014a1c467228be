package middleware

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"
)

func testRateLimiterConfig() RateLimiterConfig {
	return RateLimiterConfig{
		LoginRate:       1, // 1 req/sec
		LoginBurst:      3,
		LeadRate:        0.5,
		LeadBurst:       2,
		CleanupInterval: time.Minute,
	}
}

func requestFrom(ip string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/api/leads", nil)
	req.RemoteAddr = ip + ":54321"
	return req
}

func countingHandler(mw func(http.Handler) http.Handler) (http.Handler, *int) {
	n := 0
	return mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n++
		w.WriteHeader(http.StatusOK)
	})), &n
}

// TestRateLimiter_LoginAllowsBurstThenRejects はバースト内は通し、超過分に429を返すことを検証する。
func TestRateLimiter_LoginAllowsBurstThenRejects(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler, calls := countingHandler(rl.LoginMiddleware())

	for i := 0; i < 3; i++ {
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, requestFrom("203.0.113.10"))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i, w.Code)
		}
	}

	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("203.0.113.10"))
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if *calls != 3 {
		t.Errorf("handler calls = %d, want 3", *calls)
	}
	if body := decodeErrorBody(t, w); body.Code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q", body.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1", got)
	}
}

// TestRateLimiter_PerClientIP はクライアントIPごとに独立して制限されることを検証する。
func TestRateLimiter_PerClientIP(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler, _ := countingHandler(rl.LeadMiddleware())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), requestFrom("198.51.100.1"))
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.1"))
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("first client status = %d, want 429", w.Code)
	}

	w = httptest.NewRecorder()
	handler.ServeHTTP(w, requestFrom("198.51.100.2"))
	if w.Code != http.StatusOK {
		t.Errorf("second client status = %d, want 200", w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "" {
		t.Errorf("Retry-After set on success: %q", got)
	}
	if rl.LeadLimiterCount() != 2 {
		t.Errorf("LeadLimiterCount = %d, want 2", rl.LeadLimiterCount())
	}
}

// TestRateLimiter_LoginAndLeadsAreIndependent はログインと問い合わせの制限が独立していることを検証する。
func TestRateLimiter_LoginAndLeadsAreIndependent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	leads, _ := countingHandler(rl.LeadMiddleware())
	login, _ := countingHandler(rl.LoginMiddleware())

	for i := 0; i < 3; i++ {
		leads.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.7"))
	}

	w := httptest.NewRecorder()
	login.ServeHTTP(w, requestFrom("192.0.2.7"))
	if w.Code != http.StatusOK {
		t.Errorf("login status = %d, want 200", w.Code)
	}
	if rl.LoginLimiterCount() != 1 || rl.LeadLimiterCount() != 1 {
		t.Errorf("counts = %d/%d, want 1/1", rl.LoginLimiterCount(), rl.LeadLimiterCount())
	}
}

// TestRateLimiter_RetryAfterForSlowRate は補充間隔からRetry-Afterを算出することを検証する。
func TestRateLimiter_RetryAfterForSlowRate(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfigPerMinute(10, 5))
	defer rl.Stop()

	handler, _ := countingHandler(rl.LeadMiddleware())
	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = httptest.NewRecorder()
		handler.ServeHTTP(last, requestFrom("192.0.2.8"))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", last.Code)
	}
	if got, _ := strconv.Atoi(last.Header().Get("Retry-After")); got != 12 {
		t.Errorf("Retry-After = %d, want 12", got)
	}
}

// TestRateLimiter_CleanupEvictsIdleClients は一定時間アクセスのないエントリが削除されることを検証する。
func TestRateLimiter_CleanupEvictsIdleClients(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	defer rl.Stop()

	handler, _ := countingHandler(rl.LoginMiddleware())
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.1"))
	handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.2"))

	rl.login.mu.Lock()
	rl.login.clients["192.0.2.1"].lastAccess = time.Now().Add(-3 * time.Minute)
	rl.login.mu.Unlock()

	rl.cleanup()

	if rl.LoginLimiterCount() != 1 {
		t.Errorf("LoginLimiterCount = %d, want 1", rl.LoginLimiterCount())
	}
}

// TestRateLimiter_ConcurrentAccess は並行アクセスでバースト数を超えて通過しないことを検証する。
func TestRateLimiter_ConcurrentAccess(t *testing.T) {
	cfg := testRateLimiterConfig()
	cfg.LoginRate = 0.001
	cfg.LoginBurst = 5
	rl := NewRateLimiter(cfg)
	defer rl.Stop()

	var mu sync.Mutex
	allowed := 0
	handler := rl.LoginMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		allowed++
		mu.Unlock()
	}))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			handler.ServeHTTP(httptest.NewRecorder(), requestFrom("192.0.2.99"))
		}()
	}
	wg.Wait()

	if allowed != 5 {
		t.Errorf("allowed = %d, want 5", allowed)
	}
}

// TestRateLimiter_StopIsIdempotent はStopを複数回呼んでもpanicしないことを検証する。
func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(testRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[2001:db8::1]:443"
	if got := ClientIP(req); got != "2001:db8::1" {
		t.Errorf("ClientIP = %q", got)
	}
	req.RemoteAddr = "192.0.2.5"
	if got := ClientIP(req); got != "192.0.2.5" {
		t.Errorf("ClientIP without port = %q", got)
	}
}
