package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOrigin = "https://www.vendsite.example"

func newCORSHandler() (http.Handler, *bool) {
	called := false
	h := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	return h, &called
}

// TestCORSMiddleware_AllowedOrigin は許可オリジンに対してCORSヘッダーが付与されることを検証する。
func TestCORSMiddleware_AllowedOrigin(t *testing.T) {
	handler, called := newCORSHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/machines", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Allow-Origin = %q, want %q", got, testOrigin)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Allow-Credentials = %q, want true", got)
	}
	allowHeaders := w.Header().Get("Access-Control-Allow-Headers")
	for _, h := range []string{"Authorization", "Content-Type", "X-CSRF-Token"} {
		if !strings.Contains(allowHeaders, h) {
			t.Errorf("Allow-Headers %q missing %s", allowHeaders, h)
		}
	}
	if !*called {
		t.Error("next handler not called")
	}
}

// TestCORSMiddleware_Preflight はプリフライトに204で応答し、次のハンドラーを呼ばないことを検証する。
func TestCORSMiddleware_Preflight(t *testing.T) {
	handler, called := newCORSHandler()

	req := httptest.NewRequest(http.MethodOptions, "/api/admin/machines", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if *called {
		t.Error("next handler must not be called for preflight")
	}
}

// TestCORSMiddleware_OtherOrigin は他オリジンにCORSヘッダーを付与しないことを検証する。
func TestCORSMiddleware_OtherOrigin(t *testing.T) {
	handler, called := newCORSHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/machines", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Allow-Origin = %q, want empty", got)
	}
	if !*called {
		t.Error("simple request from other origin should still reach handler")
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/admin/machines", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("preflight status = %d, want %d", w.Code, http.StatusForbidden)
	}
}

// TestCORSMiddleware_NoOrigin は同一オリジンやサーバー間のリクエストがそのまま通ることを検証する。
func TestCORSMiddleware_NoOrigin(t *testing.T) {
	handler, called := newCORSHandler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if !*called || w.Code != http.StatusOK {
		t.Errorf("called = %v, status = %d", *called, w.Code)
	}
	if w.Header().Get("Vary") != "Origin" {
		t.Errorf("Vary = %q, want Origin", w.Header().Get("Vary"))
	}
}
