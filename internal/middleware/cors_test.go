package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testOrigin = "https://notes.example.com"

func TestCORSMiddleware_AllowedOrigin_SetsHeaders(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != testOrigin {
		t.Errorf("Access-Control-Allow-Origin = %q, want %q", got, testOrigin)
	}
	if got := w.Header().Get("Access-Control-Allow-Credentials"); got != "true" {
		t.Errorf("Access-Control-Allow-Credentials = %q, want true", got)
	}
	if got := w.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, CSRFHeaderName) {
		t.Errorf("Access-Control-Allow-Headers = %q, want to contain %q", got, CSRFHeaderName)
	}
}

func TestCORSMiddleware_OtherOrigin_NoHeaders(t *testing.T) {
	handler := NewCORSMiddleware(testOrigin)(okHandler)

	req := httptest.NewRequest(http.MethodGet, "/api/notes", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "" {
		t.Errorf("Access-Control-Allow-Origin = %q, want empty", got)
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

func TestCORSMiddleware_Preflight_Returns204(t *testing.T) {
	called := false
	handler := NewCORSMiddleware(testOrigin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/api/notes", nil)
	req.Header.Set("Origin", testOrigin)
	w := httptest.NewRecorder()

	handler.ServeHTTP(w, req)

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("プリフライトで後続のハンドラーが呼ばれた")
	}
}
