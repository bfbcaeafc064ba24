package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/driveman/internal/token"
)

// TestRouterIntegration_ProtectedRoute_WithMiddlewareChain は
// Auth -> RateLimit のミドルウェアチェーンがchi.Routerで正しく動作することを検証する。
func TestRouterIntegration_ProtectedRoute_WithMiddlewareChain(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(token.NewCodec(), testSecret))
		r.Use(rl.GeneralMiddleware())
		r.Get("/api/files", func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				t.Errorf("UserIDFromContext failed: %v", err)
			}
			json.NewEncoder(w).Encode(map[string]string{"user_id": userID})
		})
	})

	// 有効なトークン付きリクエストは通る
	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	req.Header.Set("Authorization", "Bearer "+issueTestToken(t, "user-chain"))
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if body["user_id"] != "user-chain" {
		t.Errorf("user_id = %q, want %q", body["user_id"], "user-chain")
	}
}

// TestRouterIntegration_ProtectedRoute_WithoutToken は
// トークンなしのリクエストがチェーンの先頭で拒否されることを検証する。
func TestRouterIntegration_ProtectedRoute_WithoutToken(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	defer rl.Stop()

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(NewAuthMiddleware(token.NewCodec(), testSecret))
		r.Use(rl.GeneralMiddleware())
		r.Get("/api/files", func(w http.ResponseWriter, r *http.Request) {
			t.Fatal("handler should not be called")
		})
	})

	req := httptest.NewRequest(http.MethodGet, "/api/files", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusUnauthorized)
	}
}

// TestRouterIntegration_Recovery はpanicを起こすハンドラーで500が返ることを検証する。
func TestRouterIntegration_Recovery(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewRecoveryMiddleware())
	r.Get("/panic", func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	})

	req := httptest.NewRequest(http.MethodGet, "/panic", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if w.Result().StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Result().StatusCode, http.StatusInternalServerError)
	}
}

// TestRouterIntegration_SecurityHeaders はセキュリティヘッダーが付与されることを検証する。
func TestRouterIntegration_SecurityHeaders(t *testing.T) {
	r := chi.NewRouter()
	r.Use(NewSecurityHeadersMiddleware())
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()

	r.ServeHTTP(w, req)

	if got := w.Result().Header.Get("X-Content-Type-Options"); got != "nosniff" {
		t.Errorf("X-Content-Type-Options = %q, want nosniff", got)
	}
	if got := w.Result().Header.Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q, want DENY", got)
	}
	if got := w.Result().Header.Get("Cache-Control"); got != "no-store" {
		t.Errorf("Cache-Control = %q, want no-store", got)
	}
}
