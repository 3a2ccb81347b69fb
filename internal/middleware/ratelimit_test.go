package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"
)

func newTestRateLimiter(t *testing.T, generalPerMinute, authPerMinute int) *RateLimiter {
	t.Helper()
	rl := NewRateLimiter(NewRateLimiterConfig(generalPerMinute, authPerMinute))
	t.Cleanup(rl.Stop)
	return rl
}

func serveAs(handler http.Handler, userID, remoteAddr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/users", nil)
	if userID != "" {
		req = req.WithContext(ContextWithUserID(req.Context(), userID))
	}
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestGeneralMiddleware_LimitsPerUser(t *testing.T) {
	rl := newTestRateLimiter(t, 3, 10)
	called := false
	handler := rl.GeneralMiddleware()(okHandler(&called))

	for i := range 3 {
		if rec := serveAs(handler, "user-1", ""); rec.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d, want 200", i+1, rec.Code)
		}
	}

	rec := serveAs(handler, "user-1", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "20" {
		t.Errorf("Retry-After = %q, want 20", rec.Header().Get("Retry-After"))
	}
	if code := decodeErrorCode(t, rec); code != "RATE_LIMIT_EXCEEDED" {
		t.Errorf("code = %q, want RATE_LIMIT_EXCEEDED", code)
	}

	// 別ユーザーには影響しない
	if rec := serveAs(handler, "user-2", ""); rec.Code != http.StatusOK {
		t.Errorf("other user status = %d, want 200", rec.Code)
	}
	if rl.GeneralLimiterCount() != 2 {
		t.Errorf("GeneralLimiterCount = %d, want 2", rl.GeneralLimiterCount())
	}
}

func TestGeneralMiddleware_NoUser_Returns401(t *testing.T) {
	rl := newTestRateLimiter(t, 3, 10)
	called := false
	handler := rl.GeneralMiddleware()(okHandler(&called))

	if rec := serveAs(handler, "", ""); rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
	if called {
		t.Error("handler should not be called")
	}
}

func TestAuthMiddleware_LimitsPerIP(t *testing.T) {
	rl := newTestRateLimiter(t, 120, 2)
	called := false
	handler := rl.AuthMiddleware()(okHandler(&called))

	for i := range 2 {
		if rec := serveAs(handler, "", "192.0.2.1:5000"); rec.Code != http.StatusOK {
			t.Fatalf("attempt %d: status = %d, want 200", i+1, rec.Code)
		}
	}
	// ポートが変わっても同一IPとして数える
	if rec := serveAs(handler, "", "192.0.2.1:6000"); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", rec.Code)
	}
	if rec := serveAs(handler, "", "192.0.2.2:5000"); rec.Code != http.StatusOK {
		t.Errorf("other IP status = %d, want 200", rec.Code)
	}
	if rl.AuthLimiterCount() != 2 {
		t.Errorf("AuthLimiterCount = %d, want 2", rl.AuthLimiterCount())
	}
}

func TestAuthMiddleware_IndependentFromGeneral(t *testing.T) {
	rl := newTestRateLimiter(t, 1, 1)
	called := false
	general := rl.GeneralMiddleware()(okHandler(&called))
	authLimited := rl.AuthMiddleware()(okHandler(&called))

	if rec := serveAs(general, "user-1", "192.0.2.1:1"); rec.Code != http.StatusOK {
		t.Fatalf("general status = %d", rec.Code)
	}
	if rec := serveAs(authLimited, "", "192.0.2.1:1"); rec.Code != http.StatusOK {
		t.Errorf("auth status = %d, want 200", rec.Code)
	}
}

func TestRateLimiter_CleanupRemovesIdleEntries(t *testing.T) {
	rl := newTestRateLimiter(t, 10, 10)
	rl.general.allow("idle")
	rl.general.allow("active")
	rl.auth.allow("198.51.100.1")

	old := time.Now().Add(-3 * rl.config.CleanupInterval)
	rl.general.entries["idle"].lastAccess = old
	rl.auth.entries["198.51.100.1"].lastAccess = old

	rl.cleanup()

	if rl.GeneralLimiterCount() != 1 {
		t.Errorf("GeneralLimiterCount = %d, want 1", rl.GeneralLimiterCount())
	}
	if _, ok := rl.general.entries["active"]; !ok {
		t.Error("active entry should remain")
	}
	if rl.AuthLimiterCount() != 0 {
		t.Errorf("AuthLimiterCount = %d, want 0", rl.AuthLimiterCount())
	}
}

func TestRateLimiter_StopIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(DefaultRateLimiterConfig())
	rl.Stop()
	rl.Stop()
}

func TestDefaultRateLimiterConfig(t *testing.T) {
	cfg := DefaultRateLimiterConfig()

	if cfg.GeneralRate != rate.Limit(2) || cfg.GeneralBurst != 120 {
		t.Errorf("general = %v/%d, want 2/120", cfg.GeneralRate, cfg.GeneralBurst)
	}
	if cfg.AuthBurst != 10 {
		t.Errorf("AuthBurst = %d, want 10", cfg.AuthBurst)
	}
	if cfg.CleanupInterval != 5*time.Minute {
		t.Errorf("CleanupInterval = %v, want 5m", cfg.CleanupInterval)
	}
}
