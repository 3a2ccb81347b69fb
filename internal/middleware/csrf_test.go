package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func TestCSRFMiddleware_SafeMethods_PassWithoutToken(t *testing.T) {
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		t.Run(method, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(method, "/", nil))

			if !called {
				t.Error("handler should be called")
			}
			if findCookie(rec.Result(), csrfCookieName) == nil {
				t.Error("csrf_token cookie should be issued")
			}
		})
	}
}

func TestCSRFMiddleware_ExistingCookieIsKept(t *testing.T) {
	called := false
	handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if findCookie(rec.Result(), csrfCookieName) != nil {
		t.Error("existing csrf_token cookie should not be replaced")
	}
}

func TestCSRFMiddleware_StateChangingMethods(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		header string
		want   int
	}{
		{"Cookieなし", "", "token", http.StatusForbidden},
		{"ヘッダーなし", "token", "", http.StatusForbidden},
		{"不一致", "token", "other", http.StatusForbidden},
		{"一致", "token", "token", http.StatusOK},
	}

	for _, method := range []string{http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete} {
		for _, tt := range tests {
			t.Run(method+"/"+tt.name, func(t *testing.T) {
				called := false
				handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

				req := httptest.NewRequest(method, "/api/profile", nil)
				if tt.cookie != "" {
					req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: tt.cookie})
				}
				if tt.header != "" {
					req.Header.Set(csrfHeaderName, tt.header)
				}
				rec := httptest.NewRecorder()
				handler.ServeHTTP(rec, req)

				if rec.Code != tt.want {
					t.Fatalf("status = %d, want %d", rec.Code, tt.want)
				}
				if called != (tt.want == http.StatusOK) {
					t.Errorf("handler called = %v", called)
				}
				if tt.want == http.StatusForbidden {
					if code := decodeErrorCode(t, rec); code != "CSRF_TOKEN_INVALID" {
						t.Errorf("code = %q, want CSRF_TOKEN_INVALID", code)
					}
				}
			})
		}
	}
}

func TestCSRFMiddleware_FormFieldToken(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		want        int
	}{
		{"urlencodedフォーム", "application/x-www-form-urlencoded", http.StatusOK},
		{"JSONボディはフォームとして読まない", "application/json", http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			handler := NewCSRFMiddleware(CSRFConfig{})(okHandler(&called))

			form := url.Values{csrfFormField: {"token"}, "email": {"a@example.com"}}
			req := httptest.NewRequest(http.MethodPost, "/auth/signin", strings.NewReader(form.Encode()))
			req.Header.Set("Content-Type", tt.contentType)
			req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "token"})
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}
}

func TestCSRFTokenHandler(t *testing.T) {
	t.Run("新規発行", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{CookieSecure: true}).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil))

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if len(body.Token) != 64 {
			t.Errorf("token length = %d, want 64", len(body.Token))
		}

		cookie := findCookie(rec.Result(), csrfCookieName)
		if cookie == nil || cookie.Value != body.Token {
			t.Fatalf("cookie = %+v, want value %q", cookie, body.Token)
		}
		if cookie.HttpOnly {
			t.Error("csrf_token cookie must be readable from scripts")
		}
		if !cookie.Secure {
			t.Error("cookie should be Secure")
		}
	})

	t.Run("既存Cookieのトークンを返す", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/api/csrf-token", nil)
		req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: "existing"})
		rec := httptest.NewRecorder()
		NewCSRFTokenHandler(CSRFConfig{}).ServeHTTP(rec, req)

		var body struct {
			Token string `json:"token"`
		}
		if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
			t.Fatalf("failed to decode: %v", err)
		}
		if body.Token != "existing" {
			t.Errorf("token = %q, want existing", body.Token)
		}
	})
}
