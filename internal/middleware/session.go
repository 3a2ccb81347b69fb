// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/pulseboard/internal/backend"
	"github.com/hitoshi/pulseboard/internal/model"
)

const (
	// AccessTokenCookieName はプロバイダーのアクセストークンを保持するCookie名。
	AccessTokenCookieName = "access_token"
	// RefreshTokenCookieName はリフレッシュトークンを保持するCookie名。
	RefreshTokenCookieName = "refresh_token"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	userIDContextKey      = contextKey("user_id")
	accessTokenContextKey = contextKey("access_token")
)

// Authenticator はトークンからidentityを解決するインターフェース。
// *auth.Serviceが満たす。
type Authenticator interface {
	Identify(ctx context.Context, accessToken string) (*model.Identity, error)
	Refresh(ctx context.Context, refreshToken string) (*model.AuthSession, error)
}

// SessionConfig はセッションCookieの設定。
type SessionConfig struct {
	CookieSecure       bool
	CookieDomain       string
	RefreshTokenMaxAge int // 秒
}

// NewSessionMiddleware はCookieのアクセストークンからidentityを解決し、
// ユーザーIDとアクセストークンをリクエストコンテキストに注入する。
// アクセストークンが失効している場合はリフレッシュトークンで再発行し、Cookieを差し替える。
// 未認証リクエストには401を返す。
func NewSessionMiddleware(authn Authenticator, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, token, err := resolveSession(w, r, authn, config)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
				WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
				return
			}
			if identity == nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
				return
			}

			next.ServeHTTP(w, r.WithContext(contextWithSession(r.Context(), identity.ID, token)))
		})
	}
}

// NewOptionalSessionMiddleware はNewSessionMiddlewareと同様にセッションを解決するが、
// 未認証やプロバイダー障害でもリクエストを通す。ページ表示に使う。
func NewOptionalSessionMiddleware(authn Authenticator, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, token, err := resolveSession(w, r, authn, config)
			if err != nil {
				slog.Warn("failed to resolve optional session",
					slog.String("path", r.URL.Path),
					slog.String("error", err.Error()),
				)
			}
			if identity != nil {
				r = r.WithContext(contextWithSession(r.Context(), identity.ID, token))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// resolveSession はCookieからidentityを解決する。
// 未認証の場合はnilを返し、プロバイダーに到達できない場合のみエラーを返す。
func resolveSession(w http.ResponseWriter, r *http.Request, authn Authenticator, config SessionConfig) (*model.Identity, string, error) {
	if cookie, err := r.Cookie(AccessTokenCookieName); err == nil && cookie.Value != "" {
		identity, err := authn.Identify(r.Context(), cookie.Value)
		if err == nil && identity != nil {
			return identity, cookie.Value, nil
		}
		if err != nil && !errors.Is(err, backend.ErrUnauthorized) {
			return nil, "", err
		}
	}

	cookie, err := r.Cookie(RefreshTokenCookieName)
	if err != nil || cookie.Value == "" {
		return nil, "", nil
	}

	session, err := authn.Refresh(r.Context(), cookie.Value)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			ClearSessionCookies(w, config)
			return nil, "", nil
		}
		return nil, "", err
	}

	SetSessionCookies(w, session, config)

	identity := session.User
	if identity == nil {
		identity, err = authn.Identify(r.Context(), session.AccessToken)
		if err != nil {
			if errors.Is(err, backend.ErrUnauthorized) {
				return nil, "", nil
			}
			return nil, "", err
		}
	}

	slog.Debug("session refreshed", slog.String("user_id", identity.ID))
	return identity, session.AccessToken, nil
}

// SetSessionCookies はプロバイダーのセッションをHttpOnly Cookieに保存する。
func SetSessionCookies(w http.ResponseWriter, session *model.AuthSession, config SessionConfig) {
	accessMaxAge := session.ExpiresIn
	if accessMaxAge <= 0 && !session.ExpiresAt.IsZero() {
		accessMaxAge = int(time.Until(session.ExpiresAt).Seconds())
	}
	if accessMaxAge <= 0 {
		accessMaxAge = 3600
	}

	http.SetCookie(w, &http.Cookie{
		Name:     AccessTokenCookieName,
		Value:    session.AccessToken,
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   accessMaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})

	if session.RefreshToken != "" {
		http.SetCookie(w, &http.Cookie{
			Name:     RefreshTokenCookieName,
			Value:    session.RefreshToken,
			Path:     "/",
			Domain:   config.CookieDomain,
			MaxAge:   config.RefreshTokenMaxAge,
			HttpOnly: true,
			Secure:   config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// ClearSessionCookies はセッションCookieを削除する。
func ClearSessionCookies(w http.ResponseWriter, config SessionConfig) {
	for _, name := range []string{AccessTokenCookieName, RefreshTokenCookieName} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   config.CookieDomain,
			MaxAge:   -1,
			HttpOnly: true,
			Secure:   config.CookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

func contextWithSession(ctx context.Context, userID, accessToken string) context.Context {
	annotateUserID(ctx, userID)
	ctx = context.WithValue(ctx, userIDContextKey, userID)
	return context.WithValue(ctx, accessTokenContextKey, accessToken)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// セッションミドルウェアを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// AccessTokenFromContext はセッションミドルウェアが解決したアクセストークンを返す。
// リフレッシュ直後はCookieではなくこちらが最新のトークンになる。
func AccessTokenFromContext(ctx context.Context) string {
	token, _ := ctx.Value(accessTokenContextKey).(string)
	return token
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}
