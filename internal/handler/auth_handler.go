package handler

import (
	"context"
	"log/slog"
	"net/http"
	"net/mail"
	"strings"

	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
)

// minPasswordLength はサインアップ時のパスワード長の下限。
const minPasswordLength = 6

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
// *auth.Serviceが満たす。
type AuthServiceInterface interface {
	SignUp(ctx context.Context, email, password, username, fullName string) (*model.AuthResult, error)
	SignIn(ctx context.Context, email, password string) (*model.AuthResult, error)
	SignOut(ctx context.Context, accessToken string) error
	CurrentUser(ctx context.Context, accessToken string) (*model.CurrentUser, error)
}

// AuthHandler はメールアドレス・パスワード認証のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	cookies middleware.SessionConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, cookies middleware.SessionConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		cookies: cookies,
	}
}

type signUpRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Username string `json:"username"`
	FullName string `json:"full_name"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type userResponse struct {
	ID       string             `json:"id"`
	Email    string             `json:"email"`
	Metadata model.UserMetadata `json:"user_metadata"`
}

type authResponse struct {
	User          *userResponse `json:"user"`
	SessionActive bool          `json:"session_active"`
}

type meResponse struct {
	userResponse
	Profile *model.Profile `json:"profile"`
}

func toUserResponse(identity *model.Identity) *userResponse {
	if identity == nil {
		return nil
	}
	return &userResponse{ID: identity.ID, Email: identity.Email, Metadata: identity.Metadata}
}

// SignUp はユーザーを登録する。メール確認が不要な設定ではそのままセッションCookieを設定する。
// POST /auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	req.Username = strings.TrimSpace(req.Username)
	req.FullName = strings.TrimSpace(req.FullName)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("メールアドレスの形式が正しくありません"))
		return
	}
	if len(req.Password) < minPasswordLength {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("パスワードは6文字以上にしてください"))
		return
	}
	if req.Username == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("usernameは必須です"))
		return
	}

	result, err := h.service.SignUp(r.Context(), req.Email, req.Password, req.Username, req.FullName)
	if err != nil {
		slog.Warn("sign up failed", slog.String("error", err.Error()))
		apiErr := providerFailure(err, model.NewSignUpFailedError)
		middleware.WriteErrorResponse(w, middleware.StatusForCode(apiErr.Code), apiErr)
		return
	}

	if result.Session != nil {
		middleware.SetSessionCookies(w, result.Session, h.cookies)
	}
	writeJSON(w, http.StatusCreated, authResponse{
		User:          toUserResponse(result.User),
		SessionActive: result.Session != nil,
	})
}

// SignIn はメールアドレスとパスワードでサインインし、セッションCookieを設定する。
// POST /auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if req.Email == "" || req.Password == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("emailとpasswordは必須です"))
		return
	}

	result, err := h.service.SignIn(r.Context(), req.Email, req.Password)
	if err != nil {
		slog.Warn("sign in failed", slog.String("error", err.Error()))
		apiErr := providerFailure(err, model.NewInvalidCredentialsError)
		middleware.WriteErrorResponse(w, middleware.StatusForCode(apiErr.Code), apiErr)
		return
	}

	if result.Session != nil {
		middleware.SetSessionCookies(w, result.Session, h.cookies)
	}
	writeJSON(w, http.StatusOK, authResponse{
		User:          toUserResponse(result.User),
		SessionActive: result.Session != nil,
	})
}

// SignOut はサインアウトする。プロバイダーの失敗に関わらずCookieは削除する。
// アクセストークンが失効していても、セッションミドルウェアがリフレッシュ済みのトークンを渡す。
// POST /auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	token := middleware.AccessTokenFromContext(r.Context())
	if token == "" {
		if cookie, err := r.Cookie(middleware.AccessTokenCookieName); err == nil {
			token = cookie.Value
		}
	}

	err := h.service.SignOut(r.Context(), token)
	middleware.ClearSessionCookies(w, h.cookies)
	if err != nil {
		slog.Error("sign out failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Me は現在のユーザーとプロフィールを返す。
// GET /auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	current, err := h.service.CurrentUser(r.Context(), middleware.AccessTokenFromContext(r.Context()))
	if err != nil {
		slog.Error("failed to get current user", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewProviderUnavailableError())
		return
	}
	if current == nil {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	writeJSON(w, http.StatusOK, meResponse{
		userResponse: *toUserResponse(&current.Identity),
		Profile:      current.Profile,
	})
}
