package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hitoshi/pulseboard/internal/model"
)

// AuthConfig は認証APIクライアントの設定。
type AuthConfig struct {
	URL     string // プロジェクトURL（末尾スラッシュなし）
	AnonKey string

	// JWTSecret が設定されている場合、GetUserはトークンをローカルで検証する
	JWTSecret string

	Timeout time.Duration

	// テスト用にオーバーライド可能なHTTPクライアント
	HTTPClient *http.Client
}

// ProviderError は認証APIがエラーステータスを返したことを示す。
type ProviderError struct {
	Status  int
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	return fmt.Sprintf("auth provider returned status %d: %s", e.Status, e.Message)
}

// IsClientError はリクエスト内容に起因するエラー（4xx）かどうかを返す。
func (e *ProviderError) IsClientError() bool {
	return e.Status >= 400 && e.Status < 500
}

// AuthClient はGoTrue互換の認証REST APIクライアント。
type AuthClient struct {
	baseURL  string
	anonKey  string
	http     *http.Client
	verifier *TokenVerifier
	events   *eventBus
}

// NewAuthClient はAuthClientを生成する。
func NewAuthClient(cfg AuthConfig) *AuthClient {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	c := &AuthClient{
		baseURL: cfg.URL + "/auth/v1",
		anonKey: cfg.AnonKey,
		http:    client,
		events:  newEventBus(),
	}
	if cfg.JWTSecret != "" {
		c.verifier = NewTokenVerifier(cfg.JWTSecret)
	}
	return c
}

// userResponse は認証APIのユーザーオブジェクト。
type userResponse struct {
	ID           string             `json:"id"`
	Email        string             `json:"email"`
	UserMetadata model.UserMetadata `json:"user_metadata"`
}

func (u *userResponse) identity() *model.Identity {
	return &model.Identity{ID: u.ID, Email: u.Email, Metadata: u.UserMetadata}
}

// sessionResponse は認証APIのトークンレスポンス。
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int           `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`
}

func (s *sessionResponse) session() *model.AuthSession {
	session := &model.AuthSession{
		AccessToken:  s.AccessToken,
		RefreshToken: s.RefreshToken,
		TokenType:    s.TokenType,
		ExpiresIn:    s.ExpiresIn,
	}
	switch {
	case s.ExpiresAt > 0:
		session.ExpiresAt = time.Unix(s.ExpiresAt, 0)
	case s.ExpiresIn > 0:
		session.ExpiresAt = time.Now().Add(time.Duration(s.ExpiresIn) * time.Second)
	}
	if s.User != nil {
		session.User = s.User.identity()
	}
	return session
}

// errorResponse は認証APIのエラーボディ。APIのバージョンによりフィールドが異なる。
type errorResponse struct {
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorDescription string `json:"error_description"`
	Error            string `json:"error"`
}

func (e *errorResponse) text() string {
	for _, s := range []string{e.Msg, e.Message, e.ErrorDescription, e.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

// SignUp はメールアドレスとパスワードでユーザーを登録する。
// メール確認が必要な設定ではSessionがnilの結果を返す。
func (c *AuthClient) SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.AuthResult, error) {
	payload := map[string]any{
		"email":    email,
		"password": password,
		"data":     metadata,
	}

	body, err := c.do(ctx, http.MethodPost, "/signup", "", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse sign up response: %w", err)
	}

	// セッションなしの場合はユーザーオブジェクトが直接返る
	if sess.AccessToken == "" {
		var user userResponse
		if err := json.Unmarshal(body, &user); err != nil {
			return nil, fmt.Errorf("failed to parse sign up user: %w", err)
		}
		if user.ID == "" {
			return nil, fmt.Errorf("empty user id in sign up response")
		}
		return &model.AuthResult{User: user.identity()}, nil
	}

	session := sess.session()
	if session.User == nil {
		return nil, fmt.Errorf("empty user in sign up response")
	}
	c.events.emit(EventSignedIn, session)
	return &model.AuthResult{User: session.User, Session: session}, nil
}

// SignInWithPassword はメールアドレスとパスワードでセッションを開始する。
func (c *AuthClient) SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResult, error) {
	payload := map[string]string{
		"email":    email,
		"password": password,
	}

	session, err := c.token(ctx, "password", payload)
	if err != nil {
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}

	c.events.emit(EventSignedIn, session)
	return &model.AuthResult{User: session.User, Session: session}, nil
}

// RefreshSession はリフレッシュトークンで新しいセッションを取得する。
func (c *AuthClient) RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	if refreshToken == "" {
		return nil, ErrUnauthorized
	}

	session, err := c.token(ctx, "refresh_token", map[string]string{"refresh_token": refreshToken})
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && perr.IsClientError() {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to refresh session: %w", err)
	}

	c.events.emit(EventTokenRefreshed, session)
	return session, nil
}

// token はtokenエンドポイントを呼び出してセッションを取得する。
func (c *AuthClient) token(ctx context.Context, grantType string, payload any) (*model.AuthSession, error) {
	body, err := c.do(ctx, http.MethodPost, "/token?grant_type="+grantType, "", payload)
	if err != nil {
		return nil, err
	}

	var sess sessionResponse
	if err := json.Unmarshal(body, &sess); err != nil {
		return nil, fmt.Errorf("failed to parse token response: %w", err)
	}
	if sess.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}
	if sess.User == nil || sess.User.ID == "" {
		return nil, fmt.Errorf("empty user in token response")
	}

	return sess.session(), nil
}

// GetUser はアクセストークンに対応するidentityを返す。
// トークンが無効な場合はErrUnauthorizedを返す。
func (c *AuthClient) GetUser(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	if c.verifier != nil {
		return c.verifier.Verify(accessToken)
	}

	body, err := c.do(ctx, http.MethodGet, "/user", accessToken, nil)
	if err != nil {
		var perr *ProviderError
		if errors.As(err, &perr) && (perr.Status == http.StatusUnauthorized || perr.Status == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user userResponse
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse user response: %w", err)
	}
	if user.ID == "" {
		return nil, ErrUnauthorized
	}

	return user.identity(), nil
}

// SignOut はプロバイダー側のセッションを失効させる。
// 既に失効しているトークン（401/403/404）はサインアウト済みとして扱う。
func (c *AuthClient) SignOut(ctx context.Context, accessToken string) error {
	if accessToken != "" {
		_, err := c.do(ctx, http.MethodPost, "/logout", accessToken, nil)
		if err != nil {
			var perr *ProviderError
			if !errors.As(err, &perr) || !alreadySignedOut(perr.Status) {
				return fmt.Errorf("failed to sign out: %w", err)
			}
		}
	}

	c.events.emit(EventSignedOut, nil)
	return nil
}

func alreadySignedOut(status int) bool {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
		return true
	default:
		return false
	}
}

// OnAuthStateChange は認証イベントの購読を登録する。
func (c *AuthClient) OnAuthStateChange(cb AuthCallback) *Subscription {
	return c.events.subscribe(cb)
}

// do は認証APIにリクエストを送信し、成功時のボディを返す。
// 2xx以外のステータスは*ProviderErrorとして返す。
func (c *AuthClient) do(ctx context.Context, method, path, accessToken string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.anonKey)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("auth request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var er errorResponse
		_ = json.Unmarshal(body, &er)
		msg := er.text()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return nil, &ProviderError{Status: resp.StatusCode, Message: msg}
	}

	return body, nil
}
