// Package backend はホスト型バックエンドサービス（認証・テーブルストア・リアルタイム）への
// アクセスをまとめたクライアントを提供する。
package backend

import (
	"database/sql"
	"log/slog"

	"github.com/hitoshi/pulseboard/internal/model"
)

// Client はバックエンドサービスの3つの機能をまとめたファサード。
// プロセス内で1つだけ生成し、各サービスに共有する。
type Client struct {
	Auth     *AuthClient
	DB       *sql.DB
	Realtime *Realtime
}

// NewClient はClientを生成する。
func NewClient(auth *AuthClient, db *sql.DB, realtime *Realtime) *Client {
	return &Client{Auth: auth, DB: db, Realtime: realtime}
}

// OnAuthStateChange は認証状態の変化を購読する。
// コールバック呼び出し前にイベント種別とメールアドレスをログに出力する。
func (c *Client) OnAuthStateChange(cb AuthCallback) *Subscription {
	return c.Auth.OnAuthStateChange(func(event AuthEvent, session *model.AuthSession) {
		email := ""
		if session != nil && session.User != nil {
			email = session.User.Email
		}
		slog.Info("auth state changed",
			slog.String("event", string(event)),
			slog.String("email", email),
		)
		cb(event, session)
	})
}
