// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Identity は認証プロバイダーが管理する認証主体を表す。
// このアプリケーションからは作成後に変更しない。
type Identity struct {
	ID       string
	Email    string
	Metadata UserMetadata
}

// UserMetadata はサインアップ時にプロバイダーへ渡すユーザーメタデータ。
type UserMetadata struct {
	Username string `json:"username,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

// AuthSession はプロバイダーが発行したトークンの組を表す。
// トークンの発行・失効はプロバイダーに委譲し、ここでは保持のみ行う。
type AuthSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int
	ExpiresAt    time.Time
	User         *Identity
}

// AuthResult はサインアップ・サインインの結果。
// メール確認が必要な設定ではSessionがnilになる。
type AuthResult struct {
	User    *Identity
	Session *AuthSession
}

// CurrentUser は認証済みidentityとプロフィールの組。
// プロフィールの取得に失敗した場合Profileはnilになる。
type CurrentUser struct {
	Identity
	Profile *Profile
}

// Profile はアプリケーション側のユーザーレコード（user_profiles）を表す。
// IDはIdentity.IDと同一。
type Profile struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	FullName  string    `json:"full_name"`
	IsOnline  bool      `json:"is_online"`
	LastSeen  time.Time `json:"last_seen"`
	CreatedAt time.Time `json:"created_at"`
}

// DisplayName は表示用の名前を返す。full_nameが空ならusernameを使う。
func (p *Profile) DisplayName() string {
	if p.FullName != "" {
		return p.FullName
	}
	return p.Username
}

// ProfileUpdate はプロフィールの部分更新内容。nilのフィールドは変更しない。
type ProfileUpdate struct {
	Username *string `json:"username,omitempty"`
	FullName *string `json:"full_name,omitempty"`
}

// ProfileSummary は結合クエリで付与されるプロフィールの表示用フィールド。
type ProfileSummary struct {
	Username string `json:"username"`
	FullName string `json:"full_name"`
	IsOnline bool   `json:"is_online"`
}

// UserSession はuser_sessionsの1行を表す。
// 同一ユーザーのアクティブセッションは重複排除しない。
type UserSession struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	IsActive  bool       `json:"is_active"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
}

// ActiveSession はプロフィール情報付きのアクティブセッション。
type ActiveSession struct {
	UserSession
	Profile *ProfileSummary `json:"user_profiles"`
}

// ActivityType はアクティビティ種別。
type ActivityType string

const (
	ActivityLogin          ActivityType = "login"
	ActivityLogout         ActivityType = "logout"
	ActivityPageView       ActivityType = "page_view"
	ActivityProfileUpdate  ActivityType = "profile_update"
	ActivitySettingsChange ActivityType = "settings_change"
)

// Valid は定義済みのアクティビティ種別かどうかを返す。
func (t ActivityType) Valid() bool {
	switch t {
	case ActivityLogin, ActivityLogout, ActivityPageView, ActivityProfileUpdate, ActivitySettingsChange:
		return true
	default:
		return false
	}
}

// Activity はuser_activitiesの1行を表す。追記専用。
type Activity struct {
	ID        string          `json:"id"`
	UserID    string          `json:"user_id"`
	Type      ActivityType    `json:"activity_type"`
	Data      json.RawMessage `json:"activity_data"`
	CreatedAt time.Time       `json:"created_at"`
}

// ActivityWithProfile はプロフィール表示用フィールド付きのアクティビティ。
// プロフィールが存在しない場合Profileはnil。
type ActivityWithProfile struct {
	Activity
	Profile *ProfileSummary `json:"user_profiles"`
}

// Notification はnotificationsの1行を表す。
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}
