// Package repository はバックエンドサービスのテーブルに対するデータアクセスを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/pulseboard/internal/model"
)

// ProfileRepository はuser_profilesの永続化インターフェース。
type ProfileRepository interface {
	// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Profile, error)

	// Create はプロフィールを作成する。
	// 同一IDの行が既に存在する場合はmodel.ErrProfileAlreadyExistsを返す。
	Create(ctx context.Context, profile *model.Profile) error

	// UpdatePresence はis_onlineとlast_seenを更新する。
	UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error

	// Update はusername/full_nameを部分更新し、更新後の行を返す。
	// 行が存在しない場合はmodel.ErrNotFoundを返す。
	Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error)

	// ListOnline はオンラインのプロフィールをusername順で返す。
	ListOnline(ctx context.Context) ([]model.Profile, error)

	// ListAll は全プロフィールを作成日時の降順で返す。
	ListAll(ctx context.Context) ([]model.Profile, error)
}

// SessionRepository はuser_sessionsの永続化インターフェース。
type SessionRepository interface {
	// Create はアクティブなセッション行を作成する。
	Create(ctx context.Context, session *model.UserSession) error

	// EndActive は指定ユーザーのアクティブなセッションをすべて終了し、終了した件数を返す。
	EndActive(ctx context.Context, userID string, at time.Time) (int64, error)

	// ListActive はアクティブなセッションを開始日時の降順でプロフィール情報付きで返す。
	ListActive(ctx context.Context) ([]model.ActiveSession, error)
}

// ActivityRepository はuser_activitiesの永続化インターフェース。追記のみ提供する。
type ActivityRepository interface {
	// Append はアクティビティを1行追加する。
	Append(ctx context.Context, activity *model.Activity) error

	// ListRecent は新しい順に最大limit件のアクティビティをプロフィール情報付きで返す。
	ListRecent(ctx context.Context, limit int) ([]model.ActivityWithProfile, error)
}

// NotificationRepository はnotificationsの永続化インターフェース。
type NotificationRepository interface {
	// ListByUser はユーザーの通知を新しい順に最大limit件返す。
	ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error)

	// MarkRead は通知を既読にする。ユーザーの通知でない場合はmodel.ErrNotFoundを返す。
	MarkRead(ctx context.Context, userID, id string) error
}
