// Package dashboard はダッシュボードの読み取りクエリを提供する。
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/repository"
)

const (
	// DefaultActivityLimit はlimit未指定時のアクティビティ取得件数。
	DefaultActivityLimit = 10
	// MaxActivityLimit はアクティビティ取得件数の上限。
	MaxActivityLimit = 100

	recentWindow = 24 * time.Hour
)

// Config はダッシュボードの設定。
type Config struct {
	ActivityFeedLimit int
	NotificationLimit int
}

// Summary はダッシュボード表示用の集計結果。
type Summary struct {
	OnlineUsers      []model.Profile             `json:"online_users"`
	AllUsers         []model.Profile             `json:"all_users"`
	Activities       []model.ActivityWithProfile `json:"activities"`
	OnlineCount      int                         `json:"online_count"`
	TotalUsers       int                         `json:"total_users"`
	RecentActivities int                         `json:"recent_activities"`
}

// NotificationList はユーザーの通知一覧と未読件数。
type NotificationList struct {
	Items  []model.Notification `json:"items"`
	Unread int                  `json:"unread"`
}

// Service はダッシュボードの読み取りクエリを提供する。
// クエリの失敗はそのまま呼び出し元に返す。
type Service struct {
	profiles      repository.ProfileRepository
	sessions      repository.SessionRepository
	activities    repository.ActivityRepository
	notifications repository.NotificationRepository
	config        Config
	now           func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	profiles repository.ProfileRepository,
	sessions repository.SessionRepository,
	activities repository.ActivityRepository,
	notifications repository.NotificationRepository,
	config Config,
) *Service {
	if config.ActivityFeedLimit <= 0 {
		config.ActivityFeedLimit = 20
	}
	if config.NotificationLimit <= 0 {
		config.NotificationLimit = 10
	}
	return &Service{
		profiles:      profiles,
		sessions:      sessions,
		activities:    activities,
		notifications: notifications,
		config:        config,
		now:           time.Now,
	}
}

// OnlineUsers はオンラインのユーザーをusername順で返す。
func (s *Service) OnlineUsers(ctx context.Context) ([]model.Profile, error) {
	users, err := s.profiles.ListOnline(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get online users: %w", err)
	}
	return users, nil
}

// AllUsers は全ユーザーを作成日時の降順で返す。
func (s *Service) AllUsers(ctx context.Context) ([]model.Profile, error) {
	users, err := s.profiles.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get all users: %w", err)
	}
	return users, nil
}

// RecentActivities は新しい順に最大limit件のアクティビティを返す。
// limitが0以下の場合はDefaultActivityLimit、上限はMaxActivityLimit。
func (s *Service) RecentActivities(ctx context.Context, limit int) ([]model.ActivityWithProfile, error) {
	limit = ClampActivityLimit(limit)
	activities, err := s.activities.ListRecent(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get activities: %w", err)
	}
	return activities, nil
}

// ClampActivityLimit はアクティビティ取得件数を有効範囲に収める。
func ClampActivityLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultActivityLimit
	case limit > MaxActivityLimit:
		return MaxActivityLimit
	default:
		return limit
	}
}

// ActiveSessions はアクティブなセッションを開始日時の降順で返す。
func (s *Service) ActiveSessions(ctx context.Context) ([]model.ActiveSession, error) {
	sessions, err := s.sessions.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}
	return sessions, nil
}

// Notifications はユーザーの通知を新しい順に返し、未読件数を数える。
func (s *Service) Notifications(ctx context.Context, userID string) (*NotificationList, error) {
	items, err := s.notifications.ListByUser(ctx, userID, s.config.NotificationLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to get notifications: %w", err)
	}

	list := &NotificationList{Items: items}
	for _, n := range items {
		if !n.IsRead {
			list.Unread++
		}
	}
	return list, nil
}

// MarkNotificationRead は通知を既読にする。ユーザーの通知でない場合はAPIErrorを返す。
func (s *Service) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if err := s.notifications.MarkRead(ctx, userID, id); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.NewNotificationNotFoundError(id)
		}
		return fmt.Errorf("failed to mark notification read: %w", err)
	}
	return nil
}

// Summary はオンラインユーザー・全ユーザー・最近のアクティビティを並行に取得し、
// 過去24時間のアクティビティ件数を集計する。いずれかのクエリが失敗した場合はエラーを返す。
func (s *Service) Summary(ctx context.Context) (*Summary, error) {
	summary := &Summary{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		users, err := s.OnlineUsers(gctx)
		summary.OnlineUsers = users
		return err
	})
	g.Go(func() error {
		users, err := s.AllUsers(gctx)
		summary.AllUsers = users
		return err
	})
	g.Go(func() error {
		activities, err := s.activities.ListRecent(gctx, s.config.ActivityFeedLimit)
		if err != nil {
			return fmt.Errorf("failed to get activities: %w", err)
		}
		summary.Activities = activities
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	summary.OnlineCount = len(summary.OnlineUsers)
	summary.TotalUsers = len(summary.AllUsers)
	since := s.now().Add(-recentWindow)
	for _, a := range summary.Activities {
		if a.CreatedAt.After(since) {
			summary.RecentActivities++
		}
	}
	return summary, nil
}
