package dashboard

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/repository"
)

// --- モック定義 ---

type mockProfileRepo struct {
	listOnlineFn func(ctx context.Context) ([]model.Profile, error)
	listAllFn    func(ctx context.Context) ([]model.Profile, error)
}

func (m *mockProfileRepo) FindByID(context.Context, string) (*model.Profile, error) { return nil, nil }
func (m *mockProfileRepo) Create(context.Context, *model.Profile) error              { return nil }
func (m *mockProfileRepo) UpdatePresence(context.Context, string, bool, time.Time) error {
	return nil
}
func (m *mockProfileRepo) Update(context.Context, string, model.ProfileUpdate) (*model.Profile, error) {
	return nil, nil
}

func (m *mockProfileRepo) ListOnline(ctx context.Context) ([]model.Profile, error) {
	if m.listOnlineFn != nil {
		return m.listOnlineFn(ctx)
	}
	return []model.Profile{}, nil
}

func (m *mockProfileRepo) ListAll(ctx context.Context) ([]model.Profile, error) {
	if m.listAllFn != nil {
		return m.listAllFn(ctx)
	}
	return []model.Profile{}, nil
}

type mockSessionRepo struct {
	listActiveFn func(ctx context.Context) ([]model.ActiveSession, error)
}

func (m *mockSessionRepo) Create(context.Context, *model.UserSession) error { return nil }
func (m *mockSessionRepo) EndActive(context.Context, string, time.Time) (int64, error) {
	return 0, nil
}

func (m *mockSessionRepo) ListActive(ctx context.Context) ([]model.ActiveSession, error) {
	if m.listActiveFn != nil {
		return m.listActiveFn(ctx)
	}
	return []model.ActiveSession{}, nil
}

type mockActivityRepo struct {
	listRecentFn func(ctx context.Context, limit int) ([]model.ActivityWithProfile, error)
}

func (m *mockActivityRepo) Append(context.Context, *model.Activity) error { return nil }

func (m *mockActivityRepo) ListRecent(ctx context.Context, limit int) ([]model.ActivityWithProfile, error) {
	if m.listRecentFn != nil {
		return m.listRecentFn(ctx, limit)
	}
	return []model.ActivityWithProfile{}, nil
}

type mockNotificationRepo struct {
	listByUserFn func(ctx context.Context, userID string, limit int) ([]model.Notification, error)
	markReadFn   func(ctx context.Context, userID, id string) error
}

func (m *mockNotificationRepo) ListByUser(ctx context.Context, userID string, limit int) ([]model.Notification, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID, limit)
	}
	return []model.Notification{}, nil
}

func (m *mockNotificationRepo) MarkRead(ctx context.Context, userID, id string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil
}

// --- compile-time interface checks ---
var _ repository.ProfileRepository = (*mockProfileRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ repository.ActivityRepository = (*mockActivityRepo)(nil)
var _ repository.NotificationRepository = (*mockNotificationRepo)(nil)

type testRepos struct {
	profiles      *mockProfileRepo
	sessions      *mockSessionRepo
	activities    *mockActivityRepo
	notifications *mockNotificationRepo
}

func newTestService() (*Service, *testRepos) {
	r := &testRepos{
		profiles:      &mockProfileRepo{},
		sessions:      &mockSessionRepo{},
		activities:    &mockActivityRepo{},
		notifications: &mockNotificationRepo{},
	}
	return NewService(r.profiles, r.sessions, r.activities, r.notifications, Config{}), r
}

// --- テスト ---

// 空のテーブルに対する読み取りはnilではなく空のスライスを返すこと
func TestReadQueries_EmptyReturnsEmptySlices(t *testing.T) {
	svc, _ := newTestService()
	ctx := context.Background()

	online, err := svc.OnlineUsers(ctx)
	if err != nil || online == nil || len(online) != 0 {
		t.Errorf("OnlineUsers = %#v, %v", online, err)
	}
	all, err := svc.AllUsers(ctx)
	if err != nil || all == nil || len(all) != 0 {
		t.Errorf("AllUsers = %#v, %v", all, err)
	}
	acts, err := svc.RecentActivities(ctx, 5)
	if err != nil || acts == nil || len(acts) != 0 {
		t.Errorf("RecentActivities = %#v, %v", acts, err)
	}
	sessions, err := svc.ActiveSessions(ctx)
	if err != nil || sessions == nil || len(sessions) != 0 {
		t.Errorf("ActiveSessions = %#v, %v", sessions, err)
	}
}

// クエリのエラーは呼び出し元に返ること
func TestReadQueries_ErrorsSurface(t *testing.T) {
	svc, r := newTestService()
	dbErr := errors.New("db down")
	r.profiles.listOnlineFn = func(context.Context) ([]model.Profile, error) { return nil, dbErr }
	r.profiles.listAllFn = func(context.Context) ([]model.Profile, error) { return nil, dbErr }
	r.sessions.listActiveFn = func(context.Context) ([]model.ActiveSession, error) { return nil, dbErr }
	r.activities.listRecentFn = func(context.Context, int) ([]model.ActivityWithProfile, error) { return nil, dbErr }
	ctx := context.Background()

	if _, err := svc.OnlineUsers(ctx); !errors.Is(err, dbErr) {
		t.Errorf("OnlineUsers err = %v", err)
	}
	if _, err := svc.AllUsers(ctx); !errors.Is(err, dbErr) {
		t.Errorf("AllUsers err = %v", err)
	}
	if _, err := svc.ActiveSessions(ctx); !errors.Is(err, dbErr) {
		t.Errorf("ActiveSessions err = %v", err)
	}
	if _, err := svc.RecentActivities(ctx, 10); !errors.Is(err, dbErr) {
		t.Errorf("RecentActivities err = %v", err)
	}
	if _, err := svc.Summary(ctx); !errors.Is(err, dbErr) {
		t.Errorf("Summary err = %v", err)
	}
}

func TestClampActivityLimit(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{0, DefaultActivityLimit},
		{-3, DefaultActivityLimit},
		{1, 1},
		{50, 50},
		{MaxActivityLimit, MaxActivityLimit},
		{1000, MaxActivityLimit},
	}
	for _, tt := range tests {
		if got := ClampActivityLimit(tt.in); got != tt.want {
			t.Errorf("ClampActivityLimit(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

// RecentActivitiesは補正後のlimitでリポジトリを呼ぶこと
func TestRecentActivities_PassesLimit(t *testing.T) {
	svc, r := newTestService()
	var got int
	r.activities.listRecentFn = func(_ context.Context, limit int) ([]model.ActivityWithProfile, error) {
		got = limit
		return []model.ActivityWithProfile{}, nil
	}

	if _, err := svc.RecentActivities(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if got != DefaultActivityLimit {
		t.Errorf("limit = %d, want %d", got, DefaultActivityLimit)
	}
}

// Summaryは件数と過去24時間のアクティビティ数を集計すること
func TestSummary_Counts(t *testing.T) {
	svc, r := newTestService()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return now }

	r.profiles.listOnlineFn = func(context.Context) ([]model.Profile, error) {
		return []model.Profile{{ID: "a", IsOnline: true}}, nil
	}
	r.profiles.listAllFn = func(context.Context) ([]model.Profile, error) {
		return []model.Profile{{ID: "a"}, {ID: "b"}, {ID: "c"}}, nil
	}
	var gotLimit int
	r.activities.listRecentFn = func(_ context.Context, limit int) ([]model.ActivityWithProfile, error) {
		gotLimit = limit
		return []model.ActivityWithProfile{
			{Activity: model.Activity{CreatedAt: now.Add(-time.Hour)}},
			{Activity: model.Activity{CreatedAt: now.Add(-23 * time.Hour)}},
			{Activity: model.Activity{CreatedAt: now.Add(-25 * time.Hour)}},
		}, nil
	}

	s, err := svc.Summary(context.Background())
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if s.OnlineCount != 1 || s.TotalUsers != 3 || s.RecentActivities != 2 {
		t.Errorf("summary = online %d total %d recent %d; want 1 3 2", s.OnlineCount, s.TotalUsers, s.RecentActivities)
	}
	if len(s.Activities) != 3 {
		t.Errorf("activities = %d, want 3", len(s.Activities))
	}
	if gotLimit != 20 {
		t.Errorf("feed limit = %d, want default 20", gotLimit)
	}
}

// 通知一覧は未読件数を数え、設定の件数で取得すること
func TestNotifications_CountsUnread(t *testing.T) {
	svc, r := newTestService()
	var gotUser string
	var gotLimit int
	r.notifications.listByUserFn = func(_ context.Context, userID string, limit int) ([]model.Notification, error) {
		gotUser, gotLimit = userID, limit
		return []model.Notification{
			{ID: "n1", IsRead: false},
			{ID: "n2", IsRead: true},
			{ID: "n3", IsRead: false},
		}, nil
	}

	list, err := svc.Notifications(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Notifications: %v", err)
	}
	if list.Unread != 2 || len(list.Items) != 3 {
		t.Errorf("list = %+v", list)
	}
	if gotUser != "user-1" || gotLimit != 10 {
		t.Errorf("ListByUser(%q, %d), want (user-1, 10)", gotUser, gotLimit)
	}
}

func TestMarkNotificationRead(t *testing.T) {
	svc, r := newTestService()
	r.notifications.markReadFn = func(_ context.Context, userID, id string) error {
		if userID == "user-1" && id == "n1" {
			return nil
		}
		if id == "broken" {
			return errors.New("db down")
		}
		return model.ErrNotFound
	}
	ctx := context.Background()

	if err := svc.MarkNotificationRead(ctx, "user-1", "n1"); err != nil {
		t.Errorf("MarkNotificationRead = %v", err)
	}

	err := svc.MarkNotificationRead(ctx, "user-2", "n1")
	var apiErr *model.APIError
	if !errors.As(err, &apiErr) || apiErr.Code != model.ErrCodeNotificationNotFound {
		t.Errorf("err = %v, want NOTIFICATION_NOT_FOUND", err)
	}

	err = svc.MarkNotificationRead(ctx, "user-1", "broken")
	if err == nil || errors.As(err, &apiErr) {
		t.Errorf("err = %v, want internal error", err)
	}
}
