package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
)

type mockDashboardService struct {
	onlineUsersFn      func(ctx context.Context) ([]model.Profile, error)
	allUsersFn         func(ctx context.Context) ([]model.Profile, error)
	recentActivitiesFn func(ctx context.Context, limit int) ([]model.ActivityWithProfile, error)
	activeSessionsFn   func(ctx context.Context) ([]model.ActiveSession, error)
	notificationsFn    func(ctx context.Context, userID string) (*dashboard.NotificationList, error)
	markReadFn         func(ctx context.Context, userID, id string) error
	summaryFn          func(ctx context.Context) (*dashboard.Summary, error)
}

func (m *mockDashboardService) OnlineUsers(ctx context.Context) ([]model.Profile, error) {
	if m.onlineUsersFn != nil {
		return m.onlineUsersFn(ctx)
	}
	return []model.Profile{}, nil
}

func (m *mockDashboardService) AllUsers(ctx context.Context) ([]model.Profile, error) {
	if m.allUsersFn != nil {
		return m.allUsersFn(ctx)
	}
	return []model.Profile{}, nil
}

func (m *mockDashboardService) RecentActivities(ctx context.Context, limit int) ([]model.ActivityWithProfile, error) {
	if m.recentActivitiesFn != nil {
		return m.recentActivitiesFn(ctx, limit)
	}
	return []model.ActivityWithProfile{}, nil
}

func (m *mockDashboardService) ActiveSessions(ctx context.Context) ([]model.ActiveSession, error) {
	if m.activeSessionsFn != nil {
		return m.activeSessionsFn(ctx)
	}
	return []model.ActiveSession{}, nil
}

func (m *mockDashboardService) Notifications(ctx context.Context, userID string) (*dashboard.NotificationList, error) {
	if m.notificationsFn != nil {
		return m.notificationsFn(ctx, userID)
	}
	return &dashboard.NotificationList{Items: []model.Notification{}}, nil
}

func (m *mockDashboardService) MarkNotificationRead(ctx context.Context, userID, id string) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, userID, id)
	}
	return nil
}

func (m *mockDashboardService) Summary(ctx context.Context) (*dashboard.Summary, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx)
	}
	return &dashboard.Summary{}, nil
}

type mockProfileUpdater struct {
	updateFn func(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error)
}

func (m *mockProfileUpdater) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
	if m.updateFn != nil {
		return m.updateFn(ctx, userID, update)
	}
	return &model.Profile{ID: userID}, nil
}

func withUser(r *http.Request, userID string) *http.Request {
	return r.WithContext(middleware.ContextWithUserID(r.Context(), userID))
}

func TestDashboardHandler_OnlineUsers(t *testing.T) {
	svc := &mockDashboardService{
		onlineUsersFn: func(context.Context) ([]model.Profile, error) {
			return []model.Profile{{ID: "u-1", Username: "alice", IsOnline: true}}, nil
		},
	}
	h := NewDashboardHandler(svc, &mockProfileUpdater{})

	rec := httptest.NewRecorder()
	h.OnlineUsers(rec, httptest.NewRequest(http.MethodGet, "/api/users/online", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var users []model.Profile
	if err := json.NewDecoder(rec.Body).Decode(&users); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(users) != 1 || users[0].Username != "alice" {
		t.Errorf("users = %+v", users)
	}
}

func TestDashboardHandler_EmptyListsEncodeAsArray(t *testing.T) {
	h := NewDashboardHandler(&mockDashboardService{}, &mockProfileUpdater{})

	rec := httptest.NewRecorder()
	h.AllUsers(rec, httptest.NewRequest(http.MethodGet, "/api/users", nil))

	if got := strings.TrimSpace(rec.Body.String()); got != "[]" {
		t.Errorf("body = %q, want []", got)
	}
}

func TestDashboardHandler_QueryErrorReturns500(t *testing.T) {
	svc := &mockDashboardService{
		activeSessionsFn: func(context.Context) ([]model.ActiveSession, error) {
			return nil, errors.New("failed to get active sessions: connection refused")
		},
	}
	h := NewDashboardHandler(svc, &mockProfileUpdater{})

	rec := httptest.NewRecorder()
	h.ActiveSessions(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/active", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

func TestDashboardHandler_RecentActivities_Limit(t *testing.T) {
	tests := []struct {
		name      string
		query     string
		status    int
		wantLimit int
	}{
		{"省略時はサービスの既定値", "", http.StatusOK, 0},
		{"指定値", "?limit=25", http.StatusOK, 25},
		{"上限", "?limit=100", http.StatusOK, 100},
		{"上限超過", "?limit=101", http.StatusBadRequest, -1},
		{"0", "?limit=0", http.StatusBadRequest, -1},
		{"負数", "?limit=-3", http.StatusBadRequest, -1},
		{"数値以外", "?limit=ten", http.StatusBadRequest, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotLimit := -1
			svc := &mockDashboardService{
				recentActivitiesFn: func(_ context.Context, limit int) ([]model.ActivityWithProfile, error) {
					gotLimit = limit
					return []model.ActivityWithProfile{}, nil
				},
			}
			h := NewDashboardHandler(svc, &mockProfileUpdater{})

			rec := httptest.NewRecorder()
			h.RecentActivities(rec, httptest.NewRequest(http.MethodGet, "/api/activities"+tt.query, nil))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if gotLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", gotLimit, tt.wantLimit)
			}
			if tt.status == http.StatusBadRequest {
				if body := decodeError(t, rec); body.Code != model.ErrCodeInvalidLimit {
					t.Errorf("code = %q, want %q", body.Code, model.ErrCodeInvalidLimit)
				}
			}
		})
	}
}

func TestDashboardHandler_Notifications(t *testing.T) {
	svc := &mockDashboardService{
		notificationsFn: func(_ context.Context, userID string) (*dashboard.NotificationList, error) {
			if userID != "user-1" {
				t.Errorf("userID = %q, want user-1", userID)
			}
			return &dashboard.NotificationList{
				Items:  []model.Notification{{ID: "n-1", UserID: "user-1", Title: "Hi"}},
				Unread: 1,
			}, nil
		},
	}
	h := NewDashboardHandler(svc, &mockProfileUpdater{})

	rec := httptest.NewRecorder()
	h.Notifications(rec, withUser(httptest.NewRequest(http.MethodGet, "/api/notifications", nil), "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body dashboard.NotificationList
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Unread != 1 || len(body.Items) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestDashboardHandler_Notifications_RequiresUser(t *testing.T) {
	h := NewDashboardHandler(&mockDashboardService{}, &mockProfileUpdater{})

	rec := httptest.NewRecorder()
	h.Notifications(rec, httptest.NewRequest(http.MethodGet, "/api/notifications", nil))

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestDashboardHandler_MarkNotificationRead(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{"成功", nil, http.StatusNoContent},
		{"他人の通知・存在しない", model.NewNotificationNotFoundError("n-9"), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotUser, gotID string
			svc := &mockDashboardService{
				markReadFn: func(_ context.Context, userID, id string) error {
					gotUser, gotID = userID, id
					return tt.err
				},
			}
			h := NewDashboardHandler(svc, &mockProfileUpdater{})

			r := chi.NewRouter()
			r.Post("/api/notifications/{id}/read", h.MarkNotificationRead)

			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, withUser(httptest.NewRequest(http.MethodPost, "/api/notifications/n-9/read", nil), "user-1"))

			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if gotUser != "user-1" || gotID != "n-9" {
				t.Errorf("args = (%q, %q), want (user-1, n-9)", gotUser, gotID)
			}
		})
	}
}

func TestDashboardHandler_UpdateProfile(t *testing.T) {
	updater := &mockProfileUpdater{
		updateFn: func(_ context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
			if update.Username == nil || *update.Username != "janed" {
				t.Errorf("username = %v, want janed", update.Username)
			}
			if update.FullName != nil {
				t.Errorf("full_name = %v, want nil", update.FullName)
			}
			return &model.Profile{ID: userID, Username: *update.Username}, nil
		},
	}
	h := NewDashboardHandler(&mockDashboardService{}, updater)

	req := httptest.NewRequest(http.MethodPatch, "/api/profile", strings.NewReader(`{"username":"janed"}`))
	rec := httptest.NewRecorder()
	h.UpdateProfile(rec, withUser(req, "user-1"))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var profile model.Profile
	if err := json.NewDecoder(rec.Body).Decode(&profile); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if profile.ID != "user-1" || profile.Username != "janed" {
		t.Errorf("profile = %+v", profile)
	}
}

func TestDashboardHandler_UpdateProfile_ServiceValidation(t *testing.T) {
	updater := &mockProfileUpdater{
		updateFn: func(context.Context, string, model.ProfileUpdate) (*model.Profile, error) {
			return nil, model.NewInvalidRequestError("更新する項目がありません")
		},
	}
	h := NewDashboardHandler(&mockDashboardService{}, updater)

	req := httptest.NewRequest(http.MethodPatch, "/api/profile", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.UpdateProfile(rec, withUser(req, "user-1"))

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
