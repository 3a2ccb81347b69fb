package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/view"
)

type mockRenderer struct {
	authPages      []view.AuthPage
	dashboardPages []view.DashboardPage
	err            error
}

func (m *mockRenderer) RenderAuth(w io.Writer, page view.AuthPage) error {
	m.authPages = append(m.authPages, page)
	if m.err != nil {
		return m.err
	}
	_, err := io.WriteString(w, "auth page")
	return err
}

func (m *mockRenderer) RenderDashboard(w io.Writer, page view.DashboardPage) error {
	m.dashboardPages = append(m.dashboardPages, page)
	if m.err != nil {
		return m.err
	}
	_, err := io.WriteString(w, "dashboard page")
	return err
}

func serveIndex(h *PageHandler, target, token string) *httptest.ResponseRecorder {
	authn := &mockAuthenticator{users: map[string]string{"valid": "user-1"}}
	handler := middleware.NewOptionalSessionMiddleware(authn, testCookies)(http.HandlerFunc(h.Index))

	req := httptest.NewRequest(http.MethodGet, target, nil)
	if token != "" {
		req.AddCookie(&http.Cookie{Name: middleware.AccessTokenCookieName, Value: token})
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func currentUserWithProfile(context.Context, string) (*model.CurrentUser, error) {
	return &model.CurrentUser{
		Identity: model.Identity{ID: "user-1", Email: "jane@example.com"},
		Profile:  &model.Profile{ID: "user-1", Username: "jane"},
	}, nil
}

func TestPageHandler_Index_Unauthenticated_RendersAuthPage(t *testing.T) {
	users := &mockAuthService{
		currentUserFn: func(context.Context, string) (*model.CurrentUser, error) {
			t.Fatal("CurrentUser should not be called without a session")
			return nil, nil
		},
	}
	renderer := &mockRenderer{}
	h := NewPageHandler(users, &mockDashboardService{}, renderer)

	rec := serveIndex(h, "/?mode=signup", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(renderer.authPages) != 1 || renderer.authPages[0].Mode != view.ModeSignUp {
		t.Fatalf("auth pages = %+v, want one sign-up page", renderer.authPages)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q", ct)
	}
}

func TestPageHandler_Index_WithoutProfile_RendersAuthPage(t *testing.T) {
	users := &mockAuthService{
		currentUserFn: func(context.Context, string) (*model.CurrentUser, error) {
			return &model.CurrentUser{Identity: model.Identity{ID: "user-1"}}, nil
		},
	}
	renderer := &mockRenderer{}
	h := NewPageHandler(users, &mockDashboardService{}, renderer)

	serveIndex(h, "/", "valid")

	if len(renderer.authPages) != 1 || len(renderer.dashboardPages) != 0 {
		t.Errorf("auth=%d dashboard=%d, want auth page only", len(renderer.authPages), len(renderer.dashboardPages))
	}
}

func TestPageHandler_Index_RendersDashboard(t *testing.T) {
	var notifiedUser string
	svc := &mockDashboardService{
		summaryFn: func(context.Context) (*dashboard.Summary, error) {
			return &dashboard.Summary{OnlineCount: 3, TotalUsers: 7}, nil
		},
		notificationsFn: func(_ context.Context, userID string) (*dashboard.NotificationList, error) {
			notifiedUser = userID
			return &dashboard.NotificationList{Unread: 2}, nil
		},
	}
	renderer := &mockRenderer{}
	h := NewPageHandler(&mockAuthService{currentUserFn: currentUserWithProfile}, svc, renderer)

	rec := serveIndex(h, "/", "valid")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(renderer.dashboardPages) != 1 {
		t.Fatalf("dashboard pages = %d, want 1", len(renderer.dashboardPages))
	}
	page := renderer.dashboardPages[0]
	if page.User == nil || page.User.Profile.Username != "jane" {
		t.Errorf("user = %+v", page.User)
	}
	if page.Summary == nil || page.Summary.TotalUsers != 7 {
		t.Errorf("summary = %+v", page.Summary)
	}
	if page.Notifications == nil || page.Notifications.Unread != 2 || notifiedUser != "user-1" {
		t.Errorf("notifications = %+v for %q", page.Notifications, notifiedUser)
	}
}

func TestPageHandler_Index_QueryFailureStillRenders(t *testing.T) {
	svc := &mockDashboardService{
		summaryFn: func(context.Context) (*dashboard.Summary, error) {
			return nil, errors.New("failed to get online users: timeout")
		},
	}
	renderer := &mockRenderer{}
	h := NewPageHandler(&mockAuthService{currentUserFn: currentUserWithProfile}, svc, renderer)

	rec := serveIndex(h, "/", "valid")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if len(renderer.dashboardPages) != 1 || renderer.dashboardPages[0].Summary != nil {
		t.Errorf("dashboard should render with an empty summary, got %+v", renderer.dashboardPages)
	}
}

func TestPageHandler_Index_RenderFailureReturns500(t *testing.T) {
	renderer := &mockRenderer{err: errors.New("template: boom")}
	h := NewPageHandler(&mockAuthService{}, &mockDashboardService{}, renderer)

	rec := serveIndex(h, "/", "")

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "auth page") {
		t.Error("partial output should not be written")
	}
}
