package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
)

// DashboardServiceInterface はダッシュボードAPIが必要とする読み取りクエリ。
// *dashboard.Serviceが満たす。
type DashboardServiceInterface interface {
	OnlineUsers(ctx context.Context) ([]model.Profile, error)
	AllUsers(ctx context.Context) ([]model.Profile, error)
	RecentActivities(ctx context.Context, limit int) ([]model.ActivityWithProfile, error)
	ActiveSessions(ctx context.Context) ([]model.ActiveSession, error)
	Notifications(ctx context.Context, userID string) (*dashboard.NotificationList, error)
	MarkNotificationRead(ctx context.Context, userID, id string) error
}

// ProfileUpdater はプロフィール更新のインターフェース。*auth.Serviceが満たす。
type ProfileUpdater interface {
	UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error)
}

// DashboardHandler はダッシュボードのJSON APIハンドラー。
type DashboardHandler struct {
	service  DashboardServiceInterface
	profiles ProfileUpdater
}

// NewDashboardHandler はDashboardHandlerを生成する。
func NewDashboardHandler(service DashboardServiceInterface, profiles ProfileUpdater) *DashboardHandler {
	return &DashboardHandler{
		service:  service,
		profiles: profiles,
	}
}

// OnlineUsers はオンラインのユーザー一覧を返す。
// GET /api/users/online
func (h *DashboardHandler) OnlineUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.OnlineUsers(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// AllUsers は全ユーザー一覧を返す。
// GET /api/users
func (h *DashboardHandler) AllUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.AllUsers(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// RecentActivities は最近のアクティビティを返す。
// GET /api/activities?limit=N （省略時10件、1〜100）
func (h *DashboardHandler) RecentActivities(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > dashboard.MaxActivityLimit {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidLimitError(raw))
			return
		}
		limit = n
	}

	activities, err := h.service.RecentActivities(r.Context(), limit)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activities)
}

// ActiveSessions はアクティブなセッション一覧を返す。
// GET /api/sessions/active
func (h *DashboardHandler) ActiveSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.service.ActiveSessions(r.Context())
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

// Notifications は認証ユーザーの通知一覧と未読件数を返す。
// GET /api/notifications
func (h *DashboardHandler) Notifications(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	list, err := h.service.Notifications(r.Context(), userID)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// MarkNotificationRead は通知を既読にする。
// POST /api/notifications/{id}/read
func (h *DashboardHandler) MarkNotificationRead(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.MarkNotificationRead(r.Context(), userID, chi.URLParam(r, "id")); err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateProfile は認証ユーザーのusername/full_nameを更新する。
// PATCH /api/profile
func (h *DashboardHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var update model.ProfileUpdate
	if !decodeJSON(w, r, &update) {
		return
	}

	profile, err := h.profiles.UpdateProfile(r.Context(), userID, update)
	if err != nil {
		middleware.WriteError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, profile)
}
