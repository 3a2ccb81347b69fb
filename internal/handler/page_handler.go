package handler

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/view"
)

// CurrentUserGetter は現在のユーザーを取得するインターフェース。*auth.Serviceが満たす。
type CurrentUserGetter interface {
	CurrentUser(ctx context.Context, accessToken string) (*model.CurrentUser, error)
}

// SummaryGetter はダッシュボードページの描画に必要なクエリ。*dashboard.Serviceが満たす。
type SummaryGetter interface {
	Summary(ctx context.Context) (*dashboard.Summary, error)
	Notifications(ctx context.Context, userID string) (*dashboard.NotificationList, error)
}

// PageRenderer はHTMLページの描画インターフェース。*view.Rendererが満たす。
type PageRenderer interface {
	RenderAuth(w io.Writer, page view.AuthPage) error
	RenderDashboard(w io.Writer, page view.DashboardPage) error
}

// PageHandler はサーバーサイド描画のページハンドラー。
type PageHandler struct {
	users     CurrentUserGetter
	dashboard SummaryGetter
	renderer  PageRenderer
}

// NewPageHandler はPageHandlerを生成する。
func NewPageHandler(users CurrentUserGetter, dashboard SummaryGetter, renderer PageRenderer) *PageHandler {
	return &PageHandler{
		users:     users,
		dashboard: dashboard,
		renderer:  renderer,
	}
}

// Index はプロフィールのある認証済みユーザーにはダッシュボードを、それ以外には認証ページを返す。
// クエリの失敗はログに記録し、該当セクションを空で描画する。
// GET /
func (h *PageHandler) Index(w http.ResponseWriter, r *http.Request) {
	var current *model.CurrentUser
	if token := middleware.AccessTokenFromContext(r.Context()); token != "" {
		var err error
		current, err = h.users.CurrentUser(r.Context(), token)
		if err != nil {
			slog.Warn("failed to load current user for page", slog.String("error", err.Error()))
		}
	}

	if current == nil || current.Profile == nil {
		h.render(w, func(buf io.Writer) error {
			return h.renderer.RenderAuth(buf, view.AuthPage{Mode: view.ParseAuthMode(r.URL.Query().Get("mode"))})
		})
		return
	}

	page := view.DashboardPage{User: current}
	summary, err := h.dashboard.Summary(r.Context())
	if err != nil {
		slog.Error("failed to load dashboard summary",
			slog.String("user_id", current.ID),
			slog.String("error", err.Error()),
		)
	} else {
		page.Summary = summary
	}

	notifications, err := h.dashboard.Notifications(r.Context(), current.ID)
	if err != nil {
		slog.Error("failed to load notifications",
			slog.String("user_id", current.ID),
			slog.String("error", err.Error()),
		)
	} else {
		page.Notifications = notifications
	}

	h.render(w, func(buf io.Writer) error {
		return h.renderer.RenderDashboard(buf, page)
	})
}

// render は描画結果をバッファしてから書き込む。描画に失敗した場合は500を返す。
func (h *PageHandler) render(w http.ResponseWriter, fn func(io.Writer) error) {
	var buf bytes.Buffer
	if err := fn(&buf); err != nil {
		slog.Error("failed to render page", slog.String("error", err.Error()))
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	buf.WriteTo(w)
}
