package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/pulseboard/internal/metrics"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/view"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Authenticator     middleware.Authenticator
	Session           middleware.SessionConfig
	CSRF              middleware.CSRFConfig
	CORSAllowedOrigin string
	RateLimiter       *middleware.RateLimiter
	Logger            *slog.Logger
	Metrics           metrics.MetricsCollector
	MetricsHandler    http.Handler

	HealthChecker HealthChecker

	AuthService      AuthServiceInterface
	DashboardService DashboardServiceInterface
	ProfileUpdater   ProfileUpdater
	SummaryGetter    SummaryGetter
	Renderer         PageRenderer
	Presence         PresenceServer
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Recovery → Logging → SecurityHeaders → CORS → CSRF → (Session → RateLimit)
//
// /health, /metrics, /static/* はCSRFの外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(logger, deps.Metrics))
	r.Use(middleware.NewSecurityHeadersMiddleware(deps.Session.CookieSecure))
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigin))

	authHandler := NewAuthHandler(deps.AuthService, deps.Session)
	dashHandler := NewDashboardHandler(deps.DashboardService, deps.ProfileUpdater)
	pageHandler := NewPageHandler(deps.AuthService, deps.SummaryGetter, deps.Renderer)

	requireSession := middleware.NewSessionMiddleware(deps.Authenticator, deps.Session)
	optionalSession := middleware.NewOptionalSessionMiddleware(deps.Authenticator, deps.Session)

	// --- 認証・CSRF不要のルート ---
	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}
	r.Handle("/static/*", view.StaticHandler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.NewCSRFMiddleware(deps.CSRF))

		r.Get("/api/csrf-token", middleware.NewCSRFTokenHandler(deps.CSRF).ServeHTTP)
		r.With(optionalSession).Get("/", pageHandler.Index)

		// 認証ルート（サインイン・サインアップはIP単位のレート制限）
		r.Route("/auth", func(r chi.Router) {
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/signup", authHandler.SignUp)
			r.With(deps.RateLimiter.AuthMiddleware()).Post("/signin", authHandler.SignIn)
			r.With(optionalSession).Post("/signout", authHandler.SignOut)
			r.With(requireSession).Get("/me", authHandler.Me)
		})

		// --- 認証が必要なルート ---
		r.Group(func(r chi.Router) {
			r.Use(requireSession)
			r.Use(deps.RateLimiter.GeneralMiddleware())

			r.Get("/api/users/online", dashHandler.OnlineUsers)
			r.Get("/api/users", dashHandler.AllUsers)
			r.Get("/api/activities", dashHandler.RecentActivities)
			r.Get("/api/sessions/active", dashHandler.ActiveSessions)
			r.Get("/api/notifications", dashHandler.Notifications)
			r.Post("/api/notifications/{id}/read", dashHandler.MarkNotificationRead)
			r.Patch("/api/profile", dashHandler.UpdateProfile)

			r.Get("/ws/presence", NewPresenceHandler(deps.Presence))
		})
	})

	return r
}
