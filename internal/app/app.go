package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pulseboard/internal/auth"
	"github.com/hitoshi/pulseboard/internal/backend"
	"github.com/hitoshi/pulseboard/internal/config"
	"github.com/hitoshi/pulseboard/internal/dashboard"
	"github.com/hitoshi/pulseboard/internal/database"
	"github.com/hitoshi/pulseboard/internal/handler"
	"github.com/hitoshi/pulseboard/internal/logger"
	"github.com/hitoshi/pulseboard/internal/metrics"
	"github.com/hitoshi/pulseboard/internal/middleware"
	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/presence"
	"github.com/hitoshi/pulseboard/internal/repository"
	"github.com/hitoshi/pulseboard/internal/security"
	"github.com/hitoshi/pulseboard/internal/view"
	"github.com/hitoshi/pulseboard/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetLevel(cfg.LogLevel)
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	switch cmd {
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runServe(ctx, cfg)
	}
}

// server はserveモードで起動する構成要素一式。
type server struct {
	http        *http.Server
	auth        *auth.Service
	identities  *auth.IdentityCache
	realtime    *backend.Realtime
	hub         *presence.Hub
	rateLimiter *middleware.RateLimiter
	authEvents  *auth.SubscriptionManager
	presence    *backend.Channel
	cleanup     *cleanup.CleanupJob
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーとリアルタイム配信を起動する。
// ctxがキャンセルされるとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	srv, err := newServer(cfg, db)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.realtime.Run(gctx); err != nil {
			return fmt.Errorf("realtime stopped: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return srv.hub.Run(gctx)
	})
	if cfg.RetentionDays > 0 {
		g.Go(func() error {
			srv.cleanup.Start(gctx, cfg.CleanupInterval)
			return nil
		})
	}
	g.Go(func() error {
		slog.Info("API server starting", slog.String("addr", srv.http.Addr))
		if err := srv.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down API server...")
		return srv.shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// newServer は全依存関係をワイヤリングする。
func newServer(cfg *config.Config, db *sql.DB) (*server, error) {
	// 1. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 2. バックエンドクライアント
	authClient := backend.NewAuthClient(backend.AuthConfig{
		URL:       cfg.SupabaseURL,
		AnonKey:   cfg.SupabaseAnonKey,
		JWTSecret: cfg.SupabaseJWTSecret,
		Timeout:   cfg.ProviderTimeout,
	})
	listener := backend.NewListener(cfg.DatabaseURL, cfg.RealtimeMinReconnect, cfg.RealtimeMaxReconnect)
	realtime := backend.NewRealtime(listener)
	client := backend.NewClient(authClient, db, realtime)

	// 3. リポジトリ
	profileRepo := repository.NewPostgresProfileRepo(client.DB)
	sessionRepo := repository.NewPostgresSessionRepo(client.DB)
	activityRepo := repository.NewPostgresActivityRepo(client.DB)
	notificationRepo := repository.NewPostgresNotificationRepo(client.DB)

	// 4. ドメインサービス
	identities, err := auth.NewIdentityCache(cfg.IdentityCacheTTL)
	if err != nil {
		realtime.Close()
		return nil, fmt.Errorf("failed to create identity cache: %w", err)
	}
	authService := auth.NewService(
		client.Auth, profileRepo, sessionRepo, activityRepo,
		collector, identities,
		auth.ServiceConfig{BootstrapDelay: cfg.ProfileBootstrapDelay},
	)
	dashService := dashboard.NewService(
		profileRepo, sessionRepo, activityRepo, notificationRepo,
		dashboard.Config{
			ActivityFeedLimit: cfg.ActivityFeedLimit,
			NotificationLimit: cfg.NotificationLimit,
		},
	)

	authEvents := auth.NewSubscriptionManager(client)
	authEvents.OnAuthStateChanged(func(event backend.AuthEvent, _ *model.AuthSession) {
		collector.RecordAuthEvent(string(event))
	})

	// 5. リアルタイム配信
	hub := presence.NewHub(dashService, collector, cfg.CORSAllowedOrigin)
	channel, err := presence.NewFeed(client.Realtime).Subscribe(hub.Notify)
	if err != nil {
		identities.Close()
		realtime.Close()
		return nil, err
	}

	// 6. ページ描画
	renderer, err := view.NewRenderer(security.NewSanitizer())
	if err != nil {
		channel.Unsubscribe()
		identities.Close()
		realtime.Close()
		return nil, fmt.Errorf("failed to load templates: %w", err)
	}

	cleanupJob := cleanup.NewCleanupJob(client.DB, slog.Default())
	cleanupJob.RetentionDays = cfg.RetentionDays

	// 7. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(
		middleware.NewRateLimiterConfig(cfg.RateLimitGeneral, cfg.RateLimitAuth),
	)
	sessionCfg := middleware.SessionConfig{
		CookieSecure:       cfg.CookieSecure,
		CookieDomain:       cfg.CookieDomain,
		RefreshTokenMaxAge: cfg.RefreshTokenMaxAge,
	}

	router := handler.NewRouter(&handler.RouterDeps{
		Authenticator: authService,
		Session:       sessionCfg,
		CSRF: middleware.CSRFConfig{
			CookieSecure: cfg.CookieSecure,
			CookieDomain: cfg.CookieDomain,
		},
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),
		Metrics:           collector,
		MetricsHandler:    metrics.SetupMetricsRoute(registry),
		HealthChecker:     db,

		AuthService:      authService,
		DashboardService: dashService,
		ProfileUpdater:   authService,
		SummaryGetter:    dashService,
		Renderer:         renderer,
		Presence:         hub,
	})

	// WebSocket接続の読み書き期限はpresence.Hubが設定する
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &server{
		http:        httpServer,
		auth:        authService,
		identities:  identities,
		realtime:    realtime,
		hub:         hub,
		rateLimiter: rateLimiter,
		authEvents:  authEvents,
		presence:    channel,
		cleanup:     cleanupJob,
	}, nil
}

// shutdown はHTTPサーバーを停止し、バックグラウンド処理の完了を待ってから資源を解放する。
func (s *server) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	err := s.http.Shutdown(ctx)

	s.presence.Unsubscribe()
	s.authEvents.Unsubscribe()
	s.auth.Wait()
	s.identities.Close()
	s.rateLimiter.Stop()
	if cerr := s.realtime.Close(); cerr != nil {
		slog.Warn("failed to close realtime listener", slog.String("error", cerr.Error()))
	}

	if err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
