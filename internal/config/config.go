package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database（バックエンドサービスのPostgreSQL）
	DatabaseURL string

	// Auth provider
	SupabaseURL       string
	SupabaseAnonKey   string
	SupabaseJWTSecret string // 空の場合はアクセストークンをプロバイダーに問い合わせて検証する
	ProviderTimeout   time.Duration

	// Session
	RefreshTokenMaxAge    int // refresh_token Cookieの有効期間（秒）
	IdentityCacheTTL      time.Duration
	ProfileBootstrapDelay time.Duration

	// Dashboard
	ActivityFeedLimit int
	NotificationLimit int

	// Retention（既読通知・終了済みセッションの削除）
	RetentionDays   int // 0以下で無効
	CleanupInterval time.Duration

	// Realtime
	RealtimeMinReconnect time.Duration
	RealtimeMaxReconnect time.Duration

	// Rate Limit（req/min）
	RateLimitGeneral int
	RateLimitAuth    int

	// Logging
	LogLevel string

	// Server
	ServerPort string
	BaseURL    string

	// Cookie
	CookieSecure bool
	CookieDomain string

	// CORS
	CORSAllowedOrigin string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	var missing []string
	required := func(key string) string {
		v := os.Getenv(key)
		if v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg.DatabaseURL = required("DATABASE_URL")
	cfg.SupabaseURL = strings.TrimRight(required("SUPABASE_URL"), "/")
	cfg.SupabaseAnonKey = required("SUPABASE_ANON_KEY")
	cfg.BaseURL = required("BASE_URL")

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	cfg.SupabaseJWTSecret = os.Getenv("SUPABASE_JWT_SECRET")
	cfg.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", 10*time.Second)
	cfg.RefreshTokenMaxAge = getEnvInt("REFRESH_TOKEN_MAX_AGE", 604800)
	cfg.IdentityCacheTTL = getEnvDuration("IDENTITY_CACHE_TTL", 30*time.Second)
	cfg.ProfileBootstrapDelay = getEnvDuration("PROFILE_BOOTSTRAP_DELAY", time.Second)
	cfg.ActivityFeedLimit = getEnvInt("ACTIVITY_FEED_LIMIT", 20)
	cfg.NotificationLimit = getEnvInt("NOTIFICATION_LIMIT", 10)
	cfg.RetentionDays = getEnvInt("RETENTION_DAYS", 90)
	cfg.CleanupInterval = getEnvDuration("CLEANUP_INTERVAL", 24*time.Hour)
	cfg.RealtimeMinReconnect = getEnvDuration("REALTIME_MIN_RECONNECT", 10*time.Second)
	cfg.RealtimeMaxReconnect = getEnvDuration("REALTIME_MAX_RECONNECT", time.Minute)
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.RateLimitAuth = getEnvInt("RATE_LIMIT_AUTH", 10)
	cfg.LogLevel = getEnvString("LOG_LEVEL", "info")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.BaseURL, "https://")
	cfg.CookieDomain = getEnvString("COOKIE_DOMAIN", "")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", cfg.BaseURL)

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
