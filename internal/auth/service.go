// Package auth はサインアップ・サインイン・サインアウトと、それに伴う
// プロフィール・セッション・アクティビティの補助書き込みを提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/pulseboard/internal/backend"
	"github.com/hitoshi/pulseboard/internal/metrics"
	"github.com/hitoshi/pulseboard/internal/model"
	"github.com/hitoshi/pulseboard/internal/repository"
)

// Provider は外部認証プロバイダーのインターフェース。*backend.AuthClientが満たす。
type Provider interface {
	SignUp(ctx context.Context, email, password string, metadata model.UserMetadata) (*model.AuthResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*model.AuthResult, error)
	RefreshSession(ctx context.Context, refreshToken string) (*model.AuthSession, error)
	GetUser(ctx context.Context, accessToken string) (*model.Identity, error)
	SignOut(ctx context.Context, accessToken string) error
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	// BootstrapDelay はサインアップ後にプロフィール存在保証を実行するまでの待ち時間
	BootstrapDelay time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider   Provider
	profiles   repository.ProfileRepository
	sessions   repository.SessionRepository
	activities repository.ActivityRepository
	metrics    metrics.MetricsCollector
	identities *IdentityCache
	config     ServiceConfig

	now       func() time.Time
	bootstrap sync.WaitGroup
}

// NewService はServiceを生成する。identitiesはnilでもよい（キャッシュなし）。
func NewService(
	provider Provider,
	profiles repository.ProfileRepository,
	sessions repository.SessionRepository,
	activities repository.ActivityRepository,
	collector metrics.MetricsCollector,
	identities *IdentityCache,
	config ServiceConfig,
) *Service {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Service{
		provider:   provider,
		profiles:   profiles,
		sessions:   sessions,
		activities: activities,
		metrics:    collector,
		identities: identities,
		config:     config,
		now:        time.Now,
	}
}

// SignUp はプロバイダーにユーザーを登録する。
// 成功時はBootstrapDelay経過後にバックグラウンドでプロフィール存在保証を実行する。
func (s *Service) SignUp(ctx context.Context, email, password, username, fullName string) (*model.AuthResult, error) {
	meta := model.UserMetadata{Username: username, FullName: fullName}

	start := time.Now()
	result, err := s.provider.SignUp(ctx, email, password, meta)
	s.metrics.RecordProviderLatency("sign_up", time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("failed to sign up: %w", err)
	}

	if result.User != nil {
		user := *result.User
		if user.Metadata == (model.UserMetadata{}) {
			user.Metadata = meta
		}
		s.scheduleBootstrap(context.WithoutCancel(ctx), user)
	}

	slog.Info("user signed up", slog.String("email", email))
	return result, nil
}

// scheduleBootstrap はサインアップ直後のプロフィール存在保証を遅延実行する。
// データベーストリガーが先に作成した場合はAlreadyExists/Foundになる。
func (s *Service) scheduleBootstrap(ctx context.Context, user model.Identity) {
	s.bootstrap.Add(1)
	go func() {
		defer s.bootstrap.Done()

		if s.config.BootstrapDelay > 0 {
			timer := time.NewTimer(s.config.BootstrapDelay)
			defer timer.Stop()
			<-timer.C
		}

		outcome, err := s.EnsureProfile(ctx, user.ID, user.Email, user.Metadata)
		if err != nil {
			slog.Error("profile bootstrap after sign up failed",
				slog.String("user_id", user.ID),
				slog.String("outcome", outcome.String()),
				slog.String("error", err.Error()),
			)
		}
	}()
}

// Wait は実行待ちのプロフィール存在保証がすべて終わるまでブロックする。
func (s *Service) Wait() {
	s.bootstrap.Wait()
}

// SignIn はメールアドレスとパスワードでサインインする。
// 認証成功後にプロフィール存在保証を行い、成功した場合のみ補助書き込みを並行実行する。
// 補助書き込みの失敗はログに記録するのみで、戻り値には影響しない。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.AuthResult, error) {
	start := time.Now()
	result, err := s.provider.SignInWithPassword(ctx, email, password)
	s.metrics.RecordProviderLatency("sign_in", time.Since(start))
	if err != nil {
		s.metrics.RecordSignIn(false)
		return nil, fmt.Errorf("failed to sign in: %w", err)
	}
	s.metrics.RecordSignIn(true)

	user := result.User
	if result.Session != nil {
		s.identities.Set(result.Session.AccessToken, user)
	}

	outcome, err := s.EnsureProfile(ctx, user.ID, user.Email, user.Metadata)
	if !outcome.OK() {
		slog.Warn("skipping sign-in writes because profile is unavailable",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return result, nil
	}

	now := s.now()
	s.runAuxWrites(ctx, user.ID, []Task{
		{Name: TaskCreateSession, Run: func(ctx context.Context) error {
			return s.sessions.Create(ctx, &model.UserSession{
				ID:        uuid.New().String(),
				UserID:    user.ID,
				StartedAt: now,
			})
		}},
		{Name: TaskSetOnline, Run: func(ctx context.Context) error {
			return s.profiles.UpdatePresence(ctx, user.ID, true, now)
		}},
		{Name: TaskLogActivity, Run: func(ctx context.Context) error {
			return s.logActivity(ctx, user.ID, model.ActivityLogin, map[string]any{"timestamp": now})
		}},
	})

	slog.Info("user signed in", slog.String("user_id", user.ID))
	return result, nil
}

// SignOut は現在のidentityの補助書き込み（セッション終了・オフライン化・ログアウト記録）を行ったあと、
// プロバイダーのサインアウトを呼び出す。失敗を返すのはプロバイダーのサインアウトが失敗した場合のみ。
func (s *Service) SignOut(ctx context.Context, accessToken string) error {
	identity := s.lookupIdentity(ctx, accessToken)

	if identity != nil {
		now := s.now()
		s.runAuxWrites(ctx, identity.ID, []Task{
			{Name: TaskEndSession, Run: func(ctx context.Context) error {
				_, err := s.sessions.EndActive(ctx, identity.ID, now)
				return err
			}},
			{Name: TaskSetOffline, Run: func(ctx context.Context) error {
				return s.profiles.UpdatePresence(ctx, identity.ID, false, now)
			}},
			{Name: TaskLogActivity, Run: func(ctx context.Context) error {
				return s.logActivity(ctx, identity.ID, model.ActivityLogout, map[string]any{"timestamp": now})
			}},
		})
	}

	s.identities.Invalidate(accessToken)

	start := time.Now()
	err := s.provider.SignOut(ctx, accessToken)
	s.metrics.RecordProviderLatency("sign_out", time.Since(start))
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}

	s.metrics.RecordSignOut()
	if identity != nil {
		slog.Info("user signed out", slog.String("user_id", identity.ID))
	}
	return nil
}

// lookupIdentity はサインアウト対象のidentityをプロバイダーに問い合わせる。
// トークンがない、または無効な場合はnilを返す。
func (s *Service) lookupIdentity(ctx context.Context, accessToken string) *model.Identity {
	if accessToken == "" {
		return nil
	}
	identity, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		if !errors.Is(err, backend.ErrUnauthorized) {
			slog.Warn("failed to resolve identity for sign out", slog.String("error", err.Error()))
		}
		return nil
	}
	return identity
}

// Identify はアクセストークンに対応するidentityを返す。
// 結果はIdentityCacheに保持し、期限内はプロバイダーへ問い合わせない。
func (s *Service) Identify(ctx context.Context, accessToken string) (*model.Identity, error) {
	if accessToken == "" {
		return nil, backend.ErrUnauthorized
	}
	if identity, ok := s.identities.Get(accessToken); ok {
		return identity, nil
	}

	identity, err := s.provider.GetUser(ctx, accessToken)
	if err != nil {
		return nil, err
	}
	s.identities.Set(accessToken, identity)
	return identity, nil
}

// Refresh はリフレッシュトークンで新しいセッションを取得し、identityをキャッシュする。
func (s *Service) Refresh(ctx context.Context, refreshToken string) (*model.AuthSession, error) {
	session, err := s.provider.RefreshSession(ctx, refreshToken)
	if err != nil {
		return nil, err
	}
	if session.User != nil {
		s.identities.Set(session.AccessToken, session.User)
	}
	return session, nil
}

// CurrentUser は現在のユーザーとプロフィールを返す。
// 未認証の場合はnil, nilを返す。プロフィールの取得失敗はログに記録し、Profileをnilにする。
func (s *Service) CurrentUser(ctx context.Context, accessToken string) (*model.CurrentUser, error) {
	identity, err := s.Identify(ctx, accessToken)
	if err != nil {
		if errors.Is(err, backend.ErrUnauthorized) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get current user: %w", err)
	}

	if outcome, err := s.EnsureProfile(ctx, identity.ID, identity.Email, identity.Metadata); !outcome.OK() {
		slog.Warn("profile guarantee failed for current user",
			slog.String("user_id", identity.ID),
			slog.Any("error", err),
		)
	}

	current := &model.CurrentUser{Identity: *identity}
	profile, err := s.profiles.FindByID(ctx, identity.ID)
	if err != nil {
		slog.Error("failed to fetch profile",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		return current, nil
	}
	current.Profile = profile
	return current, nil
}

// UpdateProfile はusername/full_nameを更新し、profile_updateアクティビティを記録する。
func (s *Service) UpdateProfile(ctx context.Context, userID string, update model.ProfileUpdate) (*model.Profile, error) {
	var fields []string
	if update.Username != nil {
		name := strings.TrimSpace(*update.Username)
		if name == "" {
			return nil, model.NewInvalidRequestError("usernameは空にできません")
		}
		update.Username = &name
		fields = append(fields, "username")
	}
	if update.FullName != nil {
		name := strings.TrimSpace(*update.FullName)
		update.FullName = &name
		fields = append(fields, "full_name")
	}
	if len(fields) == 0 {
		return nil, model.NewInvalidRequestError("更新する項目がありません")
	}

	profile, err := s.profiles.Update(ctx, userID, update)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.NewProfileNotFoundError()
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}

	if err := s.logActivity(ctx, userID, model.ActivityProfileUpdate, map[string]any{"fields": fields}); err != nil {
		slog.Warn("failed to log profile update",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}

	return profile, nil
}

// emailLocalPart はメールアドレスの@より前を返す。
func emailLocalPart(email string) string {
	local, _, _ := strings.Cut(email, "@")
	return local
}
