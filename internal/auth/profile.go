package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hitoshi/pulseboard/internal/model"
)

// ProfileOutcome はプロフィール存在保証の結果。
type ProfileOutcome int

const (
	ProfileFailed ProfileOutcome = iota
	ProfileFound
	ProfileCreated
	// ProfileAlreadyExists は挿入が一意制約違反になった（トリガーや並行呼び出しが先に作成した）ことを示す。成功扱い。
	ProfileAlreadyExists
)

// OK はプロフィールが存在する状態になったかどうかを返す。
func (o ProfileOutcome) OK() bool {
	return o != ProfileFailed
}

func (o ProfileOutcome) String() string {
	switch o {
	case ProfileFound:
		return "found"
	case ProfileCreated:
		return "created"
	case ProfileAlreadyExists:
		return "already_exists"
	default:
		return "failed"
	}
}

// EnsureProfile は指定ユーザーのプロフィール行が存在することを保証する。
// 存在しない場合はメタデータ（なければメールアドレスのローカル部）から作成する。
// 失敗した場合はProfileFailedとエラーを返す。呼び出し側は依存する書き込みをスキップする。
func (s *Service) EnsureProfile(ctx context.Context, userID, email string, meta model.UserMetadata) (ProfileOutcome, error) {
	outcome, err := s.ensureProfile(ctx, userID, email, meta)
	s.metrics.RecordProfileEnsure(outcome.String())
	if err != nil {
		slog.Error("profile guarantee failed",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
	}
	return outcome, err
}

func (s *Service) ensureProfile(ctx context.Context, userID, email string, meta model.UserMetadata) (ProfileOutcome, error) {
	existing, err := s.profiles.FindByID(ctx, userID)
	if err != nil {
		return ProfileFailed, fmt.Errorf("failed to check profile: %w", err)
	}
	if existing != nil {
		return ProfileFound, nil
	}

	username := meta.Username
	if username == "" {
		username = emailLocalPart(email)
	}
	fullName := meta.FullName
	if fullName == "" {
		fullName = username
	}

	profile := &model.Profile{
		ID:       userID,
		Username: username,
		FullName: fullName,
		IsOnline: false,
		LastSeen: s.now(),
	}
	if err := s.profiles.Create(ctx, profile); err != nil {
		if errors.Is(err, model.ErrProfileAlreadyExists) {
			return ProfileAlreadyExists, nil
		}
		return ProfileFailed, fmt.Errorf("failed to create profile: %w", err)
	}

	slog.Info("profile created",
		slog.String("user_id", userID),
		slog.String("username", username),
	)
	return ProfileCreated, nil
}
