package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/pulseboard/internal/model"
)

// PostgresSessionRepo はPostgreSQLを使用したuser_sessionsリポジトリ。
type PostgresSessionRepo struct {
	db *sql.DB
}

// NewPostgresSessionRepo はPostgresSessionRepoを生成する。
func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

// Create はアクティブなセッション行を作成する。
// 既存のアクティブセッションは閉じない。
func (r *PostgresSessionRepo) Create(ctx context.Context, session *model.UserSession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO user_sessions (id, user_id, is_active, started_at)
		 VALUES ($1, $2, true, $3)`,
		session.ID, session.UserID, session.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	session.IsActive = true
	return nil
}

// EndActive は指定ユーザーのアクティブなセッションをすべて終了する。
func (r *PostgresSessionRepo) EndActive(ctx context.Context, userID string, at time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE user_sessions SET is_active = false, ended_at = $2
		 WHERE user_id = $1 AND is_active = true`,
		userID, at,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to end session: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

// ListActive はアクティブなセッションを開始日時の降順で返す。
// プロフィールが存在しないセッションはProfileがnilになる。
func (r *PostgresSessionRepo) ListActive(ctx context.Context) ([]model.ActiveSession, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT s.id, s.user_id, s.is_active, s.started_at, s.ended_at,
		        p.username, p.full_name, p.is_online
		 FROM user_sessions s
		 LEFT JOIN user_profiles p ON p.id = s.user_id
		 WHERE s.is_active = true
		 ORDER BY s.started_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list active sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]model.ActiveSession, 0)
	for rows.Next() {
		var (
			s        model.ActiveSession
			endedAt  sql.NullTime
			username sql.NullString
			fullName sql.NullString
			online   sql.NullBool
		)
		if err := rows.Scan(&s.ID, &s.UserID, &s.IsActive, &s.StartedAt, &endedAt,
			&username, &fullName, &online); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		if endedAt.Valid {
			t := endedAt.Time
			s.EndedAt = &t
		}
		if username.Valid {
			s.Profile = &model.ProfileSummary{
				Username: username.String,
				FullName: fullName.String,
				IsOnline: online.Bool,
			}
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

// compile-time interface check
var _ SessionRepository = (*PostgresSessionRepo)(nil)
