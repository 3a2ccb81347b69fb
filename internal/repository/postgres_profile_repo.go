package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/pulseboard/internal/model"
)

const profileColumns = `id, username, full_name, is_online, last_seen, created_at`

// PostgresProfileRepo はPostgreSQLを使用したプロフィールリポジトリ。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindByID は指定IDのプロフィールを取得する。見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	p := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Username, &p.FullName, &p.IsOnline, &p.LastSeen, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find profile by ID: %w", err)
	}

	return p, nil
}

// Create はプロフィールを作成する。
// 一意制約違反（トリガーや並行呼び出しによる先行作成）はmodel.ErrProfileAlreadyExistsとして返す。
func (r *PostgresProfileRepo) Create(ctx context.Context, profile *model.Profile) error {
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO user_profiles (id, username, full_name, is_online, last_seen)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING created_at`,
		profile.ID, profile.Username, profile.FullName, profile.IsOnline, profile.LastSeen,
	).Scan(&profile.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return model.ErrProfileAlreadyExists
		}
		return fmt.Errorf("failed to insert profile: %w", err)
	}
	return nil
}

// UpdatePresence はis_onlineとlast_seenを更新する。
func (r *PostgresProfileRepo) UpdatePresence(ctx context.Context, id string, online bool, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE user_profiles SET is_online = $2, last_seen = $3 WHERE id = $1`,
		id, online, at,
	)
	if err != nil {
		return fmt.Errorf("failed to update online status: %w", err)
	}
	return nil
}

// Update はusername/full_nameを部分更新し、更新後の行を返す。
func (r *PostgresProfileRepo) Update(ctx context.Context, id string, update model.ProfileUpdate) (*model.Profile, error) {
	p := &model.Profile{}
	err := r.db.QueryRowContext(ctx,
		`UPDATE user_profiles
		 SET username = COALESCE($2, username),
		     full_name = COALESCE($3, full_name)
		 WHERE id = $1
		 RETURNING `+profileColumns,
		id, nullString(update.Username), nullString(update.FullName),
	).Scan(&p.ID, &p.Username, &p.FullName, &p.IsOnline, &p.LastSeen, &p.CreatedAt)

	if err == sql.ErrNoRows {
		return nil, model.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return p, nil
}

// ListOnline はオンラインのプロフィールをusername順で返す。
func (r *PostgresProfileRepo) ListOnline(ctx context.Context) ([]model.Profile, error) {
	return r.list(ctx,
		`SELECT `+profileColumns+` FROM user_profiles WHERE is_online = true ORDER BY username`,
	)
}

// ListAll は全プロフィールを作成日時の降順で返す。
func (r *PostgresProfileRepo) ListAll(ctx context.Context) ([]model.Profile, error) {
	return r.list(ctx,
		`SELECT `+profileColumns+` FROM user_profiles ORDER BY created_at DESC`,
	)
}

// list はプロフィール一覧クエリを実行する。結果が0件でも非nilのスライスを返す。
func (r *PostgresProfileRepo) list(ctx context.Context, query string) ([]model.Profile, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list profiles: %w", err)
	}
	defer rows.Close()

	profiles := make([]model.Profile, 0)
	for rows.Next() {
		var p model.Profile
		if err := rows.Scan(&p.ID, &p.Username, &p.FullName, &p.IsOnline, &p.LastSeen, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan profile: %w", err)
		}
		profiles = append(profiles, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate profiles: %w", err)
	}

	return profiles, nil
}

// nullString は*stringをSQLパラメータに変換する。nilはNULLになる。
func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
