package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/hitoshi/pulseboard/internal/model"
)

// PostgresActivityRepo はPostgreSQLを使用したuser_activitiesリポジトリ。
type PostgresActivityRepo struct {
	db *sql.DB
}

// NewPostgresActivityRepo はPostgresActivityRepoを生成する。
func NewPostgresActivityRepo(db *sql.DB) *PostgresActivityRepo {
	return &PostgresActivityRepo{db: db}
}

// Append はアクティビティを1行追加する。Dataが空の場合は空オブジェクトを保存する。
func (r *PostgresActivityRepo) Append(ctx context.Context, activity *model.Activity) error {
	data := activity.Data
	if len(data) == 0 {
		data = json.RawMessage("{}")
	}

	// []byteはbyteaとして送られるため、jsonbには文字列で渡す
	err := r.db.QueryRowContext(ctx,
		`INSERT INTO user_activities (id, user_id, activity_type, activity_data)
		 VALUES ($1, $2, $3, $4::jsonb)
		 RETURNING created_at`,
		activity.ID, activity.UserID, string(activity.Type), string(data),
	).Scan(&activity.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to log activity: %w", err)
	}
	activity.Data = data
	return nil
}

// ListRecent は新しい順に最大limit件のアクティビティをプロフィール情報付きで返す。
func (r *PostgresActivityRepo) ListRecent(ctx context.Context, limit int) ([]model.ActivityWithProfile, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT a.id, a.user_id, a.activity_type, a.activity_data, a.created_at,
		        p.username, p.full_name
		 FROM user_activities a
		 LEFT JOIN user_profiles p ON p.id = a.user_id
		 ORDER BY a.created_at DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	defer rows.Close()

	activities := make([]model.ActivityWithProfile, 0)
	for rows.Next() {
		var (
			a        model.ActivityWithProfile
			kind     string
			data     []byte
			username sql.NullString
			fullName sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &kind, &data, &a.CreatedAt, &username, &fullName); err != nil {
			return nil, fmt.Errorf("failed to scan activity: %w", err)
		}
		a.Type = model.ActivityType(kind)
		a.Data = json.RawMessage(append([]byte(nil), data...))
		if username.Valid {
			a.Profile = &model.ProfileSummary{
				Username: username.String,
				FullName: fullName.String,
			}
		}
		activities = append(activities, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate activities: %w", err)
	}

	return activities, nil
}

// compile-time interface check
var _ ActivityRepository = (*PostgresActivityRepo)(nil)
