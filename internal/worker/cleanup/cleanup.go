// Package cleanup は保持期間を超過したデータの定期削除ジョブを提供する。
// 既読の通知と終了済みのセッションが対象。未読の通知・アクティブなセッション・
// アクティビティ履歴は削除しない。
package cleanup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Executor はSQLのExecContextを抽象化するインターフェース。
// *sql.DB や *sql.Tx を受け付けることができる。
type Executor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// target は1種類の削除対象。
type target struct {
	name  string
	query string
}

var targets = []target{
	{
		name:  "read_notifications",
		query: `DELETE FROM notifications WHERE is_read AND created_at < now() - $1::interval`,
	},
	{
		name:  "ended_sessions",
		query: `DELETE FROM user_sessions WHERE NOT is_active AND ended_at < now() - $1::interval`,
	},
}

// CleanupJob は保持期間を超過した行を削除する。冪等で、対象がなくてもエラーにならない。
type CleanupJob struct {
	db            Executor
	logger        *slog.Logger
	RetentionDays int // 保持日数（デフォルト: 90）。0以下なら何もしない
}

// NewCleanupJob は新しいCleanupJobを生成する。
func NewCleanupJob(db Executor, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		db:            db,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は各削除対象を順に実行する。1つが失敗しても残りは実行し、失敗をまとめて返す。
func (j *CleanupJob) Run(ctx context.Context) error {
	if j.RetentionDays <= 0 {
		return nil
	}

	interval := fmt.Sprintf("%d days", j.RetentionDays)

	var errs []error
	for _, t := range targets {
		start := time.Now()
		result, err := j.db.ExecContext(ctx, t.query, interval)
		if err == nil {
			var deleted int64
			deleted, err = result.RowsAffected()
			if err == nil {
				j.logger.Info("cleanup completed",
					slog.String("target", t.name),
					slog.Int64("deleted_count", deleted),
					slog.Int("retention_days", j.RetentionDays),
					slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
				)
				continue
			}
		}

		j.logger.Error("cleanup failed",
			slog.String("target", t.name),
			slog.Int("retention_days", j.RetentionDays),
			slog.String("error", err.Error()),
		)
		errs = append(errs, fmt.Errorf("failed to clean up %s: %w", t.name, err))
	}

	return errors.Join(errs...)
}

// Start は起動直後に1回実行し、以降intervalごとに実行する。ctxがキャンセルされるまでブロックする。
// 実行エラーはログに記録済みのため、ここでは継続する。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	_ = j.Run(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = j.Run(ctx)
		}
	}
}
