package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/pulseboard/internal/model"
)

// 補助書き込みのタスク名。ログとメトリクスのラベルに使う。
const (
	TaskCreateSession = "create_session"
	TaskEndSession    = "end_session"
	TaskSetOnline     = "set_online"
	TaskSetOffline    = "set_offline"
	TaskLogActivity   = "log_activity"
)

// Task は補助書き込み1件。
type Task struct {
	Name string
	Run  func(ctx context.Context) error
}

// TaskResult はタスクの実行結果。
type TaskResult struct {
	Task string
	Err  error
}

// RunTasks はタスクを並行実行し、すべて完了するまで待つ。
// 各タスクの失敗は他のタスクを中断せず、結果として個別に返す。
func RunTasks(ctx context.Context, tasks []Task) []TaskResult {
	results := make([]TaskResult, len(tasks))

	var g errgroup.Group
	for i, task := range tasks {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					err = fmt.Errorf("task panicked: %v", rec)
				}
				results[i] = TaskResult{Task: task.Name, Err: err}
			}()
			return task.Run(ctx)
		})
	}
	// 各タスクのエラーはresultsに記録済み
	_ = g.Wait()

	return results
}

// runAuxWrites は補助書き込みを実行し、失敗をログとメトリクスに記録する。
// 呼び出し元のキャンセルでは中断しない。
func (s *Service) runAuxWrites(ctx context.Context, userID string, tasks []Task) []TaskResult {
	results := RunTasks(context.WithoutCancel(ctx), tasks)
	for _, r := range results {
		s.metrics.RecordAuxWrite(r.Task, r.Err)
		if r.Err != nil {
			slog.Error("auxiliary write failed",
				slog.String("user_id", userID),
				slog.String("task", r.Task),
				slog.String("error", r.Err.Error()),
			)
		}
	}
	return results
}

// logActivity はアクティビティを1件追記する。
func (s *Service) logActivity(ctx context.Context, userID string, kind model.ActivityType, data map[string]any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to encode activity data: %w", err)
	}
	return s.activities.Append(ctx, &model.Activity{
		ID:     uuid.New().String(),
		UserID: userID,
		Type:   kind,
		Data:   payload,
	})
}
