// Package cleanup は終端タスクの自動削除ジョブを提供する。
// 保持期間（デフォルト90日）を超過したsuccess/failureタスクを
// 日次バッチで削除する。非終端タスクは削除対象にならない。
package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/favepipe/internal/repository"
)

// CleanupJob は保持期間を超過した終端タスクの自動削除ジョブ。
// 日次実行のバッチジョブとして設計されており、冪等な削除処理を保証する。
type CleanupJob struct {
	taskRepo      repository.TaskRepository
	logger        *slog.Logger
	RetentionDays int // 終端タスクの保持日数（デフォルト: 90）
}

// NewCleanupJob は新しいCleanupJobを生成する。
// デフォルトの保持日数は90日。
func NewCleanupJob(taskRepo repository.TaskRepository, logger *slog.Logger) *CleanupJob {
	return &CleanupJob{
		taskRepo:      taskRepo,
		logger:        logger,
		RetentionDays: 90,
	}
}

// Run は保持期間を超過した終端タスクを削除する。
// updated_atがRetentionDays日前より古いsuccess/failureタスクをDELETEする。
// 冪等: 削除対象がない場合でもエラーにならない。
func (j *CleanupJob) Run(ctx context.Context) error {
	start := time.Now()

	cutoff := start.AddDate(0, 0, -j.RetentionDays)
	deletedCount, err := j.taskRepo.DeleteTerminalOlderThan(ctx, cutoff)
	if err != nil {
		j.logger.Error("タスククリーンアップジョブの実行に失敗しました",
			slog.String("error", err.Error()),
			slog.Int("retention_days", j.RetentionDays),
		)
		return fmt.Errorf("タスククリーンアップの実行に失敗: %w", err)
	}

	duration := time.Since(start)
	j.logger.Info("タスククリーンアップジョブが完了しました",
		slog.Int64("deleted_count", deletedCount),
		slog.Int("retention_days", j.RetentionDays),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)

	return nil
}
