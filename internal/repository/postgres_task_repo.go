package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/favepipe/internal/model"
)

// PostgresTaskRepo はPostgreSQLを使用した処理タスクリポジトリ。
// 非終端タスクの重複は部分一意インデックス
// (favorite_item_id, kind) WHERE status IN ('pending','in_progress')
// によってストレージ層でも防止される。
type PostgresTaskRepo struct {
	db *sql.DB
}

// NewPostgresTaskRepo はPostgresTaskRepoを生成する。
func NewPostgresTaskRepo(db *sql.DB) *PostgresTaskRepo {
	return &PostgresTaskRepo{db: db}
}

// FindNonTerminal は指定項目・種別の非終端タスクを検索する。
func (r *PostgresTaskRepo) FindNonTerminal(ctx context.Context, favoriteItemID string, kind model.TaskKind) (*model.Task, error) {
	task := &model.Task{}
	var workshopID, errorMessage sql.NullString

	err := r.db.QueryRowContext(ctx,
		`SELECT id, favorite_item_id, kind, workshop_id, status, error_message,
		        created_at, updated_at
		 FROM tasks
		 WHERE favorite_item_id = $1 AND kind = $2
		   AND status IN ('pending', 'in_progress')
		 LIMIT 1`,
		favoriteItemID, kind,
	).Scan(
		&task.ID, &task.FavoriteItemID, &task.Kind,
		&workshopID, &task.Status, &errorMessage,
		&task.CreatedAt, &task.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("非終端タスクの検索に失敗しました: %w", err)
	}

	task.WorkshopID = nullStringValue(workshopID)
	task.ErrorMessage = nullStringValue(errorMessage)
	return task, nil
}

// CountByItem は指定項目のタスク総数（状態不問）を返す。
func (r *PostgresTaskRepo) CountByItem(ctx context.Context, favoriteItemID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tasks WHERE favorite_item_id = $1`,
		favoriteItemID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("タスク数の取得に失敗しました: %w", err)
	}
	return count, nil
}

// Create はタスクを作成する。
// 部分一意インデックス違反のエラーはそのまま返す（IsUniqueViolationで判定可能）。
func (r *PostgresTaskRepo) Create(ctx context.Context, task *model.Task) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO tasks (id, favorite_item_id, kind, workshop_id, status,
		                    error_message, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		task.ID, task.FavoriteItemID, task.Kind,
		nullString(task.WorkshopID), task.Status,
		nullString(task.ErrorMessage), task.CreatedAt, task.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return err
		}
		return fmt.Errorf("タスクの作成に失敗しました: %w", err)
	}
	return nil
}

// DeleteTerminalOlderThan は終端状態かつ古いタスクを削除する。
func (r *PostgresTaskRepo) DeleteTerminalOlderThan(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM tasks
		 WHERE status IN ('success', 'failure') AND updated_at < $1`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("終端タスクの削除に失敗しました: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("削除件数の取得に失敗しました: %w", err)
	}
	return affected, nil
}

// compile-time interface check
var _ TaskRepository = (*PostgresTaskRepo)(nil)
