// Package task はお気に入り項目に対する処理タスクのゲート付き作成を提供する。
package task

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/favepipe/internal/metrics"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
)

// Enqueuer は作成済みタスクを外部の実行基盤へ引き渡すインターフェース。
// 実装はinternal/workshopにある。
type Enqueuer interface {
	// Enqueue はタスクを実行基盤へ送信する。
	// 送信失敗はタスク行の存在に影響しない（行はpendingのまま残る）。
	Enqueue(ctx context.Context, task *model.Task, item *model.FavoriteItem) error
}

// SkipReason はタスク作成がスキップされた理由。
type SkipReason string

const (
	// SkipNone はスキップされなかったことを表す。
	SkipNone SkipReason = ""
	// SkipNoDetails は詳細レコード未取得のためのスキップ。
	SkipNoDetails SkipReason = "no_details"
	// SkipDuplicate は非終端タスクが既に存在するためのスキップ。
	SkipDuplicate SkipReason = "duplicate"
	// SkipAlreadyProcessed は状態を問わずタスクが既に存在するためのスキップ。
	// 再観測された処理済み項目の再処理を防ぐ。
	SkipAlreadyProcessed SkipReason = "already_processed"
)

// Creator はタスクのゲート付き作成を行うサービス。
// 作成の前提条件:
//  1. 項目の詳細レコードが取得済みであること
//  2. 同一項目・同一種別の非終端タスクが存在しないこと
//
// ワークショップはコレクションの紐づけから解決され、
// 未紐づけの場合はデフォルトワークショップが使用される。
type Creator struct {
	taskRepo          repository.TaskRepository
	collectionRepo    repository.CollectionRepository
	enqueuer          Enqueuer
	collector         metrics.MetricsCollector
	logger            *slog.Logger
	defaultWorkshopID string
}

// NewCreator はCreatorの新しいインスタンスを生成する。
func NewCreator(
	taskRepo repository.TaskRepository,
	collectionRepo repository.CollectionRepository,
	enqueuer Enqueuer,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	defaultWorkshopID string,
) *Creator {
	return &Creator{
		taskRepo:          taskRepo,
		collectionRepo:    collectionRepo,
		enqueuer:          enqueuer,
		collector:         collector,
		logger:            logger,
		defaultWorkshopID: defaultWorkshopID,
	}
}

// CreateForItem は項目に対するタスクの作成を試みる。
// 前提条件を満たさない場合は作成せずスキップ理由を返す（エラーではない）。
// 並行作成との競合（部分一意インデックス違反）は重複スキップとして扱う。
func (c *Creator) CreateForItem(ctx context.Context, item *model.FavoriteItem, kind model.TaskKind) (*model.Task, SkipReason, error) {
	// ゲート1: 詳細レコードの存在
	if !item.RetryState.HasDetails() {
		c.collector.RecordTaskSkipped(string(kind), string(SkipNoDetails))
		return nil, SkipNoDetails, nil
	}

	// ゲート2: 非終端タスクの重複
	existing, err := c.taskRepo.FindNonTerminal(ctx, item.ID, kind)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("非終端タスクの確認に失敗: %w", err)
	}
	if existing != nil {
		c.collector.RecordTaskSkipped(string(kind), string(SkipDuplicate))
		return nil, SkipDuplicate, nil
	}

	workshopID, err := c.resolveWorkshop(ctx, item)
	if err != nil {
		return nil, SkipNone, err
	}

	now := time.Now()
	task := &model.Task{
		ID:             uuid.New().String(),
		FavoriteItemID: item.ID,
		Kind:           kind,
		WorkshopID:     workshopID,
		Status:         model.TaskStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if err := c.taskRepo.Create(ctx, task); err != nil {
		if repository.IsUniqueViolation(err) {
			// 並行作成との競合。相手の非終端タスクが存在するため重複スキップ。
			c.collector.RecordTaskSkipped(string(kind), string(SkipDuplicate))
			return nil, SkipDuplicate, nil
		}
		return nil, SkipNone, fmt.Errorf("タスクの作成に失敗: %w", err)
	}

	c.collector.RecordTaskCreated(string(kind))
	c.logger.Info("処理タスクを作成",
		slog.String("task_id", task.ID),
		slog.String("item_id", item.ID),
		slog.String("kind", string(kind)),
		slog.String("workshop_id", workshopID),
	)

	// 実行基盤への引き渡し。失敗してもタスク行はpendingのまま残り、
	// 実行基盤側の再取得で回収される。
	if c.enqueuer != nil {
		if err := c.enqueuer.Enqueue(ctx, task, item); err != nil {
			c.logger.Warn("タスクの実行基盤への送信に失敗",
				slog.String("task_id", task.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	return task, SkipNone, nil
}

// CreateForItemIfUnprocessed は項目にタスクが1件も存在しない場合のみ作成を試みる。
// 再観測された詳細取得済み項目の再投入経路で使用する。終端タスク（成功・失敗）が
// 既にある項目はイベントの再配信のたびに再処理されてはならないため、
// 状態を問わないタスクの存在をゲートにする。
func (c *Creator) CreateForItemIfUnprocessed(ctx context.Context, item *model.FavoriteItem, kind model.TaskKind) (*model.Task, SkipReason, error) {
	count, err := c.taskRepo.CountByItem(ctx, item.ID)
	if err != nil {
		return nil, SkipNone, fmt.Errorf("既存タスクの確認に失敗: %w", err)
	}
	if count > 0 {
		c.collector.RecordTaskSkipped(string(kind), string(SkipAlreadyProcessed))
		return nil, SkipAlreadyProcessed, nil
	}
	return c.CreateForItem(ctx, item, kind)
}

// resolveWorkshop は項目のコレクション紐づけからワークショップIDを解決する。
func (c *Creator) resolveWorkshop(ctx context.Context, item *model.FavoriteItem) (string, error) {
	if item.CollectionID == "" {
		return c.defaultWorkshopID, nil
	}

	collection, err := c.collectionRepo.FindByID(ctx, item.CollectionID)
	if err != nil {
		return "", fmt.Errorf("コレクションの解決に失敗: %w", err)
	}
	if collection == nil || collection.WorkshopID == "" {
		return c.defaultWorkshopID, nil
	}
	return collection.WorkshopID, nil
}
