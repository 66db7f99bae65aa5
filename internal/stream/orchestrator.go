package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hitoshi/favepipe/internal/detail"
	"github.com/hitoshi/favepipe/internal/favorite"
	"github.com/hitoshi/favepipe/internal/metrics"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/task"
)

// ItemPersister は簡易項目の冪等な永続化インターフェース。
// 実装はinternal/favoriteにある。
type ItemPersister interface {
	Persist(ctx context.Context, platform model.Platform, brief *model.BriefItem) (*favorite.PersistResult, error)
}

// DetailSyncer は項目の詳細取得と同期のインターフェース。
// 実装はinternal/detailにある。
type DetailSyncer interface {
	SyncItem(ctx context.Context, item *model.FavoriteItem, fetcher detail.Fetcher) error
}

// TaskCreator はタスク作成のゲート判定と作成のインターフェース。
// 実装はinternal/taskにある。
type TaskCreator interface {
	CreateForItem(ctx context.Context, item *model.FavoriteItem, kind model.TaskKind) (*model.Task, task.SkipReason, error)
	// CreateForItemIfUnprocessed はタスクが1件も存在しない場合のみ作成する。
	// 再観測された詳細取得済み項目の再投入で使用する。
	CreateForItemIfUnprocessed(ctx context.Context, item *model.FavoriteItem, kind model.TaskKind) (*model.Task, task.SkipReason, error)
}

// HandleResult は1イベントの処理結果サマリ。
type HandleResult struct {
	ItemsTotal     int // イベントに含まれていた項目数
	ItemsPersisted int // 永続化に成功した項目数
	ItemsFailed    int // 永続化に失敗した項目数
	ItemsSynced    int // 詳細取得まで完了した項目数
	TasksCreated   int
	FirstSyncSkip  bool // 初回大量同期と判定し詳細取得を見送ったか
}

// Orchestrator はストリームイベントの受信パイプライン全体を駆動する。
type Orchestrator struct {
	registry           *Registry
	persister          ItemPersister
	syncer             DetailSyncer
	creator            TaskCreator
	collector          metrics.MetricsCollector
	logger             *slog.Logger
	firstSyncThreshold int
}

// NewOrchestrator は新しいOrchestratorを作成する。
// firstSyncThresholdを超える新規項目を含むイベントは初回大量同期とみなし、
// 詳細取得とタスク作成を定期スイープに委ねる。0以下で無効。
func NewOrchestrator(
	registry *Registry,
	persister ItemPersister,
	syncer DetailSyncer,
	creator TaskCreator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	firstSyncThreshold int,
) *Orchestrator {
	return &Orchestrator{
		registry:           registry,
		persister:          persister,
		syncer:             syncer,
		creator:            creator,
		collector:          collector,
		logger:             logger,
		firstSyncThreshold: firstSyncThreshold,
	}
}

// HandleEvent は生のイベントペイロードを受け取り、パース・永続化・詳細取得・
// タスク作成までを実行する。項目単位の失敗はイベント全体を失敗させない。
func (o *Orchestrator) HandleEvent(ctx context.Context, platform model.Platform, raw []byte) (*HandleResult, error) {
	bundle, ok := o.registry.Lookup(platform)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrUnknownPlatform, platform)
	}

	o.collector.RecordEventReceived(string(platform))

	event, err := bundle.Parser.Parse(raw)
	if err != nil {
		o.collector.RecordEventMalformed(string(platform))
		return nil, fmt.Errorf("イベントのパースに失敗しました: %w", err)
	}

	result := &HandleResult{ItemsTotal: len(event.Items)}
	if !event.HasItems() {
		o.logger.Debug("項目を含まないイベントを受信", slog.String("platform", string(platform)))
		return result, nil
	}

	// フェーズ1: 全項目を永続化する
	var persisted []*favorite.PersistResult
	newlyCreated := 0
	for i := range event.Items {
		pr, err := o.persister.Persist(ctx, platform, &event.Items[i])
		if err != nil {
			result.ItemsFailed++
			o.logger.Warn("項目の永続化に失敗",
				slog.String("platform", string(platform)),
				slog.String("platform_item_id", event.Items[i].PlatformItemID),
				slog.Any("error", err))
			continue
		}
		persisted = append(persisted, pr)
		if pr.NewlyCreated {
			newlyCreated++
		}
	}
	result.ItemsPersisted = len(persisted)
	o.collector.RecordItemsPersisted(string(platform), len(persisted))

	// フェーズ2: 初回大量同期の判定
	// しきい値を超える新規項目は履歴一括流入とみなし、詳細取得を定期スイープに委ねる
	if o.firstSyncThreshold > 0 && newlyCreated > o.firstSyncThreshold {
		result.FirstSyncSkip = true
		o.logger.Info("初回大量同期と判定し詳細取得を見送ります",
			slog.String("platform", string(platform)),
			slog.Int("newly_created", newlyCreated),
			slog.Int("threshold", o.firstSyncThreshold))
		return result, nil
	}

	// フェーズ3: 詳細取得とタスク作成（項目単位で隔離）
	for _, pr := range persisted {
		if ctx.Err() != nil {
			break
		}
		item := pr.Item
		// 詳細取得済みの既存項目の再観測。この時点で記録しておき、
		// タスク作成のゲート選択に使う
		alreadySynced := item.RetryState.HasDetails()
		if err := o.syncer.SyncItem(ctx, item, bundle.Fetcher); err != nil {
			// 失敗は台帳に記録済み。次の項目へ進む
			continue
		}
		if !item.RetryState.HasDetails() {
			continue
		}
		result.ItemsSynced++

		// 今回のイベントで詳細を取得した項目は通常のゲート（非終端タスクの重複）で作成する。
		// 詳細取得済みのまま再観測された項目は、タスクが1件も存在しない場合のみ再投入する。
		// 終端タスクを持つ処理済み項目がイベント再配信のたびに再処理されることを防ぐ
		var created *model.Task
		if alreadySynced {
			created, _, err = o.creator.CreateForItemIfUnprocessed(ctx, item, model.TaskKindAnalysis)
		} else {
			created, _, err = o.creator.CreateForItem(ctx, item, model.TaskKindAnalysis)
		}
		if err != nil {
			o.logger.Warn("タスク作成に失敗",
				slog.String("item_id", item.ID),
				slog.Any("error", err))
			continue
		}
		if created != nil {
			result.TasksCreated++
		}
	}

	o.logger.Info("イベントを処理しました",
		slog.String("platform", string(platform)),
		slog.Int("items_total", result.ItemsTotal),
		slog.Int("items_persisted", result.ItemsPersisted),
		slog.Int("items_synced", result.ItemsSynced),
		slog.Int("tasks_created", result.TasksCreated))
	return result, nil
}
