// Package detail は詳細レコードの取得と同期を提供する。
package detail

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/favepipe/internal/ledger"
	"github.com/hitoshi/favepipe/internal/metrics"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
)

// Fetcher はプラットフォームAPIから1項目の詳細を取得するインターフェース。
// プラットフォームごとの実装はinternal/platform配下にある。
type Fetcher interface {
	// FetchDetails は項目の詳細レコードを取得する。
	// 認証失敗・対象削除・レート制限などはエラーとして返し、
	// リトライ可否の判断は呼び出し元の台帳に委ねる。
	FetchDetails(ctx context.Context, item *model.FavoriteItem) (*model.DetailRecord, error)
}

// Syncer は詳細取得の試行と台帳更新を調停するサービス。
// 試行開始は取得前に永続化され、クラッシュをまたいでも
// 最大試行回数が上限として機能する。
type Syncer struct {
	favoriteRepo repository.FavoriteRepository
	detailRepo   repository.DetailRepository
	ledger       *ledger.Ledger
	collector    metrics.MetricsCollector
	logger       *slog.Logger
	fetchTimeout time.Duration
}

// NewSyncer はSyncerの新しいインスタンスを生成する。
func NewSyncer(
	favoriteRepo repository.FavoriteRepository,
	detailRepo repository.DetailRepository,
	ldg *ledger.Ledger,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	fetchTimeout time.Duration,
) *Syncer {
	return &Syncer{
		favoriteRepo: favoriteRepo,
		detailRepo:   detailRepo,
		ledger:       ldg,
		collector:    collector,
		logger:       logger,
		fetchTimeout: fetchTimeout,
	}
}

// SyncItem は1項目の詳細取得を試行する。
// 取得済み・適格でない項目は何もせずスキップする（nilを返す）。
// 試行する場合は開始を台帳に記録してから取得し、結果を台帳に反映する。
func (s *Syncer) SyncItem(ctx context.Context, item *model.FavoriteItem, fetcher Fetcher) error {
	now := time.Now()

	if item.RetryState.HasDetails() {
		return nil
	}
	if !s.ledger.Eligible(item.RetryState, now) {
		s.logger.Debug("詳細取得の適格条件を満たさないためスキップ",
			slog.String("item_id", item.ID),
			slog.String("state", s.ledger.StateOf(item.RetryState, now).String()),
		)
		return nil
	}

	// 試行開始を先に永続化する。取得中にクラッシュしても
	// この試行は消費済みとして数えられる。
	ledger.ApplyAttemptStart(item, now)
	if err := s.favoriteRepo.UpdateRetryState(ctx, item); err != nil {
		return fmt.Errorf("試行開始の記録に失敗: %w", err)
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	start := time.Now()
	record, err := fetcher.FetchDetails(fetchCtx, item)
	s.collector.RecordDetailsFetchLatency(string(item.Platform), time.Since(start))

	if err != nil {
		return s.recordFailure(ctx, item, err, fetchFailureReason(err))
	}
	if record == nil {
		return s.recordFailure(ctx, item, fmt.Errorf("詳細レコードが空です"), failureReasonEmptyRecord)
	}

	if err := s.detailRepo.SaveDetails(ctx, item.ID, record); err != nil {
		return s.recordFailure(ctx, item, fmt.Errorf("詳細の保存に失敗: %w", err), failureReasonStorage)
	}

	ledger.ApplySuccess(item, time.Now())
	if err := s.favoriteRepo.UpdateRetryState(ctx, item); err != nil {
		return fmt.Errorf("成功の記録に失敗: %w", err)
	}

	s.collector.RecordDetailsSyncSuccess(string(item.Platform))
	s.logger.Info("詳細取得に成功",
		slog.String("platform", string(item.Platform)),
		slog.String("item_id", item.ID),
		slog.Int("attempt", item.RetryState.AttemptCount),
	)
	return nil
}

// SyncBatch は複数項目の詳細取得を試行する。
// 1項目の失敗は他の項目に影響しない（項目単位の失敗分離）。
// 戻り値は成功数と失敗数。
func (s *Syncer) SyncBatch(ctx context.Context, items []*model.FavoriteItem, fetcher Fetcher) (synced, failed int) {
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		had := item.RetryState.HasDetails()
		if err := s.SyncItem(ctx, item, fetcher); err != nil {
			failed++
			continue
		}
		if !had && item.RetryState.HasDetails() {
			synced++
		}
	}
	return synced, failed
}

// 失敗メトリクスのreasonラベル値。カーディナリティを抑えるため
// この定数集合に限定する。
const (
	failureReasonFetch       = "fetch_error"
	failureReasonTimeout     = "timeout"
	failureReasonEmptyRecord = "empty_record"
	failureReasonStorage     = "storage"
)

// fetchFailureReason は取得エラーを失敗分類に変換する。
func fetchFailureReason(cause error) string {
	if errors.Is(cause, context.DeadlineExceeded) {
		return failureReasonTimeout
	}
	return failureReasonFetch
}

// recordFailure は取得失敗を台帳に記録する。
// 台帳更新自体の失敗は元のエラーより優先して返す。
func (s *Syncer) recordFailure(ctx context.Context, item *model.FavoriteItem, cause error, reason string) error {
	now := time.Now()
	ledger.ApplyFailure(item, cause.Error(), now)
	if err := s.favoriteRepo.UpdateRetryState(ctx, item); err != nil {
		return fmt.Errorf("失敗の記録に失敗: %w", err)
	}

	s.collector.RecordDetailsSyncFailure(string(item.Platform), reason)
	s.logger.Warn("詳細取得に失敗",
		slog.String("platform", string(item.Platform)),
		slog.String("item_id", item.ID),
		slog.Int("attempt", item.RetryState.AttemptCount),
		slog.Int("max_attempts", s.ledger.MaxAttempts()),
		slog.String("error", cause.Error()),
	)
	return cause
}
