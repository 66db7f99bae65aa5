// Package syncretry は詳細未取得項目の定期リトライ処理を提供する。
// 受信時に取得できなかった項目やバックオフ待ち明けの項目を拾い直す。
package syncretry

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/favepipe/internal/detail"
	"github.com/hitoshi/favepipe/internal/ledger"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
	"github.com/hitoshi/favepipe/internal/stream"
	"github.com/hitoshi/favepipe/internal/task"
)

// defaultCandidateLimit は1サイクルあたり1プラットフォームで処理する項目数の上限。
const defaultCandidateLimit = 100

// DetailSyncer は項目の詳細取得と同期のインターフェース。
type DetailSyncer interface {
	SyncItem(ctx context.Context, item *model.FavoriteItem, fetcher detail.Fetcher) error
}

// TaskCreator はタスク作成のゲート判定と作成のインターフェース。
type TaskCreator interface {
	CreateForItem(ctx context.Context, item *model.FavoriteItem, kind model.TaskKind) (*model.Task, task.SkipReason, error)
}

// Sweeper は詳細未取得項目を定期的に拾い直すバックグラウンドワーカー。
// SQLは候補の絞り込みのみを行い、バックオフ経過の最終判定は台帳ポリシーで行う。
// semaphoreパターンで最大並列数を制御する。
type Sweeper struct {
	favoriteRepo   repository.FavoriteRepository
	registry       *stream.Registry
	syncer         DetailSyncer
	creator        TaskCreator
	ledger         *ledger.Ledger
	logger         *slog.Logger
	maxConcurrency int
	candidateLimit int
}

// NewSweeper はSweeperの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値10を使用する。
func NewSweeper(
	favoriteRepo repository.FavoriteRepository,
	registry *stream.Registry,
	syncer DetailSyncer,
	creator TaskCreator,
	ldg *ledger.Ledger,
	logger *slog.Logger,
	maxConcurrency int,
) *Sweeper {
	if maxConcurrency <= 0 {
		maxConcurrency = 10
	}
	return &Sweeper{
		favoriteRepo:   favoriteRepo,
		registry:       registry,
		syncer:         syncer,
		creator:        creator,
		ledger:         ldg,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		candidateLimit: defaultCandidateLimit,
	}
}

// Start は指定間隔のティッカーでスイープを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Sweeper) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("詳細取得リトライワーカーを開始しました",
		slog.Duration("interval", interval),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	if err := s.RunOnce(ctx); err != nil {
		s.logger.Error("リトライスイープの実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("詳細取得リトライワーカーを停止しました")
			return
		case <-ticker.C:
			if err := s.RunOnce(ctx); err != nil {
				s.logger.Error("リトライスイープの実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は登録済み全プラットフォームの候補を1回スイープする。
func (s *Sweeper) RunOnce(ctx context.Context) error {
	start := time.Now()
	totalSynced := 0

	for _, platform := range s.registry.Platforms() {
		if ctx.Err() != nil {
			break
		}
		synced, err := s.sweepPlatform(ctx, platform)
		if err != nil {
			// 1プラットフォームの失敗で他のスイープを止めない
			s.logger.Error("プラットフォームのスイープに失敗しました",
				slog.String("platform", string(platform)),
				slog.String("error", err.Error()),
			)
			continue
		}
		totalSynced += synced
	}

	duration := time.Since(start)
	s.logger.Info("リトライスイープが完了しました",
		slog.Int("synced_count", totalSynced),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// sweepPlatform は1プラットフォーム分の候補を取得し、並列で詳細取得を実行する。
func (s *Sweeper) sweepPlatform(ctx context.Context, platform model.Platform) (int, error) {
	bundle, ok := s.registry.Lookup(platform)
	if !ok {
		return 0, nil
	}

	candidates, err := s.favoriteRepo.ListDetailsSyncCandidates(ctx, platform, s.ledger.MaxAttempts(), s.candidateLimit)
	if err != nil {
		return 0, err
	}

	// バックオフ待ちの項目を台帳ポリシーで除外する
	now := time.Now()
	eligible := candidates[:0]
	for _, item := range candidates {
		if s.ledger.Eligible(item.RetryState, now) {
			eligible = append(eligible, item)
		}
	}

	if len(eligible) == 0 {
		return 0, nil
	}

	s.logger.Info("リトライ対象の項目を取得しました",
		slog.String("platform", string(platform)),
		slog.Int("candidate_count", len(eligible)),
	)

	// semaphoreパターンで並列数を制御
	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	synced := 0

	for _, item := range eligible {
		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(it *model.FavoriteItem) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			if err := s.syncer.SyncItem(ctx, it, bundle.Fetcher); err != nil {
				// 失敗は台帳に記録済み
				return
			}
			if !it.RetryState.HasDetails() {
				return
			}

			mu.Lock()
			synced++
			mu.Unlock()

			if _, _, err := s.creator.CreateForItem(ctx, it, model.TaskKindAnalysis); err != nil {
				s.logger.Warn("リトライ成功後のタスク作成に失敗しました",
					slog.String("item_id", it.ID),
					slog.String("error", err.Error()),
				)
			}
		}(item)
	}

	wg.Wait()
	return synced, nil
}
