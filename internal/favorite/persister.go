// Package favorite はお気に入り項目の簡易保存機能を提供する。
package favorite

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/favepipe/internal/ledger"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
	"github.com/hitoshi/favepipe/internal/security"
)

// PersistResult は1項目の保存結果を表す。
type PersistResult struct {
	// Item は保存後のお気に入り項目（新規・既存を問わず最新状態）。
	Item *model.FavoriteItem
	// NewlyCreated は今回の保存で新規作成された場合にtrue。
	NewlyCreated bool
	// NeedsRecovery は恒久失敗していた既存項目の台帳がリセットされ、
	// 詳細取得の再試行対象に戻った場合にtrue。
	NeedsRecovery bool
}

// Persister はストリームイベント由来の簡易項目を冪等に永続化するサービス。
// 投稿者・コレクションの自動作成、再観測時の上書き更新、
// 恒久失敗項目のリカバリ検出を担う。
type Persister struct {
	authorRepo     repository.AuthorRepository
	collectionRepo repository.CollectionRepository
	favoriteRepo   repository.FavoriteRepository
	detailRepo     repository.DetailRepository
	sanitizer      security.ContentSanitizerService
	ledger         *ledger.Ledger
	logger         *slog.Logger
	recoveryWindow time.Duration
}

// NewPersister はPersisterの新しいインスタンスを生成する。
// recoveryWindowは恒久失敗項目の再観測時に台帳リセットを許可するまでの経過時間。
func NewPersister(
	authorRepo repository.AuthorRepository,
	collectionRepo repository.CollectionRepository,
	favoriteRepo repository.FavoriteRepository,
	detailRepo repository.DetailRepository,
	sanitizer security.ContentSanitizerService,
	ldg *ledger.Ledger,
	logger *slog.Logger,
	recoveryWindow time.Duration,
) *Persister {
	return &Persister{
		authorRepo:     authorRepo,
		collectionRepo: collectionRepo,
		favoriteRepo:   favoriteRepo,
		detailRepo:     detailRepo,
		sanitizer:      sanitizer,
		ledger:         ldg,
		logger:         logger,
		recoveryWindow: recoveryWindow,
	}
}

// Persist は簡易項目を冪等に保存する。
// 既存項目の場合はタイトル・紹介文・カバーのみ上書きし、
// リトライ台帳と詳細レコードには触れない。
// 小紅書のxsec_tokenは新規・既存を問わず先行保存される。
func (p *Persister) Persist(ctx context.Context, platform model.Platform, brief *model.BriefItem) (*PersistResult, error) {
	now := time.Now()

	author, err := p.ensureAuthor(ctx, platform, brief.Creator, now)
	if err != nil {
		return nil, fmt.Errorf("投稿者の確保に失敗: %w", err)
	}

	var collection *model.Collection
	if brief.CollectionID != "" {
		collection, err = p.ensureCollection(ctx, platform, brief.CollectionID, now)
		if err != nil {
			return nil, fmt.Errorf("コレクションの確保に失敗: %w", err)
		}
	}

	existing, err := p.favoriteRepo.FindByPlatformItemID(ctx, platform, brief.PlatformItemID)
	if err != nil {
		return nil, fmt.Errorf("既存項目の検索に失敗: %w", err)
	}

	result := &PersistResult{}
	if existing == nil {
		item, createErr := p.createItem(ctx, platform, brief, author, collection, now)
		if createErr != nil {
			return nil, createErr
		}
		if item != nil {
			result.Item = item
			result.NewlyCreated = true
		} else {
			// 並行保存との競合。相手が作成済みなので再読込して既存扱いにする。
			existing, err = p.favoriteRepo.FindByPlatformItemID(ctx, platform, brief.PlatformItemID)
			if err != nil {
				return nil, fmt.Errorf("競合後の再読込に失敗: %w", err)
			}
			if existing == nil {
				return nil, fmt.Errorf("一意制約違反後に項目が見つかりません: %s", brief.PlatformItemID)
			}
		}
	}

	if existing != nil {
		if err := p.refreshItem(ctx, existing, brief, now); err != nil {
			return nil, err
		}
		result.Item = existing
		result.NeedsRecovery = p.detectRecovery(ctx, existing, now)
	}

	// 小紅書のxsec_tokenは簡易保存の時点で先行保存する。
	// 詳細取得時の認証に必要で、イベントにしか含まれない場合があるため。
	if platform == model.PlatformXiaohongshu && brief.XsecToken != "" {
		if err := p.detailRepo.SaveXiaohongshuToken(ctx, result.Item.ID, brief.PlatformItemID, brief.XsecToken); err != nil {
			return nil, fmt.Errorf("xsec_tokenの先行保存に失敗: %w", err)
		}
	}

	return result, nil
}

// ensureAuthor は投稿者を検索し、存在しなければ作成する。
// 並行作成との競合（一意制約違反）は再読込で解決する。
func (p *Persister) ensureAuthor(ctx context.Context, platform model.Platform, creator model.BriefCreator, now time.Time) (*model.Author, error) {
	author, err := p.authorRepo.FindByPlatformUserID(ctx, platform, creator.UserID)
	if err != nil {
		return nil, err
	}
	if author != nil {
		return author, nil
	}

	author = &model.Author{
		ID:             uuid.New().String(),
		Platform:       platform,
		PlatformUserID: creator.UserID,
		Username:       p.sanitizer.SanitizeText(creator.Username),
		AvatarURL:      creator.Avatar,
		CreatedAt:      now,
	}
	if err := p.authorRepo.Create(ctx, author); err != nil {
		if repository.IsUniqueViolation(err) {
			return p.authorRepo.FindByPlatformUserID(ctx, platform, creator.UserID)
		}
		return nil, err
	}
	return author, nil
}

// ensureCollection はコレクションを検索し、存在しなければ作成する。
// タイトルはイベントに含まれないため、プラットフォームIDを仮タイトルとする。
func (p *Persister) ensureCollection(ctx context.Context, platform model.Platform, platformCollectionID string, now time.Time) (*model.Collection, error) {
	collection, err := p.collectionRepo.FindByPlatformCollectionID(ctx, platform, platformCollectionID)
	if err != nil {
		return nil, err
	}
	if collection != nil {
		return collection, nil
	}

	collection = &model.Collection{
		ID:                   uuid.New().String(),
		Platform:             platform,
		PlatformCollectionID: platformCollectionID,
		Title:                platformCollectionID,
		CreatedAt:            now,
	}
	if err := p.collectionRepo.Create(ctx, collection); err != nil {
		if repository.IsUniqueViolation(err) {
			return p.collectionRepo.FindByPlatformCollectionID(ctx, platform, platformCollectionID)
		}
		return nil, err
	}
	return collection, nil
}

// createItem は新規項目を作成する。リトライ台帳は試行0回で初期化される。
// 一意制約違反（並行保存の競合）の場合は(nil, nil)を返し、呼び出し元が再読込する。
func (p *Persister) createItem(
	ctx context.Context,
	platform model.Platform,
	brief *model.BriefItem,
	author *model.Author,
	collection *model.Collection,
	now time.Time,
) (*model.FavoriteItem, error) {
	item := &model.FavoriteItem{
		ID:                 uuid.New().String(),
		Platform:           platform,
		PlatformItemID:     brief.PlatformItemID,
		ItemType:           brief.ItemType,
		Title:              p.sanitizer.SanitizeText(brief.Title),
		Intro:              p.sanitizer.SanitizeText(brief.Intro),
		CoverURL:           brief.CoverURL,
		PlatformFavoriteID: brief.PlatformFavoriteID,
		AuthorID:           author.ID,
		PublishedAt:        brief.PublishedAt,
		FavoritedAt:        brief.FavoritedAt,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if collection != nil {
		item.CollectionID = collection.ID
	}

	if err := p.favoriteRepo.Create(ctx, item); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("項目の作成に失敗: %w", err)
	}

	p.logger.Info("お気に入り項目を新規保存",
		slog.String("platform", string(platform)),
		slog.String("platform_item_id", brief.PlatformItemID),
		slog.String("item_id", item.ID),
	)
	return item, nil
}

// refreshItem は既存項目の更新可能フィールドのみを上書きする。
func (p *Persister) refreshItem(ctx context.Context, existing *model.FavoriteItem, brief *model.BriefItem, now time.Time) error {
	existing.Title = p.sanitizer.SanitizeText(brief.Title)
	existing.Intro = p.sanitizer.SanitizeText(brief.Intro)
	existing.CoverURL = brief.CoverURL
	existing.UpdatedAt = now

	if err := p.favoriteRepo.UpdateRefreshable(ctx, existing); err != nil {
		return fmt.Errorf("項目の上書き更新に失敗: %w", err)
	}
	return nil
}

// detectRecovery は恒久失敗した既存項目の再観測を検出し、台帳をリセットする。
// 最終試行からrecoveryWindow以上経過している場合のみリセットし、
// 失敗直後の再観測で即座に再試行が走ることを防ぐ。
func (p *Persister) detectRecovery(ctx context.Context, item *model.FavoriteItem, now time.Time) bool {
	if p.ledger.StateOf(item.RetryState, now) != ledger.StatePermanentlyFailed {
		return false
	}
	if item.RetryState.LastAttemptAt != nil && now.Sub(*item.RetryState.LastAttemptAt) < p.recoveryWindow {
		return false
	}

	ledger.ApplyRecovery(item, now)
	if err := p.favoriteRepo.UpdateRetryState(ctx, item); err != nil {
		p.logger.Error("リカバリ時の台帳リセットに失敗",
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return false
	}

	p.logger.Info("恒久失敗項目のリカバリを実行",
		slog.String("platform", string(item.Platform)),
		slog.String("item_id", item.ID),
	)
	return true
}
