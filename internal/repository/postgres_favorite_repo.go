package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/favepipe/internal/model"
)

// favoriteColumns はfavorite_itemsテーブルのSELECT対象カラム。
const favoriteColumns = `id, platform, platform_item_id, item_type, title, intro,
	cover_url, platform_favorite_id, author_id, collection_id,
	published_at, favorited_at,
	details_fetch_attempts, details_last_attempt_at, details_last_error, details_synced_at,
	created_at, updated_at`

// PostgresFavoriteRepo はPostgreSQLを使用したお気に入り項目リポジトリ。
// リトライ台帳の永続カラムもこのリポジトリが管理する。
type PostgresFavoriteRepo struct {
	db *sql.DB
}

// NewPostgresFavoriteRepo はPostgresFavoriteRepoを生成する。
func NewPostgresFavoriteRepo(db *sql.DB) *PostgresFavoriteRepo {
	return &PostgresFavoriteRepo{db: db}
}

// rowScanner は*sql.Rowと*sql.Rowsの共通スキャンインターフェース。
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanFavorite は1行をFavoriteItemに読み取る。
func scanFavorite(row rowScanner) (*model.FavoriteItem, error) {
	item := &model.FavoriteItem{}
	var intro, coverURL, platformFavoriteID, collectionID, lastError sql.NullString
	var publishedAt, lastAttemptAt, syncedAt sql.NullTime

	err := row.Scan(
		&item.ID, &item.Platform, &item.PlatformItemID, &item.ItemType,
		&item.Title, &intro, &coverURL, &platformFavoriteID,
		&item.AuthorID, &collectionID,
		&publishedAt, &item.FavoritedAt,
		&item.RetryState.AttemptCount, &lastAttemptAt, &lastError, &syncedAt,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	item.Intro = nullStringValue(intro)
	item.CoverURL = nullStringValue(coverURL)
	item.PlatformFavoriteID = nullStringValue(platformFavoriteID)
	item.CollectionID = nullStringValue(collectionID)
	item.RetryState.LastError = nullStringValue(lastError)
	if publishedAt.Valid {
		item.PublishedAt = &publishedAt.Time
	}
	if lastAttemptAt.Valid {
		item.RetryState.LastAttemptAt = &lastAttemptAt.Time
	}
	if syncedAt.Valid {
		item.RetryState.SyncedAt = &syncedAt.Time
	}

	return item, nil
}

// FindByPlatformItemID はプラットフォームと項目IDでお気に入り項目を検索する。
func (r *PostgresFavoriteRepo) FindByPlatformItemID(ctx context.Context, platform model.Platform, platformItemID string) (*model.FavoriteItem, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorite_items
		 WHERE platform = $1 AND platform_item_id = $2`,
		platform, platformItemID,
	)

	item, err := scanFavorite(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("お気に入り項目の検索に失敗しました: %w", err)
	}

	return item, nil
}

// Create はお気に入り項目を作成する。
func (r *PostgresFavoriteRepo) Create(ctx context.Context, item *model.FavoriteItem) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO favorite_items (id, platform, platform_item_id, item_type, title, intro,
		                             cover_url, platform_favorite_id, author_id, collection_id,
		                             published_at, favorited_at,
		                             details_fetch_attempts, details_last_attempt_at,
		                             details_last_error, details_synced_at,
		                             created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`,
		item.ID, item.Platform, item.PlatformItemID, item.ItemType,
		item.Title, nullString(item.Intro), nullString(item.CoverURL),
		nullString(item.PlatformFavoriteID), item.AuthorID, nullString(item.CollectionID),
		item.PublishedAt, item.FavoritedAt,
		item.RetryState.AttemptCount, item.RetryState.LastAttemptAt,
		nullString(item.RetryState.LastError), item.RetryState.SyncedAt,
		item.CreatedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("お気に入り項目の作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateRefreshable は再観測時に更新可能なフィールドのみを上書きする。
// リトライ台帳のカラムには触れない。
func (r *PostgresFavoriteRepo) UpdateRefreshable(ctx context.Context, item *model.FavoriteItem) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE favorite_items SET title = $2, intro = $3, cover_url = $4, updated_at = $5
		 WHERE id = $1`,
		item.ID, item.Title, nullString(item.Intro), nullString(item.CoverURL), item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("お気に入り項目の更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateRetryState はリトライ台帳の永続状態を更新する。
func (r *PostgresFavoriteRepo) UpdateRetryState(ctx context.Context, item *model.FavoriteItem) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE favorite_items SET
		    details_fetch_attempts = $2, details_last_attempt_at = $3,
		    details_last_error = $4, details_synced_at = $5, updated_at = $6
		 WHERE id = $1`,
		item.ID, item.RetryState.AttemptCount, item.RetryState.LastAttemptAt,
		nullString(item.RetryState.LastError), item.RetryState.SyncedAt, item.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("リトライ台帳の更新に失敗しました: %w", err)
	}
	return nil
}

// ListDetailsSyncCandidates は詳細未取得かつ試行回数が上限未満の項目を取得する。
// バックオフ経過の判定はSQLでは行わず、呼び出し元の台帳ポリシーに委ねる。
func (r *PostgresFavoriteRepo) ListDetailsSyncCandidates(ctx context.Context, platform model.Platform, maxAttempts, limit int) ([]*model.FavoriteItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorite_items
		 WHERE platform = $1
		   AND details_synced_at IS NULL
		   AND details_fetch_attempts < $2
		 ORDER BY
		    CASE WHEN details_last_attempt_at IS NULL THEN 0 ELSE 1 END,
		    details_last_attempt_at ASC NULLS FIRST
		 LIMIT $3`,
		platform, maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("詳細同期候補の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.FavoriteItem
	for rows.Next() {
		item, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("詳細同期候補の行読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("詳細同期候補の走査に失敗しました: %w", err)
	}

	return items, nil
}

// ListPermanentlyFailed は恒久失敗となった項目を更新日時の新しい順に取得する。
func (r *PostgresFavoriteRepo) ListPermanentlyFailed(ctx context.Context, maxAttempts, limit int) ([]*model.FavoriteItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+favoriteColumns+` FROM favorite_items
		 WHERE details_synced_at IS NULL
		   AND details_fetch_attempts >= $1
		 ORDER BY updated_at DESC
		 LIMIT $2`,
		maxAttempts, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("恒久失敗項目の一覧取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var items []*model.FavoriteItem
	for rows.Next() {
		item, err := scanFavorite(rows)
		if err != nil {
			return nil, fmt.Errorf("恒久失敗項目の行読み取りに失敗しました: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("恒久失敗項目の走査に失敗しました: %w", err)
	}

	return items, nil
}

// compile-time interface check
var _ FavoriteRepository = (*PostgresFavoriteRepo)(nil)
