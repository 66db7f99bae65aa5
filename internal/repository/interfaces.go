// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/favepipe/internal/model"
)

// AuthorRepository は投稿者データの永続化インターフェース。
type AuthorRepository interface {
	// FindByPlatformUserID はプラットフォームとユーザーIDで投稿者を検索する。
	// 見つからない場合はnilを返す。
	FindByPlatformUserID(ctx context.Context, platform model.Platform, platformUserID string) (*model.Author, error)

	// Create は投稿者を作成する。
	// (platform, platform_user_id) の一意制約違反時はErrAlreadyExists相当の
	// 一意制約エラーを返す（呼び出し元が再読込で解決する）。
	Create(ctx context.Context, author *model.Author) error
}

// CollectionRepository はコレクションデータの永続化インターフェース。
type CollectionRepository interface {
	// FindByID は内部IDでコレクションを検索する。
	// 見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Collection, error)

	// FindByPlatformCollectionID はプラットフォームとコレクションIDでコレクションを検索する。
	// 見つからない場合はnilを返す。
	FindByPlatformCollectionID(ctx context.Context, platform model.Platform, platformCollectionID string) (*model.Collection, error)

	// Create はコレクションを作成する。
	Create(ctx context.Context, collection *model.Collection) error
}

// FavoriteRepository はお気に入り項目データの永続化インターフェース。
// リトライ台帳の永続状態もこのリポジトリが管理する。
type FavoriteRepository interface {
	// FindByPlatformItemID はプラットフォームと項目IDでお気に入り項目を検索する。
	// 見つからない場合はnilを返す。
	FindByPlatformItemID(ctx context.Context, platform model.Platform, platformItemID string) (*model.FavoriteItem, error)

	// Create はお気に入り項目を作成する。リトライ台帳は試行0回で初期化される。
	// (platform, platform_item_id) の一意制約違反はIsUniqueViolationで判定できる。
	Create(ctx context.Context, item *model.FavoriteItem) error

	// UpdateRefreshable は再観測時に更新可能なフィールド（title/intro/cover_url）
	// のみを上書きする。リトライ台帳と詳細レコードには触れない。
	UpdateRefreshable(ctx context.Context, item *model.FavoriteItem) error

	// UpdateRetryState はリトライ台帳の永続状態
	// （attempt_count/last_attempt_at/last_error/synced_at）を更新する。
	UpdateRetryState(ctx context.Context, item *model.FavoriteItem) error

	// ListDetailsSyncCandidates は詳細未取得かつ試行回数が上限未満の項目を
	// 最終試行の古い順に取得する。バックオフ経過の判定は呼び出し元が
	// 台帳ポリシーで行う（ポリシーが差し替え可能なためSQLでは判定しない）。
	ListDetailsSyncCandidates(ctx context.Context, platform model.Platform, maxAttempts, limit int) ([]*model.FavoriteItem, error)

	// ListPermanentlyFailed は試行回数が上限に達し詳細未取得のまま
	// 恒久失敗となった項目を取得する。観測用途。
	ListPermanentlyFailed(ctx context.Context, maxAttempts, limit int) ([]*model.FavoriteItem, error)
}

// DetailRepository はプラットフォーム別詳細レコードの永続化インターフェース。
type DetailRepository interface {
	// SaveDetails は詳細レコードをfavorite_item_idで冪等にUPSERTする。
	// レコードのPlatformに応じて対応するテーブルに保存される。
	SaveDetails(ctx context.Context, favoriteItemID string, record *model.DetailRecord) error

	// SaveXiaohongshuToken は簡易保存の時点で判明しているxsec_tokenを
	// 先行して保存する。既にレコードがある場合はトークンのみ更新する。
	SaveXiaohongshuToken(ctx context.Context, favoriteItemID, noteID, xsecToken string) error

	// FindXiaohongshuToken は項目に紐づくxsec_tokenを取得する。
	// レコードがない場合は空文字列を返す。
	FindXiaohongshuToken(ctx context.Context, favoriteItemID string) (string, error)
}

// TaskRepository は処理タスクデータの永続化インターフェース。
type TaskRepository interface {
	// FindNonTerminal は指定項目・種別の非終端（pending/in_progress）タスクを
	// 検索する。見つからない場合はnilを返す。
	FindNonTerminal(ctx context.Context, favoriteItemID string, kind model.TaskKind) (*model.Task, error)

	// CountByItem は指定項目のタスク総数（状態不問）を返す。
	// リカバリ判定に使用する。
	CountByItem(ctx context.Context, favoriteItemID string) (int, error)

	// Create はタスクを作成する。非終端タスクの部分一意インデックスに
	// 違反した場合、IsUniqueViolationで判定可能なエラーを返す。
	Create(ctx context.Context, task *model.Task) error

	// DeleteTerminalOlderThan は終端状態かつ更新日時がbeforeより古いタスクを
	// 削除し、削除件数を返す。クリーンアップジョブ用。
	DeleteTerminalOlderThan(ctx context.Context, before time.Time) (int64, error)
}
