// Package model はドメインモデルを定義する。
package model

import "time"

// Platform はお気に入りの取得元プラットフォームを表す。
type Platform string

const (
	// PlatformBilibili はBilibiliプラットフォーム。
	PlatformBilibili Platform = "bilibili"
	// PlatformXiaohongshu は小紅書（Xiaohongshu）プラットフォーム。
	PlatformXiaohongshu Platform = "xiaohongshu"
)

// Valid はプラットフォーム識別子が既知の値かどうかを返す。
func (p Platform) Valid() bool {
	switch p {
	case PlatformBilibili, PlatformXiaohongshu:
		return true
	}
	return false
}

// ItemType はお気に入り項目の種別を表す。
type ItemType string

const (
	// ItemTypeVideo は動画（Bilibili）。
	ItemTypeVideo ItemType = "video"
	// ItemTypeNote はノート（小紅書）。
	ItemTypeNote ItemType = "note"
)

// Author はプラットフォーム上の投稿者を表す。
// 初回観測時に自動作成され、以降はプラットフォームIDで参照される。
// このパイプラインからは削除されない。
type Author struct {
	ID             string
	Platform       Platform
	PlatformUserID string
	Username       string
	AvatarURL      string
	CreatedAt      time.Time
}

// Collection はお気に入り項目が属するプラットフォーム上のコレクションを表す。
// WorkshopIDが設定されている場合、このコレクションの項目のタスクは
// そのワークショップにルーティングされる。
type Collection struct {
	ID                   string
	Platform             Platform
	PlatformCollectionID string
	Title                string
	Description          string
	CoverURL             string
	ItemCount            int
	WorkshopID           string
	CreatedAt            time.Time
}

// FavoriteItem はお気に入り項目の簡易レコードを表す。
// ストリームイベントの初回観測時に作成され、(platform, platform_item_id) が一意。
// タイトル・紹介文・カバーは再観測時に上書き更新されるが、
// RetryStateと詳細レコードは既存の値が維持される。
type FavoriteItem struct {
	ID                 string
	Platform           Platform
	PlatformItemID     string
	ItemType           ItemType
	Title              string
	Intro              string // サニタイズ済み
	CoverURL           string
	PlatformFavoriteID string
	AuthorID           string
	CollectionID       string // 内部コレクションID（未所属の場合は空）
	PublishedAt        *time.Time
	FavoritedAt        time.Time
	RetryState         RetryState
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// RetryState は詳細取得の永続化されたリトライ台帳を表す。
// AttemptCountは開始された試行の回数を数える（完了ではなく開始時点で加算）。
// プロセス再起動後も、この永続状態から適格性が再計算される。
type RetryState struct {
	AttemptCount  int
	LastAttemptAt *time.Time
	LastError     string // 成功時のみクリアされる
	SyncedAt      *time.Time
}

// HasDetails は詳細取得が成功済みかどうかを返す。
func (r RetryState) HasDetails() bool {
	return r.SyncedAt != nil
}
