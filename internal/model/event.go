package model

import "time"

// BriefCreator はストリームイベントに含まれる投稿者情報のDTO。
type BriefCreator struct {
	UserID    string
	Username  string
	Avatar    string
	XsecToken string // 小紅書のみ
}

// BriefItem はストリームイベントからパースされた未保存のお気に入り項目DTO。
// パーサーが生成し、ItemPersisterに渡される。
type BriefItem struct {
	PlatformItemID     string
	ItemType           ItemType
	Title              string
	Intro              string // 未サニタイズ
	CoverURL           string
	PlatformFavoriteID string
	CollectionID       string // イベントのparamsから注入される場合あり（小紅書）
	Creator            BriefCreator
	XsecToken          string // 小紅書のみ。詳細取得時の認証トークン
	FavoritedAt        time.Time
	PublishedAt        *time.Time
}

// StreamEvent はパース済みストリームイベントを表す。
// Itemsが空のイベントはエラーではなく、パイプラインは単に何もしない。
type StreamEvent struct {
	Platform     Platform
	CollectionID string // イベントparams由来のコレクションID（小紅書）
	BatchID      string
	Items        []BriefItem
}

// HasItems はイベントが1件以上の項目を含むかどうかを返す。
func (e *StreamEvent) HasItems() bool {
	return len(e.Items) > 0
}
