package model

import "time"

// BilibiliVideoDetail はBilibili動画の詳細レコードを表す。
// favorite_itemと1:1で紐づき、詳細取得成功まで存在しない。
type BilibiliVideoDetail struct {
	ID             string
	FavoriteItemID string
	Bvid           string
	Tname          string
	DurationSec    int
	ViewCount      int
	LikeCount      int
	CoinCount      int
	FavoriteCount  int
	ReplyCount     int
	ShareCount     int
	DanmakuCount   int
	VideoURL       string
	AudioURL       string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// XiaohongshuNoteDetail は小紅書ノートの詳細レコードを表す。
// xsec_tokenは簡易保存の時点で先行して書き込まれる場合がある。
type XiaohongshuNoteDetail struct {
	ID             string
	FavoriteItemID string
	NoteID         string
	XsecToken      string
	Description    string
	IPLocation     string
	PublishedDate  string
	LikeCount      int
	CollectCount   int
	CommentCount   int
	ImageURLs      []string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DetailRecord はプラットフォーム別詳細レコードのタグ付きユニオン。
// 外部詳細取得ポート（detail.Fetcher）の戻り値として使用される。
// Platformに応じてBilibiliまたはXiaohongshuのいずれか一方が設定される。
type DetailRecord struct {
	Platform    Platform
	Bilibili    *BilibiliVideoDetail
	Xiaohongshu *XiaohongshuNoteDetail
}
