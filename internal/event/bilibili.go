package event

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hitoshi/favepipe/internal/model"
)

// bilibiliRawItem はBilibiliストリームイベント内の1項目の生データ。
type bilibiliRawItem struct {
	ID           flexID      `json:"id"`
	Bvid         string      `json:"bvid"`
	CollectionID string      `json:"collection_id"`
	Title        string      `json:"title"`
	Intro        string      `json:"intro"`
	Cover        string      `json:"cover"`
	FavTime      int64       `json:"fav_time"`
	Pubdate      int64       `json:"pubdate"`
	Creator      struct {
		UserID   flexID `json:"user_id"`
		Username string `json:"username"`
		Avatar   string `json:"avatar"`
	} `json:"creator"`
}

// BilibiliParser はBilibiliストリームイベントのパーサー。
// 副作用を持たず、固定のペイロードフィクスチャで単体テスト可能。
type BilibiliParser struct{}

// NewBilibiliParser はBilibiliParserの新しいインスタンスを生成する。
func NewBilibiliParser() *BilibiliParser {
	return &BilibiliParser{}
}

// Parse は生ペイロードをパース済みストリームイベントに変換する。
// 項目0件のイベントは空リストを返す（エラーではない）。
// 構造的に不正なペイロードにはMalformedEventErrorを返す。
// bvidを持たない不正なサブレコードはログに記録してスキップし、
// 残りの項目の処理を継続する。
func (p *BilibiliParser) Parse(raw []byte) (*model.StreamEvent, error) {
	env, err := decodeEnvelope(model.PlatformBilibili, raw)
	if err != nil {
		return nil, err
	}

	items := make([]model.BriefItem, 0, len(env.rawItems()))
	for _, rawItem := range env.rawItems() {
		var it bilibiliRawItem
		if err := json.Unmarshal(rawItem, &it); err != nil {
			slog.Warn("Bilibili項目のパースに失敗したためスキップします",
				slog.String("error", err.Error()),
			)
			continue
		}
		if it.Bvid == "" {
			slog.Warn("bvidを持たないBilibili項目をスキップします")
			continue
		}

		brief := model.BriefItem{
			PlatformItemID:     it.Bvid,
			ItemType:           model.ItemTypeVideo,
			Title:              it.Title,
			Intro:              it.Intro,
			CoverURL:           it.Cover,
			PlatformFavoriteID: it.ID.String(),
			CollectionID:       it.CollectionID,
			Creator: model.BriefCreator{
				UserID:   it.Creator.UserID.String(),
				Username: it.Creator.Username,
				Avatar:   it.Creator.Avatar,
			},
			FavoritedAt: unixOrNow(it.FavTime),
		}
		if it.Pubdate > 0 {
			t := time.Unix(it.Pubdate, 0)
			brief.PublishedAt = &t
		}

		items = append(items, brief)
	}

	return &model.StreamEvent{
		Platform:     model.PlatformBilibili,
		CollectionID: env.Params.CollectionID,
		BatchID:      env.BatchID,
		Items:        items,
	}, nil
}

// unixOrNow はUNIX秒を時刻に変換する。0以下の場合は現在時刻を返す。
func unixOrNow(sec int64) time.Time {
	if sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
