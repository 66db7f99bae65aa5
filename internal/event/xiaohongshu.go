package event

import (
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/hitoshi/favepipe/internal/model"
)

// xiaohongshuRawItem は小紅書ストリームイベント内の1項目の生データ。
// RPCのNoteBriefItemにはcollection_idが含まれない点に注意。
// コレクションIDはイベントのparamsから取得する。
type xiaohongshuRawItem struct {
	ID         flexID `json:"id"`
	NoteID     flexID `json:"note_id"`
	XsecToken  string `json:"xsec_token"`
	Title      string `json:"title"`
	CoverImage string `json:"cover_image"`
	FavTime    flexID `json:"fav_time"`
	AuthorInfo struct {
		UserID    flexID `json:"user_id"`
		Username  string `json:"username"`
		Avatar    string `json:"avatar"`
		XsecToken string `json:"xsec_token"`
	} `json:"author_info"`
}

// XiaohongshuParser は小紅書ストリームイベントのパーサー。
type XiaohongshuParser struct{}

// NewXiaohongshuParser はXiaohongshuParserの新しいインスタンスを生成する。
func NewXiaohongshuParser() *XiaohongshuParser {
	return &XiaohongshuParser{}
}

// Parse は生ペイロードをパース済みストリームイベントに変換する。
// コレクションIDはparams.collection_idから抽出してイベントに設定する。
// ノートIDを持たない不正なサブレコードはログに記録してスキップする。
func (p *XiaohongshuParser) Parse(raw []byte) (*model.StreamEvent, error) {
	env, err := decodeEnvelope(model.PlatformXiaohongshu, raw)
	if err != nil {
		return nil, err
	}

	if env.Params.CollectionID == "" {
		slog.Warn("イベントのparamsにcollection_idがありません。ノートをコレクションに関連付けできません")
	}

	items := make([]model.BriefItem, 0, len(env.rawItems()))
	for _, rawItem := range env.rawItems() {
		var it xiaohongshuRawItem
		if err := json.Unmarshal(rawItem, &it); err != nil {
			slog.Warn("小紅書項目のパースに失敗したためスキップします",
				slog.String("error", err.Error()),
			)
			continue
		}

		noteID := it.NoteID.String()
		if noteID == "" {
			noteID = it.ID.String()
		}
		if noteID == "" {
			slog.Warn("ノートIDを持たない小紅書項目をスキップします")
			continue
		}

		items = append(items, model.BriefItem{
			PlatformItemID: noteID,
			ItemType:       model.ItemTypeNote,
			Title:          it.Title,
			CoverURL:       it.CoverImage,
			CollectionID:   env.Params.CollectionID,
			Creator: model.BriefCreator{
				UserID:    it.AuthorInfo.UserID.String(),
				Username:  it.AuthorInfo.Username,
				Avatar:    it.AuthorInfo.Avatar,
				XsecToken: it.AuthorInfo.XsecToken,
			},
			XsecToken:   it.XsecToken,
			FavoritedAt: parseFavTime(it.FavTime.String()),
		})
	}

	return &model.StreamEvent{
		Platform:     model.PlatformXiaohongshu,
		CollectionID: env.Params.CollectionID,
		BatchID:      env.BatchID,
		Items:        items,
	}, nil
}

// parseFavTime はUNIX秒文字列をお気に入り登録時刻に変換する。
// 空文字や"0"、変換不能な値の場合は現在時刻を代用する。
func parseFavTime(s string) time.Time {
	if s == "" || s == "0" {
		return time.Now()
	}
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil || sec <= 0 {
		return time.Now()
	}
	return time.Unix(sec, 0)
}
