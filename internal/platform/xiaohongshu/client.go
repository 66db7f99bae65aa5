// Package xiaohongshu は小紅書Web APIからノート詳細を取得するクライアントを提供する。
package xiaohongshu

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"golang.org/x/time/rate"

	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
)

const (
	// defaultEndpoint はノート詳細取得APIのエンドポイント。
	defaultEndpoint = "https://edith.xiaohongshu.com/api/sns/web/v1/feed"
	// userAgent は小紅書APIが要求するブラウザ相当のUA。
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Client は小紅書ノート詳細APIのクライアント。
// detail.Fetcherインターフェースを実装する。
// ノート詳細の取得には項目ごとのxsec_tokenが必要で、
// 簡易保存時に先行保存されたトークンをリポジトリから解決する。
type Client struct {
	httpClient *http.Client
	detailRepo repository.DetailRepository
	logger     *slog.Logger
	limiter    *rate.Limiter
	cookie     string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// cookieは小紅書のセッションCookie文字列。
func NewClient(
	httpClient *http.Client,
	detailRepo repository.DetailRepository,
	logger *slog.Logger,
	limiter *rate.Limiter,
	cookie string,
) *Client {
	return &Client{
		httpClient: httpClient,
		detailRepo: detailRepo,
		logger:     logger,
		limiter:    limiter,
		cookie:     cookie,
		endpoint:   defaultEndpoint,
	}
}

// feedRequest はノート詳細APIのリクエストボディ。
type feedRequest struct {
	SourceNoteID string   `json:"source_note_id"`
	XsecToken    string   `json:"xsec_token"`
	XsecSource   string   `json:"xsec_source"`
	ImageFormats []string `json:"image_formats"`
}

// feedResponse はノート詳細APIのレスポンス。
type feedResponse struct {
	Success bool   `json:"success"`
	Msg     string `json:"msg"`
	Data    struct {
		Items []struct {
			NoteCard struct {
				NoteID       string `json:"note_id"`
				Desc         string `json:"desc"`
				IPLocation   string `json:"ip_location"`
				Time         int64  `json:"time"`
				InteractInfo struct {
					LikedCount     string `json:"liked_count"`
					CollectedCount string `json:"collected_count"`
					CommentCount   string `json:"comment_count"`
				} `json:"interact_info"`
				ImageList []struct {
					URLDefault string `json:"url_default"`
				} `json:"image_list"`
			} `json:"note_card"`
		} `json:"items"`
	} `json:"data"`
}

// FetchDetails はノートの詳細レコードを取得する。
// xsec_tokenが未保存の場合は認証情報不足としてエラーを返す
// （リトライ台帳が失敗として記録し、トークン到着後に再試行される）。
func (c *Client) FetchDetails(ctx context.Context, item *model.FavoriteItem) (*model.DetailRecord, error) {
	token, err := c.detailRepo.FindXiaohongshuToken(ctx, item.ID)
	if err != nil {
		return nil, fmt.Errorf("xsec_tokenの取得に失敗しました: %w", err)
	}
	if token == "" {
		return nil, fmt.Errorf("xsec_tokenが未保存のため詳細を取得できません: note_id=%s", item.PlatformItemID)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	reqBody, err := json.Marshal(feedRequest{
		SourceNoteID: item.PlatformItemID,
		XsecToken:    token,
		XsecSource:   "pc_feed",
		ImageFormats: []string{"jpg", "webp", "avif"},
	})
	if err != nil {
		return nil, fmt.Errorf("リクエストボディの作成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("小紅書APIの呼び出しに失敗しました",
			slog.String("note_id", item.PlatformItemID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("小紅書APIがエラーステータスを返しました",
			slog.String("note_id", item.PlatformItemID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("小紅書APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var feed feedResponse
	if err := json.Unmarshal(body, &feed); err != nil {
		c.logger.Error("小紅書APIのレスポンスのパースに失敗しました",
			slog.String("note_id", item.PlatformItemID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	if !feed.Success {
		return nil, fmt.Errorf("小紅書APIがエラーを返しました: %s", feed.Msg)
	}
	if len(feed.Data.Items) == 0 {
		return nil, fmt.Errorf("ノートが見つかりません: note_id=%s", item.PlatformItemID)
	}

	card := feed.Data.Items[0].NoteCard
	imageURLs := make([]string, 0, len(card.ImageList))
	for _, img := range card.ImageList {
		if img.URLDefault != "" {
			imageURLs = append(imageURLs, img.URLDefault)
		}
	}

	return &model.DetailRecord{
		Platform: model.PlatformXiaohongshu,
		Xiaohongshu: &model.XiaohongshuNoteDetail{
			NoteID:        card.NoteID,
			XsecToken:     token,
			Description:   card.Desc,
			IPLocation:    card.IPLocation,
			PublishedDate: formatNoteTime(card.Time),
			LikeCount:     parseCount(card.InteractInfo.LikedCount),
			CollectCount:  parseCount(card.InteractInfo.CollectedCount),
			CommentCount:  parseCount(card.InteractInfo.CommentCount),
			ImageURLs:     imageURLs,
		},
	}, nil
}
