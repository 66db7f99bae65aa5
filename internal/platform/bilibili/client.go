// Package bilibili はBilibili Web APIから動画詳細を取得するクライアントを提供する。
package bilibili

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"golang.org/x/time/rate"

	"github.com/hitoshi/favepipe/internal/model"
)

const (
	// defaultEndpoint は動画詳細取得APIのエンドポイント。
	defaultEndpoint = "https://api.bilibili.com/x/web-interface/view"
	// userAgent はBilibili APIが要求するブラウザ相当のUA。
	userAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36"
)

// Client はBilibili動画詳細APIのクライアント。
// detail.Fetcherインターフェースを実装する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	limiter    *rate.Limiter
	sessdata   string
	endpoint   string // テスト用にエンドポイントを差し替え可能
}

// NewClient はClientの新しいインスタンスを生成する。
// sessdataはBilibiliのセッションCookie。空の場合は未認証でアクセスする。
// limiterで呼び出しレートを制限し、プラットフォーム側のブロックを避ける。
func NewClient(httpClient *http.Client, logger *slog.Logger, limiter *rate.Limiter, sessdata string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		limiter:    limiter,
		sessdata:   sessdata,
		endpoint:   defaultEndpoint,
	}
}

// viewResponse は動画詳細APIのレスポンス。
type viewResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Bvid     string `json:"bvid"`
		Tname    string `json:"tname"`
		Duration int    `json:"duration"`
		Stat     struct {
			View     int `json:"view"`
			Like     int `json:"like"`
			Coin     int `json:"coin"`
			Favorite int `json:"favorite"`
			Reply    int `json:"reply"`
			Share    int `json:"share"`
			Danmaku  int `json:"danmaku"`
		} `json:"stat"`
	} `json:"data"`
}

// FetchDetails は動画の詳細レコードを取得する。
// APIのcodeが0以外（対象削除・権限なし等）はエラーとして返す。
func (c *Client) FetchDetails(ctx context.Context, item *model.FavoriteItem) (*model.DetailRecord, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("レート制限の待機に失敗しました: %w", err)
	}

	reqURL, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("エンドポイントURLのパースに失敗しました: %w", err)
	}
	q := reqURL.Query()
	q.Set("bvid", item.PlatformItemID)
	reqURL.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", "https://www.bilibili.com")
	if c.sessdata != "" {
		req.AddCookie(&http.Cookie{Name: "SESSDATA", Value: c.sessdata})
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("Bilibili APIの呼び出しに失敗しました",
			slog.String("bvid", item.PlatformItemID),
			slog.String("error", err.Error()),
		)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Error("Bilibili APIがエラーステータスを返しました",
			slog.String("bvid", item.PlatformItemID),
			slog.Int("http_status", resp.StatusCode),
		)
		return nil, fmt.Errorf("Bilibili APIがステータス %d を返しました", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("レスポンスボディの読み取りに失敗しました: %w", err)
	}

	var view viewResponse
	if err := json.Unmarshal(body, &view); err != nil {
		c.logger.Error("Bilibili APIのレスポンスのパースに失敗しました",
			slog.String("bvid", item.PlatformItemID),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}

	// code != 0 は対象削除・非公開・権限なしなどの業務エラー
	if view.Code != 0 {
		return nil, fmt.Errorf("Bilibili APIがエラーを返しました: code=%d message=%s", view.Code, view.Message)
	}

	return &model.DetailRecord{
		Platform: model.PlatformBilibili,
		Bilibili: &model.BilibiliVideoDetail{
			Bvid:          view.Data.Bvid,
			Tname:         view.Data.Tname,
			DurationSec:   view.Data.Duration,
			ViewCount:     view.Data.Stat.View,
			LikeCount:     view.Data.Stat.Like,
			CoinCount:     view.Data.Stat.Coin,
			FavoriteCount: view.Data.Stat.Favorite,
			ReplyCount:    view.Data.Stat.Reply,
			ShareCount:    view.Data.Stat.Share,
			DanmakuCount:  view.Data.Stat.Danmaku,
		},
	}, nil
}
