package bilibili

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/favepipe/internal/model"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testItem() *model.FavoriteItem {
	return &model.FavoriteItem{
		ID:             "item-1",
		Platform:       model.PlatformBilibili,
		PlatformItemID: "BV1abc",
		ItemType:       model.ItemTypeVideo,
		FavoritedAt:    time.Now(),
	}
}

func TestNewClient_ReturnsNonNil(t *testing.T) {
	c := NewClient(http.DefaultClient, newTestLogger(), rate.NewLimiter(rate.Inf, 1), "")
	if c == nil {
		t.Fatal("NewClient は nil を返してはならない")
	}
}

// TestFetchDetails_Success は正常レスポンスが詳細レコードに変換されることを検証する。
func TestFetchDetails_Success(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("HTTPメソッド = %s, want GET", r.Method)
		}
		if got := r.URL.Query().Get("bvid"); got != "BV1abc" {
			t.Errorf("bvid = %s, want BV1abc", got)
		}

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"code": 0,
			"message": "0",
			"data": {
				"bvid": "BV1abc",
				"tname": "知識",
				"duration": 600,
				"stat": {
					"view": 12345,
					"like": 678,
					"coin": 90,
					"favorite": 321,
					"reply": 45,
					"share": 12,
					"danmaku": 99
				}
			}
		}`)
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "session-token")
	c.endpoint = server.URL

	record, err := c.FetchDetails(context.Background(), testItem())
	if err != nil {
		t.Fatalf("FetchDetails がエラーを返した: %v", err)
	}

	if record.Platform != model.PlatformBilibili {
		t.Errorf("Platform = %s, want bilibili", record.Platform)
	}
	d := record.Bilibili
	if d == nil {
		t.Fatal("Bilibili詳細がnilです")
	}
	if d.Bvid != "BV1abc" {
		t.Errorf("Bvid = %s, want BV1abc", d.Bvid)
	}
	if d.Tname != "知識" {
		t.Errorf("Tname = %s, want 知識", d.Tname)
	}
	if d.DurationSec != 600 {
		t.Errorf("DurationSec = %d, want 600", d.DurationSec)
	}
	if d.ViewCount != 12345 || d.LikeCount != 678 || d.CoinCount != 90 {
		t.Errorf("統計値が不正: view=%d like=%d coin=%d", d.ViewCount, d.LikeCount, d.CoinCount)
	}
	if d.FavoriteCount != 321 || d.ReplyCount != 45 || d.ShareCount != 12 || d.DanmakuCount != 99 {
		t.Errorf("統計値が不正: favorite=%d reply=%d share=%d danmaku=%d",
			d.FavoriteCount, d.ReplyCount, d.ShareCount, d.DanmakuCount)
	}
}

// TestFetchDetails_SendsSessionCookie はSESSDATA Cookieが送信されることを検証する。
func TestFetchDetails_SendsSessionCookie(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie("SESSDATA")
		if err != nil {
			t.Error("SESSDATA Cookieが送信されていません")
		} else if cookie.Value != "session-token" {
			t.Errorf("SESSDATA = %s, want session-token", cookie.Value)
		}
		io.WriteString(w, `{"code": 0, "data": {"bvid": "BV1abc", "stat": {}}}`)
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "session-token")
	c.endpoint = server.URL

	if _, err := c.FetchDetails(context.Background(), testItem()); err != nil {
		t.Fatalf("FetchDetails がエラーを返した: %v", err)
	}
}

// TestFetchDetails_APIError はAPIの業務エラー（code != 0）が
// エラーとして返ることを検証する。
func TestFetchDetails_APIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"code": -404, "message": "啥都木有", "data": {}}`)
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "")
	c.endpoint = server.URL

	if _, err := c.FetchDetails(context.Background(), testItem()); err == nil {
		t.Fatal("業務エラーでFetchDetailsがエラーを返しませんでした")
	}
}

// TestFetchDetails_HTTPError はHTTPエラーステータスがエラーとして返ることを検証する。
func TestFetchDetails_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "")
	c.endpoint = server.URL

	if _, err := c.FetchDetails(context.Background(), testItem()); err == nil {
		t.Fatal("HTTP 429でFetchDetailsがエラーを返しませんでした")
	}
}

// TestFetchDetails_InvalidJSON は不正なJSONレスポンスがエラーとして返ることを検証する。
func TestFetchDetails_InvalidJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `not json`)
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "")
	c.endpoint = server.URL

	if _, err := c.FetchDetails(context.Background(), testItem()); err == nil {
		t.Fatal("不正なJSONでFetchDetailsがエラーを返しませんでした")
	}
}

// TestFetchDetails_RespectsContextCancel はキャンセル済みコンテキストで
// リクエストが実行されないことを検証する。
func TestFetchDetails_RespectsContextCancel(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	c := NewClient(server.Client(), newTestLogger(), rate.NewLimiter(rate.Inf, 1), "")
	c.endpoint = server.URL

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := c.FetchDetails(ctx, testItem()); err == nil {
		t.Fatal("キャンセル済みコンテキストでエラーが返りませんでした")
	}
	if called {
		t.Error("キャンセル済みコンテキストでリクエストが送信されています")
	}
}
