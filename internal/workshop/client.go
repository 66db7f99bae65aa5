// Package workshop は解析タスクを外部の実行基盤へ引き渡すクライアントを提供する。
package workshop

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/task"
)

// enqueueRequest は実行基盤へ送信するタスク情報。
type enqueueRequest struct {
	TaskID         string `json:"task_id"`
	Kind           string `json:"kind"`
	WorkshopID     string `json:"workshop_id"`
	FavoriteItemID string `json:"favorite_item_id"`
	Platform       string `json:"platform"`
	PlatformItemID string `json:"platform_item_id"`
	Title          string `json:"title"`
}

// Client は実行基盤のHTTP APIへタスクを送信するクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	endpoint   string
}

var _ task.Enqueuer = (*Client)(nil)

// NewClient は新しいClientを作成する。
// endpointは実行基盤のタスク受付URL（WORKSHOP_EXECUTOR_URL）。
func NewClient(httpClient *http.Client, logger *slog.Logger, endpoint string) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   endpoint,
	}
}

// Enqueue はタスクを実行基盤へ送信する。
// 送信失敗してもタスク行はpendingのまま残るため、呼び出し側で致命扱いしない。
func (c *Client) Enqueue(ctx context.Context, t *model.Task, item *model.FavoriteItem) error {
	payload := enqueueRequest{
		TaskID:         t.ID,
		Kind:           string(t.Kind),
		WorkshopID:     t.WorkshopID,
		FavoriteItemID: item.ID,
		Platform:       string(item.Platform),
		PlatformItemID: item.PlatformItemID,
		Title:          item.Title,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("タスク送信ペイロードの生成に失敗しました: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("タスク送信リクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("実行基盤への送信に失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		// エラー詳細はログにのみ残す
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.logger.Warn("実行基盤がエラーを返しました",
			"status_code", resp.StatusCode,
			"task_id", t.ID,
			"body", string(detail))
		return fmt.Errorf("実行基盤がステータスコード%dを返しました", resp.StatusCode)
	}

	c.logger.Info("タスクを実行基盤へ送信しました",
		"task_id", t.ID,
		"kind", t.Kind,
		"workshop_id", t.WorkshopID)
	return nil
}
