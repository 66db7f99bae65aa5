// Package handler はHTTP APIのハンドラーとルーティングを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/favepipe/internal/middleware"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/stream"
)

// maxEventPayloadSize はイベントペイロードの最大サイズ（5MB）。
const maxEventPayloadSize = 5 * 1024 * 1024

// EventProcessorInterface はイベントハンドラーが必要とする処理インターフェース。
type EventProcessorInterface interface {
	// HandleEvent は生のイベントペイロードを受け取り、パイプライン全体を実行する。
	HandleEvent(ctx context.Context, platform model.Platform, raw []byte) (*stream.HandleResult, error)
}

// EventHandler はストリームイベント受信のHTTPハンドラー。
type EventHandler struct {
	processor EventProcessorInterface
}

// NewEventHandler はEventHandlerを生成する。
func NewEventHandler(processor EventProcessorInterface) *EventHandler {
	return &EventHandler{processor: processor}
}

// eventResultResponse はイベント処理結果のレスポンス。
type eventResultResponse struct {
	ItemsTotal     int  `json:"items_total"`
	ItemsPersisted int  `json:"items_persisted"`
	ItemsFailed    int  `json:"items_failed"`
	ItemsSynced    int  `json:"items_synced"`
	TasksCreated   int  `json:"tasks_created"`
	FirstSyncSkip  bool `json:"first_sync_skip"`
}

// ReceiveEvent はプラグインからのストリームイベントを受信する。
// POST /api/events/:platform
func (h *EventHandler) ReceiveEvent(w http.ResponseWriter, r *http.Request) {
	platform := model.Platform(chi.URLParam(r, "platform"))

	raw, err := io.ReadAll(io.LimitReader(r.Body, maxEventPayloadSize))
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの読み取りに失敗しました。",
			Category: "validation",
			Action:   "ペイロードを確認して再送してください。",
		})
		return
	}

	result, err := h.processor.HandleEvent(r.Context(), platform, raw)
	if err != nil {
		if errors.Is(err, model.ErrUnknownPlatform) {
			middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewUnknownPlatformAPIError(string(platform)))
			return
		}
		var malformed *model.MalformedEventError
		if errors.As(err, &malformed) {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewMalformedEventAPIError(malformed.Reason))
			return
		}
		middleware.WriteInternalServerError(w)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(eventResultResponse{
		ItemsTotal:     result.ItemsTotal,
		ItemsPersisted: result.ItemsPersisted,
		ItemsFailed:    result.ItemsFailed,
		ItemsSynced:    result.ItemsSynced,
		TasksCreated:   result.TasksCreated,
		FirstSyncSkip:  result.FirstSyncSkip,
	})
}
