package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/hitoshi/favepipe/internal/middleware"
	"github.com/hitoshi/favepipe/internal/model"
)

// defaultFailedItemsLimit は恒久失敗項目一覧の1回の取得件数（デフォルト）。
const defaultFailedItemsLimit = 50

// maxFailedItemsLimit は恒久失敗項目一覧の取得件数の上限。
const maxFailedItemsLimit = 200

// FailedItemServiceInterface は失敗項目ハンドラーが必要とするサービスインターフェース。
type FailedItemServiceInterface interface {
	// ListPermanentlyFailed は詳細取得が恒久失敗となった項目を返す。
	ListPermanentlyFailed(ctx context.Context, limit int) ([]*model.FavoriteItem, error)
}

// ItemHandler はお気に入り項目の観測用HTTPハンドラー。
type ItemHandler struct {
	failedService FailedItemServiceInterface
}

// NewItemHandler はItemHandlerを生成する。
func NewItemHandler(failedService FailedItemServiceInterface) *ItemHandler {
	return &ItemHandler{failedService: failedService}
}

// failedItemResponse は恒久失敗項目のレスポンス。
type failedItemResponse struct {
	ID             string     `json:"id"`
	Platform       string     `json:"platform"`
	PlatformItemID string     `json:"platform_item_id"`
	Title          string     `json:"title"`
	AttemptCount   int        `json:"attempt_count"`
	LastAttemptAt  *time.Time `json:"last_attempt_at,omitempty"`
	LastError      string     `json:"last_error"`
}

// failedItemListResponse は恒久失敗項目一覧のレスポンス。
type failedItemListResponse struct {
	Items []failedItemResponse `json:"items"`
	Total int                  `json:"total"`
}

// ListFailedItems は詳細取得が恒久失敗となった項目の一覧を取得する。
// GET /api/items/failed?limit=50
func (h *ItemHandler) ListFailedItems(w http.ResponseWriter, r *http.Request) {
	limit := defaultFailedItemsLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 1 {
			middleware.WriteErrorResponse(w, http.StatusBadRequest, &model.APIError{
				Code:     "INVALID_REQUEST",
				Message:  "limitは1以上の整数を指定してください。",
				Category: "validation",
				Action:   "クエリパラメータを確認してください。",
			})
			return
		}
		if n > maxFailedItemsLimit {
			n = maxFailedItemsLimit
		}
		limit = n
	}

	items, err := h.failedService.ListPermanentlyFailed(r.Context(), limit)
	if err != nil {
		middleware.WriteInternalServerError(w)
		return
	}

	results := make([]failedItemResponse, len(items))
	for i, item := range items {
		results[i] = failedItemResponse{
			ID:             item.ID,
			Platform:       string(item.Platform),
			PlatformItemID: item.PlatformItemID,
			Title:          item.Title,
			AttemptCount:   item.RetryState.AttemptCount,
			LastAttemptAt:  item.RetryState.LastAttemptAt,
			LastError:      item.RetryState.LastError,
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(failedItemListResponse{
		Items: results,
		Total: len(results),
	})
}
