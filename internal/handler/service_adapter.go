package handler

import (
	"context"

	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/repository"
)

// FailedItemServiceAdapter は repository.FavoriteRepository を
// FailedItemServiceInterface に適合させるアダプタ。
// 恒久失敗の判定に使う試行上限を保持する。
type FailedItemServiceAdapter struct {
	repo        repository.FavoriteRepository
	maxAttempts int
}

// NewFailedItemServiceAdapter はFailedItemServiceAdapterを生成する。
func NewFailedItemServiceAdapter(repo repository.FavoriteRepository, maxAttempts int) *FailedItemServiceAdapter {
	return &FailedItemServiceAdapter{repo: repo, maxAttempts: maxAttempts}
}

// ListPermanentlyFailed は詳細取得が恒久失敗となった項目を返す。
func (a *FailedItemServiceAdapter) ListPermanentlyFailed(ctx context.Context, limit int) ([]*model.FavoriteItem, error) {
	return a.repo.ListPermanentlyFailed(ctx, a.maxAttempts, limit)
}

// --- compile-time interface checks ---

var _ FailedItemServiceInterface = (*FailedItemServiceAdapter)(nil)
