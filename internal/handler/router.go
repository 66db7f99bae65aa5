package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/favepipe/internal/metrics"
	"github.com/hitoshi/favepipe/internal/middleware"
)

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger      *slog.Logger
	RateLimiter *middleware.RateLimiter
	Collector   metrics.MetricsCollector
	Gatherer    prometheus.Gatherer

	// イベント受信
	EventProcessor EventProcessorInterface

	// 観測
	FailedItemService FailedItemServiceInterface
	DB                Pinger
}

// NewRouter は全APIエンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	Recovery → SecurityHeaders → Logging → Metrics → RateLimit
//
// /health と /metrics はレート制限の外に配置する。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))
	r.Use(middleware.NewMetricsMiddleware(deps.Collector))

	eventHandler := NewEventHandler(deps.EventProcessor)
	itemHandler := NewItemHandler(deps.FailedItemService)
	healthHandler := NewHealthHandler(deps.DB)

	// --- 監視用ルート（レート制限の外） ---
	r.Get("/health", healthHandler.Health)
	r.Get("/metrics", metrics.Handler(deps.Gatherer).ServeHTTP)

	// --- APIルート ---
	r.Group(func(r chi.Router) {
		r.Use(deps.RateLimiter.GeneralMiddleware())

		// イベント受信
		r.Post("/api/events/{platform}", eventHandler.ReceiveEvent)

		// 観測
		r.Get("/api/items/failed", itemHandler.ListFailedItems)
	})

	return r
}
