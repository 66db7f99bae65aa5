package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/hitoshi/favepipe/internal/config"
	"github.com/hitoshi/favepipe/internal/database"
	"github.com/hitoshi/favepipe/internal/detail"
	"github.com/hitoshi/favepipe/internal/event"
	"github.com/hitoshi/favepipe/internal/favorite"
	"github.com/hitoshi/favepipe/internal/handler"
	"github.com/hitoshi/favepipe/internal/ledger"
	"github.com/hitoshi/favepipe/internal/logger"
	"github.com/hitoshi/favepipe/internal/metrics"
	"github.com/hitoshi/favepipe/internal/middleware"
	"github.com/hitoshi/favepipe/internal/model"
	"github.com/hitoshi/favepipe/internal/platform/bilibili"
	"github.com/hitoshi/favepipe/internal/platform/xiaohongshu"
	"github.com/hitoshi/favepipe/internal/repository"
	"github.com/hitoshi/favepipe/internal/security"
	"github.com/hitoshi/favepipe/internal/stream"
	"github.com/hitoshi/favepipe/internal/task"
	"github.com/hitoshi/favepipe/internal/worker/cleanup"
	"github.com/hitoshi/favepipe/internal/worker/syncretry"
	"github.com/hitoshi/favepipe/internal/workshop"
)

// maxDetailResponseSize はプラットフォームAPIレスポンスの最大サイズ。
const maxDetailResponseSize = 5 << 20

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// pipeline はserveモードとworkerモードの両方が使う同期パイプラインの依存一式。
type pipeline struct {
	favoriteRepo repository.FavoriteRepository
	taskRepo     repository.TaskRepository
	registry     *stream.Registry
	persister    *favorite.Persister
	syncer       *detail.Syncer
	creator      *task.Creator
	ledger       *ledger.Ledger
}

// buildLedger は設定からバックオフポリシーを選択してリトライ台帳を構築する。
// ポリシー文字列の検証はconfig.Loadで完了している。
func buildLedger(cfg *config.Config) *ledger.Ledger {
	var policy ledger.BackoffPolicy
	switch cfg.DetailsBackoff {
	case "exponential":
		policy = ledger.ExponentialBackoff{
			Initial: cfg.DetailsRetryDelay,
			Max:     cfg.DetailsBackoffMax,
		}
	default:
		policy = ledger.LinearBackoff{RetryDelay: cfg.DetailsRetryDelay}
	}
	return ledger.New(policy, cfg.DetailsMaxAttempts)
}

// newPipeline はリポジトリからタスク作成器までの依存関係をワイヤリングする。
func newPipeline(cfg *config.Config, db *sql.DB, collector *metrics.Collector) (*pipeline, error) {
	// 1. リポジトリの初期化
	authorRepo := repository.NewPostgresAuthorRepo(db)
	collectionRepo := repository.NewPostgresCollectionRepo(db)
	favoriteRepo := repository.NewPostgresFavoriteRepo(db)
	detailRepo := repository.NewPostgresDetailRepo(db)
	taskRepo := repository.NewPostgresTaskRepo(db)

	// 2. セキュリティサービスの初期化
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard()

	// 執行先URLは起動時に静的検証する（内部ネットワーク宛の設定ミスを早期検出）
	if err := ssrfGuard.ValidateURL(cfg.WorkshopExecutorURL); err != nil {
		return nil, fmt.Errorf("invalid workshop executor URL: %w", err)
	}

	// 3. リトライ台帳の構築
	ldg := buildLedger(cfg)

	// 4. プラットフォームクライアントとレジストリの初期化
	// プラットフォーム側のブロックを避けるため呼び出しは1req/secに制限する
	detailClient := ssrfGuard.NewSafeClient(cfg.DetailsFetchTimeout, maxDetailResponseSize)

	registry := stream.NewRegistry()
	registry.Register(model.PlatformBilibili, stream.Bundle{
		Parser: event.NewBilibiliParser(),
		Fetcher: bilibili.NewClient(
			detailClient, slog.Default(),
			rate.NewLimiter(rate.Every(time.Second), 1), cfg.BilibiliSessdata,
		),
	})
	registry.Register(model.PlatformXiaohongshu, stream.Bundle{
		Parser: event.NewXiaohongshuParser(),
		Fetcher: xiaohongshu.NewClient(
			detailClient, detailRepo, slog.Default(),
			rate.NewLimiter(rate.Every(time.Second), 1), cfg.XiaohongshuCookie,
		),
	})

	// 5. 永続化・詳細同期・タスク作成の初期化
	persister := favorite.NewPersister(
		authorRepo, collectionRepo, favoriteRepo, detailRepo,
		sanitizer, ldg, slog.Default(), cfg.RecoveryWindow,
	)
	syncer := detail.NewSyncer(
		favoriteRepo, detailRepo, ldg, collector,
		slog.Default(), cfg.DetailsFetchTimeout,
	)

	workshopClient := workshop.NewClient(
		ssrfGuard.NewSafeClient(10*time.Second, maxDetailResponseSize),
		slog.Default(), cfg.WorkshopExecutorURL,
	)
	creator := task.NewCreator(
		taskRepo, collectionRepo, workshopClient, collector,
		slog.Default(), cfg.DefaultWorkshopID,
	)

	return &pipeline{
		favoriteRepo: favoriteRepo,
		taskRepo:     taskRepo,
		registry:     registry,
		persister:    persister,
		syncer:       syncer,
		creator:      creator,
		ledger:       ldg,
	}, nil
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. メトリクスとパイプラインの構築
	promRegistry := prometheus.NewRegistry()
	collector := metrics.NewCollector(promRegistry)

	p, err := newPipeline(cfg, db, collector)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	orchestrator := stream.NewOrchestrator(
		p.registry, p.persister, p.syncer, p.creator,
		collector, slog.Default(), cfg.FirstSyncThreshold,
	)

	// 3. ルーターの構築
	// configのRateLimitGeneralはreq/min単位なのでreq/secに変換する
	rateLimiterCfg := middleware.DefaultRateLimiterConfig()
	rateLimiterCfg.GeneralRate = rate.Limit(float64(cfg.RateLimitGeneral) / 60.0)
	rateLimiterCfg.GeneralBurst = cfg.RateLimitGeneral

	deps := &handler.RouterDeps{
		Logger:      slog.Default(),
		RateLimiter: middleware.NewRateLimiter(rateLimiterCfg),
		Collector:   collector,
		Gatherer:    promRegistry,

		EventProcessor: orchestrator,

		FailedItemService: handler.NewFailedItemServiceAdapter(p.favoriteRepo, cfg.DetailsMaxAttempts),
		DB:                db,
	}

	router := handler.NewRouter(deps)

	// 4. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// DB接続を開き、詳細同期スイーパーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. パイプラインの構築
	// ワーカーはメトリクスを公開しないため、レジストリはプロセス内に閉じる
	collector := metrics.NewCollector(prometheus.NewRegistry())

	p, err := newPipeline(cfg, db, collector)
	if err != nil {
		return fmt.Errorf("failed to build pipeline: %w", err)
	}

	// 3. スイーパーの初期化
	sweeper := syncretry.NewSweeper(
		p.favoriteRepo, p.registry, p.syncer, p.creator,
		p.ledger, slog.Default(), cfg.SyncMaxConcurrent,
	)

	// 4. クリーンアップジョブの初期化
	cleanupJob := cleanup.NewCleanupJob(p.taskRepo, slog.Default())
	cleanupJob.RetentionDays = cfg.TaskRetentionDays

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	slog.Info("worker starting",
		slog.Duration("sweep_interval", cfg.SyncSweepInterval),
		slog.Int("max_concurrent", cfg.SyncMaxConcurrent),
	)

	// クリーンアップジョブを日次でバックグラウンド実行
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 詳細同期スイーパーをメインgoroutineで実行（ブロッキング）
	sweeper.Start(ctx, cfg.SyncSweepInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
