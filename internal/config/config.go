package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Details sync
	DetailsRetryDelay   time.Duration
	DetailsMaxAttempts  int
	DetailsFetchTimeout time.Duration
	DetailsBackoff      string // "linear" または "exponential"
	DetailsBackoffMax   time.Duration
	RecoveryWindow      time.Duration
	FirstSyncThreshold  int

	// Sweep worker
	SyncSweepInterval time.Duration
	SyncMaxConcurrent int

	// Task
	DefaultWorkshopID   string
	WorkshopExecutorURL string
	TaskRetentionDays   int

	// Platform credentials
	BilibiliSessdata  string
	XiaohongshuCookie string

	// Rate Limit
	RateLimitGeneral int

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.DefaultWorkshopID = os.Getenv("DEFAULT_WORKSHOP_ID")
	if cfg.DefaultWorkshopID == "" {
		missing = append(missing, "DEFAULT_WORKSHOP_ID")
	}

	cfg.WorkshopExecutorURL = os.Getenv("WORKSHOP_EXECUTOR_URL")
	if cfg.WorkshopExecutorURL == "" {
		missing = append(missing, "WORKSHOP_EXECUTOR_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.DetailsRetryDelay = getEnvDuration("DETAILS_RETRY_DELAY", 5*time.Minute)
	cfg.DetailsMaxAttempts = getEnvInt("DETAILS_MAX_ATTEMPTS", 5)
	cfg.DetailsFetchTimeout = getEnvDuration("DETAILS_FETCH_TIMEOUT", 30*time.Second)
	cfg.DetailsBackoff = getEnvString("DETAILS_BACKOFF_POLICY", "linear")
	cfg.DetailsBackoffMax = getEnvDuration("DETAILS_BACKOFF_MAX", 2*time.Hour)
	cfg.RecoveryWindow = getEnvDuration("RECOVERY_WINDOW", 24*time.Hour)
	cfg.FirstSyncThreshold = getEnvInt("FIRST_SYNC_THRESHOLD", 50)
	cfg.SyncSweepInterval = getEnvDuration("SYNC_SWEEP_INTERVAL", 5*time.Minute)
	cfg.SyncMaxConcurrent = getEnvInt("SYNC_MAX_CONCURRENT", 10)
	cfg.TaskRetentionDays = getEnvInt("TASK_RETENTION_DAYS", 90)
	cfg.BilibiliSessdata = getEnvString("BILIBILI_SESSDATA", "")
	cfg.XiaohongshuCookie = getEnvString("XIAOHONGSHU_COOKIE", "")
	cfg.RateLimitGeneral = getEnvInt("RATE_LIMIT_GENERAL", 120)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	if cfg.DetailsBackoff != "linear" && cfg.DetailsBackoff != "exponential" {
		return nil, fmt.Errorf("DETAILS_BACKOFF_POLICY は linear または exponential を指定してください: %s", cfg.DetailsBackoff)
	}

	return cfg, nil
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
