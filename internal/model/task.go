package model

import "time"

// TaskStatus は処理タスクの状態を表す。
type TaskStatus string

const (
	// TaskStatusPending は実行待ちのタスク。
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusInProgress は実行中のタスク。
	TaskStatusInProgress TaskStatus = "in_progress"
	// TaskStatusSuccess は正常終了したタスク（終端状態）。
	TaskStatusSuccess TaskStatus = "success"
	// TaskStatusFailure は異常終了したタスク（終端状態）。
	TaskStatusFailure TaskStatus = "failure"
)

// Terminal はタスク状態が終端（success/failure）かどうかを返す。
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusSuccess || s == TaskStatusFailure
}

// TaskKind は処理タスクの種別を表す。
type TaskKind string

const (
	// TaskKindAnalysis はAI分析タスク。詳細レコードの存在が作成の前提条件。
	TaskKindAnalysis TaskKind = "analysis"
)

// Task はお気に入り項目に対する下流処理タスクを表す。
// このパイプラインはpending状態での作成のみを行い、
// 以降の状態遷移は外部のタスク実行基盤が行う。
// (favorite_item_id, kind) につき非終端タスクは常に高々1件。
type Task struct {
	ID             string
	FavoriteItemID string
	Kind           TaskKind
	WorkshopID     string
	Status         TaskStatus
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}
