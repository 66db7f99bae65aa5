// Package ledger は詳細取得のリトライ台帳を提供する。
// 試行回数・最終試行時刻・最終エラーの永続状態から適格性を再計算する
// 純粋な状態機械であり、インメモリのタイマーには依存しない。
package ledger

import (
	"time"

	"github.com/hitoshi/favepipe/internal/model"
)

// State は項目の詳細取得状態を表す。
// 永続化されたRetryStateから毎回導出され、キャッシュされない。
type State int

const (
	// StateNeverAttempted は一度も試行されていない状態。常に適格。
	StateNeverAttempted State = iota
	// StateWaiting は前回失敗からのバックオフ待機中の状態。
	StateWaiting
	// StateEligible はバックオフ経過後の再試行適格状態。
	StateEligible
	// StateSucceeded は詳細取得に成功した終端状態。
	StateSucceeded
	// StatePermanentlyFailed は最大試行回数に達した終端状態。
	StatePermanentlyFailed
)

// Terminal は状態が終端（成功または恒久失敗）かどうかを返す。
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StatePermanentlyFailed
}

// String はログ出力用の状態名を返す。
func (s State) String() string {
	switch s {
	case StateNeverAttempted:
		return "never_attempted"
	case StateWaiting:
		return "waiting"
	case StateEligible:
		return "eligible"
	case StateSucceeded:
		return "succeeded"
	case StatePermanentlyFailed:
		return "permanently_failed"
	default:
		return "unknown"
	}
}

// BackoffPolicy は失敗後の再試行遅延を計算するポリシー。
// attemptは完了済みの試行回数（1以上）を受け取る。
type BackoffPolicy interface {
	Delay(attempt int) time.Duration
}

// LinearBackoff は固定遅延のバックオフポリシー。
// 試行回数にかかわらず常に同じ遅延を返す。
type LinearBackoff struct {
	RetryDelay time.Duration
}

// Delay は固定の遅延を返す。
func (b LinearBackoff) Delay(attempt int) time.Duration {
	return b.RetryDelay
}

// ExponentialBackoff は指数バックオフポリシー。
// 初回Initial、以降2倍ずつ増加し、Maxを超えない。
type ExponentialBackoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay は試行回数に基づく指数遅延を計算する。
func (b ExponentialBackoff) Delay(attempt int) time.Duration {
	delay := b.Initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay > b.Max {
			return b.Max
		}
	}
	if delay > b.Max {
		return b.Max
	}
	return delay
}

// Ledger はリトライ台帳の判定ロジックを保持する。
type Ledger struct {
	policy      BackoffPolicy
	maxAttempts int
}

// New はLedgerの新しいインスタンスを生成する。
// maxAttemptsが0以下の場合はデフォルト値5を使用する。
func New(policy BackoffPolicy, maxAttempts int) *Ledger {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	return &Ledger{policy: policy, maxAttempts: maxAttempts}
}

// MaxAttempts は設定された最大試行回数を返す。
func (l *Ledger) MaxAttempts() int {
	return l.maxAttempts
}

// StateOf は永続化されたRetryStateから現在の状態を導出する。
func (l *Ledger) StateOf(rs model.RetryState, now time.Time) State {
	if rs.HasDetails() {
		return StateSucceeded
	}
	if rs.AttemptCount >= l.maxAttempts {
		return StatePermanentlyFailed
	}
	if rs.AttemptCount == 0 || rs.LastAttemptAt == nil {
		return StateNeverAttempted
	}
	if now.Before(l.EligibleAt(rs)) {
		return StateWaiting
	}
	return StateEligible
}

// EligibleAt は次の試行が適格となる時刻を返す。
// 試行履歴がない場合はゼロ値（即時適格）を返す。
func (l *Ledger) EligibleAt(rs model.RetryState) time.Time {
	if rs.AttemptCount == 0 || rs.LastAttemptAt == nil {
		return time.Time{}
	}
	return rs.LastAttemptAt.Add(l.policy.Delay(rs.AttemptCount))
}

// Eligible は項目が現時点で詳細取得の試行対象かどうかを判定する。
// 終端状態でなく、かつバックオフが経過している場合にtrueを返す。
func (l *Ledger) Eligible(rs model.RetryState, now time.Time) bool {
	switch l.StateOf(rs, now) {
	case StateNeverAttempted, StateEligible:
		return true
	}
	return false
}

// ApplyAttemptStart は試行開始を台帳に記録する。
// 試行回数は開始時点で加算される。これによりクラッシュをまたいでも
// 最大試行回数が真の上限として機能する。
func ApplyAttemptStart(item *model.FavoriteItem, now time.Time) {
	item.RetryState.AttemptCount++
	t := now
	item.RetryState.LastAttemptAt = &t
	item.UpdatedAt = now
}

// ApplySuccess は取得成功を台帳に記録する。
// エラーをクリアし、SyncedAtを設定して終端状態（成功）にする。
func ApplySuccess(item *model.FavoriteItem, now time.Time) {
	item.RetryState.LastError = ""
	t := now
	item.RetryState.SyncedAt = &t
	item.UpdatedAt = now
}

// ApplyFailure は取得失敗を台帳に記録する。
// エラーメッセージを保存する。次回の適格時刻は永続状態から再計算される。
func ApplyFailure(item *model.FavoriteItem, reason string, now time.Time) {
	item.RetryState.LastError = reason
	item.UpdatedAt = now
}

// ApplyRecovery は恒久失敗した項目の台帳をリセットし、再試行を可能にする。
// 再観測時のリカバリ検出で使用する。最終エラーは診断用に保持する。
func ApplyRecovery(item *model.FavoriteItem, now time.Time) {
	item.RetryState.AttemptCount = 0
	item.RetryState.LastAttemptAt = nil
	item.UpdatedAt = now
}
