package model

import (
	"errors"
	"fmt"
)

// MalformedEventError は構造的に不正なストリームイベントを表す。
// 呼び出し元はログに記録して破棄する。リトライ対象にはならず、
// 永続化層に到達することもない。
type MalformedEventError struct {
	Platform Platform
	Reason   string
}

// Error はerrorインターフェースを実装する。
func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("不正なストリームイベント (%s): %s", e.Platform, e.Reason)
}

// NewMalformedEventError は不正イベントエラーを生成する。
func NewMalformedEventError(platform Platform, reason string) *MalformedEventError {
	return &MalformedEventError{Platform: platform, Reason: reason}
}

// IsMalformedEvent はエラーが不正イベントエラーかどうかを判定する。
func IsMalformedEvent(err error) bool {
	var me *MalformedEventError
	return errors.As(err, &me)
}

// ErrUnknownPlatform は未登録のプラットフォーム識別子に対するエラー。
var ErrUnknownPlatform = errors.New("未登録のプラットフォームです")
