// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はプラットフォームAPIから受信したテキスト
// （タイトル・紹介文・ノート本文）をサニタイズし、
// ストアドXSSなどのセキュリティリスクから保護する。
// bluemondayライブラリを使用した許可リストベースのポリシーで、
// 外部由来のテキストからHTMLタグを除去する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService は外部由来テキストのサニタイズ機能のインターフェースを定義する。
// お気に入り項目・詳細レコードの保存前に使用される。
type ContentSanitizerService interface {
	// SanitizeText はプラットフォーム由来のテキストから全てのHTMLタグを除去する。
	// scriptタグ・on*イベント属性を含むあらゆるマークアップが削除され、
	// プレーンテキストのみが返る。HTMLエンティティは元の文字に復元される。
	// 空文字列の入力には空文字列を返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーを保持し、スレッドセーフにサニタイズ処理を行う。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// プラットフォームAPIの応答はHTMLではなくテキストフィールドの集合であるため、
// タグを一切許可しないStrictPolicyを使用する。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// SanitizeText はテキストから全てのHTMLタグを除去してプレーンテキストを返す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	if raw == "" {
		return ""
	}
	// StrictPolicyはタグ除去後にエンティティ参照を残すため、
	// 表示用テキストとして元の文字に戻す。
	cleaned := s.policy.Sanitize(raw)
	return strings.TrimSpace(html.UnescapeString(cleaned))
}

var _ ContentSanitizerService = (*contentSanitizer)(nil)
