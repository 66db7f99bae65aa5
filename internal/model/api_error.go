package model

// APIError はAPIレスポンスで返す構造化エラー。
// 原因カテゴリと対処方法をクライアントに伝える。
type APIError struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"` // "validation" | "platform" | "system"
	Action   string `json:"action"`
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return e.Message
}

// NewUnknownPlatformAPIError は未対応プラットフォームのAPIエラーを生成する。
func NewUnknownPlatformAPIError(platform string) *APIError {
	return &APIError{
		Code:     "UNKNOWN_PLATFORM",
		Message:  "対応していないプラットフォームです: " + platform,
		Category: "validation",
		Action:   "bilibiliまたはxiaohongshuを指定してください。",
	}
}

// NewMalformedEventAPIError は不正イベントのAPIエラーを生成する。
func NewMalformedEventAPIError(reason string) *APIError {
	return &APIError{
		Code:     "MALFORMED_EVENT",
		Message:  "イベントペイロードが不正です: " + reason,
		Category: "validation",
		Action:   "プラグインの送信フォーマットを確認してください。",
	}
}
