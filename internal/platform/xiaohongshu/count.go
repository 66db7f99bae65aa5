package xiaohongshu

import (
	"strconv"
	"strings"
	"time"
)

// parseCount は小紅書APIの件数表記をintに変換する。
// 1万以上は "1.2万" のような表記で返るため、万単位の近似値として解釈する。
// 解釈できない表記は0を返す。
func parseCount(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if strings.HasSuffix(s, "万") {
		base := strings.TrimSuffix(s, "万")
		f, err := strconv.ParseFloat(base, 64)
		if err != nil {
			return 0
		}
		return int(f * 10000)
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// formatNoteTime はAPIのミリ秒エポックを日付文字列（YYYY-MM-DD）に変換する。
// 0以下の場合は空文字列を返す。
func formatNoteTime(millis int64) string {
	if millis <= 0 {
		return ""
	}
	return time.UnixMilli(millis).UTC().Format("2006-01-02")
}
