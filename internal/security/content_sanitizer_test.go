package security

import (
	"strings"
	"testing"
)

// TestSanitizeText_StripsAllTags はあらゆるHTMLタグが除去されることを検証する。
func TestSanitizeText_StripsAllTags(t *testing.T) {
	s := NewContentSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "pタグ",
			input: "<p>今日のノート</p>",
			want:  "今日のノート",
		},
		{
			name:  "強調タグ",
			input: "美味しい<strong>ラーメン</strong>の店",
			want:  "美味しいラーメンの店",
		},
		{
			name:  "リンクタグ",
			input: `詳細は<a href="https://example.com">こちら</a>`,
			want:  "詳細はこちら",
		},
		{
			name:  "ネストしたタグ",
			input: "<div><span>動画の<em>紹介</em>文</span></div>",
			want:  "動画の紹介文",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := s.SanitizeText(tt.input)
			if got != tt.want {
				t.Errorf("SanitizeText(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

// TestSanitizeText_XSSPayloads は代表的なXSSペイロードが無害化されることを検証する。
func TestSanitizeText_XSSPayloads(t *testing.T) {
	s := NewContentSanitizer()

	payloads := []string{
		`<script>alert('xss')</script>`,
		`<img src="x" onerror="alert(1)">`,
		`<iframe src="javascript:alert(1)"></iframe>`,
		`<svg onload="alert(1)">`,
		`<a href="javascript:alert(1)">リンク</a>`,
	}

	for _, payload := range payloads {
		got := s.SanitizeText(payload)
		for _, forbidden := range []string{"<script", "<img", "<iframe", "<svg", "onerror", "onload", "javascript:"} {
			if strings.Contains(got, forbidden) {
				t.Errorf("SanitizeText(%q) = %q に危険な断片 %q が残っています", payload, got, forbidden)
			}
		}
	}
}

// TestSanitizeText_UnescapesEntities はタグ除去後のエンティティが
// 元の文字に復元されることを検証する。
func TestSanitizeText_UnescapesEntities(t *testing.T) {
	s := NewContentSanitizer()

	got := s.SanitizeText("A &amp; B")
	if got != "A & B" {
		t.Errorf("SanitizeText(\"A &amp; B\") = %q, want %q", got, "A & B")
	}
}

// TestSanitizeText_EmptyInput は空文字列入力で空文字列が返ることを検証する。
func TestSanitizeText_EmptyInput(t *testing.T) {
	s := NewContentSanitizer()

	if got := s.SanitizeText(""); got != "" {
		t.Errorf("SanitizeText(\"\") = %q, want 空文字列", got)
	}
}

// TestSanitizeText_PlainText はタグを含まないテキストがそのまま返ることを検証する。
func TestSanitizeText_PlainText(t *testing.T) {
	s := NewContentSanitizer()

	input := "渋谷の新しいカフェ #カフェ巡り 🍰"
	if got := s.SanitizeText(input); got != input {
		t.Errorf("SanitizeText(%q) = %q, want 入力そのまま", input, got)
	}
}

// TestSanitizeText_TrimsWhitespace は前後の空白が除去されることを検証する。
func TestSanitizeText_TrimsWhitespace(t *testing.T) {
	s := NewContentSanitizer()

	got := s.SanitizeText("  <p>本文</p>  ")
	if got != "本文" {
		t.Errorf("SanitizeText = %q, want %q", got, "本文")
	}
}

// TestSanitizeText_Idempotent は同一入力に対して常に同一出力を返すことを検証する。
func TestSanitizeText_Idempotent(t *testing.T) {
	s := NewContentSanitizer()

	input := `<b>タイトル</b> &amp; 本文`
	first := s.SanitizeText(input)
	second := s.SanitizeText(first)
	if first != second {
		t.Errorf("冪等性が成立していません: first=%q, second=%q", first, second)
	}
}
