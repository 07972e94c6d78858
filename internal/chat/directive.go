package chat

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultDirective はAI呼び出しを指示するデフォルトのマーカー。
const DefaultDirective = "@ai"

// trailingPunct はマーカー直後に続いても指示として扱う句読点。
const trailingPunct = ",:;!?."

// Directive はメッセージ中のAI指示マーカーを検出する。
// マーカーの直前に文字・数字・@がなく、直後に文字・数字が続かない場合のみ一致する。
// 文字と数字の判定はUnicodeの分類に従う。"email@ai.com" や "@aim" には一致しない。
type Directive struct {
	marker  string
	pattern *regexp.Regexp
}

// NewDirective は指定マーカーのDirectiveを生成する。空の場合はDefaultDirectiveを使用する。
func NewDirective(marker string) *Directive {
	if marker == "" {
		marker = DefaultDirective
	}
	return &Directive{
		marker:  marker,
		pattern: regexp.MustCompile(`(?:^|[^\p{L}\p{N}@])(` + regexp.QuoteMeta(marker) + `)(?:$|[^\p{L}\p{N}])`),
	}
}

// Marker はマーカー文字列を返す。
func (d *Directive) Marker() string {
	return d.marker
}

// Parse はテキストにマーカーが含まれるか判定し、含まれる場合はプロンプトを返す。
// 最初に一致したマーカーと直後の句読点を取り除き、前後の文字列を空白1つで連結する。
// マーカーのみのテキストは空のプロンプトになる。
func (d *Directive) Parse(text string) (string, bool) {
	loc := d.pattern.FindStringSubmatchIndex(text)
	if loc == nil {
		return "", false
	}

	before := strings.TrimSpace(text[:loc[2]])
	after := strings.TrimSpace(strings.TrimLeft(text[loc[3]:], trailingPunct))
	return joinAround(before, after), true
}

// joinAround はマーカーの前後を連結する。直前が開き括弧の場合は空白を挟まない。
func joinAround(before, after string) string {
	switch {
	case before == "":
		return after
	case after == "":
		return before
	}
	if r, _ := utf8.DecodeLastRuneInString(before); unicode.Is(unicode.Ps, r) {
		return before + after
	}
	return before + " " + after
}

// ParseDirective はマーカーを指定してテキストを解析する。
func ParseDirective(marker, text string) (string, bool) {
	return NewDirective(marker).Parse(text)
}
