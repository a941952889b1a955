package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエンティティ経由で再構成されるマークアップを除去する最大反復回数。
const maxSanitizePasses = 3

// TextSanitizer はプロジェクト名や説明文などのプレーンテキストからマークアップを除去する。
type TextSanitizer interface {
	// Clean はすべてのHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// 結果はエスケープされていないプレーンテキストで、同一入力に対して冪等。
	Clean(raw string) string
}

// textSanitizer はbluemondayのStrictPolicyを用いたTextSanitizerの実装。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() TextSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Clean はすべてのHTMLタグを除去する。
// StrictPolicy は & などをエスケープするため、出力はアンエスケープして返す。
// アンエスケープでタグが現れた場合は再度除去する。
func (s *textSanitizer) Clean(raw string) string {
	text := raw
	for range maxSanitizePasses {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			break
		}
		text = next
	}
	return strings.TrimSpace(text)
}
