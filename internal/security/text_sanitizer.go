// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はユーザー入力のプレーンテキスト（タスクのタイトル・説明、ユーザー名）から
// マークアップを取り除く。bluemondayのStrictPolicyを使用し、タグはすべて除去される。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses は多重にエンティティ化された入力を展開する上限回数。
const maxSanitizePasses = 4

// TextSanitizer はプレーンテキストのサニタイズ機能のインターフェースを定義する。
type TextSanitizer interface {
	// Sanitize はHTMLタグを除去し、前後の空白を取り除いたテキストを返す。
	// script, styleタグは中身ごと除去される。&lt;b&gt; のようにエンティティ化されたタグも除去する。
	// &amp; 等のエンティティは元の文字に戻す（レスポンスはJSONでありHTMLとして描画しない）。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのポリシーはスレッドセーフなので1インスタンスを共有する。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去したテキストを返す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	// エンティティで符号化されたタグも除去するため、出力が変わらなくなるまで繰り返す
	text := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := html.UnescapeString(s.policy.Sanitize(text))
		if next == text {
			return strings.TrimSpace(text)
		}
		text = next
	}
	// 上限を超えて符号化された入力はエンティティのまま返す
	return strings.TrimSpace(s.policy.Sanitize(text))
}
