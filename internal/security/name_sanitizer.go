// Package security はアプリケーションのセキュリティ機能を提供する。
//
// NameSanitizer はユーザーが入力した表示名からマークアップを取り除き、
// プロフィールに保存できる平文にする。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxNameLength はprofiles.full_nameに保存できる最大文字数。
const MaxNameLength = 255

// NameSanitizer は表示名のサニタイズを行う。
// bluemondayのポリシーは並行利用できるため、1つのインスタンスを共有してよい。
type NameSanitizer struct {
	policy *bluemonday.Policy
}

// NewNameSanitizer はNameSanitizerを生成する。
// すべてのタグを除去するStrictPolicyを使う。
func NewNameSanitizer() *NameSanitizer {
	return &NameSanitizer{policy: bluemonday.StrictPolicy()}
}

// SanitizeName はタグを取り除き、連続する空白を1つにまとめて前後を除去する。
// MaxNameLengthを超える部分は切り捨てる。
func (s *NameSanitizer) SanitizeName(name string) string {
	// StrictPolicyは&などをエスケープするため元の文字に戻す
	text := html.UnescapeString(s.policy.Sanitize(name))
	text = strings.Join(strings.Fields(text), " ")

	if utf8.RuneCountInString(text) > MaxNameLength {
		text = strings.TrimSpace(string([]rune(text)[:MaxNameLength]))
	}
	return text
}
