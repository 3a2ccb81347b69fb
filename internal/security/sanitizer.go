// Package security はユーザー入力を含むHTML断片のサニタイズを提供する。
//
// 通知本文やアクティビティの説明文はHTMLとして描画されるため、
// bluemondayの許可リストポリシーでインライン要素のみを通過させる。
package security

import (
	"net/url"

	"github.com/microcosm-cc/bluemonday"
)

// Sanitizer はHTML断片のサニタイズ機能のインターフェース。
type Sanitizer interface {
	// Sanitize はインライン要素（strong, em, code, br, a）のみを残したHTMLを返す。
	// aタグのhrefはhttpsのみ許可し、target="_blank"とrel="noopener noreferrer"を付与する。
	Sanitize(rawHTML string) string

	// StripTags はすべてのタグを除去し、テキストをHTMLエスケープして返す。
	// ユーザー名などHTMLに埋め込むプレーンテキストに使う。
	StripTags(raw string) string
}

// htmlSanitizer はSanitizerの実装。ポリシーはスレッドセーフ。
type htmlSanitizer struct {
	inline *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewSanitizer はSanitizerを生成する。
func NewSanitizer() Sanitizer {
	p := bluemonday.NewPolicy()

	// script, style, iframe等は許可リストにないため除去される
	p.AllowElements("strong", "em", "code", "br")

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &htmlSanitizer{
		inline: p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize はHTML断片をサニタイズする。
func (s *htmlSanitizer) Sanitize(rawHTML string) string {
	return s.inline.Sanitize(rawHTML)
}

// StripTags はタグを除去したエスケープ済みテキストを返す。
func (s *htmlSanitizer) StripTags(raw string) string {
	return s.strict.Sanitize(raw)
}
