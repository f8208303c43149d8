// Package security はリモートAPIから受け取ったユーザー入力テキストを無害化する。
//
// 投稿本文、コメント、チャットはタグを全て取り除いたプレーンテキストに、
// プロフィールやグループの紹介文は最小限の書式タグだけを残したHTMLにする。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はユーザー入力テキストのサニタイズを行う。
type ContentSanitizerService interface {
	// PlainText はタグを除去し、エンティティを戻したプレーンテキストを返す。
	PlainText(raw string) string
	// Bio は紹介文用に br, strong, em, https の a だけを残したHTMLを返す。
	Bio(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのPolicyはスレッドセーフなので共有して使う。
type contentSanitizer struct {
	strict *bluemonday.Policy
	bio    *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
func NewContentSanitizer() *contentSanitizer {
	bio := bluemonday.NewPolicy()
	bio.AllowElements("br", "strong", "em")

	// リンクはhttpsの絶対URLのみ。新しいタブで開きリファラを送らない
	bio.AllowAttrs("href").OnElements("a")
	bio.AllowRelativeURLs(false)
	bio.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})
	bio.AddTargetBlankToFullyQualifiedLinks(true)
	bio.RequireNoReferrerOnLinks(true)

	return &contentSanitizer{
		strict: bluemonday.StrictPolicy(),
		bio:    bio,
	}
}

// PlainText はタグを除去したプレーンテキストを返す。
func (s *contentSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// Bio は紹介文をサニタイズする。
func (s *contentSanitizer) Bio(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(s.bio.Sanitize(raw))
}
