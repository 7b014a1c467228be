// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService は管理画面から登録される機種説明のHTMLと、
// 公開フォームから送信される問い合わせ本文をサニタイズする。
// bluemondayの許可リストポリシーで、安全なタグと属性のみを通過させる。
package security

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// ContentSanitizerService はサニタイズ機能のインターフェースを定義する。
type ContentSanitizerService interface {
	// Sanitize は機種説明のHTMLをサニタイズして安全なHTMLを返す。
	// 空文字列の入力には空文字列を返す。同一入力に対して常に同一出力を返す。
	Sanitize(rawHTML string) string

	// SanitizeText はすべてのタグを除去し、前後の空白を取り除いたテキストを返す。
	// 問い合わせフォームや機種名など、HTMLを許可しない入力に使用する。
	SanitizeText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
// bluemondayのポリシーはスレッドセーフなので、1インスタンスを共有する。
type contentSanitizer struct {
	rich   *bluemonday.Policy
	strict *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// 機種説明用ポリシーの内容:
//   - 許可タグ: p, br, ul, ol, li, strong, em, h3, h4, table系, a, img
//   - aタグ: httpsのみ、target="_blank" と rel="noopener noreferrer" を付与
//   - imgのsrc属性: httpsスキームのみ許可
func NewContentSanitizer() *contentSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"p", "br", "ul", "ol", "li",
		"strong", "em", "h3", "h4",
		"table", "thead", "tbody", "tr", "th", "td",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(false)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemeWithCustomPolicy("https", func(u *url.URL) bool {
		return u.Host != ""
	})

	return &contentSanitizer{
		rich:   p,
		strict: bluemonday.StrictPolicy(),
	}
}

// Sanitize は機種説明のHTMLをサニタイズする。
func (s *contentSanitizer) Sanitize(rawHTML string) string {
	return s.rich.Sanitize(rawHTML)
}

// SanitizeText はタグをすべて除去したテキストを返す。
// 保存値はプレーンテキストとして扱うため、bluemondayが付けたエスケープは戻す。
func (s *contentSanitizer) SanitizeText(raw string) string {
	return strings.TrimSpace(html.UnescapeString(s.strict.Sanitize(raw)))
}

// ValidateImageURL は機種画像のURLを検証する。
// 絶対URLかつhttpsで、ユーザー情報を含まないものだけを許可する。
func ValidateImageURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid image url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("image url scheme must be https: %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("image url has no host")
	}
	if u.User != nil {
		return fmt.Errorf("image url must not contain credentials")
	}
	return nil
}

// compile-time interface check
var _ ContentSanitizerService = (*contentSanitizer)(nil)
