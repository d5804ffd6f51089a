// Package render turns free-form answers into HTML and enforces the HTML
// allow-list applied to answers before they leave the service.
package render

import (
	"github.com/microcosm-cc/bluemonday"
	"github.com/russross/blackfriday/v2"
)

// Renderer converts markdown text to HTML.
type Renderer interface {
	Render(markdown string) string
}

// Sanitizer strips everything outside an allow-list from HTML.
type Sanitizer interface {
	Sanitize(html string) string
}

// Markdown renders with blackfriday's common extensions, which include
// fenced code blocks and tables.
type Markdown struct {
	extensions blackfriday.Extensions
}

func NewMarkdown() *Markdown {
	return &Markdown{extensions: blackfriday.CommonExtensions}
}

func (m *Markdown) Render(markdown string) string {
	return string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(m.extensions)))
}

// AllowedElements are the tags an HTML answer may contain.
var AllowedElements = []string{
	"a", "p", "br", "li", "ul", "ol",
	"table", "tr", "td", "th", "thead", "tbody",
	"div", "pre", "code", "strong", "em", "hr",
	"h1", "h2", "h3", "h4", "h5", "h6",
}

// Policy wraps a bluemonday policy built from AllowedElements. Links keep
// href and target and must use http or https.
type Policy struct {
	p *bluemonday.Policy
}

func NewPolicy() *Policy {
	p := bluemonday.NewPolicy()
	p.AllowElements(AllowedElements...)
	p.AllowAttrs("href", "target").OnElements("a")
	p.AllowAttrs("class").OnElements("div", "code")
	p.AllowURLSchemes("http", "https")
	p.RequireParseableURLs(true)
	return &Policy{p: p}
}

func (p *Policy) Sanitize(html string) string {
	return p.p.Sanitize(html)
}
