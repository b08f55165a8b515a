// Package pagetext turns captured page HTML into text suitable for filing:
// a plain-text rendering that skips boilerplate and hidden elements, and a
// markdown rendering for whole-page captures.
package pagetext

import (
	"log/slog"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Extractor converts page HTML. Safe for concurrent use.
type Extractor struct {
	policy *bluemonday.Policy
	conv   *converter.Converter
	logger *slog.Logger
}

// New creates an Extractor.
func New(logger *slog.Logger) *Extractor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Extractor{
		policy: bluemonday.UGCPolicy(),
		conv: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
				table.NewTablePlugin(),
			),
		),
		logger: logger,
	}
}

// Title returns the <title> text, or "".
func (e *Extractor) Title(htmlSrc string) string {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return ""
	}
	return findTitle(doc)
}

// PlainText returns the visible text of the page, with scripts, styles,
// navigation chrome and hidden elements removed.
func (e *Extractor) PlainText(htmlSrc string) string {
	doc, err := html.Parse(strings.NewReader(htmlSrc))
	if err != nil {
		return ""
	}
	return collectText(doc)
}

// Markdown converts sanitized page HTML to markdown, resolving relative links
// against sourceURL. If conversion fails or comes back empty, it falls back to
// the plain-text rendering.
func (e *Extractor) Markdown(htmlSrc, sourceURL string) string {
	if htmlSrc == "" {
		return ""
	}
	clean := e.policy.Sanitize(htmlSrc)
	result, err := e.conv.ConvertString(clean, converter.WithDomain(sourceURL))
	if err != nil || strings.TrimSpace(result) == "" {
		if err != nil {
			e.logger.Debug("pagetext: markdown conversion failed, using plain text",
				"url", sourceURL, "error", err)
		}
		return e.PlainText(htmlSrc)
	}
	return strings.TrimSpace(result)
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title {
		if n.FirstChild != nil {
			return strings.TrimSpace(n.FirstChild.Data)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func hasHiddenStyle(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	for _, a := range n.Attr {
		if a.Key != "style" {
			continue
		}
		v := strings.ToLower(a.Val)
		if strings.Contains(v, "display:none") || strings.Contains(v, "display: none") ||
			strings.Contains(v, "visibility:hidden") || strings.Contains(v, "visibility: hidden") {
			return true
		}
	}
	return false
}

func collectText(root *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			text := strings.TrimSpace(n.Data)
			if text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Nav, atom.Footer, atom.Header:
				return
			}
			if hasHiddenStyle(n) {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return sb.String()
}
