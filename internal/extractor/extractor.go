// Package extractor converts a rendered DOM snapshot into ordered,
// deduplicated content units.
package extractor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// nonContentSelectors are stripped before collection: scripts, styles and
// navigation chrome contribute no page content.
var nonContentSelectors = []string{
	"script", "style", "noscript", "nav", "header", "footer", "aside",
}

// contentSelectors are collected in order. Class/id signals catch themed
// content containers that plain tag selectors miss.
var contentSelectors = []string{
	"h1", "h2", "h3", "h4", "h5", "h6",
	"p", "article", "section", "blockquote",
	"li", "td", "th",
	"[class*='content']", "[class*='description']", "[class*='spec']", "[class*='feature']",
	"[id*='content']", "[id*='description']",
}

// minTextLength filters boilerplate fragments; shorter runs are noise.
const minTextLength = 10

// largeDOMThreshold is the snapshot size above which an empty extraction
// is suspicious (likely a rendering failure) rather than a thin page.
const largeDOMThreshold = 10 * 1024

// Item is one extracted content unit.
type Item struct {
	Tag       string `json:"tag"`
	Text      string `json:"text"`
	WordCount int    `json:"word_count"`
}

// Result is the structured content of one rendered page.
type Result struct {
	Title           string `json:"title"`
	MetaDescription string `json:"meta_description,omitempty"`
	Items           []Item `json:"items"`
	HeadingCount    int    `json:"heading_count"`

	// SuspectEmpty marks pages whose DOM was substantial but yielded no
	// text. The page is still recorded, not discarded.
	SuspectEmpty bool `json:"suspect_empty,omitempty"`
}

// Extract collects content units from a rendered DOM snapshot. Duplicate
// text within the page is suppressed, first occurrence wins.
func Extract(pageURL string, doc *goquery.Document, domSize int) *Result {
	result := &Result{}

	if title := doc.Find("title").First(); title.Length() > 0 {
		result.Title = strings.TrimSpace(title.Text())
	}
	if desc, ok := doc.Find(`meta[name="description"]`).Attr("content"); ok {
		result.MetaDescription = strings.TrimSpace(desc)
	}

	// Work on a clone so harvesting still sees the full DOM.
	body := doc.Find("body").Clone()
	for _, selector := range nonContentSelectors {
		body.Find(selector).Remove()
	}

	seen := make(map[string]bool)
	for _, selector := range contentSelectors {
		body.Find(selector).Each(func(i int, sel *goquery.Selection) {
			text := normaliseSpace(sel.Text())
			if len(text) < minTextLength {
				return
			}
			if seen[text] {
				return
			}
			seen[text] = true

			tag := goquery.NodeName(sel)
			result.Items = append(result.Items, Item{
				Tag:       tag,
				Text:      text,
				WordCount: len(strings.Fields(text)),
			})
			if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
				result.HeadingCount++
			}
		})
	}

	if len(result.Items) == 0 && domSize > largeDOMThreshold {
		result.SuspectEmpty = true
		log.Warn().
			Str("url", pageURL).
			Int("dom_bytes", domSize).
			Msg("Substantial DOM yielded no extractable content, likely rendering failure")
	}

	return result
}

// normaliseSpace collapses runs of whitespace the way a browser renders
// them.
func normaliseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
