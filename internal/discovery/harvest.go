package discovery

import (
	"net/url"
	"regexp"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog/log"
)

// linkSources lists every link-bearing element/attribute pair harvested
// from a rendered page. Resource references (scripts, stylesheets, images)
// are included as content signals; the shared filter drops the binary ones.
var linkSources = []struct {
	selector string
	attr     string
}{
	{"a[href]", "href"},
	{"link[href]", "href"},
	{"area[href]", "href"},
	{"form[action]", "action"},
	{"iframe[src]", "src"},
	{"frame[src]", "src"},
	{"object[data]", "data"},
	{"embed[src]", "src"},
	{"img[src]", "src"},
	{"script[src]", "src"},
}

// dataAttrs are data-* attributes sites use to carry navigation targets
// for script-driven links.
var dataAttrs = []string{"data-url", "data-href", "data-link"}

// scriptURLPattern finds page-like URLs embedded in inline script text.
var scriptURLPattern = regexp.MustCompile(`['"]([^'"]*\.(?:html|php|asp|jsp))['"]`)

// DiscoveryScript runs inside the rendered page and returns candidate URLs
// the static DOM walk cannot see: script-constructed anchors, form
// actions and data attributes resolved by the browser itself.
const DiscoveryScript = `(function() {
	var found = [];
	var links = document.querySelectorAll('a[href]');
	for (var i = 0; i < links.length; i++) { found.push(links[i].href); }
	var forms = document.querySelectorAll('form[action]');
	for (var i = 0; i < forms.length; i++) { found.push(forms[i].action); }
	var data = document.querySelectorAll('[data-url], [data-href], [data-link]');
	for (var i = 0; i < data.length; i++) {
		var u = data[i].getAttribute('data-url') ||
			data[i].getAttribute('data-href') ||
			data[i].getAttribute('data-link');
		if (u) { found.push(u); }
	}
	return found;
})()`

// ScrollScript scrolls to the bottom of the page so lazy-loaded content is
// rendered before the DOM snapshot is taken.
const ScrollScript = `window.scrollTo(0, document.body.scrollHeight)`

// HarvestStats summarises one page's link harvest for the page record.
type HarvestStats struct {
	TotalRefs int
	External  int
	Forms     int
	Resources int
}

// Harvester extracts candidate URLs from rendered DOM snapshots.
type Harvester struct {
	filter *Filter
}

// NewHarvester builds a harvester scoped by the shared candidate filter.
func NewHarvester(filter *Filter) *Harvester {
	return &Harvester{filter: filter}
}

// Harvest walks every link-bearing attribute of the page, resolves
// candidates against the page URL and returns the filtered set in
// first-seen order along with harvest statistics.
func (h *Harvester) Harvest(pageURL *url.URL, doc *goquery.Document) ([]string, HarvestStats) {
	var stats HarvestStats
	seen := make(map[string]bool)
	var links []string

	accept := func(candidate string) {
		stats.TotalRefs++
		normalised, ok := h.filter.Accept(pageURL, candidate)
		if !ok {
			// Count candidates that parsed but point off-origin.
			if _, err := url.Parse(candidate); err == nil {
				stats.External++
			}
			return
		}
		if !seen[normalised] {
			seen[normalised] = true
			links = append(links, normalised)
		}
	}

	for _, source := range linkSources {
		doc.Find(source.selector).Each(func(i int, sel *goquery.Selection) {
			value := sel.AttrOr(source.attr, "")
			if value == "" {
				return
			}
			accept(value)
		})
	}

	for _, attr := range dataAttrs {
		doc.Find("[" + attr + "]").Each(func(i int, sel *goquery.Selection) {
			if value := sel.AttrOr(attr, ""); value != "" {
				accept(value)
			}
		})
	}

	// Page-like URLs hidden in inline scripts.
	doc.Find("script").Each(func(i int, sel *goquery.Selection) {
		for _, match := range scriptURLPattern.FindAllStringSubmatch(sel.Text(), -1) {
			accept(match[1])
		}
	})

	stats.Forms = doc.Find("form").Length()
	stats.Resources = doc.Find("img[src], script[src], link[rel='stylesheet']").Length()

	log.Debug().
		Str("url", pageURL.String()).
		Int("total_refs", stats.TotalRefs).
		Int("accepted", len(links)).
		Int("external", stats.External).
		Msg("Harvested links from rendered page")

	return links, stats
}

// MergeScriptResults folds URLs returned by DiscoveryScript into an
// existing harvest, applying the same filter and preserving order.
func (h *Harvester) MergeScriptResults(pageURL *url.URL, links []string, scriptURLs []string) []string {
	seen := make(map[string]bool, len(links))
	for _, l := range links {
		seen[l] = true
	}

	for _, candidate := range scriptURLs {
		normalised, ok := h.filter.Accept(pageURL, candidate)
		if !ok || seen[normalised] {
			continue
		}
		seen[normalised] = true
		links = append(links, normalised)
	}

	return links
}
