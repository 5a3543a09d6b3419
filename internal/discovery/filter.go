// Package discovery produces candidate URLs for the frontier from two
// sources: the systematic sitemap sweep at crawl start, and per-page
// harvesting of the rendered DOM.
package discovery

import (
	"net/url"
	"sync/atomic"

	"github.com/fieldfare/orb-weaver/internal/util"
)

// Filter applies the admission rules shared by the sitemap sweep and DOM
// harvesting: http(s) scheme, same origin as the crawl seed, and no
// binary/non-content extension. Malformed URLs are dropped and counted,
// never fatal.
type Filter struct {
	origin *url.URL

	malformed atomic.Int64
	offOrigin atomic.Int64
	binary    atomic.Int64
}

// NewFilter builds a filter scoped to the crawl's origin.
func NewFilter(origin *url.URL) *Filter {
	return &Filter{origin: origin}
}

// Accept normalises a candidate (resolving it against base when relative)
// and reports whether it passes the admission rules. base may be nil for
// candidates that are already absolute, e.g. sitemap entries.
func (f *Filter) Accept(base *url.URL, candidate string) (string, bool) {
	var normalised string
	var err error

	if base != nil {
		normalised, err = util.ResolveURL(base, candidate)
	} else {
		normalised, err = util.NormaliseURL(candidate)
	}
	if err != nil {
		f.malformed.Add(1)
		return "", false
	}

	parsed, err := url.Parse(normalised)
	if err != nil {
		f.malformed.Add(1)
		return "", false
	}

	if !util.SameOrigin(parsed, f.origin) {
		f.offOrigin.Add(1)
		return "", false
	}

	if util.HasBinaryExtension(parsed.Path) {
		f.binary.Add(1)
		return "", false
	}

	return normalised, true
}

// Origin returns the crawl origin the filter is scoped to.
func (f *Filter) Origin() *url.URL {
	return f.origin
}

// Dropped reports how many candidates were rejected, by reason.
func (f *Filter) Dropped() (malformed, offOrigin, binary int64) {
	return f.malformed.Load(), f.offOrigin.Load(), f.binary.Load()
}
