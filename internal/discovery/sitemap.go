package discovery

import (
	"context"
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fieldfare/orb-weaver/internal/fetch"
	"github.com/fieldfare/orb-weaver/internal/util"
)

// wellKnownSitemapPaths are probed when robots.txt declares no sitemaps.
// The *-sitemap.xml variants cover the common WordPress SEO plugins.
var wellKnownSitemapPaths = []string{
	"/sitemap.xml",
	"/sitemap_index.xml",
	"/post-sitemap.xml",
	"/page-sitemap.xml",
	"/category-sitemap.xml",
}

// maxSitemapDepth bounds recursion through nested sitemap indexes.
const maxSitemapDepth = 3

// Sweeper performs the systematic sweep at crawl start: it combines
// robots-declared sitemaps with well-known locations and expands them all
// into page URLs.
type Sweeper struct {
	fetcher fetch.Client
	filter  *Filter
}

// NewSweeper builds a sweeper over the plain fetch capability, scoped by
// the shared candidate filter.
func NewSweeper(fetcher fetch.Client, filter *Filter) *Sweeper {
	return &Sweeper{fetcher: fetcher, filter: filter}
}

// Sweep expands declared plus well-known sitemaps into filtered page URLs.
// Sitemap failures are logged and skipped; a site without sitemaps simply
// yields no URLs here and is crawled by link discovery alone.
func (s *Sweeper) Sweep(ctx context.Context, declared []string) []string {
	sitemaps := s.locateSitemaps(ctx, declared)

	seen := make(map[string]bool)
	var urls []string
	for _, sitemapURL := range sitemaps {
		for _, pageURL := range s.parseSitemap(ctx, sitemapURL, 0) {
			if !seen[pageURL] {
				seen[pageURL] = true
				urls = append(urls, pageURL)
			}
		}
	}

	log.Debug().
		Int("sitemaps", len(sitemaps)).
		Int("urls", len(urls)).
		Msg("Sitemap sweep complete")

	return urls
}

// locateSitemaps merges robots-declared sitemap URLs with well-known
// locations that answer a HEAD probe.
func (s *Sweeper) locateSitemaps(ctx context.Context, declared []string) []string {
	seen := make(map[string]bool)
	var sitemaps []string

	add := func(raw string) {
		normalised, err := util.NormaliseURL(raw)
		if err != nil {
			log.Debug().Str("url", raw).Err(err).Msg("Skipping invalid sitemap URL")
			return
		}
		if !seen[normalised] {
			seen[normalised] = true
			sitemaps = append(sitemaps, normalised)
		}
	}

	for _, sitemapURL := range declared {
		add(sitemapURL)
	}

	if len(sitemaps) > 0 {
		return sitemaps
	}

	origin := s.filter.Origin()
	base := origin.Scheme + "://" + util.HostKey(origin)
	for _, path := range wellKnownSitemapPaths {
		probeURL := base + path
		res, err := s.fetcher.Head(ctx, probeURL)
		if err != nil {
			log.Debug().Err(err).Str("url", probeURL).Msg("Error probing sitemap location")
			continue
		}
		if res.StatusCode == http.StatusOK {
			log.Debug().Str("url", probeURL).Msg("Found sitemap at well-known location")
			add(probeURL)
		}
	}

	return sitemaps
}

// parseSitemap fetches one sitemap and returns its filtered page URLs,
// descending into sitemap indexes.
func (s *Sweeper) parseSitemap(ctx context.Context, sitemapURL string, depth int) []string {
	if depth > maxSitemapDepth {
		log.Warn().Str("url", sitemapURL).Msg("Sitemap index nesting too deep, skipping")
		return nil
	}

	res, err := s.fetcher.Get(ctx, sitemapURL)
	if err != nil {
		log.Warn().Err(err).Str("url", sitemapURL).Msg("Failed to fetch sitemap")
		return nil
	}
	if res.StatusCode != http.StatusOK {
		log.Warn().Int("status", res.StatusCode).Str("url", sitemapURL).Msg("Sitemap fetch returned non-success status")
		return nil
	}

	content := string(res.Body)
	var urls []string

	if strings.Contains(content, "<sitemapindex") {
		for _, childURL := range extractURLsFromXML(content, "<sitemap>", "</sitemap>", "<loc>", "</loc>") {
			normalised, err := util.NormaliseURL(childURL)
			if err != nil {
				log.Debug().Str("url", childURL).Msg("Skipping invalid child sitemap URL")
				continue
			}
			urls = append(urls, s.parseSitemap(ctx, normalised, depth+1)...)
		}
		return urls
	}

	for _, extracted := range extractURLsFromXML(content, "<url>", "</url>", "<loc>", "</loc>") {
		if accepted, ok := s.filter.Accept(nil, extracted); ok {
			urls = append(urls, accepted)
		}
	}

	log.Debug().
		Str("sitemap_url", sitemapURL).
		Int("url_count", len(urls)).
		Msg("Extracted URLs from sitemap")

	return urls
}

// extractURLsFromXML scans for <loc> values inside the given outer tags.
// Plain string scanning tolerates the malformed XML real sitemaps ship.
func extractURLsFromXML(content, startTag, endTag, locStartTag, locEndTag string) []string {
	var urls []string

	startIdx := 0
	for {
		startTagIdx := strings.Index(content[startIdx:], startTag)
		if startTagIdx == -1 {
			break
		}

		startTagIdx += startIdx
		endTagIdx := strings.Index(content[startTagIdx:], endTag)
		if endTagIdx == -1 {
			break
		}
		endTagIdx += startTagIdx

		section := content[startTagIdx : endTagIdx+len(endTag)]

		locStartIdx := strings.Index(section, locStartTag)
		if locStartIdx != -1 {
			locEndIdx := strings.Index(section[locStartIdx:], locEndTag)
			if locEndIdx != -1 {
				locEndIdx += locStartIdx
				url := strings.TrimSpace(section[locStartIdx+len(locStartTag) : locEndIdx])
				if url != "" {
					urls = append(urls, url)
				}
			}
		}

		startIdx = endTagIdx + len(endTag)
	}

	return urls
}
