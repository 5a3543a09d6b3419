// Package robots implements the politeness policy layer: fetching, parsing
// and caching robots.txt per host, and answering allow/deny for candidate
// URLs. Absence or unreadability of robots.txt is not a violation - the
// policy fails open.
package robots

import (
	"bytes"
	"context"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fieldfare/orb-weaver/internal/fetch"
	"github.com/fieldfare/orb-weaver/internal/util"
)

// Policy caches parsed robots.txt rules per host for the lifetime of one
// crawl run. The first caller for a host performs the fetch; concurrent
// callers for the same host block on that fetch instead of each triggering
// their own.
type Policy struct {
	fetcher   fetch.Client
	userAgent string
	timeout   time.Duration

	mu    sync.Mutex
	hosts map[string]*hostEntry
}

type hostEntry struct {
	once  sync.Once
	rules *Rules
}

// NewPolicy builds a policy backed by the plain fetch capability.
func NewPolicy(fetcher fetch.Client, userAgent string, timeout time.Duration) *Policy {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Policy{
		fetcher:   fetcher,
		userAgent: userAgent,
		timeout:   timeout,
		hosts:     make(map[string]*hostEntry),
	}
}

// IsAllowed reports whether the URL may be crawled under the host's
// robots.txt. Fetch or parse failures default to allow.
func (p *Policy) IsAllowed(ctx context.Context, u *url.URL) bool {
	rules := p.rulesFor(ctx, u)
	path := u.Path
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return rules.IsPathAllowed(path)
}

// CrawlDelay returns the Crawl-delay declared for the host, or zero.
func (p *Policy) CrawlDelay(ctx context.Context, u *url.URL) time.Duration {
	rules := p.rulesFor(ctx, u)
	return time.Duration(rules.CrawlDelay) * time.Second
}

// DeclaredSitemaps returns the sitemap URLs listed in the host's
// robots.txt, for seeding discovery.
func (p *Policy) DeclaredSitemaps(ctx context.Context, u *url.URL) []string {
	rules := p.rulesFor(ctx, u)
	return rules.Sitemaps
}

// rulesFor returns the cached rules for the URL's host, fetching once.
func (p *Policy) rulesFor(ctx context.Context, u *url.URL) *Rules {
	host := util.HostKey(u)

	p.mu.Lock()
	entry, ok := p.hosts[host]
	if !ok {
		entry = &hostEntry{}
		p.hosts[host] = entry
	}
	p.mu.Unlock()

	entry.once.Do(func() {
		entry.rules = p.fetchRules(ctx, u.Scheme, host)
	})
	return entry.rules
}

func (p *Policy) fetchRules(ctx context.Context, scheme, host string) *Rules {
	robotsURL := scheme + "://" + host + "/robots.txt"

	log.Debug().
		Str("host", host).
		Str("robots_url", robotsURL).
		Msg("Fetching robots.txt")

	fetchCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.fetcher.Get(fetchCtx, robotsURL)
	if err != nil {
		log.Debug().
			Err(err).
			Str("host", host).
			Msg("Failed to fetch robots.txt, proceeding with no restrictions")
		return emptyRules()
	}

	if res.StatusCode != http.StatusOK {
		// No robots.txt means no restrictions.
		log.Debug().
			Str("host", host).
			Int("status", res.StatusCode).
			Msg("No robots.txt found, no restrictions apply")
		return emptyRules()
	}

	// Cap at 1MB to prevent memory exhaustion from a hostile host.
	body := res.Body
	if len(body) > 1*1024*1024 {
		log.Warn().
			Str("host", host).
			Int("size_bytes", len(body)).
			Msg("Robots.txt truncated at 1MB limit")
		body = body[:1*1024*1024]
	}

	rules, err := ParseRules(bytes.NewReader(body), p.userAgent)
	if err != nil {
		// Malformed robots.txt must not abort the crawl.
		log.Warn().
			Err(err).
			Str("host", host).
			Msg("Failed to parse robots.txt, treating as allow-all")
		return emptyRules()
	}

	return rules
}
