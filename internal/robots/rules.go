package robots

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// Rules holds the parsed robots.txt directives that apply to our crawler
// for one host.
type Rules struct {
	// CrawlDelay in seconds (0 means no delay specified)
	CrawlDelay int
	// Sitemaps declared via Sitemap: directives
	Sitemaps []string
	// DisallowPatterns are URL path patterns that should not be crawled
	DisallowPatterns []string
	// AllowPatterns override DisallowPatterns (more specific)
	AllowPatterns []string
}

func emptyRules() *Rules {
	return &Rules{
		Sitemaps:         []string{},
		DisallowPatterns: []string{},
		AllowPatterns:    []string{},
	}
}

// ParseRules parses robots.txt content, selecting the section for our bot
// when one exists and falling back to the wildcard section otherwise.
// Sitemap directives apply globally regardless of section.
func ParseRules(r io.Reader, userAgent string) (*Rules, error) {
	rules := emptyRules()

	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read robots.txt: %w", err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(content))

	var inOurSection bool
	var inWildcardSection bool
	var foundSpecificSection bool

	// Extract bot name from user agent (e.g. "OrbWeaver/1.0" -> "orbweaver")
	botName := strings.ToLower(strings.Split(userAgent, "/")[0])

	wildcardRules := emptyRules()

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lowerLine := strings.ToLower(line)

		if strings.HasPrefix(lowerLine, "user-agent:") {
			agent := strings.TrimSpace(line[11:])
			agentLower := strings.ToLower(agent)

			inOurSection = false
			inWildcardSection = false

			if agent == "*" {
				inWildcardSection = true
			} else if agentLower == botName || strings.Contains(agentLower, botName) {
				inOurSection = true
				foundSpecificSection = true
				// Rules for our bot replace anything collected so far.
				rules = emptyRules()
			}
			continue
		}

		// Sitemap directives apply globally.
		if strings.HasPrefix(lowerLine, "sitemap:") {
			sitemapURL := strings.TrimSpace(line[8:])
			if sitemapURL != "" {
				rules.Sitemaps = append(rules.Sitemaps, sitemapURL)
				if inWildcardSection && !foundSpecificSection {
					wildcardRules.Sitemaps = append(wildcardRules.Sitemaps, sitemapURL)
				}
			}
			continue
		}

		if !inOurSection && !inWildcardSection {
			continue
		}

		currentRules := rules
		if inWildcardSection && !foundSpecificSection {
			currentRules = wildcardRules
		}

		if strings.HasPrefix(lowerLine, "crawl-delay:") {
			delayStr := strings.TrimSpace(line[12:])
			if delay, err := strconv.Atoi(delayStr); err == nil && delay > 0 {
				currentRules.CrawlDelay = delay
			}
			continue
		}

		if strings.HasPrefix(lowerLine, "disallow:") {
			path := strings.TrimSpace(line[9:])
			if path != "" {
				currentRules.DisallowPatterns = append(currentRules.DisallowPatterns, path)
			}
			continue
		}

		if strings.HasPrefix(lowerLine, "allow:") {
			path := strings.TrimSpace(line[6:])
			if path != "" {
				currentRules.AllowPatterns = append(currentRules.AllowPatterns, path)
			}
			continue
		}
	}

	if !foundSpecificSection {
		rules.CrawlDelay = wildcardRules.CrawlDelay
		rules.DisallowPatterns = wildcardRules.DisallowPatterns
		rules.AllowPatterns = wildcardRules.AllowPatterns
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading robots.txt: %w", err)
	}

	log.Debug().
		Int("crawl_delay", rules.CrawlDelay).
		Int("sitemaps", len(rules.Sitemaps)).
		Int("disallow_patterns", len(rules.DisallowPatterns)).
		Int("allow_patterns", len(rules.AllowPatterns)).
		Msg("Parsed robots.txt rules")

	return rules, nil
}

// IsPathAllowed checks whether a path may be crawled under these rules.
func (r *Rules) IsPathAllowed(path string) bool {
	if r == nil || len(r.DisallowPatterns) == 0 {
		return true
	}

	// Allow patterns override Disallow.
	for _, pattern := range r.AllowPatterns {
		if matchesPattern(path, pattern) {
			return true
		}
	}

	for _, pattern := range r.DisallowPatterns {
		if matchesPattern(path, pattern) {
			return false
		}
	}

	return true
}

// matchesPattern checks a path against a robots.txt pattern, supporting the
// * wildcard and the $ end-of-URL marker, alone or combined.
func matchesPattern(path, pattern string) bool {
	anchored := strings.HasSuffix(pattern, "$")
	if anchored {
		pattern = strings.TrimSuffix(pattern, "$")
	}

	if !strings.Contains(pattern, "*") {
		if anchored {
			return path == pattern
		}
		return strings.HasPrefix(path, pattern)
	}

	// The segment before the first * anchors at the path start; the rest
	// must appear in order.
	parts := strings.Split(pattern, "*")
	if !strings.HasPrefix(path, parts[0]) {
		return false
	}
	currentPos := len(parts[0])
	for _, part := range parts[1:] {
		if part == "" {
			continue
		}
		idx := strings.Index(path[currentPos:], part)
		if idx == -1 {
			return false
		}
		currentPos += idx + len(part)
	}

	if anchored {
		// With $ the final literal segment must sit at the end of the
		// path; a trailing * makes the anchor vacuous.
		last := parts[len(parts)-1]
		return last == "" || strings.HasSuffix(path, last)
	}
	return true
}
