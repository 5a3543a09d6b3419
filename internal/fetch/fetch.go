// Package fetch provides the plain (non-rendered) HTTP capability used for
// robots.txt and sitemap retrieval. Rendered page loads go through the
// renderer pool instead.
package fetch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/rs/zerolog/log"
)

// Response is the outcome of a plain fetch. Non-2xx statuses are returned
// as responses, not errors; only transport failures produce an error.
type Response struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	URL        string
}

// Client is the plain fetch capability consumed by the robots policy and
// the sitemap sweep.
type Client interface {
	Get(ctx context.Context, url string) (*Response, error)
	Head(ctx context.Context, url string) (*Response, error)
}

// Config tunes the fetch client.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
}

// DefaultConfig returns fetch settings suitable for politeness probes.
func DefaultConfig() *Config {
	return &Config{
		UserAgent:   "OrbWeaver/1.0 (+https://github.com/fieldfare/orb-weaver)",
		Timeout:     30 * time.Second,
		MaxBodySize: 10 * 1024 * 1024,
	}
}

// CollyClient fetches over a tuned colly collector with browser-like
// headers. Each request runs on a clone so handler state never leaks
// between calls.
type CollyClient struct {
	config *Config
	colly  *colly.Collector
}

// NewClient builds a CollyClient. A nil config selects defaults.
func NewClient(config *Config) *CollyClient {
	if config == nil {
		config = DefaultConfig()
	}

	c := colly.NewCollector(
		colly.UserAgent(config.UserAgent),
		colly.MaxDepth(1),
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
		colly.MaxBodySize(config.MaxBodySize),
	)

	c.SetClient(&http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			MaxIdleConnsPerHost: 25,
			MaxConnsPerHost:     50,
			IdleConnTimeout:     120 * time.Second,
			TLSHandshakeTimeout: 10 * time.Second,
			ForceAttemptHTTP2:   true,
		},
	})

	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
	})

	return &CollyClient{config: config, colly: c}
}

// Get fetches the URL body.
func (c *CollyClient) Get(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, "GET", url)
}

// Head checks a URL without transferring the body. Used when probing
// well-known sitemap locations.
func (c *CollyClient) Head(ctx context.Context, url string) (*Response, error) {
	return c.do(ctx, "HEAD", url)
}

func (c *CollyClient) do(ctx context.Context, method, url string) (*Response, error) {
	clone := c.colly.Clone()

	var res *Response
	var transportErr error

	clone.OnResponse(func(r *colly.Response) {
		res = &Response{
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       r.Body,
			URL:        r.Request.URL.String(),
		}
	})

	clone.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode > 0 {
			// HTTP-level failure: surface the status, not an error, so
			// callers can apply their own policy (404 robots.txt is fine).
			res = &Response{
				StatusCode: r.StatusCode,
				Headers:    headersOrEmpty(r),
				Body:       r.Body,
				URL:        url,
			}
			return
		}
		transportErr = err
	})

	// Run the visit in a goroutine so the context can interrupt the wait.
	done := make(chan error, 1)
	go func() {
		var err error
		if method == "HEAD" {
			err = clone.Head(url)
		} else {
			err = clone.Visit(url)
		}
		clone.Wait()
		done <- err
	}()

	select {
	case err := <-done:
		if transportErr != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, transportErr)
		}
		if res != nil {
			return res, nil
		}
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", url, err)
		}
		return nil, fmt.Errorf("fetch %s: no response", url)
	case <-ctx.Done():
		log.Debug().Str("url", url).Msg("Fetch cancelled by context")
		return nil, ctx.Err()
	}
}

func headersOrEmpty(r *colly.Response) http.Header {
	if r.Headers == nil {
		return http.Header{}
	}
	return r.Headers.Clone()
}
