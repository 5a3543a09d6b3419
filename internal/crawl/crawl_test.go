package crawl

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fieldfare/orb-weaver/internal/fetch"
	"github.com/fieldfare/orb-weaver/internal/renderer"
)

// fakeBrowser serves canned HTML per URL and can be told to crash
// navigation for specific URLs.
type fakeBrowser struct {
	mu          sync.Mutex
	pages       map[string]string
	crash       map[string]bool
	sessions    []*fakeSession
	navigations []string
	deadNavs    int
}

func newFakeBrowser() *fakeBrowser {
	return &fakeBrowser{
		pages: make(map[string]string),
		crash: make(map[string]bool),
	}
}

func (b *fakeBrowser) NewSession(ctx context.Context) (renderer.Session, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &fakeSession{id: fmt.Sprintf("s%d", len(b.sessions)), browser: b}
	b.sessions = append(b.sessions, s)
	return s, nil
}

func (b *fakeBrowser) Close() error { return nil }

func (b *fakeBrowser) navigated(url string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, n := range b.navigations {
		if n == url {
			return true
		}
	}
	return false
}

func (b *fakeBrowser) navigationCount(url string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, visited := range b.navigations {
		if visited == url {
			n++
		}
	}
	return n
}

type fakeSession struct {
	id      string
	browser *fakeBrowser
	current string
	dead    bool
	closed  bool
}

func (s *fakeSession) ID() string { return s.id }

func (s *fakeSession) Navigate(ctx context.Context, url string) error {
	s.browser.mu.Lock()
	defer s.browser.mu.Unlock()

	if s.dead {
		s.browser.deadNavs++
		return fmt.Errorf("navigate on crashed session %s", s.id)
	}
	s.browser.navigations = append(s.browser.navigations, url)
	if s.browser.crash[url] {
		s.dead = true
		return fmt.Errorf("renderer crashed loading %s", url)
	}
	s.current = url
	return nil
}

func (s *fakeSession) WaitReady(ctx context.Context) error { return nil }

func (s *fakeSession) Evaluate(ctx context.Context, script string, out any) error {
	if urls, ok := out.(*[]string); ok {
		*urls = nil
	}
	return nil
}

func (s *fakeSession) Snapshot(ctx context.Context) (string, error) {
	s.browser.mu.Lock()
	defer s.browser.mu.Unlock()
	html, ok := s.browser.pages[s.current]
	if !ok {
		html = "<html><body></body></html>"
	}
	return html, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

// captureSink records emitted pages and failures.
type captureSink struct {
	mu       sync.Mutex
	records  map[string]*PageRecord
	failures map[string]string
	emitted  chan string
}

func newCaptureSink() *captureSink {
	return &captureSink{
		records:  make(map[string]*PageRecord),
		failures: make(map[string]string),
		emitted:  make(chan string, 256),
	}
}

func (c *captureSink) Emit(record *PageRecord) {
	c.mu.Lock()
	c.records[record.URL] = record
	c.mu.Unlock()
	c.emitted <- record.URL
}

func (c *captureSink) EmitFailure(url, reason string) {
	c.mu.Lock()
	c.failures[url] = reason
	c.mu.Unlock()
}

func (c *captureSink) urls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var urls []string
	for u := range c.records {
		urls = append(urls, u)
	}
	return urls
}

func (c *captureSink) record(url string) *PageRecord {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.records[url]
}

// testConfig returns settings fast enough for unit tests.
func testConfig() *Config {
	cfg := DefaultConfig()
	cfg.MaxDepth = 3
	cfg.MaxPages = 100
	cfg.WorkerCount = 2
	cfg.RendererPoolSize = 2
	cfg.RequestsPerSecond = 500
	cfg.Burst = 50
	cfg.RetryLimit = 1
	cfg.CheckoutTimeout = 2 * time.Second
	return cfg
}

// siteServer serves robots.txt and sitemap.xml; page bodies come from the
// fake browser, not this server.
func siteServer(t *testing.T, robots func(base string) string, sitemap func(base string) string) *httptest.Server {
	t.Helper()
	var server *httptest.Server
	server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/robots.txt":
			if robots == nil {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, robots(server.URL))
		case "/sitemap.xml":
			if sitemap == nil {
				http.NotFound(w, r)
				return
			}
			fmt.Fprint(w, sitemap(server.URL))
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCrawlSeedsFromSitemapAndBoundsDepth(t *testing.T) {
	server := siteServer(t,
		func(base string) string {
			return "User-agent: *\nAllow: /\nSitemap: " + base + "/sitemap.xml\n"
		},
		func(base string) string {
			return fmt.Sprintf(`<urlset>
<url><loc>%s/a</loc></url>
<url><loc>%s/b</loc></url>
</urlset>`, base, base)
		})

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = `<html><body><a href="/deep">Deep</a></body></html>`
	browser.pages[server.URL+"/deep"] = `<html><body><a href="/toodeep">Too deep</a></body></html>`

	sink := newCaptureSink()
	orch := NewOrchestrator(fetch.NewClient(nil), browser, sink, nil)

	cfg := testConfig()
	cfg.MaxDepth = 1
	run, err := orch.StartCrawl(context.Background(), server.URL+"/", cfg)
	require.NoError(t, err)

	status := run.Wait()
	assert.Equal(t, StateCompleted, status.State)

	// Seed plus both sitemap URLs at depth 0, the discovered link at
	// depth 1; the link found at depth 1 exceeds MaxDepth and is dropped.
	assert.ElementsMatch(t, []string{
		server.URL + "/",
		server.URL + "/a",
		server.URL + "/b",
		server.URL + "/deep",
	}, sink.urls())
	assert.False(t, browser.navigated(server.URL+"/toodeep"))

	deep := sink.record(server.URL + "/deep")
	require.NotNil(t, deep)
	assert.Equal(t, 1, deep.Depth)
	assert.Equal(t, OutcomeSucceeded, deep.Outcome)

	root := sink.record(server.URL + "/")
	require.NotNil(t, root)
	assert.Equal(t, 0, root.Depth)
}

func TestCrawlSkipsRobotsDisallowedPaths(t *testing.T) {
	server := siteServer(t, func(base string) string {
		return "User-agent: *\nDisallow: /private/\n"
	}, nil)

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = `<html><body>
<a href="/private/page">Private</a>
<a href="/public">Public</a>
</body></html>`

	sink := newCaptureSink()
	orch := NewOrchestrator(fetch.NewClient(nil), browser, sink, nil)

	run, err := orch.StartCrawl(context.Background(), server.URL+"/", testConfig())
	require.NoError(t, err)

	status := run.Wait()
	assert.Equal(t, StateCompleted, status.State)

	// The disallowed URL is counted as a policy skip, not a failure, and
	// never reaches the renderer.
	assert.ElementsMatch(t, []string{server.URL + "/", server.URL + "/public"}, sink.urls())
	assert.False(t, browser.navigated(server.URL+"/private/page"))
	assert.Equal(t, 1, status.Skipped)
	assert.Equal(t, 0, status.Failed)
	assert.Empty(t, sink.failures)
}

func TestCrawlRetriesRendererCrashThenFails(t *testing.T) {
	server := siteServer(t, nil, nil)

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = `<html><body>
<a href="/bad">Bad</a>
<a href="/ok">OK</a>
</body></html>`
	browser.crash[server.URL+"/bad"] = true

	sink := newCaptureSink()
	orch := NewOrchestrator(fetch.NewClient(nil), browser, sink, nil)

	cfg := testConfig()
	cfg.RetryLimit = 2
	run, err := orch.StartCrawl(context.Background(), server.URL+"/", cfg)
	require.NoError(t, err)

	status := run.Wait()
	assert.Equal(t, StateCompleted, status.State)

	// Initial attempt plus two retries, then a terminal failure.
	assert.Equal(t, 3, browser.navigationCount(server.URL+"/bad"))
	assert.Contains(t, sink.failures, server.URL+"/bad")
	assert.Equal(t, 1, status.Failed)
	assert.ElementsMatch(t, []string{server.URL + "/", server.URL + "/ok"}, sink.urls())

	// A crashed session must never serve another navigation, and it is
	// disposed rather than returned to the pool.
	assert.Equal(t, 0, browser.deadNavs)
	browser.mu.Lock()
	defer browser.mu.Unlock()
	for _, session := range browser.sessions {
		if session.dead {
			assert.True(t, session.closed, "crashed session %s was not disposed", session.id)
		}
	}
}

func TestCrawlStopsAtPageLimit(t *testing.T) {
	server := siteServer(t, nil, nil)

	var body string
	for i := 0; i < 10; i++ {
		body += fmt.Sprintf(`<a href="/page-%d">p</a>`, i)
	}

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = "<html><body>" + body + "</body></html>"

	sink := newCaptureSink()
	orch := NewOrchestrator(fetch.NewClient(nil), browser, sink, nil)

	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.MaxPages = 2
	run, err := orch.StartCrawl(context.Background(), server.URL+"/", cfg)
	require.NoError(t, err)

	status := run.Wait()

	// Reaching the page limit is a normal completion, not a cancellation.
	assert.Equal(t, StateCompleted, status.State)
	assert.Equal(t, 2, status.Processed)
}

func TestCrawlCancellation(t *testing.T) {
	server := siteServer(t, nil, nil)

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = `<html><body><a href="/page-0">p</a></body></html>`
	for i := 0; i < 50; i++ {
		browser.pages[server.URL+fmt.Sprintf("/page-%d", i)] =
			fmt.Sprintf(`<html><body><a href="/page-%d">next</a></body></html>`, i+1)
	}

	sink := newCaptureSink()
	orch := NewOrchestrator(fetch.NewClient(nil), browser, sink, nil)

	cfg := testConfig()
	cfg.WorkerCount = 1
	cfg.RequestsPerSecond = 20
	cfg.Burst = 1
	run, err := orch.StartCrawl(context.Background(), server.URL+"/", cfg)
	require.NoError(t, err)

	// Cancel once the first page has been emitted.
	select {
	case <-sink.emitted:
	case <-time.After(5 * time.Second):
		t.Fatal("no page emitted before timeout")
	}
	assert.True(t, orch.Cancel(run.ID))

	status := run.Wait()
	assert.Equal(t, StateCancelled, status.State)
	assert.Less(t, status.Processed, 50)

	// The handle stays queryable after the run ends.
	after, ok := orch.Status(run.ID)
	require.True(t, ok)
	assert.Equal(t, StateCancelled, after.State)
}

func TestStartCrawlRejectsInvalidSeed(t *testing.T) {
	orch := NewOrchestrator(fetch.NewClient(nil), newFakeBrowser(), nil, nil)

	_, err := orch.StartCrawl(context.Background(), "not-a-url", nil)
	assert.Error(t, err)

	_, err = orch.StartCrawl(context.Background(), "ftp://example.com/", nil)
	assert.Error(t, err)
}

func TestForgetDropsRunHandle(t *testing.T) {
	server := siteServer(t, nil, nil)

	browser := newFakeBrowser()
	browser.pages[server.URL+"/"] = "<html><body></body></html>"

	orch := NewOrchestrator(fetch.NewClient(nil), browser, newCaptureSink(), nil)
	run, err := orch.StartCrawl(context.Background(), server.URL+"/", testConfig())
	require.NoError(t, err)
	run.Wait()

	_, ok := orch.Status(run.ID)
	require.True(t, ok)

	orch.Forget(run.ID)
	_, ok = orch.Status(run.ID)
	assert.False(t, ok)
	assert.False(t, orch.Cancel(run.ID))

	// The caller's own handle still answers.
	assert.Equal(t, StateCompleted, run.Status().State)
}

func TestCancelUnknownRun(t *testing.T) {
	orch := NewOrchestrator(fetch.NewClient(nil), newFakeBrowser(), nil, nil)
	assert.False(t, orch.Cancel("no-such-run"))
	_, ok := orch.Status("no-such-run")
	assert.False(t, ok)
}
