package renderer

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ChromeConfig tunes the headless Chrome backend.
type ChromeConfig struct {
	UserAgent       string
	Headless        bool
	DisableImages   bool
	WindowWidth     int
	WindowHeight    int
	ReadyPollPeriod time.Duration
}

// DefaultChromeConfig returns settings for crawling production sites.
func DefaultChromeConfig() *ChromeConfig {
	return &ChromeConfig{
		UserAgent:       "OrbWeaver/1.0 (+https://github.com/fieldfare/orb-weaver)",
		Headless:        true,
		DisableImages:   true,
		WindowWidth:     1920,
		WindowHeight:    1080,
		ReadyPollPeriod: 100 * time.Millisecond,
	}
}

// ChromeBrowser creates chromedp-backed sessions sharing one exec
// allocator (one Chrome process, one tab per session).
type ChromeBrowser struct {
	config      *ChromeConfig
	allocCtx    context.Context
	allocCancel context.CancelFunc
}

// NewChromeBrowser starts the shared Chrome allocator. Returns an error if
// the renderer capability is unavailable, which aborts the run before any
// work starts.
func NewChromeBrowser(ctx context.Context, config *ChromeConfig) (*ChromeBrowser, error) {
	if config == nil {
		config = DefaultChromeConfig()
	}

	opts := []chromedp.ExecAllocatorOption{
		chromedp.Flag("headless", config.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.WindowSize(config.WindowWidth, config.WindowHeight),
	}
	if config.DisableImages {
		opts = append(opts, chromedp.Flag("blink-settings", "imagesEnabled=false"))
	}
	if config.UserAgent != "" {
		opts = append(opts, chromedp.UserAgent(config.UserAgent))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)

	// Probe the allocator with a throwaway tab so a missing Chrome binary
	// fails fast at startup instead of on the first task.
	probeCtx, probeCancel := chromedp.NewContext(allocCtx)
	defer probeCancel()
	if err := chromedp.Run(probeCtx); err != nil {
		allocCancel()
		return nil, fmt.Errorf("renderer unavailable: %w", err)
	}

	return &ChromeBrowser{
		config:      config,
		allocCtx:    allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// NewSession opens a fresh tab.
func (b *ChromeBrowser) NewSession(ctx context.Context) (Session, error) {
	tabCtx, tabCancel := chromedp.NewContext(b.allocCtx)

	// Materialise the tab now so creation failures surface here.
	if err := chromedp.Run(tabCtx); err != nil {
		tabCancel()
		return nil, fmt.Errorf("failed to create render session: %w", err)
	}

	session := &chromeSession{
		id:         uuid.New().String()[:8],
		ctx:        tabCtx,
		cancel:     tabCancel,
		pollPeriod: b.config.ReadyPollPeriod,
	}

	log.Debug().Str("session_id", session.id).Msg("Created render session")
	return session, nil
}

// Close tears down the Chrome process.
func (b *ChromeBrowser) Close() error {
	b.allocCancel()
	return nil
}

type chromeSession struct {
	id         string
	ctx        context.Context
	cancel     context.CancelFunc
	pollPeriod time.Duration
}

func (s *chromeSession) ID() string {
	return s.id
}

func (s *chromeSession) Navigate(ctx context.Context, url string) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

// WaitReady polls document.readyState until the page reports complete.
func (s *chromeSession) WaitReady(ctx context.Context) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	ticker := time.NewTicker(s.pollPeriod)
	defer ticker.Stop()

	for {
		var readyState string
		if err := chromedp.Run(runCtx, chromedp.Evaluate(`document.readyState`, &readyState)); err != nil {
			return fmt.Errorf("wait for ready: %w", err)
		}
		if readyState == "complete" {
			return nil
		}

		select {
		case <-ticker.C:
		case <-runCtx.Done():
			return fmt.Errorf("wait for ready: %w", runCtx.Err())
		}
	}
}

func (s *chromeSession) Evaluate(ctx context.Context, script string, out any) error {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	if err := chromedp.Run(runCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("evaluate script: %w", err)
	}
	return nil
}

func (s *chromeSession) Snapshot(ctx context.Context) (string, error) {
	runCtx, cancel := s.bound(ctx)
	defer cancel()

	var html string
	if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("snapshot DOM: %w", err)
	}
	return html, nil
}

func (s *chromeSession) Close() error {
	log.Debug().Str("session_id", s.id).Msg("Disposing render session")
	s.cancel()
	return nil
}

// bound derives a context that honours both the caller's deadline and the
// tab's lifetime.
func (s *chromeSession) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	var runCtx context.Context
	var cancel context.CancelFunc
	if deadline, ok := ctx.Deadline(); ok {
		runCtx, cancel = context.WithDeadline(s.ctx, deadline)
	} else {
		runCtx, cancel = context.WithCancel(s.ctx)
	}
	// Caller context cancellation still has to interrupt chromedp.Run.
	stop := context.AfterFunc(ctx, cancel)
	return runCtx, func() {
		stop()
		cancel()
	}
}
