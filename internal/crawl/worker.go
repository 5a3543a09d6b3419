package crawl

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"runtime/debug"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/getsentry/sentry-go"
	"github.com/rs/zerolog/log"

	"github.com/fieldfare/orb-weaver/internal/discovery"
	"github.com/fieldfare/orb-weaver/internal/extractor"
	"github.com/fieldfare/orb-weaver/internal/frontier"
	"github.com/fieldfare/orb-weaver/internal/renderer"
	"github.com/fieldfare/orb-weaver/internal/util"
)

// worker pulls tasks until the frontier drains or the run is cancelled.
// Each task runs its state machine to completion before the next pop.
func (r *Run) worker(ctx context.Context) error {
	for {
		task, err := r.frontier.Pop(ctx)
		if err != nil {
			switch {
			case errors.Is(err, frontier.ErrDrained), errors.Is(err, frontier.ErrClosed):
				return nil
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			default:
				return err
			}
		}
		r.process(ctx, task)
	}
}

// process runs one task through admission, rendering and extraction.
// Failures never escape: they become retries, failure records or policy
// skips.
func (r *Run) process(ctx context.Context, task *frontier.Task) {
	defer r.frontier.Done()
	defer func() {
		if rec := recover(); rec != nil {
			sentry.CurrentHub().Recover(rec)
			log.Error().
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Str("url", task.URL).
				Msg("Recovered from panic processing task")
			r.failed.Add(1)
			r.results.EmitFailure(task.URL, fmt.Sprintf("panic: %v", rec))
		}
	}()

	pageURL, err := url.Parse(task.URL)
	if err != nil {
		// Task URLs are normalised at admission; a parse failure here means
		// the normaliser let something malformed through.
		r.failed.Add(1)
		r.results.EmitFailure(task.URL, fmt.Sprintf("unparseable URL: %v", err))
		return
	}

	if !r.policy.IsAllowed(ctx, pageURL) {
		r.skipped.Add(1)
		log.Debug().Str("url", task.URL).Msg("Skipped by robots policy")
		return
	}

	host := util.HostKey(pageURL)
	if delay := r.policy.CrawlDelay(ctx, pageURL); delay > 0 {
		r.limiter.ApplyCrawlDelay(host, delay)
	}
	if err := r.limiter.Wait(ctx, host); err != nil {
		// Only context cancellation interrupts the wait; the run is over.
		return
	}

	session, err := r.pool.Checkout(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return
		}
		// Checkout timeout and session creation failures are retriable.
		r.retry(task, fmt.Sprintf("session checkout: %v", err))
		return
	}

	record, links, err := r.renderPage(ctx, session, task, pageURL)
	if err != nil {
		// Any render error makes the session suspect; it is discarded, not
		// returned to the pool.
		r.pool.Release(session, false)
		if ctx.Err() != nil {
			return
		}
		r.retry(task, err.Error())
		return
	}
	r.pool.Release(session, true)

	r.enqueueLinks(links, task.Depth+1)

	record.Outcome = OutcomeSucceeded
	r.results.Emit(record)
	processed := r.processed.Add(1)

	admitted, _, _, _ := r.frontier.Stats()
	r.progress.ReportProgress(int(processed), admitted, task.URL)

	log.Debug().
		Str("url", task.URL).
		Int("depth", task.Depth).
		Int("items", len(record.Items)).
		Int("links", len(links)).
		Msg("Page processed")

	if r.cfg.MaxPages > 0 && processed >= int64(r.cfg.MaxPages) {
		log.Info().
			Str("run_id", r.ID).
			Int("max_pages", r.cfg.MaxPages).
			Msg("Page limit reached, stopping crawl")
		r.limitReached.Store(true)
		r.cancel()
	}
}

// renderPage drives one render session through navigation, lazy-content
// scroll, in-page discovery and snapshot, then extracts content and links.
func (r *Run) renderPage(ctx context.Context, session renderer.Session, task *frontier.Task, pageURL *url.URL) (*PageRecord, []string, error) {
	if err := r.timed(ctx, r.cfg.NavigateTimeout, func(c context.Context) error {
		return session.Navigate(c, task.URL)
	}); err != nil {
		return nil, nil, fmt.Errorf("navigate: %w", err)
	}

	if err := r.timed(ctx, r.cfg.ReadyTimeout, func(c context.Context) error {
		return session.WaitReady(c)
	}); err != nil {
		return nil, nil, fmt.Errorf("wait ready: %w", err)
	}

	// Trigger lazy-loaded content before taking the snapshot.
	if err := r.timed(ctx, r.cfg.ScriptTimeout, func(c context.Context) error {
		return session.Evaluate(c, discovery.ScrollScript, nil)
	}); err != nil {
		return nil, nil, fmt.Errorf("scroll: %w", err)
	}

	var scriptURLs []string
	if err := r.timed(ctx, r.cfg.ScriptTimeout, func(c context.Context) error {
		return session.Evaluate(c, discovery.DiscoveryScript, &scriptURLs)
	}); err != nil {
		return nil, nil, fmt.Errorf("in-page discovery: %w", err)
	}

	var html string
	if err := r.timed(ctx, r.cfg.ScriptTimeout, func(c context.Context) error {
		var snapErr error
		html, snapErr = session.Snapshot(c)
		return snapErr
	}); err != nil {
		return nil, nil, fmt.Errorf("snapshot: %w", err)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, nil, fmt.Errorf("parse snapshot: %w", err)
	}

	content := extractor.Extract(task.URL, doc, len(html))
	links, stats := r.harvester.Harvest(pageURL, doc)
	links = r.harvester.MergeScriptResults(pageURL, links, scriptURLs)

	record := &PageRecord{
		URL:             task.URL,
		Depth:           task.Depth,
		Title:           content.Title,
		MetaDescription: content.MetaDescription,
		Items:           content.Items,
		Links:           links,
		HeadingCount:    content.HeadingCount,
		TotalRefs:       stats.TotalRefs,
		ExternalLinks:   stats.External,
		Forms:           stats.Forms,
		Resources:       stats.Resources,
		RenderedBytes:   len(html),
		SuspectEmpty:    content.SuspectEmpty,
	}
	return record, links, nil
}

// enqueueLinks pushes discovered links at the next depth. Shallow links go
// in at high priority so site structure drains before leaf pages.
func (r *Run) enqueueLinks(links []string, depth int) {
	for _, link := range links {
		priority := frontier.PriorityNormal
		if depth < r.cfg.HighPriorityDepth {
			priority = frontier.PriorityHigh
		}
		r.frontier.Push(&frontier.Task{URL: link, Depth: depth, Priority: priority})
	}
}

// retry requeues a transiently-failed task at deferred priority, or records
// a terminal failure once retries are exhausted.
func (r *Run) retry(task *frontier.Task, reason string) {
	if task.RetryCount < r.cfg.RetryLimit {
		task.RetryCount++
		task.Priority = frontier.PriorityDeferred
		r.frontier.Requeue(task)
		r.retried.Add(1)
		log.Debug().
			Str("url", task.URL).
			Int("retry", task.RetryCount).
			Str("reason", reason).
			Msg("Requeued task after transient failure")
		return
	}

	r.failed.Add(1)
	r.results.EmitFailure(task.URL, reason)
	log.Warn().
		Str("url", task.URL).
		Int("retries", task.RetryCount).
		Str("reason", reason).
		Msg("Task failed after exhausting retries")
}

// timed runs fn under a timeout derived from the run context.
func (r *Run) timed(ctx context.Context, timeout time.Duration, fn func(context.Context) error) error {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(callCtx)
}
