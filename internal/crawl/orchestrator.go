package crawl

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/fieldfare/orb-weaver/internal/discovery"
	"github.com/fieldfare/orb-weaver/internal/fetch"
	"github.com/fieldfare/orb-weaver/internal/frontier"
	"github.com/fieldfare/orb-weaver/internal/ratelimit"
	"github.com/fieldfare/orb-weaver/internal/renderer"
	"github.com/fieldfare/orb-weaver/internal/robots"
	"github.com/fieldfare/orb-weaver/internal/util"
)

// State is the lifecycle phase of a run.
type State string

const (
	StateRunning   State = "running"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
)

// Status is a point-in-time snapshot of a run for polling.
type Status struct {
	State      State `json:"state"`
	Processed  int   `json:"processed"`
	Discovered int   `json:"discovered"`
	Failed     int   `json:"failed"`
	Skipped    int   `json:"skipped"`
	Queued     int   `json:"queued"`
	InFlight   int   `json:"in_flight"`
}

// Orchestrator starts and tracks crawl runs. Each run owns its frontier,
// caches and renderer pool; concurrent runs share nothing but the browser
// and fetch capabilities handed in here.
type Orchestrator struct {
	fetcher  fetch.Client
	browser  renderer.Browser
	results  ResultSink
	progress ProgressSink

	mu   sync.Mutex
	runs map[string]*Run
}

// NewOrchestrator builds an orchestrator over the given capabilities. Nil
// sinks are replaced with no-ops.
func NewOrchestrator(fetcher fetch.Client, browser renderer.Browser, results ResultSink, progress ProgressSink) *Orchestrator {
	if results == nil {
		results = NopResultSink{}
	}
	if progress == nil {
		progress = NopProgressSink{}
	}
	return &Orchestrator{
		fetcher:  fetcher,
		browser:  browser,
		results:  results,
		progress: progress,
		runs:     make(map[string]*Run),
	}
}

// Run is the handle to one crawl. All state is scoped to the run and torn
// down when it ends.
type Run struct {
	ID   string
	seed *url.URL
	cfg  *Config

	frontier  *frontier.Frontier
	policy    *robots.Policy
	limiter   *ratelimit.HostLimiter
	pool      *renderer.Pool
	filter    *discovery.Filter
	sweeper   *discovery.Sweeper
	harvester *discovery.Harvester

	results  ResultSink
	progress ProgressSink

	cancel context.CancelFunc
	done   chan struct{}

	stateMu sync.Mutex
	state   State

	processed    atomic.Int64
	failed       atomic.Int64
	skipped      atomic.Int64
	retried      atomic.Int64
	limitReached atomic.Bool
}

// StartCrawl validates the seed, builds per-run state and launches the
// worker pool. An invalid seed is the only pre-flight failure; everything
// after this point is handled by the task state machine.
func (o *Orchestrator) StartCrawl(ctx context.Context, seedURL string, cfg *Config) (*Run, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid crawl config: %w", err)
	}

	normalised, err := util.NormaliseURL(seedURL)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}
	seed, err := url.Parse(normalised)
	if err != nil {
		return nil, fmt.Errorf("invalid seed URL: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)

	dedup := frontier.NewDeduplicator(cfg.ExpectedURLs, cfg.FalsePositiveRate)
	filter := discovery.NewFilter(seed)

	run := &Run{
		ID:        uuid.New().String(),
		seed:      seed,
		cfg:       cfg,
		frontier:  frontier.New(dedup, cfg.MaxDepth),
		policy:    robots.NewPolicy(o.fetcher, cfg.UserAgent, cfg.RobotsTimeout),
		limiter:   ratelimit.New(cfg.RequestsPerSecond, cfg.Burst),
		pool:      renderer.NewPool(o.browser, cfg.RendererPoolSize, cfg.CheckoutTimeout),
		filter:    filter,
		sweeper:   discovery.NewSweeper(o.fetcher, filter),
		harvester: discovery.NewHarvester(filter),
		results:   o.results,
		progress:  o.progress,
		cancel:    cancel,
		done:      make(chan struct{}),
		state:     StateRunning,
	}

	// Seed before workers start so the frontier cannot drain immediately.
	run.frontier.Push(&frontier.Task{URL: normalised, Depth: 0, Priority: frontier.PriorityHigh})

	o.mu.Lock()
	o.runs[run.ID] = run
	o.mu.Unlock()

	go run.run(runCtx)
	return run, nil
}

// Cancel aborts the run with the given ID. Returns false for unknown IDs.
func (o *Orchestrator) Cancel(runID string) bool {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return false
	}
	run.Cancel()
	return true
}

// Forget drops the handle for a run so long-lived embedders do not
// accumulate finished runs. Forgetting a running crawl does not cancel it;
// the caller's *Run handle stays valid either way.
func (o *Orchestrator) Forget(runID string) {
	o.mu.Lock()
	delete(o.runs, runID)
	o.mu.Unlock()
}

// Status reports the run with the given ID.
func (o *Orchestrator) Status(runID string) (Status, bool) {
	o.mu.Lock()
	run, ok := o.runs[runID]
	o.mu.Unlock()
	if !ok {
		return Status{}, false
	}
	return run.Status(), true
}

// run executes the crawl to completion: sitemap sweep, worker pool,
// teardown. It owns the run goroutine.
func (r *Run) run(ctx context.Context) {
	defer close(r.done)

	log.Info().
		Str("run_id", r.ID).
		Str("seed", r.seed.String()).
		Int("workers", r.cfg.WorkerCount).
		Int("max_depth", r.cfg.MaxDepth).
		Int("max_pages", r.cfg.MaxPages).
		Msg("Crawl started")

	// Systematic sweep before the workers start: sitemap URLs enter at
	// depth 0 with high priority.
	declared := r.policy.DeclaredSitemaps(ctx, r.seed)
	for _, pageURL := range r.sweeper.Sweep(ctx, declared) {
		r.frontier.Push(&frontier.Task{URL: pageURL, Depth: 0, Priority: frontier.PriorityHigh})
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < r.cfg.WorkerCount; i++ {
		group.Go(func() error {
			return r.worker(groupCtx)
		})
	}
	if err := group.Wait(); err != nil {
		log.Error().Err(err).Str("run_id", r.ID).Msg("Crawl worker returned error")
	}

	r.pool.Shutdown()
	r.frontier.Close()

	final := StateCompleted
	if ctx.Err() != nil && !r.limitReached.Load() {
		final = StateCancelled
	}
	r.setState(final)

	admitted, rejected, _, _ := r.frontier.Stats()
	created, discarded := r.pool.Stats()
	malformed, offOrigin, binary := r.filter.Dropped()
	log.Info().
		Str("run_id", r.ID).
		Str("state", string(final)).
		Int64("processed", r.processed.Load()).
		Int64("failed", r.failed.Load()).
		Int64("skipped_by_policy", r.skipped.Load()).
		Int64("retries", r.retried.Load()).
		Int("discovered", admitted).
		Int("duplicates_rejected", rejected).
		Int("sessions_created", created).
		Int("sessions_discarded", discarded).
		Int64("dropped_malformed", malformed).
		Int64("dropped_off_origin", offOrigin).
		Int64("dropped_binary", binary).
		Msg("Crawl finished")
}

// Cancel aborts the run. In-flight renders are interrupted and their
// sessions discarded; Wait returns once the workers have drained.
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run has ended and returns its final status.
func (r *Run) Wait() Status {
	<-r.done
	return r.Status()
}

// Done returns a channel closed when the run ends.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Status snapshots the run's counters.
func (r *Run) Status() Status {
	admitted, _, queued, inflight := r.frontier.Stats()
	return Status{
		State:      r.getState(),
		Processed:  int(r.processed.Load()),
		Discovered: admitted,
		Failed:     int(r.failed.Load()),
		Skipped:    int(r.skipped.Load()),
		Queued:     queued,
		InFlight:   inflight,
	}
}

func (r *Run) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

func (r *Run) getState() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}
