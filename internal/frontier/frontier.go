package frontier

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Priority orders tasks within the frontier. High drains before Normal,
// Normal before Deferred.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityDeferred

	numPriorities
)

func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityDeferred:
		return "deferred"
	default:
		return "unknown"
	}
}

// Task is one unit of crawl work. URL is already normalised when the task
// is created. RetryCount is the only field that changes after creation.
type Task struct {
	URL        string
	Depth      int
	Priority   Priority
	RetryCount int
}

// ErrDrained is returned by Pop when the frontier is empty and no task is
// in flight, i.e. the crawl cannot produce more work.
var ErrDrained = errors.New("frontier drained")

// ErrClosed is returned by Push and Pop after Close.
var ErrClosed = errors.New("frontier closed")

// Frontier is the prioritised, depth-bounded queue of URLs waiting to be
// rendered. Admission and visited-set insertion happen under one lock so a
// URL pushed concurrently from two discoverers is enqueued exactly once.
type Frontier struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queues [numPriorities][]*Task

	dedup    *Deduplicator
	maxDepth int

	inflight int
	closed   bool

	admitted int
	rejected int
}

// New creates a frontier bounded at maxDepth, backed by the given
// deduplicator.
func New(dedup *Deduplicator, maxDepth int) *Frontier {
	f := &Frontier{
		dedup:    dedup,
		maxDepth: maxDepth,
	}
	f.cond = sync.NewCond(&f.mu)
	return f
}

// Push admits a task unless its URL was already admitted or its depth
// exceeds the configured maximum. Returns true when the task was enqueued.
func (f *Frontier) Push(task *Task) bool {
	if task.Depth > f.maxDepth {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return false
	}

	// Admission and the visited mark are one atomic step; the dedup lock
	// alone is not enough because a concurrent Pop must never observe the
	// queue without the mark.
	if !f.dedup.Admit(task.URL) {
		f.rejected++
		return false
	}

	f.queues[task.Priority] = append(f.queues[task.Priority], task)
	f.admitted++
	f.cond.Signal()
	return true
}

// Requeue puts a previously-popped task back without consulting the
// visited set (its URL is already marked). Used for retriable failures.
// The caller remains responsible for the matching Done call of the
// original pop.
func (f *Frontier) Requeue(task *Task) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}

	f.queues[task.Priority] = append(f.queues[task.Priority], task)
	f.cond.Signal()
}

// Pop returns the next task, blocking while the frontier is empty but work
// is still in flight. It returns ErrDrained once the queue is empty and no
// popped task remains unfinished, and the context error if ctx is
// cancelled first. Every successful Pop must be paired with a Done call.
func (f *Frontier) Pop(ctx context.Context) (*Task, error) {
	// Wake blocked waiters when the context goes away; sync.Cond has no
	// native cancellation.
	stop := context.AfterFunc(ctx, func() {
		f.mu.Lock()
		f.cond.Broadcast()
		f.mu.Unlock()
	})
	defer stop()

	f.mu.Lock()
	defer f.mu.Unlock()

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if f.closed {
			return nil, ErrClosed
		}

		for p := PriorityHigh; p < numPriorities; p++ {
			if len(f.queues[p]) > 0 {
				task := f.queues[p][0]
				f.queues[p] = f.queues[p][1:]
				f.inflight++
				return task, nil
			}
		}

		if f.inflight == 0 {
			return nil, ErrDrained
		}

		f.cond.Wait()
	}
}

// Done marks a popped task as finished. When the last in-flight task
// finishes with the queue empty, all blocked Pop calls return ErrDrained.
func (f *Frontier) Done() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.inflight > 0 {
		f.inflight--
	}
	if f.inflight == 0 {
		f.cond.Broadcast()
	}
}

// Close wakes all waiters and rejects further pushes. Used on run
// cancellation.
func (f *Frontier) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	f.cond.Broadcast()

	log.Debug().
		Int("admitted", f.admitted).
		Int("rejected_duplicates", f.rejected).
		Msg("Frontier closed")
}

// Len returns the number of queued tasks across all priority classes.
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for p := PriorityHigh; p < numPriorities; p++ {
		n += len(f.queues[p])
	}
	return n
}

// Stats reports admission counters for progress reporting.
func (f *Frontier) Stats() (admitted, rejected, queued, inflight int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for p := PriorityHigh; p < numPriorities; p++ {
		queued += len(f.queues[p])
	}
	return f.admitted, f.rejected, queued, f.inflight
}

// WaitIdle blocks until the frontier is drained or the timeout elapses.
// Intended for tests.
func (f *Frontier) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		empty := f.inflight == 0
		for p := PriorityHigh; p < numPriorities; p++ {
			empty = empty && len(f.queues[p]) == 0
		}
		f.mu.Unlock()
		if empty {
			return true
		}
		time.Sleep(5 * time.Millisecond)
	}
	return false
}
