package renderer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Pool is a bounded pool of render sessions. At most size sessions exist
// at once; checkout blocks when all are in use. Sessions released as
// unhealthy are disposed rather than reused, since a corrupted session
// silently produces empty or wrong content for every task that draws it.
type Pool struct {
	browser         Browser
	size            int
	checkoutTimeout time.Duration

	// slots bounds concurrent checkouts: a token is held from checkout
	// until release, covering session creation. Idle sessions hold no
	// token; a session only ever leaves the idle list under a fresh one.
	slots chan struct{}

	mu     sync.Mutex
	idle   []Session
	closed bool

	created   int
	discarded int
}

// NewPool builds a pool of at most size sessions over the given browser.
func NewPool(browser Browser, size int, checkoutTimeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	if checkoutTimeout <= 0 {
		checkoutTimeout = 30 * time.Second
	}
	return &Pool{
		browser:         browser,
		size:            size,
		checkoutTimeout: checkoutTimeout,
		slots:           make(chan struct{}, size),
	}
}

// Checkout returns an idle session, creating one if the pool is below
// capacity, or blocks until a session is released. Exceeding the checkout
// timeout returns ErrCheckoutTimeout, which callers treat as a retriable
// task failure, not a fatal one.
func (p *Pool) Checkout(ctx context.Context) (Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	timer := time.NewTimer(p.checkoutTimeout)
	defer timer.Stop()

	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		return nil, ErrCheckoutTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	// Token held: either reuse an idle session or create a fresh one.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return nil, ErrPoolClosed
	}
	if n := len(p.idle); n > 0 {
		session := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return session, nil
	}
	p.mu.Unlock()

	session, err := p.browser.NewSession(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}

	p.mu.Lock()
	p.created++
	p.mu.Unlock()
	return session, nil
}

// Release returns a session to the pool. An unhealthy session is disposed
// and its capacity freed so a future Checkout can create a replacement; it
// is never handed out again.
func (p *Pool) Release(session Session, healthy bool) {
	if session == nil {
		return
	}

	p.mu.Lock()
	closed := p.closed
	if healthy && !closed {
		p.idle = append(p.idle, session)
	} else if !healthy {
		p.discarded++
	}
	p.mu.Unlock()

	if !healthy || closed {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID()).Msg("Error disposing render session")
		}
		if !healthy {
			log.Debug().Str("session_id", session.ID()).Msg("Discarded unhealthy render session")
		}
	}

	<-p.slots
}

// Active returns the number of sessions currently checked out.
func (p *Pool) Active() int {
	return len(p.slots)
}

// Stats reports lifetime session churn.
func (p *Pool) Stats() (created, discarded int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created, p.discarded
}

// Shutdown disposes all idle sessions and fails future checkouts. Sessions
// still checked out are disposed when released.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()

	// Idle sessions hold no slot token, so disposal must not touch the
	// slots channel; draining it here would block against tokens that were
	// already freed on release.
	for _, session := range idle {
		if err := session.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", session.ID()).Msg("Error disposing render session")
		}
	}

	log.Debug().Int("disposed_idle", len(idle)).Msg("Renderer pool shut down")
}
