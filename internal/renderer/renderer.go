// Package renderer wraps the headless browser capability behind an opaque
// session interface and manages a bounded pool of reusable sessions with
// crash recovery.
package renderer

import (
	"context"
	"errors"
)

// Session is one renderer instance. A session is owned by exactly one
// worker between Checkout and Release; any navigation or protocol error
// makes it unusable and it must be released unhealthy.
type Session interface {
	// ID identifies the session in logs.
	ID() string
	// Navigate loads the URL in this session.
	Navigate(ctx context.Context, url string) error
	// WaitReady blocks until the document has finished loading.
	WaitReady(ctx context.Context) error
	// Evaluate runs a script in the page and unmarshals the result into out.
	Evaluate(ctx context.Context, script string, out any) error
	// Snapshot returns the rendered DOM as outer HTML.
	Snapshot(ctx context.Context) (string, error)
	// Close disposes the underlying browser resources.
	Close() error
}

// Browser creates sessions. Implemented by the chromedp backend in
// production and by fakes in tests.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
	// Close releases browser-wide resources once all sessions are done.
	Close() error
}

// ErrCheckoutTimeout is returned when no session becomes available within
// the checkout timeout. Callers treat it as a retriable task failure.
var ErrCheckoutTimeout = errors.New("renderer checkout timed out")

// ErrPoolClosed is returned by Checkout after Shutdown.
var ErrPoolClosed = errors.New("renderer pool closed")
