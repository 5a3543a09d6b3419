package frontier

import (
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
)

// Deduplicator tracks which normalised URLs have already been admitted to
// the frontier. A bloom filter answers "definitely new" without touching
// the exact set; the exact set remains the single source of truth, since a
// bloom false positive would otherwise silently drop a real page.
type Deduplicator struct {
	mu     sync.Mutex
	filter *bloom.BloomFilter
	seen   map[string]struct{}
}

// NewDeduplicator sizes the bloom filter for the expected number of URLs at
// the given false-positive rate.
func NewDeduplicator(expectedURLs uint, falsePositiveRate float64) *Deduplicator {
	if expectedURLs == 0 {
		expectedURLs = 100000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.001
	}
	return &Deduplicator{
		filter: bloom.NewWithEstimates(expectedURLs, falsePositiveRate),
		seen:   make(map[string]struct{}),
	}
}

// Admit records the URL and reports whether it was new. The test-and-insert
// is a single atomic step so two concurrent discoverers of the same URL
// cannot both see "new".
func (d *Deduplicator) Admit(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.filter.TestString(url) {
		// Possible hit - confirm against the exact set.
		if _, ok := d.seen[url]; ok {
			return false
		}
	}

	d.filter.AddString(url)
	d.seen[url] = struct{}{}
	return true
}

// Seen reports whether the URL has been admitted before.
func (d *Deduplicator) Seen(url string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.filter.TestString(url) {
		return false
	}
	_, ok := d.seen[url]
	return ok
}

// Len returns the number of distinct URLs admitted so far.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
