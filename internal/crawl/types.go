// Package crawl contains the orchestration engine: per-run state, the
// worker pool and the task state machine that drives rendering, extraction
// and link feedback into the frontier.
package crawl

import (
	"github.com/fieldfare/orb-weaver/internal/extractor"
)

// Outcome is the terminal result of one task.
type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
)

// PageRecord is the structured result of one successfully rendered page.
// It is immutable once emitted.
type PageRecord struct {
	URL             string           `json:"url"`
	Depth           int              `json:"depth"`
	Title           string           `json:"title"`
	MetaDescription string           `json:"meta_description,omitempty"`
	Items           []extractor.Item `json:"items"`
	Links           []string         `json:"links"`
	Outcome         Outcome          `json:"outcome"`

	HeadingCount  int  `json:"heading_count"`
	TotalRefs     int  `json:"total_refs"`
	ExternalLinks int  `json:"external_links"`
	Forms         int  `json:"forms"`
	Resources     int  `json:"resources"`
	RenderedBytes int  `json:"rendered_bytes"`
	SuspectEmpty  bool `json:"suspect_empty,omitempty"`
}

// ResultSink receives crawl output. Persistence and reporting live behind
// this interface, outside the engine.
type ResultSink interface {
	Emit(record *PageRecord)
	EmitFailure(url string, reason string)
}

// ProgressSink receives progress updates for UI polling. total is the
// number of URLs admitted so far, which grows as discovery runs.
type ProgressSink interface {
	ReportProgress(processed, total int, currentURL string)
}

// NopResultSink discards all output.
type NopResultSink struct{}

func (NopResultSink) Emit(*PageRecord)           {}
func (NopResultSink) EmitFailure(string, string) {}

// NopProgressSink discards all progress updates.
type NopProgressSink struct{}

func (NopProgressSink) ReportProgress(int, int, string) {}
