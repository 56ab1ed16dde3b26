// Package trace records sanitized operation traces: timings, span
// breakdowns and counters, never turn content, learnings or queries.
package trace

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Exporter writes trace records to some destination. Implementations
// must be safe for concurrent use.
type Exporter interface {
	Export(ctx context.Context, record *Record) error

	// Close flushes buffered records. Called during shutdown.
	Close() error
}

// Record is one completed operation. It carries identifiers and
// numbers only; payloads stay out by construction.
type Record struct {
	Timestamp   time.Time `json:"timestamp"`
	OperationID string    `json:"operation_id"`

	// Operation names the operation: assemble, ingest_document,
	// route_query.
	Operation string `json:"operation"`

	DurationMs int64 `json:"duration_ms"`

	// Status is "success" or "error".
	Status string `json:"status"`

	Spans []Span `json:"spans,omitempty"`

	// Counters holds operation-level totals, e.g. hot_turns,
	// warm_summaries, nodes_created.
	Counters map[string]int64 `json:"counters,omitempty"`
}

// Span is one stage within an operation.
type Span struct {
	Name       string           `json:"name"`
	DurationMs int64            `json:"duration_ms"`
	OK         bool             `json:"ok"`
	Counters   map[string]int64 `json:"counters,omitempty"`
}

// NewRecord starts a record for the named operation with a fresh ID.
func NewRecord(operation string) *Record {
	return &Record{
		Timestamp:   time.Now(),
		OperationID: uuid.NewString(),
		Operation:   operation,
		Status:      "success",
		Counters:    make(map[string]int64),
	}
}

// Finish stamps the duration and status. A nil err keeps "success".
func (r *Record) Finish(err error) *Record {
	r.DurationMs = time.Since(r.Timestamp).Milliseconds()
	if err != nil {
		r.Status = "error"
	}
	return r
}

// Noop discards every record.
type Noop struct{}

func (Noop) Export(context.Context, *Record) error { return nil }
func (Noop) Close() error                          { return nil }
