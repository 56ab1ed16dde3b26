// Package metrics provides operation-level telemetry for the memory
// engine: a Prometheus-backed collector and a no-op collector for
// callers that do not export metrics.
package metrics

import "context"

// Collector is the interface for metrics collection. Implementations
// include the Prometheus-backed collector and the no-op collector.
type Collector interface {
	RecordOperation(ctx context.Context, operation string, status string, durationMs int64)
	RecordStage(ctx context.Context, operation string, stage string, durationMs int64)
	RecordError(ctx context.Context, operation string, errorType string)
	SetStorageCount(ctx context.Context, storageType string, count int64)
}
