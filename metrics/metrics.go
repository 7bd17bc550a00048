// Package metrics provides observability hooks for the queue and engine.
package metrics

import "time"

// Collector receives counters and timings from the sync pipeline.
// Implementations must be safe for concurrent use.
type Collector interface {
	// RecordSyncDuration records how long a sync phase took.
	RecordSyncDuration(operation string, duration time.Duration)

	// RecordSyncItems records the number of items pushed and pulled.
	RecordSyncItems(pushed, pulled int)

	// RecordSyncErrors records sync failures by operation and error type.
	RecordSyncErrors(operation string, errorType string)

	// RecordConflicts records the number of conflicts resolved.
	RecordConflicts(resolved int)

	// RecordQueueDepth records the pending-operation count after a change.
	RecordQueueDepth(pending int)

	// RecordOperationResult records a single processed operation.
	RecordOperationResult(kind string, success bool, attempts int)

	// RecordDeadLetter records an operation exhausting its retries.
	RecordDeadLetter(kind string)
}

// NoOpCollector is the default Collector; it does nothing.
type NoOpCollector struct{}

var _ Collector = (*NoOpCollector)(nil)

func (n *NoOpCollector) RecordSyncDuration(operation string, duration time.Duration) {}
func (n *NoOpCollector) RecordSyncItems(pushed, pulled int)                          {}
func (n *NoOpCollector) RecordSyncErrors(operation string, errorType string)         {}
func (n *NoOpCollector) RecordConflicts(resolved int)                                {}
func (n *NoOpCollector) RecordQueueDepth(pending int)                                {}
func (n *NoOpCollector) RecordOperationResult(kind string, success bool, attempts int) {}
func (n *NoOpCollector) RecordDeadLetter(kind string)                                {}
