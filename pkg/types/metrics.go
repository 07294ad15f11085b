package types

import "time"

// Metrics receives scheduling events for export. Implementations must be
// safe for concurrent use from every worker; all methods are called on hot
// paths and should be cheap. NopMetrics is the default.
type Metrics interface {
	// RecordPoll records one completed poll step and its duration.
	RecordPoll(workerID int, d time.Duration)

	// RecordTaskPanic records a panic recovered at the poll boundary.
	RecordTaskPanic(workerID int)

	// RecordSteal records a successful steal and the batch size moved.
	RecordSteal(workerID int, batch int)

	// RecordPark records a worker going idle.
	RecordPark(workerID int)

	// RecordUnpark records a worker being woken for new work.
	RecordUnpark(workerID int)

	// RecordQueueDepth records the depth of a named queue.
	RecordQueueDepth(queue string, depth int)

	// RecordBlockingThreads records blocking-pool thread gauges.
	RecordBlockingThreads(live, idle int)
}

// NopMetrics discards all events.
type NopMetrics struct{}

// NewNopMetrics creates a metrics sink that discards everything.
func NewNopMetrics() Metrics {
	return NopMetrics{}
}

func (NopMetrics) RecordPoll(int, time.Duration)  {}
func (NopMetrics) RecordTaskPanic(int)            {}
func (NopMetrics) RecordSteal(int, int)           {}
func (NopMetrics) RecordPark(int)                 {}
func (NopMetrics) RecordUnpark(int)               {}
func (NopMetrics) RecordQueueDepth(string, int)   {}
func (NopMetrics) RecordBlockingThreads(int, int) {}
