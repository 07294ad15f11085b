// Package errors provides fault capture for task failures that complete
// without an observer (detached join handles). The pools record such
// failures in a bounded collector so they remain inspectable instead of
// vanishing, and forward them to the user's error handler when one is
// configured.
package errors

import (
	stderrors "errors"
	"sync"
	"time"

	"github.com/jzx17/gosched/pkg/types"
)

// FaultContext captures one unobserved task failure.
type FaultContext struct {
	// TaskID identifies the failing task (0 when unknown)
	TaskID uint64

	// Err is the failure delivered at completion
	Err error

	// Timestamp is when the fault was recorded
	Timestamp time.Time
}

// Collector is a bounded ring of recent faults plus a running total. Safe
// for concurrent use from every worker.
type Collector struct {
	mu     sync.Mutex
	faults []*FaultContext
	next   int
	filled bool
	total  uint64

	clock types.Clock
}

// NewCollector creates a collector keeping the most recent limit faults.
func NewCollector(limit int, clock types.Clock) *Collector {
	if limit <= 0 {
		limit = 64
	}
	if clock == nil {
		clock = types.NewRealClock()
	}
	return &Collector{
		faults: make([]*FaultContext, limit),
		clock:  clock,
	}
}

// Record captures a fault, extracting the task id when the error carries
// one.
func (c *Collector) Record(err error) {
	fc := &FaultContext{
		Err:       err,
		Timestamp: c.clock.Now(),
	}
	var taskErr *types.TaskError
	if stderrors.As(err, &taskErr) {
		fc.TaskID = taskErr.TaskID
	}

	c.mu.Lock()
	c.faults[c.next] = fc
	c.next++
	if c.next == len(c.faults) {
		c.next = 0
		c.filled = true
	}
	c.total++
	c.mu.Unlock()
}

// Recent returns the retained faults, oldest first.
func (c *Collector) Recent() []*FaultContext {
	c.mu.Lock()
	defer c.mu.Unlock()

	var out []*FaultContext
	if c.filled {
		out = append(out, c.faults[c.next:]...)
	}
	out = append(out, c.faults[:c.next]...)
	return out
}

// Total returns the number of faults ever recorded.
func (c *Collector) Total() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.total
}
