package task

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/jzx17/gosched/pkg/types"
)

// Cell scheduling states. The state word is the single synchronization
// point preventing double-poll and missed-wake races.
const (
	// stateIdle: not scheduled, not running; the armed waker owns the next
	// transition.
	stateIdle uint32 = iota
	// stateScheduled: enqueued, not yet polled.
	stateScheduled
	// stateRunning: currently being polled; at most one poller ever.
	stateRunning
	// stateNotified: woken while running; re-enqueued exactly once after the
	// in-flight poll finishes.
	stateNotified
	// stateComplete: finished; no further enqueue or poll.
	stateComplete
)

// cellIDCounter is the global task ID counter
var cellIDCounter uint64

// ScheduleFunc pushes a cell onto its owning executor's queue. It is called
// with the cell already in the scheduled state and must enqueue it exactly
// once.
type ScheduleFunc func(*Cell)

// RunResult reports what one Run accomplished.
type RunResult struct {
	// Done reports whether the task reached the complete state.
	Done bool

	// Panicked reports whether the poll panicked and was recovered.
	Panicked bool
}

// Cell wraps one suspendable computation plus the atomic scheduling state
// and reference-counted ownership shared between the scheduler and the
// external join handle.
type Cell struct {
	id uint64

	// state is the atomic scheduling state word
	state uint32

	// cancelled is set by Handle.Cancel; observed at the next poll attempt
	cancelled int32

	// detached is set when the external handle releases interest
	detached int32

	// faultSent guards single delivery to onFault when detachment races
	// with completion
	faultSent int32

	// refs counts strong references: one for the scheduler while the task
	// is live, one for the handle
	refs int32

	// schedule re-enqueues the cell with its owning executor
	schedule ScheduleFunc

	// onFault receives failures of detached tasks; may be nil
	onFault types.ErrorHandler

	// future is owned exclusively by the cell and only touched by the
	// single active poller; cleared on completion
	future Future

	// blockingFn is set instead of future for blocking-pool cells
	blockingFn func() (interface{}, error)

	// result fields are written once by the completing goroutine before
	// done is closed
	resultVal interface{}
	resultErr error
	done      chan struct{}
}

// New creates a cell for future together with its external handle. The cell
// starts idle with two strong references (scheduler and handle); call Wake
// to schedule it for the first time.
func New(future Future, schedule ScheduleFunc) (*Cell, *Handle) {
	c := newCell(schedule)
	c.future = future
	return c, &Handle{cell: c}
}

// NewBlocking creates a cell for a job that runs to completion on a
// dedicated thread without participating in the poll protocol. The cell
// starts in the scheduled state; the blocking pool completes it via
// RunBlocking.
func NewBlocking(fn func() (interface{}, error)) (*Cell, *Handle) {
	c := newCell(func(*Cell) {})
	c.blockingFn = fn
	c.state = stateScheduled
	return c, &Handle{cell: c}
}

func newCell(schedule ScheduleFunc) *Cell {
	return &Cell{
		id:       atomic.AddUint64(&cellIDCounter, 1),
		refs:     2,
		schedule: schedule,
		done:     make(chan struct{}),
	}
}

// ID returns the task id.
func (c *Cell) ID() uint64 {
	return c.id
}

// SetFaultHandler routes failures of detached tasks to handler. Must be
// called before the cell is first scheduled.
func (c *Cell) SetFaultHandler(handler types.ErrorHandler) {
	c.onFault = handler
}

// Wake transitions the cell toward scheduled and enqueues it. Safe from any
// goroutine; idempotent beyond the first effective re-enqueue.
func (c *Cell) Wake() {
	for {
		switch s := atomic.LoadUint32(&c.state); s {
		case stateIdle:
			if atomic.CompareAndSwapUint32(&c.state, stateIdle, stateScheduled) {
				c.schedule(c)
				return
			}
		case stateRunning:
			// Latch the wake; the active poller re-enqueues after its poll.
			if atomic.CompareAndSwapUint32(&c.state, stateRunning, stateNotified) {
				return
			}
		default:
			// scheduled, notified, complete: nothing to do
			return
		}
	}
}

// ScheduleInitial performs the first scheduling of a fresh cell through
// push, which may reject (bounded queues). On rejection the cell reverts to
// idle so no partial enqueue is observable.
func (c *Cell) ScheduleInitial(push func(*Cell) error) error {
	if !atomic.CompareAndSwapUint32(&c.state, stateIdle, stateScheduled) {
		return nil
	}
	if err := push(c); err != nil {
		atomic.StoreUint32(&c.state, stateIdle)
		return err
	}
	return nil
}

// Cancel requests cooperative cancellation. The next poll attempt observes
// the flag and completes the task as cancelled without polling the wrapped
// computation.
func (c *Cell) Cancel() {
	if atomic.LoadUint32(&c.state) == stateComplete {
		return
	}
	atomic.StoreInt32(&c.cancelled, 1)
	c.Wake()
}

// IsComplete reports whether the task finished.
func (c *Cell) IsComplete() bool {
	return atomic.LoadUint32(&c.state) == stateComplete
}

// Done is closed when the task completes.
func (c *Cell) Done() <-chan struct{} {
	return c.done
}

// Run executes one poll step. It must only be called for a cell that was
// dequeued in the scheduled state. If a wake arrived during the poll,
// requeue is invoked to re-enqueue the cell; a nil requeue falls back to
// the cell's owning schedule function.
func (c *Cell) Run(requeue ScheduleFunc) RunResult {
	if requeue == nil {
		requeue = c.schedule
	}

	if !atomic.CompareAndSwapUint32(&c.state, stateScheduled, stateRunning) {
		// The cell completed between enqueue and dequeue (cancellation).
		// Never poll outside the scheduled state.
		return RunResult{Done: atomic.LoadUint32(&c.state) == stateComplete}
	}

	if atomic.LoadInt32(&c.cancelled) == 1 {
		c.finish(nil, types.ErrTaskCancelled)
		return RunResult{Done: true}
	}

	p, panicked := c.pollOnce()
	if p.Ready {
		c.finish(p.Value, p.Err)
		return RunResult{Done: true, Panicked: panicked}
	}

	// Pending: the waker is armed. Drop back to idle unless a wake landed
	// mid-poll, in which case convert the notification into one re-enqueue.
	for {
		switch s := atomic.LoadUint32(&c.state); s {
		case stateRunning:
			if atomic.CompareAndSwapUint32(&c.state, stateRunning, stateIdle) {
				return RunResult{Panicked: panicked}
			}
		case stateNotified:
			if atomic.CompareAndSwapUint32(&c.state, stateNotified, stateScheduled) {
				requeue(c)
				return RunResult{Panicked: panicked}
			}
		default:
			// Only the active poller may leave running; any other state
			// here is a scheduler invariant violation, not a task error.
			panic(fmt.Sprintf("task %d: invalid state %d after poll", c.id, s))
		}
	}
}

// RunBlocking executes a blocking-pool job exactly once, recovering panics
// the same way the poll boundary does.
func (c *Cell) RunBlocking() RunResult {
	if !atomic.CompareAndSwapUint32(&c.state, stateScheduled, stateRunning) {
		return RunResult{Done: atomic.LoadUint32(&c.state) == stateComplete}
	}

	if atomic.LoadInt32(&c.cancelled) == 1 {
		c.finish(nil, types.ErrTaskCancelled)
		return RunResult{Done: true}
	}

	v, err, panicked := c.callBlocking()
	c.finish(v, err)
	return RunResult{Done: true, Panicked: panicked}
}

// pollOnce invokes the wrapped computation's single suspension step with
// panic recovery.
func (c *Cell) pollOnce() (p Poll, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			p = Fail(c.recoverFault(r))
		}
	}()

	w := Waker{cell: c}
	return c.future.Poll(&w), false
}

// callBlocking invokes a blocking job with panic recovery.
func (c *Cell) callBlocking() (v interface{}, err error, panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			v, err = nil, c.recoverFault(r)
		}
	}()

	v, err = c.blockingFn()
	if err != nil {
		err = types.NewTaskError(c.id, err)
	}
	return v, err, false
}

// recoverFault converts a recovered panic value into a TaskError carrying
// the captured stack.
func (c *Cell) recoverFault(r interface{}) error {
	var buf [8192]byte
	n := runtime.Stack(buf[:], false)

	var cause error
	switch v := r.(type) {
	case error:
		cause = v
	case string:
		cause = fmt.Errorf("panic: %s", v)
	default:
		cause = fmt.Errorf("panic: %v", v)
	}

	return types.NewTaskError(c.id, cause).WithContext("stack_trace", string(buf[:n]))
}

// finish records the result, publishes completion, and releases the
// scheduler's reference. Called exactly once, by the single active poller.
func (c *Cell) finish(v interface{}, err error) {
	c.resultVal = v
	c.resultErr = err
	c.future = nil
	c.blockingFn = nil
	atomic.StoreUint32(&c.state, stateComplete)
	close(c.done)

	if err != nil && atomic.LoadInt32(&c.detached) == 1 && c.onFault != nil &&
		atomic.CompareAndSwapInt32(&c.faultSent, 0, 1) {
		c.onFault(err)
	}

	c.release()
}

// forwardFault routes an already-recorded failure to the fault handler.
// Called by Detach so that a detachment landing just after finish read the
// detached flag still surfaces the failure somewhere.
func (c *Cell) forwardFault() {
	if atomic.LoadUint32(&c.state) != stateComplete {
		return
	}
	if c.resultErr != nil && c.onFault != nil &&
		atomic.CompareAndSwapInt32(&c.faultSent, 0, 1) {
		c.onFault(c.resultErr)
	}
}

// result returns the task outcome. Only valid after done is closed.
func (c *Cell) result() (interface{}, error) {
	return c.resultVal, c.resultErr
}

// CompleteCancelled completes a queued cell as cancelled without polling
// it. Used by shutdown with the cancel-immediate policy; returns false if
// the cell was not in the scheduled state (already running or complete).
func (c *Cell) CompleteCancelled() bool {
	if !atomic.CompareAndSwapUint32(&c.state, stateScheduled, stateRunning) {
		return false
	}
	c.finish(nil, types.ErrTaskCancelled)
	return true
}

// release drops one strong reference. When the scheduler and the handle
// have both let go, the cell drops its result reference as well.
func (c *Cell) release() {
	if atomic.AddInt32(&c.refs, -1) == 0 {
		c.resultVal = nil
		c.resultErr = nil
	}
}
