package executor

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/jzx17/gosched/pkg/queue"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// CurrentThreadConfig contains configuration for the current-thread executor
type CurrentThreadConfig struct {
	// QueueCapacity bounds the remote spawn queue (0 = unbounded)
	QueueCapacity int

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Metrics receives scheduling events (optional, defaults to nop)
	Metrics types.Metrics

	// ErrorHandler receives failures of detached tasks
	ErrorHandler types.ErrorHandler
}

// DefaultCurrentThreadConfig returns default configuration
func DefaultCurrentThreadConfig() *CurrentThreadConfig {
	return &CurrentThreadConfig{
		QueueCapacity: 0,
		Clock:         types.NewRealClock(),
		Metrics:       types.NewNopMetrics(),
	}
}

// CurrentThread is a single-threaded cooperative executor with a FIFO run
// queue local to the loop. Spawn is safe from any goroutine; the loop
// itself runs on whichever goroutine calls BlockOn, one at a time.
type CurrentThread struct {
	config *CurrentThreadConfig

	// remote receives spawns and wakes from off the loop
	remote *queue.Injector
	parker *queue.Parker

	// local is only touched by the loop goroutine
	local []*task.Cell

	// running guards against concurrent BlockOn calls
	running int32
}

// NewCurrentThread creates a current-thread executor
func NewCurrentThread(config *CurrentThreadConfig) (*CurrentThread, error) {
	if config == nil {
		config = DefaultCurrentThreadConfig()
	}
	if config.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must be non-negative, got %d", config.QueueCapacity)
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	if config.Metrics == nil {
		config.Metrics = types.NewNopMetrics()
	}

	return &CurrentThread{
		config: config,
		remote: queue.NewInjector(config.QueueCapacity),
		parker: queue.NewParker(config.Clock),
	}, nil
}

// GetClock returns the executor's clock
func (e *CurrentThread) GetClock() types.Clock {
	return e.config.Clock
}

// Spawn enqueues a future for execution on the loop. Callable from any
// goroutine, including from inside a running task.
func (e *CurrentThread) Spawn(future task.Future) (*task.Handle, error) {
	if future == nil {
		return nil, fmt.Errorf("future cannot be nil")
	}

	cell, handle := task.New(future, e.scheduleWake)
	cell.SetFaultHandler(e.config.ErrorHandler)

	if err := cell.ScheduleInitial(func(c *task.Cell) error {
		if err := e.remote.Push(c); err != nil {
			return err
		}
		e.parker.Unpark()
		return nil
	}); err != nil {
		return nil, err
	}
	return handle, nil
}

// scheduleWake is the wake-path re-enqueue: never rejected, always wakes
// the loop.
func (e *CurrentThread) scheduleWake(c *task.Cell) {
	e.remote.ForcePush(c)
	e.parker.Unpark()
}

// BlockOn runs the executor loop until future completes, returning its
// result. If ctx is cancelled while waiting, the root task is cancelled
// and ctx's error is returned. Only one BlockOn may run at a time.
func (e *CurrentThread) BlockOn(ctx context.Context, future task.Future) (interface{}, error) {
	if future == nil {
		return nil, fmt.Errorf("future cannot be nil")
	}
	if !atomic.CompareAndSwapInt32(&e.running, 0, 1) {
		return nil, fmt.Errorf("current-thread executor is already running")
	}
	defer atomic.StoreInt32(&e.running, 0)

	root, handle := task.New(future, e.scheduleWake)
	root.SetFaultHandler(e.config.ErrorHandler)
	root.Wake()

	// interrupt parking when the context is cancelled
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			e.parker.Unpark()
		case <-stop:
		}
	}()

	clock := e.config.Clock
	for {
		e.drainRemote()

		if len(e.local) == 0 {
			if err := ctx.Err(); err != nil {
				handle.Cancel()
				return nil, err
			}
			e.config.Metrics.RecordPark(0)
			e.parker.Park()
			continue
		}

		// pop the head: FIFO fairness among simultaneously-ready tasks
		c := e.local[0]
		e.local[0] = nil
		e.local = e.local[1:]

		start := clock.Now()
		res := c.Run(e.requeueLocal)
		e.config.Metrics.RecordPoll(0, clock.Since(start))
		if res.Panicked {
			e.config.Metrics.RecordTaskPanic(0)
		}

		if root.IsComplete() {
			return handle.Join(ctx)
		}
	}
}

// drainRemote moves remotely spawned and woken cells onto the local run
// queue, preserving arrival order.
func (e *CurrentThread) drainRemote() {
	if batch := e.remote.PopBatch(remoteDrainBatch); batch != nil {
		e.local = append(e.local, batch...)
		e.config.Metrics.RecordQueueDepth("current_thread", len(e.local))
	}
}

// requeueLocal puts a task woken during its own poll back at the tail, so
// it cannot starve its peers.
func (e *CurrentThread) requeueLocal(c *task.Cell) {
	e.local = append(e.local, c)
}

// remoteDrainBatch bounds how many remote cells one loop iteration absorbs.
const remoteDrainBatch = 64

// BlockOn runs future to completion on a fresh current-thread executor and
// returns its result.
func BlockOn(ctx context.Context, future task.Future) (interface{}, error) {
	e, err := NewCurrentThread(nil)
	if err != nil {
		return nil, err
	}
	return e.BlockOn(ctx, future)
}
