package executor

import (
	"math/rand"
	"sync/atomic"

	"github.com/jzx17/gosched/pkg/queue"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// injectorBatch bounds how many cells a worker drains from the global
// injector in one pass, leaving the rest for peers.
const injectorBatch = 32

// parkRetries is how many bounded-timeout parks a worker attempts before
// settling into an indefinite park.
const parkRetries = 4

// worker runs one scheduling loop of a Pool: local deque first (LIFO end),
// then a batch from the injector, then a steal from a random peer's FIFO
// end, then park.
type worker struct {
	id     int
	pool   *Pool
	local  *queue.Deque
	parker *queue.Parker
	rng    *rand.Rand
}

func newWorker(id int, p *Pool) *worker {
	return &worker{
		id:     id,
		pool:   p,
		local:  queue.NewDeque(),
		parker: queue.NewParker(p.config.Clock),
		rng:    rand.New(rand.NewSource(int64(id)*0x9e3779b9 + 1)),
	}
}

// run is the worker's scheduling loop. It exits when shutdown is requested
// and the policy's exit condition is met.
func (w *worker) run() {
	defer w.pool.wg.Done()

	attempt := 0
	for {
		if w.pool.shuttingDown() && w.shutdownStep() {
			return
		}

		if c := w.next(); c != nil {
			attempt = 0
			w.runCell(c)
			continue
		}

		w.idle(&attempt)
	}
}

// next finds the next runnable cell: own deque, then injector batch, then
// a steal from a random peer.
func (w *worker) next() *task.Cell {
	if c := w.local.Pop(); c != nil {
		return c
	}

	if batch := w.pool.injector.PopBatch(injectorBatch); batch != nil {
		for _, c := range batch[1:] {
			w.local.Push(c)
		}
		return batch[0]
	}

	return w.steal()
}

// steal takes a batch from the FIFO end of a randomly chosen peer's deque.
// Roughly half of the victim's queue moves in one batch, amortizing
// contention across steals.
func (w *worker) steal() *task.Cell {
	workers := w.pool.workers
	n := len(workers)
	if n < 2 {
		return nil
	}

	start := w.rng.Intn(n)
	for i := 0; i < n; i++ {
		victim := workers[(start+i)%n]
		if victim == w {
			continue
		}

		batch := victim.local.Steal(w.pool.config.StealBatch)
		if batch == nil {
			continue
		}

		w.pool.config.Metrics.RecordSteal(w.id, len(batch))
		for _, c := range batch[1:] {
			w.local.Push(c)
		}
		return batch[0]
	}
	return nil
}

// runCell polls one cell, keeping the active-worker gauge and completion
// accounting straight.
func (w *worker) runCell(c *task.Cell) {
	clock := w.pool.config.Clock
	start := clock.Now()

	atomic.AddInt32(&w.pool.activeWorkers, 1)
	res := c.Run(w.requeueLocal)
	atomic.AddInt32(&w.pool.activeWorkers, -1)

	w.pool.config.Metrics.RecordPoll(w.id, clock.Since(start))
	if res.Panicked {
		w.pool.config.Metrics.RecordTaskPanic(w.id)
	}
	if res.Done {
		w.pool.taskDone()
	}
}

// requeueLocal re-enqueues a task that was woken during its own poll onto
// this worker's deque, preserving locality without touching the injector.
func (w *worker) requeueLocal(c *task.Cell) {
	w.local.Push(c)
}

// idle parks the worker. The worker announces itself in the sleep registry,
// then re-checks the injector so a push racing with the announcement cannot
// be missed, then parks: first with bounded backoff timeouts, eventually
// indefinitely.
func (w *worker) idle(attempt *int) {
	w.pool.registerSleeper(w)

	if w.pool.injector.Len() > 0 || w.exitReady() {
		if w.pool.unregisterSleeper(w) {
			return
		}
		// a notifier claimed us; consume the latched wake
		w.parker.Park()
		return
	}

	w.pool.config.Metrics.RecordPark(w.id)

	if *attempt < parkRetries {
		woken := w.parker.ParkTimeout(w.pool.config.ParkBackoff.NextDelay(*attempt + 1))
		*attempt++
		if !woken {
			// timed out: leave the registry; if a notifier got there first
			// a wake token is latched, consume it so it cannot go stale
			if !w.pool.unregisterSleeper(w) {
				w.parker.Park()
			}
		}
		return
	}

	w.parker.Park()
}

// shutdownStep applies the shutdown policy. It reports whether the worker
// should exit.
func (w *worker) shutdownStep() bool {
	switch w.pool.shutdownPolicy() {
	case types.ShutdownCancelImmediate:
		w.cancelPending()
		return true
	default:
		// drain: keep executing until every spawned task completed
		return atomic.LoadInt32(&w.pool.liveTasks) == 0
	}
}

// exitReady reports whether the worker's shutdown exit condition holds,
// used to avoid parking when it should exit instead.
func (w *worker) exitReady() bool {
	if !w.pool.shuttingDown() {
		return false
	}
	if w.pool.shutdownPolicy() == types.ShutdownCancelImmediate {
		return true
	}
	return atomic.LoadInt32(&w.pool.liveTasks) == 0
}

// cancelPending completes this worker's queued cells and its share of the
// injector as cancelled, without polling them.
func (w *worker) cancelPending() {
	for _, c := range w.local.Drain() {
		if c.CompleteCancelled() {
			w.pool.taskDone()
		}
	}
	for c := w.pool.injector.Pop(); c != nil; c = w.pool.injector.Pop() {
		if c.CompleteCancelled() {
			w.pool.taskDone()
		}
	}
}
