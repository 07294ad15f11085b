package executor

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	interrors "github.com/jzx17/gosched/internal/errors"
	"github.com/jzx17/gosched/pkg/queue"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// PoolConfig contains configuration for the work-stealing pool
type PoolConfig struct {
	// Workers is the number of worker goroutines (default = NumCPU)
	Workers int

	// QueueCapacity bounds the global injector (0 = unbounded)
	QueueCapacity int

	// StealBatch is the number of cells moved per steal; 0 takes half of
	// the victim's queue
	StealBatch int

	// ParkBackoff computes bounded park timeouts for idle workers before
	// they settle into an indefinite park (optional)
	ParkBackoff BackoffStrategy

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Metrics receives scheduling events (optional, defaults to nop)
	Metrics types.Metrics

	// ErrorHandler receives failures of detached tasks
	ErrorHandler types.ErrorHandler

	// Blocking configures the attached blocking pool (nil = defaults)
	Blocking *BlockingPoolConfig
}

// DefaultPoolConfig returns default configuration
func DefaultPoolConfig() *PoolConfig {
	return &PoolConfig{
		Workers:       runtime.NumCPU(),
		QueueCapacity: 0,
		StealBatch:    0,
		ParkBackoff:   NewExponentialBackoff(100 * time.Microsecond),
		Clock:         types.NewRealClock(),
		Metrics:       types.NewNopMetrics(),
	}
}

// Pool state values
const (
	poolCreated int32 = iota
	poolRunning
	poolShuttingDown
	poolTerminated
)

// Pool is a work-stealing multi-worker executor. Externally submitted work
// lands in a global injector; each worker prefers its own deque, then the
// injector, then stealing from peers. All cross-worker state is either a
// queue operation or an atomic word; no coarse lock guards the hot path.
type Pool struct {
	config   *PoolConfig
	injector *queue.Injector
	workers  []*worker
	blocking *BlockingPool

	// state management
	state  int32
	policy int32

	// spawnMu serializes the running-state check plus injector push in
	// Spawn against the shutdown state flip, so no spawned cell can land
	// in the injector once Shutdown starts sweeping it
	spawnMu sync.RWMutex

	// liveTasks counts spawned-but-incomplete tasks, used by drain shutdown
	liveTasks int32

	// activeWorkers counts workers currently polling a task
	activeWorkers int32

	// sleepers is the registry of parked workers, LIFO so recently parked
	// (cache-warm) workers wake first
	sleepMu  sync.Mutex
	sleepers []*worker

	// faults retains recent unobserved task failures
	faults *interrors.Collector

	wg sync.WaitGroup
}

// NewPool creates a work-stealing pool
func NewPool(config *PoolConfig) (*Pool, error) {
	if config == nil {
		config = DefaultPoolConfig()
	}
	if config.Workers <= 0 {
		return nil, fmt.Errorf("worker count must be positive, got %d", config.Workers)
	}
	if config.QueueCapacity < 0 {
		return nil, fmt.Errorf("queue capacity must be non-negative, got %d", config.QueueCapacity)
	}
	if config.StealBatch < 0 {
		return nil, fmt.Errorf("steal batch must be non-negative, got %d", config.StealBatch)
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	if config.Metrics == nil {
		config.Metrics = types.NewNopMetrics()
	}
	if config.ParkBackoff == nil {
		config.ParkBackoff = NewExponentialBackoff(100 * time.Microsecond)
	}

	blockingCfg := config.Blocking
	if blockingCfg == nil {
		blockingCfg = DefaultBlockingPoolConfig()
	}
	blockingCfg.Clock = config.Clock
	if blockingCfg.Metrics == nil {
		blockingCfg.Metrics = config.Metrics
	}
	if blockingCfg.ErrorHandler == nil {
		blockingCfg.ErrorHandler = config.ErrorHandler
	}
	blocking, err := NewBlockingPool(blockingCfg)
	if err != nil {
		return nil, err
	}

	p := &Pool{
		config:   config,
		injector: queue.NewInjector(config.QueueCapacity),
		blocking: blocking,
		faults:   interrors.NewCollector(64, config.Clock),
	}

	p.workers = make([]*worker, config.Workers)
	for i := 0; i < config.Workers; i++ {
		p.workers[i] = newWorker(i, p)
	}

	return p, nil
}

// Start starts the worker goroutines
func (p *Pool) Start() error {
	if !atomic.CompareAndSwapInt32(&p.state, poolCreated, poolRunning) {
		if atomic.LoadInt32(&p.state) == poolRunning {
			return fmt.Errorf("pool is already running")
		}
		return types.ErrPoolShutdown
	}

	for _, w := range p.workers {
		p.wg.Add(1)
		go w.run()
	}
	return nil
}

// GetClock returns the pool's clock
func (p *Pool) GetClock() types.Clock {
	return p.config.Clock
}

// Spawn enqueues a future for execution, returning a handle that yields
// the result once complete. Spawns after shutdown began are rejected with
// types.ErrPoolShutdown; a bounded injector rejects with types.ErrQueueFull.
func (p *Pool) Spawn(future task.Future) (*task.Handle, error) {
	if future == nil {
		return nil, fmt.Errorf("future cannot be nil")
	}

	p.spawnMu.RLock()
	defer p.spawnMu.RUnlock()

	switch atomic.LoadInt32(&p.state) {
	case poolRunning:
	case poolCreated:
		return nil, fmt.Errorf("pool is not started")
	default:
		return nil, types.ErrPoolShutdown
	}

	cell, handle := task.New(future, p.scheduleWake)
	cell.SetFaultHandler(p.onFault)

	if err := cell.ScheduleInitial(func(c *task.Cell) error {
		// count before pushing so a drain-mode worker can never observe a
		// queued cell with liveTasks still at zero
		atomic.AddInt32(&p.liveTasks, 1)
		if err := p.injector.Push(c); err != nil {
			atomic.AddInt32(&p.liveTasks, -1)
			return err
		}
		p.notifyOne()
		return nil
	}); err != nil {
		return nil, err
	}
	return handle, nil
}

// SpawnBlocking routes a job to the attached blocking pool.
func (p *Pool) SpawnBlocking(fn func() (interface{}, error)) (*task.Handle, error) {
	if atomic.LoadInt32(&p.state) != poolRunning {
		if atomic.LoadInt32(&p.state) == poolCreated {
			return nil, fmt.Errorf("pool is not started")
		}
		return nil, types.ErrPoolShutdown
	}
	return p.blocking.SpawnBlocking(fn)
}

// Blocking returns the attached blocking pool.
func (p *Pool) Blocking() *BlockingPool {
	return p.blocking
}

// onFault records an unobserved task failure and forwards it to the
// configured handler.
func (p *Pool) onFault(err error) {
	p.faults.Record(err)
	if p.config.ErrorHandler != nil {
		p.config.ErrorHandler(err)
	}
}

// FaultCount returns the number of unobserved task failures recorded since
// the pool was created.
func (p *Pool) FaultCount() uint64 {
	return p.faults.Total()
}

// scheduleWake is the wake-path re-enqueue. It bypasses the injector bound
// (a wake must never be lost to backpressure) and unparks one sleeper. A
// wake landing after termination completes the task as cancelled so its
// handle does not hang.
func (p *Pool) scheduleWake(c *task.Cell) {
	s := atomic.LoadInt32(&p.state)
	if s == poolTerminated ||
		(s == poolShuttingDown && p.shutdownPolicy() == types.ShutdownCancelImmediate) {
		if c.CompleteCancelled() {
			p.taskDone()
		}
		return
	}
	p.injector.ForcePush(c)
	p.notifyOne()
}

// notifyOne unparks exactly one sleeping worker, if any. Waking a single
// sleeper per push guarantees progress without thundering-herd wakeups.
func (p *Pool) notifyOne() {
	p.sleepMu.Lock()
	n := len(p.sleepers)
	if n == 0 {
		p.sleepMu.Unlock()
		return
	}
	w := p.sleepers[n-1]
	p.sleepers[n-1] = nil
	p.sleepers = p.sleepers[:n-1]
	p.sleepMu.Unlock()

	w.parker.Unpark()
	p.config.Metrics.RecordUnpark(w.id)
}

// registerSleeper adds a worker to the sleep registry before it parks.
func (p *Pool) registerSleeper(w *worker) {
	p.sleepMu.Lock()
	p.sleepers = append(p.sleepers, w)
	p.sleepMu.Unlock()
}

// unregisterSleeper removes a worker after a timed-out park. Returns false
// when a notifier already claimed the worker, in which case a wake token is
// latched in its parker.
func (p *Pool) unregisterSleeper(w *worker) bool {
	p.sleepMu.Lock()
	defer p.sleepMu.Unlock()

	for i, s := range p.sleepers {
		if s == w {
			p.sleepers = append(p.sleepers[:i], p.sleepers[i+1:]...)
			return true
		}
	}
	return false
}

// unparkAll wakes every sleeping worker (shutdown, or drain completion).
func (p *Pool) unparkAll() {
	p.sleepMu.Lock()
	sleepers := p.sleepers
	p.sleepers = nil
	p.sleepMu.Unlock()

	for _, w := range sleepers {
		w.parker.Unpark()
	}
}

// sweepInjector completes every still-queued cell as cancelled. Only called
// once all workers have exited, when nothing else pops the injector.
func (p *Pool) sweepInjector() {
	for c := p.injector.Pop(); c != nil; c = p.injector.Pop() {
		if c.CompleteCancelled() {
			p.taskDone()
		}
	}
}

// taskDone records one task reaching completion.
func (p *Pool) taskDone() {
	if atomic.AddInt32(&p.liveTasks, -1) == 0 &&
		atomic.LoadInt32(&p.state) == poolShuttingDown {
		// drain shutdown may now finish; wake waiting workers
		p.unparkAll()
	}
}

// shuttingDown reports whether shutdown was requested.
func (p *Pool) shuttingDown() bool {
	return atomic.LoadInt32(&p.state) >= poolShuttingDown
}

// shutdownPolicy returns the policy recorded at shutdown time.
func (p *Pool) shutdownPolicy() types.ShutdownPolicy {
	return types.ShutdownPolicy(atomic.LoadInt32(&p.policy))
}

// Shutdown stops the pool under the given policy and blocks until all
// worker goroutines and blocking threads have exited. With ShutdownDrain
// every previously spawned task completes first; with
// ShutdownCancelImmediate queued tasks complete as cancelled and no new
// poll starts. Either way Shutdown never strands a handle: a spawn that
// raced the state change completes as cancelled before Shutdown returns.
func (p *Pool) Shutdown(policy types.ShutdownPolicy) error {
	p.spawnMu.Lock()
	stopped := atomic.CompareAndSwapInt32(&p.state, poolRunning, poolShuttingDown)
	if stopped {
		atomic.StoreInt32(&p.policy, int32(policy))
	}
	p.spawnMu.Unlock()

	if !stopped {
		if atomic.CompareAndSwapInt32(&p.state, poolCreated, poolTerminated) {
			// never started; nothing to wait for
			return p.blocking.Shutdown(policy)
		}
		return types.ErrPoolShutdown
	}

	p.unparkAll()
	p.wg.Wait()

	// A wake that read the running state just before the flip can still
	// ForcePush its cell after the workers exited. Nothing pops the
	// injector anymore, so complete any leftovers as cancelled rather than
	// strand their handles.
	p.sweepInjector()
	atomic.StoreInt32(&p.state, poolTerminated)

	return p.blocking.Shutdown(policy)
}

// IsRunning checks if the pool is running
func (p *Pool) IsRunning() bool {
	return atomic.LoadInt32(&p.state) == poolRunning
}

// Stats returns basic pool statistics
func (p *Pool) Stats() types.PoolStats {
	p.sleepMu.Lock()
	idle := len(p.sleepers)
	p.sleepMu.Unlock()

	local := 0
	for _, w := range p.workers {
		local += w.local.Len()
	}

	return types.PoolStats{
		Workers:       p.config.Workers,
		ActiveWorkers: int(atomic.LoadInt32(&p.activeWorkers)),
		IdleWorkers:   idle,
		InjectorDepth: p.injector.Len(),
		LocalDepth:    local,
	}
}
