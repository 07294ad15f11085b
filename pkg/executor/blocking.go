package executor

import (
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/eapache/queue"

	interrors "github.com/jzx17/gosched/internal/errors"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// BlockingPoolConfig contains configuration for the blocking pool
type BlockingPoolConfig struct {
	// MinThreads is the number of threads kept alive at rest
	MinThreads int

	// MaxThreads caps concurrent blocking threads
	MaxThreads int

	// IdleTimeout retires threads above MinThreads after this long with no
	// queued work
	IdleTimeout time.Duration

	// QueueSize bounds the pending-job queue (0 = unbounded)
	QueueSize int

	// Clock for time operations (optional, defaults to real clock)
	Clock types.Clock

	// Metrics receives scheduling events (optional, defaults to nop)
	Metrics types.Metrics

	// ErrorHandler receives failures of detached jobs
	ErrorHandler types.ErrorHandler
}

// DefaultBlockingPoolConfig returns default configuration
func DefaultBlockingPoolConfig() *BlockingPoolConfig {
	return &BlockingPoolConfig{
		MinThreads:  0,
		MaxThreads:  runtime.NumCPU() * 4,
		IdleTimeout: 10 * time.Second,
		QueueSize:   0,
		Clock:       types.NewRealClock(),
		Metrics:     types.NewNopMetrics(),
	}
}

// BlockingPool is an elastic pool of threads for jobs that occupy a thread
// without suspending. Threads start on demand up to MaxThreads; idle
// threads above MinThreads retire after IdleTimeout. Jobs run exactly once
// and deliver their result through the task cell's one-shot completion, so
// poll-world code can await them via task.AwaitHandle.
type BlockingPool struct {
	config *BlockingPoolConfig

	mu sync.Mutex
	// ring holds jobs waiting for a free thread (*task.Cell), FIFO
	ring *queue.Queue
	// waiters is the stack of idle threads' handoff channels; a nil cell
	// handed to a waiter retires the thread
	waiters  []chan *task.Cell
	live     int
	shutdown bool

	// faults retains recent unobserved job failures
	faults *interrors.Collector

	wg sync.WaitGroup
}

// NewBlockingPool creates a blocking pool
func NewBlockingPool(config *BlockingPoolConfig) (*BlockingPool, error) {
	if config == nil {
		config = DefaultBlockingPoolConfig()
	}
	if config.MinThreads < 0 {
		return nil, fmt.Errorf("min threads must be non-negative, got %d", config.MinThreads)
	}
	if config.MaxThreads <= 0 {
		return nil, fmt.Errorf("max threads must be positive, got %d", config.MaxThreads)
	}
	if config.MaxThreads < config.MinThreads {
		return nil, fmt.Errorf("max threads (%d) must be >= min threads (%d)",
			config.MaxThreads, config.MinThreads)
	}
	if config.IdleTimeout <= 0 {
		return nil, fmt.Errorf("idle timeout must be positive, got %v", config.IdleTimeout)
	}
	if config.QueueSize < 0 {
		return nil, fmt.Errorf("queue size must be non-negative, got %d", config.QueueSize)
	}
	if config.Clock == nil {
		config.Clock = types.NewRealClock()
	}
	if config.Metrics == nil {
		config.Metrics = types.NewNopMetrics()
	}

	return &BlockingPool{
		config: config,
		ring:   queue.New(),
		faults: interrors.NewCollector(64, config.Clock),
	}, nil
}

// GetClock returns the pool's clock
func (p *BlockingPool) GetClock() types.Clock {
	return p.config.Clock
}

// SpawnBlocking submits a job for execution on a dedicated thread. With a
// bounded queue, submissions beyond MaxThreads live jobs and QueueSize
// queued jobs are rejected synchronously with types.ErrBlockingQueueFull.
func (p *BlockingPool) SpawnBlocking(fn func() (interface{}, error)) (*task.Handle, error) {
	if fn == nil {
		return nil, fmt.Errorf("job cannot be nil")
	}

	cell, handle := task.NewBlocking(fn)
	cell.SetFaultHandler(p.onFault)

	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return nil, types.ErrPoolShutdown
	}

	// an idle thread takes the job directly
	if n := len(p.waiters); n > 0 {
		w := p.waiters[n-1]
		p.waiters[n-1] = nil
		p.waiters = p.waiters[:n-1]
		p.mu.Unlock()
		w <- cell
		return handle, nil
	}

	// below the cap: dedicate a new thread
	if p.live < p.config.MaxThreads {
		p.live++
		live := p.live
		p.wg.Add(1)
		p.mu.Unlock()
		p.config.Metrics.RecordBlockingThreads(live, 0)
		go p.thread(cell)
		return handle, nil
	}

	// at the cap: queue until a thread frees up
	if p.config.QueueSize > 0 && p.ring.Length() >= p.config.QueueSize {
		p.mu.Unlock()
		return nil, types.ErrBlockingQueueFull
	}
	p.ring.Add(cell)
	depth := p.ring.Length()
	p.mu.Unlock()
	p.config.Metrics.RecordQueueDepth("blocking", depth)
	return handle, nil
}

// thread is one blocking worker: run the handed job, drain the queue, then
// wait idle until more work arrives, the pool shuts down, or the idle
// timeout retires it.
func (p *BlockingPool) thread(job *task.Cell) {
	defer p.wg.Done()

	for {
		for job != nil {
			job.RunBlocking()
			job = p.nextQueued()
		}

		var exit bool
		job, exit = p.idleWait()
		if exit {
			return
		}
	}
}

// nextQueued pops the oldest queued job, or nil.
func (p *BlockingPool) nextQueued() *task.Cell {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ring.Length() == 0 {
		return nil
	}
	return p.ring.Remove().(*task.Cell)
}

// idleWait parks the thread on a fresh handoff channel. It returns the
// next job, or exit=true when the thread should retire (idle timeout above
// MinThreads, or shutdown).
func (p *BlockingPool) idleWait() (*task.Cell, bool) {
	p.mu.Lock()
	if p.shutdown {
		p.live--
		p.mu.Unlock()
		return nil, true
	}
	// the ring check and waiter registration share the submitter's lock,
	// so a queued job can never coexist with an idle thread
	if p.ring.Length() > 0 {
		job := p.ring.Remove().(*task.Cell)
		p.mu.Unlock()
		return job, false
	}
	w := make(chan *task.Cell, 1)
	p.waiters = append(p.waiters, w)
	live, idle := p.live, len(p.waiters)
	p.mu.Unlock()

	p.config.Metrics.RecordBlockingThreads(live, idle)

	for {
		timer := p.config.Clock.NewTimer(p.config.IdleTimeout)

		select {
		case job := <-w:
			timer.Stop()
			if job == nil {
				// retire signal from shutdown
				p.mu.Lock()
				p.live--
				p.mu.Unlock()
				return nil, true
			}
			return job, false

		case <-timer.C():
			p.mu.Lock()
			if !p.removeWaiter(w) {
				// a handoff raced the timeout; take it
				p.mu.Unlock()
				job := <-w
				if job == nil {
					p.mu.Lock()
					p.live--
					p.mu.Unlock()
					return nil, true
				}
				return job, false
			}
			if p.live > p.config.MinThreads {
				p.live--
				live := p.live
				p.mu.Unlock()
				p.config.Metrics.RecordBlockingThreads(live, 0)
				return nil, true
			}
			// at the configured minimum: stay alive and keep waiting
			if p.shutdown {
				p.live--
				p.mu.Unlock()
				return nil, true
			}
			p.waiters = append(p.waiters, w)
			p.mu.Unlock()
		}
	}
}

// removeWaiter unregisters a handoff channel. Must hold p.mu. Returns
// false when a submitter already popped it, meaning a job (or retire
// signal) is in flight on the channel.
func (p *BlockingPool) removeWaiter(w chan *task.Cell) bool {
	for i, candidate := range p.waiters {
		if candidate == w {
			p.waiters = append(p.waiters[:i], p.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// Shutdown stops the pool under the given policy and blocks until all
// threads have exited. Drain runs the queued backlog first;
// CancelImmediate completes queued jobs as cancelled. In-flight jobs
// always run to completion (blocking jobs cannot be interrupted).
func (p *BlockingPool) Shutdown(policy types.ShutdownPolicy) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		p.wg.Wait()
		return nil
	}
	p.shutdown = true

	if policy == types.ShutdownCancelImmediate {
		for p.ring.Length() > 0 {
			c := p.ring.Remove().(*task.Cell)
			c.CompleteCancelled()
		}
	}

	// retire idle threads; busy threads drain the remaining queue before
	// observing the flag
	waiters := p.waiters
	p.waiters = nil
	p.mu.Unlock()

	for _, w := range waiters {
		w <- nil
	}

	p.wg.Wait()
	return nil
}

// onFault records an unobserved job failure and forwards it to the
// configured handler.
func (p *BlockingPool) onFault(err error) {
	p.faults.Record(err)
	if p.config.ErrorHandler != nil {
		p.config.ErrorHandler(err)
	}
}

// FaultCount returns the number of unobserved job failures recorded since
// the pool was created.
func (p *BlockingPool) FaultCount() uint64 {
	return p.faults.Total()
}

// Stats returns blocking pool statistics
func (p *BlockingPool) Stats() types.BlockingPoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	return types.BlockingPoolStats{
		LiveThreads:   p.live,
		IdleThreads:   len(p.waiters),
		QueuedJobs:    p.ring.Length(),
		QueueCapacity: p.config.QueueSize,
	}
}
