// Package types defines core interfaces and types for the scheduling library
package types

// ShutdownPolicy selects how a pool disposes of queued work on shutdown.
type ShutdownPolicy int

const (
	// ShutdownDrain runs all previously spawned tasks to completion before
	// the pool's workers exit.
	ShutdownDrain ShutdownPolicy = iota
	// ShutdownCancelImmediate guarantees no new task starts polling after
	// shutdown is requested; queued tasks complete as cancelled. In-flight
	// polls are allowed to finish (cancellation is cooperative, never
	// forcible).
	ShutdownCancelImmediate
)

// String returns the string representation of ShutdownPolicy
func (p ShutdownPolicy) String() string {
	switch p {
	case ShutdownDrain:
		return "Drain"
	case ShutdownCancelImmediate:
		return "CancelImmediate"
	default:
		return "Unknown"
	}
}

// ClockProvider provides access to clock for testing
type ClockProvider interface {
	GetClock() Clock
}

// PoolStats defines basic statistics for executor pools
type PoolStats struct {
	// Workers is the configured worker count
	Workers int

	// ActiveWorkers is the number of workers currently polling a task
	ActiveWorkers int

	// IdleWorkers is the number of parked workers
	IdleWorkers int

	// InjectorDepth is the current global injector queue depth
	InjectorDepth int

	// LocalDepth is the summed depth of all worker-local deques
	LocalDepth int
}

// BlockingPoolStats defines statistics for the blocking pool
type BlockingPoolStats struct {
	// LiveThreads is the number of running blocking threads
	LiveThreads int

	// IdleThreads is the number of live threads waiting for work
	IdleThreads int

	// QueuedJobs is the number of jobs waiting for a free thread
	QueuedJobs int

	// QueueCapacity is the configured queue bound (0 = unbounded)
	QueueCapacity int
}

// ErrorHandler receives failures of tasks whose join handle was detached
// before completion. Handlers must be safe for concurrent use; the error has
// already been recorded against the task, so returning is the only obligation.
type ErrorHandler func(error)
