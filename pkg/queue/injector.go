package queue

import (
	"sync"

	"github.com/eapache/queue"

	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// Injector is the global multi-producer queue for work not yet assigned to
// a specific worker. Capacity 0 means unbounded; a positive capacity bounds
// externally-submitted work, while wake-path re-enqueues use ForcePush so a
// wake is never dropped.
type Injector struct {
	mu       sync.Mutex
	ring     *queue.Queue
	capacity int
}

// NewInjector creates an injector. capacity <= 0 means unbounded.
func NewInjector(capacity int) *Injector {
	if capacity < 0 {
		capacity = 0
	}
	return &Injector{
		ring:     queue.New(),
		capacity: capacity,
	}
}

// Push enqueues a cell, rejecting with types.ErrQueueFull when a bound is
// configured and reached.
func (q *Injector) Push(c *task.Cell) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.capacity > 0 && q.ring.Length() >= q.capacity {
		return types.ErrQueueFull
	}
	q.ring.Add(c)
	return nil
}

// ForcePush enqueues a cell regardless of the configured bound. Reserved
// for wake-path re-enqueues, where rejecting would lose a wakeup.
func (q *Injector) ForcePush(c *task.Cell) {
	q.mu.Lock()
	q.ring.Add(c)
	q.mu.Unlock()
}

// Pop removes and returns the oldest cell, or nil if empty.
func (q *Injector) Pop() *task.Cell {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.ring.Length() == 0 {
		return nil
	}
	return q.ring.Remove().(*task.Cell)
}

// PopBatch removes up to max cells in one lock acquisition, preserving
// FIFO order.
func (q *Injector) PopBatch(max int) []*task.Cell {
	if max <= 0 {
		return nil
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	n := q.ring.Length()
	if n == 0 {
		return nil
	}
	if max < n {
		n = max
	}

	batch := make([]*task.Cell, n)
	for i := 0; i < n; i++ {
		batch[i] = q.ring.Remove().(*task.Cell)
	}
	return batch
}

// Len returns the current queue depth.
func (q *Injector) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.ring.Length()
}

// Capacity returns the configured bound (0 = unbounded).
func (q *Injector) Capacity() int {
	return q.capacity
}
