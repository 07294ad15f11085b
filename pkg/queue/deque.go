package queue

import (
	"sync"

	"github.com/jzx17/gosched/pkg/task"
)

// Deque is a per-worker double-ended queue of task cells. The owner works
// the back; thieves take batches from the front.
type Deque struct {
	mu    sync.Mutex
	items []*task.Cell
}

// NewDeque creates an empty deque.
func NewDeque() *Deque {
	return &Deque{}
}

// Push appends a cell at the back (the owner's end).
func (d *Deque) Push(c *task.Cell) {
	d.mu.Lock()
	d.items = append(d.items, c)
	d.mu.Unlock()
}

// Pop removes and returns the cell at the back, or nil if empty. Freshly
// pushed work comes off first (LIFO, for locality).
func (d *Deque) Pop() *task.Cell {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.items)
	if n == 0 {
		return nil
	}
	c := d.items[n-1]
	d.items[n-1] = nil
	d.items = d.items[:n-1]
	return c
}

// Steal removes up to batch cells from the front (the FIFO end) in one
// lock acquisition. batch <= 0 takes half of the queue, rounded up, which
// amortizes contention across repeated steals. Returns nil if the deque is
// empty.
func (d *Deque) Steal(batch int) []*task.Cell {
	d.mu.Lock()
	defer d.mu.Unlock()

	n := len(d.items)
	if n == 0 {
		return nil
	}

	take := batch
	if take <= 0 {
		take = (n + 1) / 2
	}
	if take > n {
		take = n
	}

	stolen := make([]*task.Cell, take)
	copy(stolen, d.items[:take])
	rest := copy(d.items, d.items[take:])
	for i := rest; i < n; i++ {
		d.items[i] = nil
	}
	d.items = d.items[:rest]
	return stolen
}

// Drain removes and returns everything, front first. Used during shutdown.
func (d *Deque) Drain() []*task.Cell {
	d.mu.Lock()
	defer d.mu.Unlock()

	items := d.items
	d.items = nil
	return items
}

// Len returns the current queue depth.
func (d *Deque) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.items)
}
