package task

// Waker re-arms a pending task for scheduling. Wakers are value handles:
// copying one is cheap and every copy refers to the same cell. Wake is safe
// to call from any goroutine, any number of times; beyond the first
// effective re-enqueue while the task is not already scheduled it is a
// no-op.
type Waker struct {
	cell *Cell
}

// Wake transitions the task toward scheduled and re-enqueues it with its
// owning executor. Waking a completed or already-scheduled task does
// nothing.
func (w *Waker) Wake() {
	if w == nil || w.cell == nil {
		return
	}
	w.cell.Wake()
}

// TaskID returns the id of the task this waker re-arms, or 0 for the zero
// waker.
func (w *Waker) TaskID() uint64 {
	if w == nil || w.cell == nil {
		return 0
	}
	return w.cell.ID()
}
