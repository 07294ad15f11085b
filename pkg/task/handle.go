package task

import (
	"context"
	"sync"
	"sync/atomic"
)

// Handle is the external side of a spawned task: it observes completion,
// yields the result, and carries cancellation. Dropping interest without
// waiting is explicit via Detach.
type Handle struct {
	cell *Cell

	detachOnce sync.Once
}

// TaskID returns the id of the underlying task.
func (h *Handle) TaskID() uint64 {
	return h.cell.ID()
}

// Done is closed when the task completes (successfully, with an error, or
// cancelled).
func (h *Handle) Done() <-chan struct{} {
	return h.cell.Done()
}

// Join blocks until the task completes or ctx is cancelled, returning the
// task's result. Joining a completed task returns immediately; Join may be
// called multiple times.
func (h *Handle) Join(ctx context.Context) (interface{}, error) {
	select {
	case <-h.cell.Done():
		return h.cell.result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel requests cooperative cancellation of the task. If the task already
// completed this is a no-op; otherwise its next poll attempt completes it
// with types.ErrTaskCancelled.
func (h *Handle) Cancel() {
	h.cell.Cancel()
}

// Detach releases the handle's interest in the task. The task keeps
// running; a subsequent failure is routed to the owning pool's error
// handler instead of this handle. Detaching after the task already failed
// forwards the recorded failure to that handler, so an unobserved error
// never disappears. Join must not be called after Detach.
func (h *Handle) Detach() {
	h.detachOnce.Do(func() {
		atomic.StoreInt32(&h.cell.detached, 1)
		h.cell.forwardFault()
		h.cell.release()
	})
}

// Await joins the handle and asserts the result to T.
func Await[T any](ctx context.Context, h *Handle) (T, error) {
	var zero T
	v, err := h.Join(ctx)
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}

// AwaitHandle bridges a handle back into the poll protocol: the returned
// future is Pending until the handle's task completes, then yields its
// result. Used to await blocking-pool jobs from poll-world code.
func AwaitHandle(h *Handle) Future {
	return &handleFuture{handle: h}
}

type handleFuture struct {
	handle *Handle

	// watching guards the single waker-forwarding goroutine
	watching int32
}

func (f *handleFuture) Poll(w *Waker) Poll {
	select {
	case <-f.handle.Done():
		v, err := f.handle.cell.result()
		if err != nil {
			return Fail(err)
		}
		return Ready(v)
	default:
	}

	if atomic.CompareAndSwapInt32(&f.watching, 0, 1) {
		wake := *w
		go func() {
			<-f.handle.Done()
			wake.Wake()
		}()
	}
	return Pending()
}
