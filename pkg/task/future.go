package task

// Poll is the outcome of a single poll step.
type Poll struct {
	// Ready reports whether the computation finished this step.
	Ready bool

	// Value is the result when Ready and the computation succeeded.
	Value interface{}

	// Err is the failure when Ready and the computation failed.
	Err error
}

// Ready creates a successful completed poll outcome.
func Ready(value interface{}) Poll {
	return Poll{Ready: true, Value: value}
}

// Fail creates a failed completed poll outcome.
func Fail(err error) Poll {
	return Poll{Ready: true, Err: err}
}

// Pending creates a suspended poll outcome. The future must have arranged
// for the waker it was polled with to be invoked before returning this.
func Pending() Poll {
	return Poll{}
}

// Future is a suspendable computation polled to completion by an executor.
// Poll is never invoked concurrently for one future; the owning cell's state
// machine guarantees at most one poller at a time.
type Future interface {
	// Poll advances the computation one step. On Pending the future must
	// have registered w with whatever it is waiting on.
	Poll(w *Waker) Poll
}

// FutureFunc adapts a function to the Future interface.
type FutureFunc func(w *Waker) Poll

// Poll implements Future.
func (f FutureFunc) Poll(w *Waker) Poll {
	return f(w)
}

// Completed returns a future that is immediately ready with value.
func Completed(value interface{}) Future {
	return FutureFunc(func(*Waker) Poll {
		return Ready(value)
	})
}

// Failed returns a future that is immediately ready with err.
func Failed(err error) Future {
	return FutureFunc(func(*Waker) Poll {
		return Fail(err)
	})
}
