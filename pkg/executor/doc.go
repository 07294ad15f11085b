/*
Package executor provides the execution strategies that drive task cells to
completion: a single-threaded cooperative executor, a multi-worker
work-stealing pool, and an elastic blocking pool for jobs that must occupy
a whole thread.

# CurrentThread

CurrentThread runs tasks cooperatively on the calling goroutine. Spawned
tasks land in a thread-safe remote queue drained by the loop each
iteration; BlockOn runs the loop until the root task completes, parking
when nothing is runnable. Tasks are polled in the order they become
runnable, and re-enqueues go to the tail, so repeated Pending never starves
peers.

# Pool

Pool owns a fixed set of workers. Each worker pops from its own deque
(LIFO end), then drains a batch from the global injector, then steals a
batch from a randomly chosen peer's FIFO end, and parks when all of that
fails. Pushing work unparks at most one sleeper; the idle-worker count
gates the wakeup so a busy pool pays nothing. Across workers no global
ordering is promised: work-stealing trades strict fairness for throughput.

# BlockingPool

BlockingPool runs jobs that cannot yield. Threads are started on demand up
to a cap, hand jobs off through one-slot channels while idle, and retire
after an idle timeout when above the configured minimum. Results re-enter
the scheduling path through the job's handle (see task.AwaitHandle).

# Shutdown

Both pools shut down under a policy: ShutdownDrain completes all queued
work first, ShutdownCancelImmediate completes queued work as cancelled and
lets only in-flight polls finish. Shutdown blocks until every worker and
blocking thread has exited.
*/
package executor
