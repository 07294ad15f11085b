/*
Package task implements the scheduling unit that bridges a suspendable
computation to a wake-driven re-scheduling protocol.

# Overview

A Future is a computation advanced one step at a time by Poll. Each poll
either completes with a result or returns Pending after arranging for the
provided Waker to be invoked when progress is possible again. A Cell wraps
one Future together with the atomic scheduling state that makes the protocol
safe under concurrency:

  - a cell is enqueued in at most one queue at a time
  - a cell is polled by at most one goroutine at a time
  - a wake arriving during an in-flight poll causes exactly one re-enqueue
  - once complete, a cell is never enqueued or polled again

# State machine

The cell's state word moves through idle → scheduled → running and then back
to idle (poll returned Pending) or to complete (poll returned Ready). A wake
observed while running transitions to notified, which the poller converts
into a single re-enqueue after its poll finishes. Every transition is a
compare-and-swap loop with explicit retry on contention; the state word is
the single synchronization point preventing double-poll and missed-wake
races.

# Ownership

Cells carry an explicit strong reference count: one reference held by the
scheduler while the task is live, one by the external Handle. When both are
released the cell drops its result reference. Cancellation is cooperative:
Handle.Cancel sets a flag and wakes the cell, and the next poll attempt
completes the task as cancelled without polling the wrapped computation.

# Failure isolation

Panics inside a poll are recovered at the poll boundary, converted to a
types.TaskError carrying the captured stack, and delivered through the join
handle. A failing task never corrupts scheduler state or affects sibling
tasks.
*/
package task
