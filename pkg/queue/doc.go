/*
Package queue provides the scheduling queues and the idle-wait primitive
used by the executors.

Deque is the per-worker double-ended queue: the owning worker pushes and
pops at the back (LIFO, for cache locality) while thieves remove a batch
from the front (the FIFO end). It is guarded by a mutex rather than a
lock-free Chase-Lev structure; the lock is held only for pointer-slice
manipulation.

Injector is the global multi-producer queue for work not yet assigned to a
specific worker: external spawns and off-worker wakes land here. It is
backed by a ring buffer (github.com/eapache/queue) under a mutex and can be
bounded or unbounded. Wake-path re-enqueues bypass the bound so a wake is
never lost to backpressure.

Parker blocks an idle worker until new work or shutdown arrives. The wake is
latched: Unpark before Park is not lost, and repeated Unpark calls without
an intervening Park coalesce into one wake.
*/
package queue
