package executor

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/jzx17/gosched/internal/testutils"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

// countingMetrics tallies scheduling events for assertions.
type countingMetrics struct {
	mu       sync.Mutex
	polls    int
	panics   int
	steals   int
	stolen   int
	parks    int
	unparks  int
	blocking [2]int
}

func (m *countingMetrics) RecordPoll(int, time.Duration) {
	m.mu.Lock()
	m.polls++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordTaskPanic(int) {
	m.mu.Lock()
	m.panics++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordSteal(_ int, batch int) {
	m.mu.Lock()
	m.steals++
	m.stolen += batch
	m.mu.Unlock()
}

func (m *countingMetrics) RecordPark(int) {
	m.mu.Lock()
	m.parks++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordUnpark(int) {
	m.mu.Lock()
	m.unparks++
	m.mu.Unlock()
}

func (m *countingMetrics) RecordQueueDepth(string, int) {}

func (m *countingMetrics) RecordBlockingThreads(live, idle int) {
	m.mu.Lock()
	m.blocking = [2]int{live, idle}
	m.mu.Unlock()
}

func (m *countingMetrics) snapshot() (polls, panics, steals int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.polls, m.panics, m.steals
}

func startPool(t *testing.T, config *PoolConfig) *Pool {
	t.Helper()
	p, err := NewPool(config)
	require.NoError(t, err)
	require.NoError(t, p.Start())
	return p
}

func TestNewPool_Validation(t *testing.T) {
	tests := []struct {
		name    string
		config  *PoolConfig
		wantErr string
	}{
		{name: "nil config uses defaults"},
		{name: "explicit workers", config: &PoolConfig{Workers: 2}},
		{
			name:    "zero workers",
			config:  &PoolConfig{Workers: 0},
			wantErr: "worker count must be positive",
		},
		{
			name:    "negative workers",
			config:  &PoolConfig{Workers: -1},
			wantErr: "worker count must be positive",
		},
		{
			name:    "negative queue capacity",
			config:  &PoolConfig{Workers: 2, QueueCapacity: -1},
			wantErr: "queue capacity must be non-negative",
		},
		{
			name:    "negative steal batch",
			config:  &PoolConfig{Workers: 2, StealBatch: -1},
			wantErr: "steal batch must be non-negative",
		},
		{
			name:    "invalid blocking config",
			config:  &PoolConfig{Workers: 2, Blocking: &BlockingPoolConfig{MaxThreads: -1}},
			wantErr: "max threads must be positive",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := NewPool(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.False(t, p.IsRunning())
			require.NoError(t, p.Shutdown(types.ShutdownDrain))
		})
	}
}

func TestPool_StartLifecycle(t *testing.T) {
	p, err := NewPool(&PoolConfig{Workers: 2})
	require.NoError(t, err)

	_, err = p.Spawn(task.Completed(nil))
	assert.Error(t, err, "spawn before start")

	require.NoError(t, p.Start())
	assert.True(t, p.IsRunning())
	assert.Error(t, p.Start(), "double start")

	require.NoError(t, p.Shutdown(types.ShutdownDrain))
	assert.False(t, p.IsRunning())
	assert.ErrorIs(t, p.Start(), types.ErrPoolShutdown)
}

func TestPool_SpawnAndJoin(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 4})
	defer p.Shutdown(types.ShutdownDrain)

	const n = 100
	var ran int32

	handles := make([]*task.Handle, n)
	for i := 0; i < n; i++ {
		i := i
		h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
			atomic.AddInt32(&ran, 1)
			return task.Ready(i)
		}))
		require.NoError(t, err)
		handles[i] = h
	}

	var g errgroup.Group
	for i, h := range handles {
		i, h := i, h
		g.Go(func() error {
			v, err := h.Join(testutils.TestContext(t))
			if err != nil {
				return err
			}
			if v != i {
				return errors.New("wrong result")
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(n), atomic.LoadInt32(&ran))
}

func TestPool_MultiPollTasksComplete(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 4})
	defer p.Shutdown(types.ShutdownDrain)

	const n = 50
	handles := make([]*task.Handle, n)
	for i := 0; i < n; i++ {
		var polls int32
		h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
			if atomic.AddInt32(&polls, 1) >= 3 {
				return task.Ready(nil)
			}
			// arrange an external wake after a short delay
			wake := *w
			go func() {
				time.Sleep(time.Millisecond)
				wake.Wake()
			}()
			return task.Pending()
		}))
		require.NoError(t, err)
		handles[i] = h
	}

	for _, h := range handles {
		_, err := h.Join(testutils.TestContext(t))
		require.NoError(t, err)
	}
}

func TestPool_NeverDoublePolls(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 4})
	defer p.Shutdown(types.ShutdownDrain)

	const wakers = 8
	const wakesPerWaker = 100

	var inPoll int32
	var overlaps int32
	var wakes int32

	var wakeMu sync.Mutex
	var wake *task.Waker

	h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
		if atomic.AddInt32(&inPoll, 1) != 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		defer atomic.AddInt32(&inPoll, -1)

		wakeMu.Lock()
		cp := *w
		wake = &cp
		wakeMu.Unlock()

		if atomic.LoadInt32(&wakes) >= wakers*wakesPerWaker {
			return task.Ready(nil)
		}
		return task.Pending()
	}))
	require.NoError(t, err)

	doWake := func() {
		wakeMu.Lock()
		w := wake
		wakeMu.Unlock()
		w.Wake()
	}

	var wg sync.WaitGroup
	for i := 0; i < wakers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < wakesPerWaker; j++ {
				atomic.AddInt32(&wakes, 1)
				doWake()
			}
		}()
	}
	wg.Wait()

	// keep nudging in case every counted wake coalesced into polls that
	// ran before the threshold was reached
	require.Eventually(t, func() bool {
		doWake()
		select {
		case <-h.Done():
			return true
		default:
			return false
		}
	}, 5*time.Second, time.Millisecond)

	_, err = h.Join(testutils.TestContext(t))
	require.NoError(t, err)
	assert.Zero(t, atomic.LoadInt32(&overlaps), "future polled concurrently")
}

func TestPool_StealMovesWork(t *testing.T) {
	p, err := NewPool(&PoolConfig{Workers: 2})
	require.NoError(t, err)

	// never started: drive the workers' queues directly
	victim := p.workers[0]
	thief := p.workers[1]

	cells := make([]*task.Cell, 4)
	for i := range cells {
		c, _ := task.New(task.Completed(i), p.scheduleWake)
		c.Wake()
		// Wake routed through the injector; move it onto the victim's deque
		cells[i] = p.injector.Pop()
		require.NotNil(t, cells[i])
		victim.local.Push(cells[i])
	}

	got := thief.steal()
	require.NotNil(t, got, "thief found the victim's work")
	assert.Same(t, cells[0], got, "steals take the victim's oldest work")

	// half of the victim's queue moved: one returned, one onto the
	// thief's deque
	assert.Equal(t, 1, thief.local.Len())
	assert.Equal(t, 2, victim.local.Len())

	require.NoError(t, p.Shutdown(types.ShutdownDrain))
}

func TestPool_StealKeepsManyWorkersBusy(t *testing.T) {
	metrics := &countingMetrics{}
	p := startPool(t, &PoolConfig{Workers: 4, Metrics: metrics})
	defer p.Shutdown(types.ShutdownDrain)

	const n = 200
	var ran int32
	handles := make([]*task.Handle, n)
	for i := 0; i < n; i++ {
		h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
			time.Sleep(100 * time.Microsecond)
			atomic.AddInt32(&ran, 1)
			return task.Ready(nil)
		}))
		require.NoError(t, err)
		handles[i] = h
	}

	for _, h := range handles {
		_, err := h.Join(testutils.TestContext(t))
		require.NoError(t, err)
	}

	polls, _, _ := metrics.snapshot()
	assert.GreaterOrEqual(t, polls, n, "every task polled at least once")
	assert.Equal(t, int32(n), atomic.LoadInt32(&ran))
}

func TestPool_PanicIsolation(t *testing.T) {
	metrics := &countingMetrics{}
	p := startPool(t, &PoolConfig{Workers: 2, Metrics: metrics})
	defer p.Shutdown(types.ShutdownDrain)

	bad, err := p.Spawn(task.FutureFunc(func(*task.Waker) task.Poll {
		panic("worker poison")
	}))
	require.NoError(t, err)

	good, err := p.Spawn(task.Completed("fine"))
	require.NoError(t, err)

	_, err = bad.Join(testutils.TestContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "worker poison")

	v, err := good.Join(testutils.TestContext(t))
	require.NoError(t, err)
	assert.Equal(t, "fine", v)

	_, panics, _ := metrics.snapshot()
	assert.Equal(t, 1, panics)
}

func TestPool_DetachedFaultReachesHandler(t *testing.T) {
	var faults int32
	p := startPool(t, &PoolConfig{
		Workers:      2,
		ErrorHandler: func(error) { atomic.AddInt32(&faults, 1) },
	})
	defer p.Shutdown(types.ShutdownDrain)

	h, err := p.Spawn(task.Failed(errors.New("unobserved")))
	require.NoError(t, err)
	done := h.Done()
	h.Detach()

	testutils.WaitClosed(t, done, time.Second)
	testutils.AssertEventually(t, func() bool {
		return atomic.LoadInt32(&faults) == 1 && p.FaultCount() == 1
	}, time.Second, time.Millisecond)
}

func TestPool_ShutdownDrainCompletesEverything(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 2})

	const n = 40
	handles := make([]*task.Handle, n)
	for i := 0; i < n; i++ {
		var polls int32
		h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
			if atomic.AddInt32(&polls, 1) >= 2 {
				return task.Ready(nil)
			}
			wake := *w
			go func() {
				time.Sleep(time.Millisecond)
				wake.Wake()
			}()
			return task.Pending()
		}))
		require.NoError(t, err)
		handles[i] = h
	}

	require.NoError(t, p.Shutdown(types.ShutdownDrain))

	for _, h := range handles {
		select {
		case <-h.Done():
		default:
			t.Fatal("drain shutdown returned before a task completed")
		}
		_, err := h.Join(testutils.TestContext(t))
		assert.NoError(t, err)
	}
}

func TestPool_ShutdownCancelImmediate(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 2})

	gate := make(chan struct{})
	started := make(chan struct{}, 2)

	// occupy both workers so further spawns stay queued
	busy := make([]*task.Handle, 2)
	for i := range busy {
		h, err := p.Spawn(task.FutureFunc(func(*task.Waker) task.Poll {
			started <- struct{}{}
			<-gate
			return task.Ready(nil)
		}))
		require.NoError(t, err)
		busy[i] = h
	}
	<-started
	<-started

	queued := make([]*task.Handle, 10)
	for i := range queued {
		h, err := p.Spawn(task.Completed(nil))
		require.NoError(t, err)
		queued[i] = h
	}

	shutdownDone := make(chan error, 1)
	go func() {
		shutdownDone <- p.Shutdown(types.ShutdownCancelImmediate)
	}()

	// in-flight polls finish before workers exit
	close(gate)
	select {
	case err := <-shutdownDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not return")
	}

	for _, h := range busy {
		_, err := h.Join(testutils.TestContext(t))
		assert.NoError(t, err, "running tasks finish their poll")
	}
	for _, h := range queued {
		_, err := h.Join(testutils.TestContext(t))
		assert.ErrorIs(t, err, types.ErrTaskCancelled, "queued tasks complete as cancelled")
	}
}

func TestPool_SpawnAfterShutdownRejected(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 2})
	require.NoError(t, p.Shutdown(types.ShutdownDrain))

	_, err := p.Spawn(task.Completed(nil))
	assert.ErrorIs(t, err, types.ErrPoolShutdown)

	_, err = p.SpawnBlocking(func() (interface{}, error) { return nil, nil })
	assert.ErrorIs(t, err, types.ErrPoolShutdown)
}

func TestPool_ShutdownTwiceRejected(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 2})
	require.NoError(t, p.Shutdown(types.ShutdownDrain))
	assert.ErrorIs(t, p.Shutdown(types.ShutdownDrain), types.ErrPoolShutdown)
}

func TestPool_WakeAfterShutdownCancelsTask(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 2})

	var wake task.Waker
	armed := make(chan struct{})
	var once sync.Once

	h, err := p.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
		wake = *w
		once.Do(func() { close(armed) })
		return task.Pending()
	}))
	require.NoError(t, err)
	<-armed

	require.NoError(t, p.Shutdown(types.ShutdownCancelImmediate))

	// a straggler wake must not hang the handle
	wake.Wake()
	_, err = h.Join(testutils.TestContext(t))
	assert.ErrorIs(t, err, types.ErrTaskCancelled)
}

func TestPool_SweepCancelsQueuedCells(t *testing.T) {
	p, err := NewPool(&PoolConfig{Workers: 2})
	require.NoError(t, err)

	// place a counted cell in the injector the way Spawn does, with no
	// worker running to pop it
	cell, h := task.New(task.Completed(nil), p.scheduleWake)
	require.NoError(t, cell.ScheduleInitial(func(c *task.Cell) error {
		atomic.AddInt32(&p.liveTasks, 1)
		return p.injector.Push(c)
	}))
	require.Equal(t, 1, p.injector.Len())

	p.sweepInjector()

	select {
	case <-h.Done():
	default:
		t.Fatal("swept cell left its handle open")
	}
	_, err = h.Join(testutils.TestContext(t))
	assert.ErrorIs(t, err, types.ErrTaskCancelled)
	assert.Zero(t, p.injector.Len())
	assert.Zero(t, atomic.LoadInt32(&p.liveTasks), "sweep must settle the live count")

	require.NoError(t, p.Shutdown(types.ShutdownDrain))
}

func TestPool_SpawnRacingDrainShutdownNeverStrandsHandle(t *testing.T) {
	for iter := 0; iter < 50; iter++ {
		p := startPool(t, &PoolConfig{Workers: 2})

		var mu sync.Mutex
		var handles []*task.Handle

		var wg sync.WaitGroup
		start := make(chan struct{})
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for {
					h, err := p.Spawn(task.Completed(nil))
					if err != nil {
						return
					}
					mu.Lock()
					handles = append(handles, h)
					mu.Unlock()
				}
			}()
		}

		close(start)
		require.NoError(t, p.Shutdown(types.ShutdownDrain))
		wg.Wait()

		// every accepted spawn resolves by the time shutdown returns,
		// either with its result or as cancelled
		assert.Zero(t, p.injector.Len())
		for _, h := range handles {
			select {
			case <-h.Done():
			default:
				t.Fatal("accepted spawn left hanging across drain shutdown")
			}
			if _, err := h.Join(testutils.TestContext(t)); err != nil {
				assert.ErrorIs(t, err, types.ErrTaskCancelled)
			}
		}
	}
}

func TestPool_BoundedInjectorRejects(t *testing.T) {
	p, err := NewPool(&PoolConfig{Workers: 1, QueueCapacity: 2})
	require.NoError(t, err)
	// not started: spawned cells stay in the injector

	require.NoError(t, p.Start())
	defer p.Shutdown(types.ShutdownDrain)

	gate := make(chan struct{})
	defer close(gate)
	started := make(chan struct{})
	_, err = p.Spawn(task.FutureFunc(func(*task.Waker) task.Poll {
		close(started)
		<-gate
		return task.Ready(nil)
	}))
	require.NoError(t, err)
	<-started

	// the single worker is busy; fill the injector
	spawned := 0
	for i := 0; i < 10; i++ {
		if _, err := p.Spawn(task.Completed(nil)); err != nil {
			assert.ErrorIs(t, err, types.ErrQueueFull)
			break
		}
		spawned++
	}
	assert.LessOrEqual(t, spawned, 2, "bounded injector accepted too much")
}

func TestPool_Stats(t *testing.T) {
	p := startPool(t, &PoolConfig{Workers: 3})
	defer p.Shutdown(types.ShutdownDrain)

	stats := p.Stats()
	assert.Equal(t, 3, stats.Workers)
	assert.GreaterOrEqual(t, stats.IdleWorkers, 0)
	assert.GreaterOrEqual(t, stats.InjectorDepth, 0)
}
