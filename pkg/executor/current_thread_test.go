package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jzx17/gosched/internal/testutils"
	"github.com/jzx17/gosched/pkg/task"
	"github.com/jzx17/gosched/pkg/types"
)

func TestNewCurrentThread(t *testing.T) {
	tests := []struct {
		name    string
		config  *CurrentThreadConfig
		wantErr string
	}{
		{name: "nil config uses defaults"},
		{name: "explicit config", config: &CurrentThreadConfig{QueueCapacity: 16}},
		{
			name:    "negative queue capacity",
			config:  &CurrentThreadConfig{QueueCapacity: -1},
			wantErr: "queue capacity must be non-negative",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := NewCurrentThread(tt.config)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, e.GetClock())
		})
	}
}

func TestCurrentThread_BlockOnImmediate(t *testing.T) {
	v, err := BlockOn(testutils.TestContext(t), task.Completed("hello"))
	require.NoError(t, err)
	assert.Equal(t, "hello", v)
}

func TestCurrentThread_BlockOnError(t *testing.T) {
	cause := errors.New("root failed")
	_, err := BlockOn(testutils.TestContext(t), task.Failed(cause))
	assert.ErrorIs(t, err, cause)
}

func TestCurrentThread_BlockOnNilFuture(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	_, err = e.BlockOn(context.Background(), nil)
	assert.Error(t, err)
}

func TestCurrentThread_SpawnedTasksRunFIFO(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	var order []string
	var rootWaker task.Waker
	spawned := false

	child := func(name string) task.Future {
		return task.FutureFunc(func(w *task.Waker) task.Poll {
			order = append(order, name)
			if name == "c" {
				rootWaker.Wake()
			}
			return task.Ready(nil)
		})
	}

	root := task.FutureFunc(func(w *task.Waker) task.Poll {
		if !spawned {
			spawned = true
			rootWaker = *w
			for _, name := range []string{"a", "b", "c"} {
				_, spawnErr := e.Spawn(child(name))
				require.NoError(t, spawnErr)
			}
			return task.Pending()
		}
		return task.Ready(nil)
	})

	_, err = e.BlockOn(testutils.TestContext(t), root)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, order, "spawn order is execution order")
}

func TestCurrentThread_SelfWakingTaskDoesNotStarvePeers(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	var order []string
	var rootWaker task.Waker
	spawned := false

	// Wakes itself during each poll; a naive head re-insert would run it
	// back to back.
	chatty := task.FutureFunc(func(w *task.Waker) task.Poll {
		order = append(order, "chatty")
		if len(order) >= 4 {
			rootWaker.Wake()
			return task.Ready(nil)
		}
		w.Wake()
		return task.Pending()
	})
	quiet := task.FutureFunc(func(w *task.Waker) task.Poll {
		order = append(order, "quiet")
		return task.Ready(nil)
	})

	root := task.FutureFunc(func(w *task.Waker) task.Poll {
		if !spawned {
			spawned = true
			rootWaker = *w
			_, spawnErr := e.Spawn(chatty)
			require.NoError(t, spawnErr)
			_, spawnErr = e.Spawn(quiet)
			require.NoError(t, spawnErr)
			return task.Pending()
		}
		return task.Ready(nil)
	})

	_, err = e.BlockOn(testutils.TestContext(t), root)
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(order), 3)
	assert.Equal(t, "chatty", order[0])
	assert.Equal(t, "quiet", order[1], "woken-during-poll task requeues at the tail")
}

func TestCurrentThread_RemoteWakeUnparksLoop(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	release := make(chan struct{})
	var waker task.Waker
	armed := make(chan struct{})
	polls := 0

	root := task.FutureFunc(func(w *task.Waker) task.Poll {
		polls++
		select {
		case <-release:
			return task.Ready(polls)
		default:
			waker = *w
			close(armed)
			return task.Pending()
		}
	})

	go func() {
		<-armed
		time.Sleep(10 * time.Millisecond)
		close(release)
		waker.Wake()
	}()

	v, err := e.BlockOn(testutils.TestContext(t), root)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestCurrentThread_SpawnFromOtherGoroutine(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	var rootWaker task.Waker
	armed := make(chan struct{})
	childDone := make(chan struct{})
	ready := false

	go func() {
		<-armed
		_, spawnErr := e.Spawn(task.FutureFunc(func(w *task.Waker) task.Poll {
			close(childDone)
			return task.Ready(nil)
		}))
		if spawnErr != nil {
			t.Error(spawnErr)
		}
	}()

	root := task.FutureFunc(func(w *task.Waker) task.Poll {
		if ready {
			return task.Ready(nil)
		}
		rootWaker = *w
		select {
		case <-armed:
		default:
			close(armed)
		}
		select {
		case <-childDone:
			ready = true
			return task.Ready(nil)
		default:
		}
		go func() {
			<-childDone
			ready = true
			rootWaker.Wake()
		}()
		return task.Pending()
	})

	_, err = e.BlockOn(testutils.TestContext(t), root)
	require.NoError(t, err)

	select {
	case <-childDone:
	default:
		t.Fatal("remotely spawned task never ran")
	}
}

func TestCurrentThread_ContextCancelsBlockOn(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err = e.BlockOn(ctx, task.FutureFunc(func(w *task.Waker) task.Poll {
		return task.Pending()
	}))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCurrentThread_ConcurrentBlockOnRejected(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	inLoop := make(chan struct{})
	release := make(chan struct{})
	var waker task.Waker
	done := false

	go func() {
		_, _ = e.BlockOn(context.Background(), task.FutureFunc(func(w *task.Waker) task.Poll {
			if done {
				return task.Ready(nil)
			}
			waker = *w
			close(inLoop)
			go func() {
				<-release
				done = true
				waker.Wake()
			}()
			return task.Pending()
		}))
	}()

	<-inLoop
	_, err = e.BlockOn(context.Background(), task.Completed(nil))
	assert.Error(t, err, "second BlockOn while the loop runs must be rejected")
	close(release)
}

func TestCurrentThread_TaskPanicDoesNotKillLoop(t *testing.T) {
	e, err := NewCurrentThread(nil)
	require.NoError(t, err)

	var rootWaker task.Waker
	spawned := false
	var panicHandle *task.Handle

	root := task.FutureFunc(func(w *task.Waker) task.Poll {
		if !spawned {
			spawned = true
			rootWaker = *w
			h, spawnErr := e.Spawn(task.FutureFunc(func(*task.Waker) task.Poll {
				panic("child blew up")
			}))
			require.NoError(t, spawnErr)
			panicHandle = h
			_, spawnErr = e.Spawn(task.FutureFunc(func(*task.Waker) task.Poll {
				rootWaker.Wake()
				return task.Ready(nil)
			}))
			require.NoError(t, spawnErr)
			return task.Pending()
		}
		return task.Ready("loop survived")
	})

	v, err := e.BlockOn(testutils.TestContext(t), root)
	require.NoError(t, err)
	assert.Equal(t, "loop survived", v)

	_, err = panicHandle.Join(testutils.TestContext(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "child blew up")
}

func TestCurrentThread_BoundedSpawnRejects(t *testing.T) {
	e, err := NewCurrentThread(&CurrentThreadConfig{QueueCapacity: 1})
	require.NoError(t, err)

	_, err = e.Spawn(task.Completed(nil))
	require.NoError(t, err)

	_, err = e.Spawn(task.Completed(nil))
	assert.ErrorIs(t, err, types.ErrQueueFull)
}
