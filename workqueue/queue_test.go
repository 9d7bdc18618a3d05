/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/atomic"

	"github.com/acronis/go-hostthrottle/log/logtest"
	"github.com/acronis/go-hostthrottle/service"
)

func runQueue(t *testing.T, q *Queue) {
	t.Helper()
	unit := service.NewWorkerUnit(q)
	go unit.Start(make(chan error, 1))
	t.Cleanup(func() {
		require.NoError(t, unit.Stop(true))
	})
}

// flush waits until all tasks dispatched before the call are executed.
func flush(t *testing.T, q *Queue) {
	t.Helper()
	done := make(chan struct{})
	q.Dispatch(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("work queue did not drain in time")
	}
}

func TestQueue_ExecutesInSubmissionOrder(t *testing.T) {
	q := New("test", logtest.NewRecorder())

	const tasksNum = 1000
	var got []int
	for i := 0; i < tasksNum; i++ {
		i := i
		q.Dispatch(func(context.Context) { got = append(got, i) })
	}
	require.Equal(t, tasksNum, q.Len(), "nothing should be executed before Run")

	runQueue(t, q)
	flush(t, q)

	require.Len(t, got, tasksNum)
	for i := range got {
		require.Equal(t, i, got[i])
	}
	require.Equal(t, 0, q.Len())
}

func TestQueue_NeverRunsTasksConcurrently(t *testing.T) {
	q := New("test", nil)
	runQueue(t, q)

	var inFlight, maxInFlight atomic.Int32
	var wg sync.WaitGroup
	for g := 0; g < 10; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				q.Dispatch(func(context.Context) {
					n := inFlight.Inc()
					if n > maxInFlight.Load() {
						maxInFlight.Store(n)
					}
					time.Sleep(time.Microsecond)
					inFlight.Dec()
				})
			}
		}()
	}
	wg.Wait()
	flush(t, q)

	require.Equal(t, int32(1), maxInFlight.Load())
}

func TestQueue_SurvivesPanickingTask(t *testing.T) {
	logger := logtest.NewRecorder()
	q := New("test", logger)
	runQueue(t, q)

	var executed atomic.Int32
	q.Dispatch(func(context.Context) { panic("callback failed") })
	q.Dispatch(func(context.Context) { executed.Inc() })
	flush(t, q)

	require.Equal(t, int32(1), executed.Load())
	entry, found := logger.FindEntry("panic in work queue task: callback failed")
	require.True(t, found)
	_, hasStack := entry.FindField("stack")
	require.True(t, hasStack)
}

func TestQueue_StopsWhenContextIsDone(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	q := New("test", nil)
	runExit := make(chan error)
	go func() { runExit <- q.Run(ctx) }()

	flush(t, q)
	cancel()
	select {
	case err := <-runExit:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}

	var executed atomic.Bool
	q.Dispatch(func(context.Context) { executed.Store(true) })
	time.Sleep(50 * time.Millisecond)
	require.False(t, executed.Load())
	require.Equal(t, 1, q.Len())
}

func TestQueue_PassesRunContextToTasks(t *testing.T) {
	type ctxKey struct{}
	ctx, cancel := context.WithCancel(context.WithValue(context.Background(), ctxKey{}, "worker"))
	defer cancel()
	q := Start(ctx, "test", nil)

	got := make(chan interface{}, 1)
	q.Dispatch(func(ctx context.Context) { got <- ctx.Value(ctxKey{}) })
	require.Equal(t, "worker", <-got)
}

func TestSharedQueues(t *testing.T) {
	require.Same(t, Shared(), Shared())
	require.Same(t, Callbacks(), Callbacks())
	require.NotSame(t, Shared(), Callbacks())
	require.Equal(t, SharedQueueName, Shared().Name())
	require.Equal(t, CallbacksQueueName, Callbacks().Name())

	flush(t, Shared())
	flush(t, Callbacks())
}
