/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	"github.com/acronis/go-hostthrottle/log"
	"github.com/acronis/go-hostthrottle/service"
)

// Task is a unit of work executed by a Queue.
// The context passed to the task is the one the Queue is running with.
type Task func(ctx context.Context)

// Dispatcher enqueues tasks for asynchronous execution.
type Dispatcher interface {
	Dispatch(task Task)
}

// Queue is a serialized execution context.
// Tasks are executed in FIFO order and never concurrently with each other.
// A panicking task is logged and the queue proceeds with the next one.
// Queue implements service.Worker, so it may be driven by service.WorkerUnit.
type Queue struct {
	name   string
	logger log.FieldLogger

	mu      sync.Mutex
	tasks   []Task
	pending chan struct{}
}

var (
	_ Dispatcher     = (*Queue)(nil)
	_ service.Worker = (*Queue)(nil)
)

// New creates a new Queue. It does nothing until Run is called.
func New(name string, logger log.FieldLogger) *Queue {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}
	return &Queue{
		name:    name,
		logger:  logger.With(log.String("work_queue", name)),
		pending: make(chan struct{}, 1),
	}
}

// Start creates a new Queue and runs it in a separate goroutine until ctx is done.
func Start(ctx context.Context, name string, logger log.FieldLogger) *Queue {
	q := New(name, logger)
	go func() {
		_ = q.Run(ctx)
	}()
	return q
}

// Name returns the name of the queue.
func (q *Queue) Name() string {
	return q.name
}

// Dispatch appends the task to the queue and returns immediately.
func (q *Queue) Dispatch(task Task) {
	q.mu.Lock()
	q.tasks = append(q.tasks, task)
	q.mu.Unlock()

	select {
	case q.pending <- struct{}{}:
	default:
	}
}

// Len returns the number of tasks waiting for execution.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Run executes dispatched tasks until ctx is done.
// Tasks that are still queued when ctx is done are not executed.
// Run must not be called more than once at the same time.
func (q *Queue) Run(ctx context.Context) error {
	q.logger.Debug("work queue started")
	defer q.logger.Debug("work queue stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-q.pending:
		}

		for ctx.Err() == nil {
			task, ok := q.pop()
			if !ok {
				break
			}
			q.execute(ctx, task)
		}
	}
}

func (q *Queue) pop() (Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.tasks) == 0 {
		return nil, false
	}
	task := q.tasks[0]
	q.tasks[0] = nil
	q.tasks = q.tasks[1:]
	return task, true
}

func (q *Queue) execute(ctx context.Context, task Task) {
	defer func() {
		if p := recover(); p != nil {
			const logStackSize = 8192
			stack := make([]byte, logStackSize)
			stack = stack[:runtime.Stack(stack, false)]
			q.logger.Error(fmt.Sprintf("panic in work queue task: %+v", p), log.Bytes("stack", stack))
		}
	}()
	task(ctx)
}
