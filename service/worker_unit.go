/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package service

import (
	"context"
	"errors"
	"time"
)

// ErrWorkerUnitStopTimeoutExceeded is an error that occurs when WorkerUnit's gracefully stop timeout is exceeded.
var ErrWorkerUnitStopTimeoutExceeded = errors.New("worker unit stop timeout exceeded")

// WorkerUnitOpts contains optional parameters for constructing WorkerUnit.
type WorkerUnitOpts struct {
	// GracefulStopTimeout limits how long Stop(true) waits for Run to return. Zero means no limit.
	GracefulStopTimeout time.Duration
}

// WorkerUnit allows presenting Worker as Unit.
// The context passed to Worker.Run is canceled by Stop.
type WorkerUnit struct {
	worker      Worker
	ctx         context.Context
	cancel      context.CancelFunc
	runDone     chan struct{}
	stopTimeout time.Duration
}

var _ Unit = (*WorkerUnit)(nil)

// NewWorkerUnit creates a new instance of WorkerUnit.
func NewWorkerUnit(worker Worker) *WorkerUnit {
	return NewWorkerUnitWithOpts(worker, WorkerUnitOpts{})
}

// NewWorkerUnitWithOpts creates a new instance of WorkerUnit
// with an ability to specify different optional parameters.
func NewWorkerUnitWithOpts(worker Worker, opts WorkerUnitOpts) *WorkerUnit {
	ctx, cancel := context.WithCancel(context.Background())
	return &WorkerUnit{
		worker:      worker,
		ctx:         ctx,
		cancel:      cancel,
		runDone:     make(chan struct{}, 1),
		stopTimeout: opts.GracefulStopTimeout,
	}
}

// Start runs the underlying Worker and blocks until it returns.
// An error returned by the Worker is sent to fatalError.
func (u *WorkerUnit) Start(fatalError chan<- error) {
	if err := u.worker.Run(u.ctx); err != nil {
		fatalError <- err
	}
	u.runDone <- struct{}{}
}

// Stop cancels the Worker's context. If gracefully is true, it also waits until the Worker returns.
func (u *WorkerUnit) Stop(gracefully bool) error {
	u.cancel()
	if !gracefully {
		return nil
	}
	if u.stopTimeout == 0 {
		<-u.runDone
		return nil
	}
	select {
	case <-u.runDone:
		return nil
	case <-time.After(u.stopTimeout):
		return ErrWorkerUnitStopTimeoutExceeded
	}
}
