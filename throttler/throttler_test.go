/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/acronis/go-hostthrottle/accessstore"
	"github.com/acronis/go-hostthrottle/log"
	"github.com/acronis/go-hostthrottle/log/logtest"
	"github.com/acronis/go-hostthrottle/workqueue"
)

const waitTimeout = 5 * time.Second

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func at(units int) time.Time {
	return epoch.Add(time.Duration(units) * time.Second)
}

// countingDispatcher counts tasks passed to the underlying queue.
type countingDispatcher struct {
	q          *workqueue.Queue
	dispatched atomic.Int32
}

func (d *countingDispatcher) Dispatch(task workqueue.Task) {
	d.dispatched.Inc()
	d.q.Dispatch(task)
}

type ThrottlerTestSuite struct {
	suite.Suite
	logger    *logtest.Recorder
	work      *workqueue.Queue
	callbacks *countingDispatcher
	cancel    context.CancelFunc
}

func TestThrottler(t *testing.T) {
	suite.Run(t, &ThrottlerTestSuite{})
}

func (s *ThrottlerTestSuite) SetupTest() {
	var ctx context.Context
	ctx, s.cancel = context.WithCancel(context.Background())
	s.logger = logtest.NewRecorder()
	s.work = workqueue.New("work", s.logger)
	s.callbacks = &countingDispatcher{q: workqueue.Start(ctx, "callbacks", s.logger)}
	go func() { _ = s.work.Run(ctx) }()
}

func (s *ThrottlerTestSuite) TearDownTest() {
	s.cancel()
}

func (s *ThrottlerTestSuite) newThrottler(opts Opts) *Throttler {
	opts.Logger = s.logger
	opts.WorkQueue = s.work
	opts.CallbackQueue = s.callbacks
	if opts.Now == nil {
		opts.Now = func() time.Time { return at(0) }
	}
	thr, err := NewWithOpts(opts)
	s.Require().NoError(err)
	return thr
}

func (s *ThrottlerTestSuite) tryAccess(thr *Throttler, key string, t time.Time) bool {
	result := make(chan bool, 1)
	thr.TryAccess(key, t, func(granted bool) { result <- granted })
	select {
	case granted := <-result:
		return granted
	case <-time.After(waitTimeout):
		s.FailNow("result was not delivered in time")
	}
	return false
}

func (s *ThrottlerTestSuite) flushWork() {
	done := make(chan struct{})
	s.work.Dispatch(func(context.Context) { close(done) })
	select {
	case <-done:
	case <-time.After(waitTimeout):
		s.FailNow("work queue did not drain in time")
	}
}

func (s *ThrottlerTestSuite) TestTryAccess_RateWithinWindow() {
	thr := s.newThrottler(Opts{Rate: Rate{Count: 2, Duration: 10 * time.Second}})
	defer thr.Close()

	s.Require().True(s.tryAccess(thr, "a", at(0)))
	s.Require().True(s.tryAccess(thr, "a", at(1)))
	s.Require().False(s.tryAccess(thr, "a", at(2)))
	s.Require().True(s.tryAccess(thr, "a", at(11)))
	s.Require().Equal(int32(4), s.callbacks.dispatched.Load())
}

func (s *ThrottlerTestSuite) TestTryAccess_LeastRecentlyGrantedKeyIsEvicted() {
	thr := s.newThrottler(Opts{Rate: Rate{Count: 1, Duration: 10 * time.Second}, MaxKeys: 1})
	defer thr.Close()

	s.Require().True(s.tryAccess(thr, "a", at(0)))
	s.Require().True(s.tryAccess(thr, "b", at(1)))
	// "a" was evicted and starts over.
	s.Require().True(s.tryAccess(thr, "a", at(2)))
	s.Require().True(s.tryAccess(thr, "b", at(3)))
}

func (s *ThrottlerTestSuite) TestTryAccess_EmptyKey() {
	thr := s.newThrottler(Opts{})
	defer thr.Close()

	called := false
	thr.TryAccess("", at(0), func(granted bool) {
		called = true
		s.Require().False(granted)
	})
	s.Require().True(called, "callback must be called synchronously")
	s.Require().Zero(s.callbacks.dispatched.Load())
}

func (s *ThrottlerTestSuite) TestTryAccess_StorageUnavailable() {
	thr := s.newThrottler(Opts{
		StoragePath: "/unavailable",
		Rate:        Rate{Count: 1, Duration: 10 * time.Second},
		OpenAccessStore: func(string, log.FieldLogger) (accessstore.Store, error) {
			return nil, errors.New("permission denied")
		},
	})

	s.Require().True(s.tryAccess(thr, "a", at(0)))
	s.Require().False(s.tryAccess(thr, "a", at(1)))
	s.Require().NoError(thr.Shutdown(context.Background()))

	_, found := s.logger.FindEntry("access storage is unavailable, throttling state will not be persisted")
	s.Require().True(found)
}

func (s *ThrottlerTestSuite) TestTryAccess_CallbackIsNotRunOnWorkQueue() {
	thr := s.newThrottler(Opts{})
	defer thr.Close()

	result := make(chan bool, 1)
	thr.TryAccess("a", at(0), func(granted bool) { result <- granted })

	release := make(chan struct{})
	defer close(release)
	s.work.Dispatch(func(context.Context) { <-release })

	select {
	case granted := <-result:
		s.Require().True(granted)
	case <-time.After(waitTimeout):
		s.FailNow("callback was blocked by the work queue")
	}
}

func (s *ThrottlerTestSuite) TestSetCountPerDuration() {
	thr := s.newThrottler(Opts{Rate: Rate{Count: 1, Duration: 10 * time.Second}})
	defer thr.Close()

	s.Require().True(s.tryAccess(thr, "a", at(0)))
	s.Require().False(s.tryAccess(thr, "a", at(1)))

	s.Require().NoError(thr.SetCountPerDuration(2, 10*time.Second))
	s.Require().True(s.tryAccess(thr, "a", at(2)))
	s.Require().False(s.tryAccess(thr, "a", at(3)))

	s.Require().EqualError(thr.SetCountPerDuration(0, time.Second), "count must be positive, got 0")
	s.Require().EqualError(thr.SetCountPerDuration(1, -time.Second), "duration must be positive, got -1s")
	s.Require().False(s.tryAccess(thr, "a", at(4)))
}

func (s *ThrottlerTestSuite) TestLifecycle() {
	work := workqueue.New("paused", s.logger)
	thr, err := NewWithOpts(Opts{WorkQueue: work, CallbackQueue: s.callbacks, Logger: s.logger})
	s.Require().NoError(err)
	s.Require().Equal(StateConstructing, thr.State())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = work.Run(ctx) }()

	s.Require().Eventually(func() bool { return thr.State() == StateReady }, waitTimeout, 10*time.Millisecond)

	thr.Close()
	s.Require().Contains([]State{StateDestroying, StateDestroyed}, thr.State())
	s.Require().NoError(thr.Shutdown(context.Background()))
	s.Require().Equal(StateDestroyed, thr.State())
	s.Require().Equal("destroyed", thr.State().String())

	// Idempotent.
	thr.Close()
	s.Require().NoError(thr.Shutdown(context.Background()))
}

func (s *ThrottlerTestSuite) TestUseAfterClose() {
	work := workqueue.New("paused", s.logger)
	thr, err := NewWithOpts(Opts{WorkQueue: work, CallbackQueue: s.callbacks, Logger: s.logger})
	s.Require().NoError(err)

	result := make(chan bool, 1)
	thr.TryAccess("a", at(0), func(granted bool) { result <- granted })
	s.Require().NoError(thr.SetCountPerDuration(10, time.Hour))
	thr.Close()
	thr.TryAccess("b", at(0), func(granted bool) { result <- granted })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = work.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case granted := <-result:
			s.Require().False(granted)
		case <-time.After(waitTimeout):
			s.FailNow("result was not delivered in time")
		}
	}
	s.Require().NoError(thr.Shutdown(context.Background()))
}

func (s *ThrottlerTestSuite) TestShutdown_ContextDone() {
	work := workqueue.New("paused", s.logger)
	thr, err := NewWithOpts(Opts{WorkQueue: work, CallbackQueue: s.callbacks, Logger: s.logger})
	s.Require().NoError(err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	s.Require().ErrorIs(thr.Shutdown(ctx), context.DeadlineExceeded)
	s.Require().Equal(StateDestroying, thr.State())
}

func (s *ThrottlerTestSuite) TestPersistence() {
	dir := s.T().TempDir()
	opts := Opts{
		StoragePath: dir,
		Rate:        Rate{Count: 2, Duration: 10 * time.Second},
		Now:         func() time.Time { return at(5) },
	}

	thr := s.newThrottler(opts)
	s.Require().True(s.tryAccess(thr, "a", at(0)))
	s.Require().True(s.tryAccess(thr, "a", at(1)))
	s.Require().True(s.tryAccess(thr, "b", at(1)))
	s.Require().NoError(thr.Shutdown(context.Background()))

	restored := s.newThrottler(opts)
	defer func() { s.Require().NoError(restored.Shutdown(context.Background())) }()
	s.Require().False(s.tryAccess(restored, "a", at(2)))
	s.Require().True(s.tryAccess(restored, "b", at(2)))
	s.Require().False(s.tryAccess(restored, "b", at(3)))
	s.Require().True(s.tryAccess(restored, "a", at(11)))
}

func (s *ThrottlerTestSuite) TestTryAccess_SharedWorkQueueAcrossThrottlers() {
	first := s.newThrottler(Opts{Rate: Rate{Count: 1, Duration: time.Minute}})
	defer first.Close()
	second := s.newThrottler(Opts{Rate: Rate{Count: 1, Duration: time.Minute}})
	defer second.Close()

	s.Require().True(s.tryAccess(first, "a", at(0)))
	s.Require().True(s.tryAccess(second, "a", at(0)))
	s.Require().False(s.tryAccess(first, "a", at(1)))
	s.flushWork()
}

func TestNewWithOpts_InvalidArguments(t *testing.T) {
	tests := []struct {
		name    string
		opts    Opts
		wantErr string
	}{
		{name: "negative count", opts: Opts{Rate: Rate{Count: -1}}, wantErr: "count must be positive, got -1"},
		{name: "negative duration", opts: Opts{Rate: Rate{Duration: -time.Minute}}, wantErr: "duration must be positive, got -1m0s"},
		{name: "negative max keys", opts: Opts{MaxKeys: -5}, wantErr: "max keys must be positive, got -5"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			thr, err := NewWithOpts(tt.opts)
			require.EqualError(t, err, tt.wantErr)
			require.Nil(t, thr)
		})
	}
}
