/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import (
	"context"
	"time"

	"github.com/acronis/go-hostthrottle/workqueue"
)

func (s *ThrottlerTestSuite) TestUnit_StopGracefully() {
	thr := s.newThrottler(Opts{StoragePath: s.T().TempDir()})
	s.Require().True(s.tryAccess(thr, "a", at(0)))

	unit := NewUnit(thr, waitTimeout)
	unit.Start(make(chan error, 1))
	s.Require().NoError(unit.Stop(true))
	s.Require().Equal(StateDestroyed, thr.State())
}

func (s *ThrottlerTestSuite) TestUnit_StopTimeout() {
	work := workqueue.New("paused", s.logger)
	thr, err := NewWithOpts(Opts{WorkQueue: work, CallbackQueue: s.callbacks, Logger: s.logger})
	s.Require().NoError(err)

	s.Require().ErrorIs(NewUnit(thr, 10*time.Millisecond).Stop(true), context.DeadlineExceeded)
	s.Require().Equal(StateDestroying, thr.State())
}

func (s *ThrottlerTestSuite) TestUnit_StopImmediately() {
	thr := s.newThrottler(Opts{})
	s.Require().NoError(NewUnit(thr, 0).Stop(false))
	s.Require().NotEqual(StateReady, thr.State())
}
