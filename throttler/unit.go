/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import (
	"context"
	"time"

	"github.com/acronis/go-hostthrottle/service"
)

// Unit presents Throttler as service.Unit, so it can be stopped along with other units of an application.
type Unit struct {
	Throttler           *Throttler
	GracefulStopTimeout time.Duration
}

var _ service.Unit = (*Unit)(nil)

// NewUnit creates a new Unit. Zero gracefulStopTimeout means Stop(true) waits without a limit.
func NewUnit(thr *Throttler, gracefulStopTimeout time.Duration) *Unit {
	return &Unit{Throttler: thr, GracefulStopTimeout: gracefulStopTimeout}
}

// Start does nothing, Throttler is operational since it's created.
func (u *Unit) Start(chan<- error) {}

// Stop closes the Throttler. If gracefully is true, it waits until the storage is purged and closed.
func (u *Unit) Stop(gracefully bool) error {
	if !gracefully {
		u.Throttler.Close()
		return nil
	}
	ctx := context.Background()
	if u.GracefulStopTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.GracefulStopTimeout)
		defer cancel()
	}
	return u.Throttler.Shutdown(ctx)
}
