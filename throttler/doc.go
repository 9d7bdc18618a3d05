/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package throttler grants or denies actions per key (for example, per remote host) depending on how many times
// the key was granted within a trailing time window.
//
// All throttling state lives on a single serialized work queue (workqueue.Shared by default),
// so TryAccess never blocks the caller. Results are delivered asynchronously on the callback queue
// (workqueue.Callbacks by default), never on the work queue itself.
// Granted accesses are persisted (see accessstore) and replayed on the next start,
// so limits survive process restarts.
//
// Example:
//
//	thr, err := throttler.NewWithOpts(throttler.Opts{
//		StoragePath: "/var/lib/myapp/throttle",
//		Rate:        throttler.Rate{Count: 3, Duration: time.Hour},
//	})
//	if err != nil {
//		return err
//	}
//	defer thr.Close()
//
//	thr.TryAccess("example.com", time.Now(), func(granted bool) {
//		if !granted {
//			return
//		}
//		// Do the throttled work.
//	})
package throttler
