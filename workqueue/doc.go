/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package workqueue provides serialized execution contexts.
//
// A Queue runs submitted tasks one at a time, in submission order, on a single goroutine.
// Submitting never blocks the caller. The throttler uses one process-wide Queue (see Shared)
// for all mutation of its state and another one (see Callbacks) for delivering results back to callers,
// so completion callbacks never run on the goroutine that owns the throttling state.
package workqueue
