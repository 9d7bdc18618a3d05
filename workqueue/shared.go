/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package workqueue

import (
	"context"
	"sync"
)

// Names of the process-wide queues.
const (
	SharedQueueName    = "throttler"
	CallbacksQueueName = "throttler-callbacks"
)

var (
	sharedOnce sync.Once
	shared     *Queue

	callbacksOnce sync.Once
	callbacks     *Queue
)

// Shared returns the process-wide queue that owns all throttling state.
// Every throttler that does not get its own queue uses this one, so two throttlers pointing
// at the same storage location never open or close it concurrently.
// The queue is started on first use and lives until the process exits.
func Shared() *Queue {
	sharedOnce.Do(func() {
		shared = Start(context.Background(), SharedQueueName, nil)
	})
	return shared
}

// Callbacks returns the process-wide queue used for delivering throttling results to callers.
// It is started on first use and lives until the process exits.
func Callbacks() *Queue {
	callbacksOnce.Do(func() {
		callbacks = Start(context.Background(), CallbacksQueueName, nil)
	})
	return callbacks
}
