/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

// Package retry runs operations against durable storage with a backoff policy.
package retry

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// IsRetryable reports whether err is transient. A nil IsRetryable treats every error as transient.
type IsRetryable func(err error) bool

// RetryableFunc is an operation that may be attempted more than once.
type RetryableFunc func(ctx context.Context) error

// Policy produces a fresh backoff for each DoWithRetry call.
type Policy interface {
	NewBackOff() backoff.BackOff
}

// DoWithRetry calls fn until it succeeds, fails with a non-retryable error,
// the policy gives up or ctx is done.
// notify, if not nil, is called before every retry with the error and the delay.
func DoWithRetry(ctx context.Context, p Policy, isRetryable IsRetryable, notify backoff.Notify, fn RetryableFunc) error {
	b := backoff.WithContext(p.NewBackOff(), ctx)
	return backoff.RetryNotify(func() error {
		err := fn(b.Context())
		if err == nil || isRetryable == nil || isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, b, notify)
}

// ExponentialBackoffPolicy retries with exponentially growing delays.
type ExponentialBackoffPolicy struct {
	initialInterval time.Duration
	maxAttempts     int
}

// NewExponentialBackoffPolicy creates an ExponentialBackoffPolicy.
// maxRetryAttempts limits the number of retries after the first call, zero means no limit.
func NewExponentialBackoffPolicy(initialInterval time.Duration, maxRetryAttempts int) ExponentialBackoffPolicy {
	return ExponentialBackoffPolicy{initialInterval: initialInterval, maxAttempts: maxRetryAttempts}
}

// NewBackOff implements Policy.
func (p ExponentialBackoffPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.initialInterval
	eb.Reset()
	if p.maxAttempts <= 0 {
		return eb
	}
	return backoff.WithMaxRetries(eb, uint64(p.maxAttempts)) //nolint:gosec // attempts count is small
}
