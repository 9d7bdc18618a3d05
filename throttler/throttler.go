/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package throttler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/atomic"

	"github.com/acronis/go-hostthrottle/accessstore"
	"github.com/acronis/go-hostthrottle/internal/keystore"
	"github.com/acronis/go-hostthrottle/log"
	"github.com/acronis/go-hostthrottle/workqueue"
)

// Default throttling parameters.
const (
	DefaultCount    = 5
	DefaultDuration = 24 * time.Hour
	DefaultMaxKeys  = 100
)

// State is a lifecycle state of Throttler.
type State int32

// Throttler states.
const (
	StateConstructing State = iota
	StateReady
	StateDestroying
	StateDestroyed
)

func (s State) String() string {
	switch s {
	case StateConstructing:
		return "constructing"
	case StateReady:
		return "ready"
	case StateDestroying:
		return "destroying"
	case StateDestroyed:
		return "destroyed"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Rate is the maximum number of grants per key within a trailing window.
type Rate struct {
	Count    int
	Duration time.Duration
}

// Opts represents options for NewWithOpts. Zero values are replaced with defaults.
type Opts struct {
	// StoragePath is a directory where granted accesses are persisted.
	// Empty path (accessstore.InMemoryPath) keeps them in memory only.
	StoragePath string

	// Rate is DefaultCount per DefaultDuration by default.
	Rate Rate

	// MaxKeys is the number of tracked keys after which the least recently granted ones are evicted.
	// DefaultMaxKeys is used by default.
	MaxKeys int

	Logger           log.FieldLogger
	MetricsCollector MetricsCollector

	// WorkQueue serializes all throttling state access. workqueue.Shared is used by default.
	WorkQueue workqueue.Dispatcher

	// CallbackQueue runs TryAccess result callbacks. workqueue.Callbacks is used by default.
	CallbackQueue workqueue.Dispatcher

	// OpenAccessStore opens the durable storage. accessstore.Open is used by default.
	OpenAccessStore accessstore.OpenFunc

	// Now is the clock used when the storage is restored and purged. time.Now is used by default.
	Now func() time.Time
}

// Throttler grants or denies access per key.
//
// Methods are safe for concurrent use. After Close every TryAccess reports false
// and SetCountPerDuration does nothing.
type Throttler struct {
	state     atomic.Int32
	work      workqueue.Dispatcher
	callbacks workqueue.Dispatcher
	logger    log.FieldLogger

	// store is accessed only by tasks running on work.
	store *keystore.Store

	closeOnce sync.Once
	destroyed chan struct{}
}

// New creates a Throttler with default parameters that keeps its state in memory only.
func New() *Throttler {
	return newThrottler(Opts{})
}

// NewWithRate creates a Throttler with the given rate and limit of tracked keys
// that keeps its state in memory only.
func NewWithRate(rate Rate, maxKeys int) (*Throttler, error) {
	return NewWithOpts(Opts{Rate: rate, MaxKeys: maxKeys})
}

// NewWithStorage creates a Throttler with default parameters that persists its state at path.
func NewWithStorage(path string) *Throttler {
	return newThrottler(Opts{StoragePath: path})
}

// NewWithOpts creates a Throttler with the given options.
// The state is restored from the storage asynchronously, the call does not block on I/O.
func NewWithOpts(opts Opts) (*Throttler, error) {
	if opts.Rate.Count < 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Rate.Count)
	}
	if opts.Rate.Duration < 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Rate.Duration)
	}
	if opts.MaxKeys < 0 {
		return nil, fmt.Errorf("max keys must be positive, got %d", opts.MaxKeys)
	}
	return newThrottler(opts), nil
}

// NewWithConfig creates a Throttler from Config.
func NewWithConfig(cfg *Config, logger log.FieldLogger) (*Throttler, error) {
	return NewWithOpts(Opts{
		StoragePath: cfg.StoragePath,
		Rate:        Rate{Count: cfg.Count, Duration: time.Duration(cfg.Duration)},
		MaxKeys:     cfg.MaxKeys,
		Logger:      logger,
	})
}

func newThrottler(opts Opts) *Throttler {
	storeCfg := keystore.Config{Count: opts.Rate.Count, Duration: opts.Rate.Duration, MaxKeys: opts.MaxKeys}
	if storeCfg.Count == 0 {
		storeCfg.Count = DefaultCount
	}
	if storeCfg.Duration == 0 {
		storeCfg.Duration = DefaultDuration
	}
	if storeCfg.MaxKeys == 0 {
		storeCfg.MaxKeys = DefaultMaxKeys
	}
	if opts.Logger == nil {
		opts.Logger = log.NewDisabledLogger()
	}
	if opts.MetricsCollector == nil {
		opts.MetricsCollector = disabledMetricsCollector
	}
	if opts.WorkQueue == nil {
		opts.WorkQueue = workqueue.Shared()
	}
	if opts.CallbackQueue == nil {
		opts.CallbackQueue = workqueue.Callbacks()
	}

	t := &Throttler{
		work:      opts.WorkQueue,
		callbacks: opts.CallbackQueue,
		logger:    opts.Logger,
		destroyed: make(chan struct{}),
	}
	t.state.Store(int32(StateConstructing))

	storeOpts := keystore.Opts{
		Open:    opts.OpenAccessStore,
		Logger:  opts.Logger,
		Metrics: opts.MetricsCollector,
		Now:     opts.Now,
	}
	t.work.Dispatch(func(ctx context.Context) {
		if !t.alive() {
			return
		}
		t.store = keystore.New(ctx, storeCfg, opts.StoragePath, storeOpts)
		t.state.CompareAndSwap(int32(StateConstructing), int32(StateReady))
	})
	return t
}

// State returns the current lifecycle state.
func (t *Throttler) State() State {
	return State(t.state.Load())
}

// TryAccess checks whether access to key at the given time is allowed and records it if so.
// onResult is called with the decision on the callback queue.
// Empty key is never allowed, onResult is called synchronously in this case.
// A panic in onResult is logged by the callback queue, other callbacks are still delivered.
func (t *Throttler) TryAccess(key string, at time.Time, onResult func(granted bool)) {
	if onResult == nil {
		onResult = func(bool) {}
	}
	if key == "" {
		onResult(false)
		return
	}
	t.work.Dispatch(func(ctx context.Context) {
		granted := false
		if t.alive() && t.store != nil {
			granted = t.store.TryAccess(ctx, key, at)
		}
		t.callbacks.Dispatch(func(context.Context) {
			onResult(granted)
		})
	})
}

// SetCountPerDuration changes the rate for all keys. Grants that were already made are not revised.
func (t *Throttler) SetCountPerDuration(count int, duration time.Duration) error {
	if count <= 0 {
		return fmt.Errorf("count must be positive, got %d", count)
	}
	if duration <= 0 {
		return fmt.Errorf("duration must be positive, got %s", duration)
	}
	t.work.Dispatch(func(context.Context) {
		if t.alive() && t.store != nil {
			t.store.SetCountPerDuration(count, duration)
		}
	})
	return nil
}

// Close stops the Throttler. It returns immediately, the storage is purged and closed asynchronously.
// Close is idempotent.
func (t *Throttler) Close() {
	t.closeOnce.Do(func() {
		t.state.Store(int32(StateDestroying))
		t.work.Dispatch(func(ctx context.Context) {
			if t.store != nil {
				t.store.Close(ctx)
				t.store = nil
			}
			t.state.Store(int32(StateDestroyed))
			close(t.destroyed)
			t.logger.Debug("throttler is closed")
		})
	})
}

// Shutdown closes the Throttler and waits until its storage is closed or ctx is done.
func (t *Throttler) Shutdown(ctx context.Context) error {
	t.Close()
	select {
	case <-t.destroyed:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *Throttler) alive() bool {
	return t.State() < StateDestroying
}
