/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package keystore tracks access windows of throttled keys and keeps their number bounded.
//
// A Store is not safe for concurrent use. It is owned by a single worker goroutine.
package keystore

import (
	"context"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/acronis/go-hostthrottle/accessstore"
	"github.com/acronis/go-hostthrottle/log"
)

// Config is the throttling configuration shared by all keys of a Store.
type Config struct {
	// Count is the maximum number of grants per key within Duration.
	Count int
	// Duration is the length of the trailing window.
	Duration time.Duration
	// MaxKeys is the number of tracked keys the Store shrinks to after a grant.
	MaxKeys int
}

// MetricsCollector collects metrics of a Store.
type MetricsCollector interface {
	IncGrants()
	IncDenials()
	SetKeysAmount(amount int)
	AddExpiredEvictions(n int)
	AddOldestEvictions(n int)
}

type disabledMetrics struct{}

func (disabledMetrics) IncGrants()              {}
func (disabledMetrics) IncDenials()             {}
func (disabledMetrics) SetKeysAmount(int)       {}
func (disabledMetrics) AddExpiredEvictions(int) {}
func (disabledMetrics) AddOldestEvictions(int)  {}

// Opts represents options for New.
type Opts struct {
	// Open opens the durable record storage. accessstore.Open is used by default.
	Open accessstore.OpenFunc
	// Logger is a logger for storage failures. Logging is disabled by default.
	Logger  log.FieldLogger
	Metrics MetricsCollector
	// Now is the clock used for replay maintenance and the final purge. time.Now is used by default.
	Now func() time.Time
}

// Store maps keys to their access windows.
type Store struct {
	cfg     Config
	windows map[string]*AccessWindow
	records accessstore.Store // nil when the storage is unavailable
	logger  log.FieldLogger
	metrics MetricsCollector
	now     func() time.Time

	recordErrLog rate.Sometimes
}

// New creates a Store and restores the granted accesses persisted at path.
// If the storage cannot be opened, the Store works in memory only.
func New(ctx context.Context, cfg Config, path string, opts Opts) *Store {
	s := &Store{
		cfg:          cfg,
		windows:      make(map[string]*AccessWindow),
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		now:          opts.Now,
		recordErrLog: rate.Sometimes{First: 1, Interval: time.Minute},
	}
	if s.logger == nil {
		s.logger = log.NewDisabledLogger()
	}
	if s.metrics == nil {
		s.metrics = disabledMetrics{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	open := opts.Open
	if open == nil {
		open = accessstore.Open
	}

	records, err := open(path, s.logger)
	if err != nil {
		s.logger.Warn("access storage is unavailable, throttling state will not be persisted",
			log.String("path", path), log.Error(err))
		return s
	}
	s.records = records
	s.restore(ctx)
	return s
}

func (s *Store) restore(ctx context.Context) {
	imported, err := s.records.ImportRecords(ctx)
	if err != nil {
		s.logger.Error("failed to import access records", log.Error(err))
		return
	}
	restored := 0
	for _, rec := range imported {
		if s.window(rec.Key).TryGrantAndRecord(rec.Time, s.cfg) {
			restored++
		}
	}
	if restored > 0 {
		s.MaintainKeys(s.now())
	}
	s.metrics.SetKeysAmount(len(s.windows))
	s.logger.Info("access records restored",
		log.Int("imported", len(imported)), log.Int("restored", restored), log.Int("keys", len(s.windows)))
}

// TryAccess grants or denies the access to key at t.
// A granted access triggers key maintenance and is persisted.
func (s *Store) TryAccess(ctx context.Context, key string, t time.Time) bool {
	if !s.window(key).TryGrantAndRecord(t, s.cfg) {
		s.metrics.IncDenials()
		return false
	}
	s.metrics.IncGrants()
	s.MaintainKeys(t)
	s.metrics.SetKeysAmount(len(s.windows))

	if s.records != nil {
		if err := s.records.RecordAccess(ctx, key, t); err != nil {
			s.recordErrLog.Do(func() {
				s.logger.Error("failed to persist access record", log.String("key", key), log.Error(err))
			})
		}
	}
	return true
}

// MaintainKeys shrinks the Store to MaxKeys keys if it has more.
// Keys whose windows expired by t go first. Then keys with the oldest newest grant are evicted,
// ties are broken by the lexicographically smallest key.
func (s *Store) MaintainKeys(t time.Time) {
	if len(s.windows) <= s.cfg.MaxKeys {
		return
	}

	expired := 0
	for key, w := range s.windows {
		if w.TryExpire(t, s.cfg) {
			delete(s.windows, key)
			expired++
		}
	}
	if expired > 0 {
		s.metrics.AddExpiredEvictions(expired)
	}

	excess := len(s.windows) - s.cfg.MaxKeys
	if excess <= 0 {
		return
	}
	keys := make([]string, 0, len(s.windows))
	for key := range s.windows {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		ti, tj := s.windows[keys[i]].NewestAccessTime(), s.windows[keys[j]].NewestAccessTime()
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return keys[i] < keys[j]
	})
	for _, key := range keys[:excess] {
		delete(s.windows, key)
	}
	s.metrics.AddOldestEvictions(excess)
}

// SetCountPerDuration replaces the rate parameters. Existing windows are not revised.
func (s *Store) SetCountPerDuration(count int, duration time.Duration) {
	s.cfg.Count = count
	s.cfg.Duration = duration
}

// Config returns the current configuration.
func (s *Store) Config() Config {
	return s.cfg
}

// Len returns the number of tracked keys.
func (s *Store) Len() int {
	return len(s.windows)
}

// Window returns the access window of key.
func (s *Store) Window(key string) (*AccessWindow, bool) {
	w, ok := s.windows[key]
	return w, ok
}

// Persistent reports whether granted accesses are persisted.
func (s *Store) Persistent() bool {
	return s.records != nil
}

// Close purges expired records and closes the storage. The Store must not be used afterwards.
func (s *Store) Close(ctx context.Context) {
	if s.records == nil {
		return
	}
	if err := s.records.DeleteExpiredRecords(ctx, s.now(), s.cfg.Duration); err != nil {
		s.logger.Error("failed to delete expired access records", log.Error(err))
	}
	if err := s.records.Close(); err != nil {
		s.logger.Error("failed to close access storage", log.Error(err))
	}
	s.records = nil
}

func (s *Store) window(key string) *AccessWindow {
	w, ok := s.windows[key]
	if !ok {
		w = &AccessWindow{}
		s.windows[key] = w
	}
	return w
}
