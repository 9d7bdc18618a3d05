/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

// Package accessstore persists granted accesses so that throttling limits survive process restarts.
//
// Every granted access is stored as a separate record. Records are replayed when a throttler starts
// and the ones that are older than the throttling duration are purged when it shuts down.
package accessstore

import (
	"context"
	"time"

	"github.com/acronis/go-hostthrottle/log"
)

// InMemoryPath is the storage location that keeps records in memory only.
// Records stored there do not survive the process.
const InMemoryPath = ""

// Record is a single granted access.
type Record struct {
	Key  string
	Time time.Time
}

// Store is a durable storage of granted accesses.
type Store interface {
	// ImportRecords returns all stored records in the order they were recorded.
	ImportRecords(ctx context.Context) ([]Record, error)

	// RecordAccess stores one granted access.
	RecordAccess(ctx context.Context, key string, t time.Time) error

	// DeleteExpiredRecords removes all records older than now-duration.
	DeleteExpiredRecords(ctx context.Context, now time.Time, duration time.Duration) error

	// Close releases the storage.
	Close() error
}

// OpenFunc opens a Store at the given location.
type OpenFunc func(path string, logger log.FieldLogger) (Store, error)

// Open opens a BadgerDB-backed Store at the given location. It implements OpenFunc.
func Open(path string, logger log.FieldLogger) (Store, error) {
	s, err := OpenBadger(path, logger)
	if err != nil {
		return nil, err
	}
	return s, nil
}
