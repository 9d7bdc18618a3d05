/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package accessstore

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"syscall"
	"time"

	badger "github.com/outcaste-io/badger/v3"
	"github.com/outcaste-io/badger/v3/options"

	"github.com/acronis/go-hostthrottle/log"
	"github.com/acronis/go-hostthrottle/retry"
)

// ErrTimeOutOfRange is returned by BadgerStore.RecordAccess for times that cannot be stored.
var ErrTimeOutOfRange = errors.New("access time is out of the storable range")

const (
	recordKeyPrefix = "access/"
	recordSeqKey    = "meta/access-seq"
)

const (
	recordSeqLen  = 8
	recordTimeLen = 8
	recordKeyLen  = len(recordKeyPrefix) + recordSeqLen + recordTimeLen

	recordSeqBandwidth = 100
)

// Times are stored as nanoseconds since the Unix epoch.
var (
	minRecordTime = time.Unix(0, math.MinInt64)
	maxRecordTime = time.Unix(0, math.MaxInt64)
)

// Retry policy for opening a database whose directory is still locked by a previous owner.
const (
	openRetryInitialInterval = 100 * time.Millisecond
	openRetryMaxAttempts     = 6
)

var openRetryPolicy retry.Policy = retry.NewExponentialBackoffPolicy(openRetryInitialInterval, openRetryMaxAttempts)

// BadgerStore is a Store based on BadgerDB.
//
// Records are keyed by a persistent sequence number followed by their time,
// so iteration returns them in the order they were recorded.
type BadgerStore struct {
	db     *badger.DB
	seq    *badger.Sequence
	logger log.FieldLogger
}

var _ Store = (*BadgerStore)(nil)

// OpenBadger opens (creating if needed) BadgerDB in the directory at path.
// The empty path (InMemoryPath) opens an in-memory database.
// If the directory is locked by another BadgerDB instance, opening is retried for a while,
// so a throttler that is being closed has a chance to release it.
func OpenBadger(path string, logger log.FieldLogger) (*BadgerStore, error) {
	if logger == nil {
		logger = log.NewDisabledLogger()
	}

	opt := badger.DefaultOptions(path)
	opt = opt.WithInMemory(path == InMemoryPath).
		WithSyncWrites(true).
		WithCompression(options.None).
		WithBlockCacheSize(0).
		WithLogger(badgerLogger{logger.With(log.String("component", "badger"))})

	var db *badger.DB
	err := retry.DoWithRetry(context.Background(), openRetryPolicy, isDirectoryLocked,
		func(err error, delay time.Duration) {
			logger.Warn("access storage is locked, retrying",
				log.String("path", path), log.String("delay", delay.String()), log.Error(err))
		},
		func(context.Context) error {
			var openErr error
			db, openErr = badger.Open(opt)
			return openErr
		})
	if err != nil {
		return nil, fmt.Errorf("open access store %q: %w", path, err)
	}

	seq, err := db.GetSequence([]byte(recordSeqKey), recordSeqBandwidth)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open access store %q: get record sequence: %w", path, err)
	}
	return &BadgerStore{db: db, seq: seq, logger: logger}, nil
}

// isDirectoryLocked reports whether BadgerDB failed to acquire its directory lock.
func isDirectoryLocked(err error) bool {
	return errors.Is(err, syscall.EWOULDBLOCK)
}

// ImportRecords returns all stored records in the order they were recorded.
func (s *BadgerStore) ImportRecords(ctx context.Context) ([]Record, error) {
	var records []Record
	err := s.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = []byte(recordKeyPrefix)
		it := txn.NewIterator(opt)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			t, err := parseRecordKey(item.Key())
			if err != nil {
				s.logger.Warn("skipping malformed access record", log.Bytes("key", item.KeyCopy(nil)), log.Error(err))
				continue
			}
			key, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			records = append(records, Record{Key: string(key), Time: t})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("import access records: %w", err)
	}
	return records, nil
}

// RecordAccess stores one granted access.
// ErrTimeOutOfRange is returned for times before 1678 or after 2262.
func (s *BadgerStore) RecordAccess(ctx context.Context, key string, t time.Time) error {
	if t.Before(minRecordTime) || t.After(maxRecordTime) {
		return fmt.Errorf("record access at %s: %w", t, ErrTimeOutOfRange)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	seq, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("record access: next sequence: %w", err)
	}
	if err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(makeRecordKey(seq, t), []byte(key))
	}); err != nil {
		return fmt.Errorf("record access: %w", err)
	}
	return nil
}

// DeleteExpiredRecords removes all records older than now-duration.
func (s *BadgerStore) DeleteExpiredRecords(ctx context.Context, now time.Time, duration time.Duration) error {
	cutoff := now.Add(-duration)

	var expiredKeys [][]byte
	err := s.db.View(func(txn *badger.Txn) error {
		opt := badger.DefaultIteratorOptions
		opt.Prefix = []byte(recordKeyPrefix)
		opt.PrefetchValues = false
		it := txn.NewIterator(opt)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			t, err := parseRecordKey(it.Item().Key())
			if err != nil {
				continue
			}
			if t.Before(cutoff) {
				expiredKeys = append(expiredKeys, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("find expired access records: %w", err)
	}
	if len(expiredKeys) == 0 {
		return nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range expiredKeys {
		if err = ctx.Err(); err != nil {
			return err
		}
		if err = wb.Delete(k); err != nil {
			return fmt.Errorf("delete expired access record: %w", err)
		}
	}
	if err = wb.Flush(); err != nil {
		return fmt.Errorf("delete expired access records: %w", err)
	}
	s.logger.Info("expired access records deleted", log.Int("count", len(expiredKeys)))
	return nil
}

// Close returns the unused part of the sequence lease and closes the underlying BadgerDB.
func (s *BadgerStore) Close() error {
	seqErr := s.seq.Release()
	if seqErr != nil {
		seqErr = fmt.Errorf("release record sequence: %w", seqErr)
	}
	return errors.Join(seqErr, s.db.Close())
}

func makeRecordKey(seq uint64, t time.Time) []byte {
	k := make([]byte, recordKeyLen)
	n := copy(k, recordKeyPrefix)
	binary.BigEndian.PutUint64(k[n:], seq)
	binary.BigEndian.PutUint64(k[n+recordSeqLen:], uint64(t.UnixNano())) //nolint:gosec // restored by the int64 conversion
	return k
}

func parseRecordKey(k []byte) (time.Time, error) {
	if len(k) != recordKeyLen || !bytes.HasPrefix(k, []byte(recordKeyPrefix)) {
		return time.Time{}, fmt.Errorf("unexpected record key length %d", len(k))
	}
	nanos := binary.BigEndian.Uint64(k[len(recordKeyPrefix)+recordSeqLen:])
	return time.Unix(0, int64(nanos)), nil //nolint:gosec // written from an int64
}

// badgerLogger routes BadgerDB messages to log.FieldLogger.
type badgerLogger struct {
	logger log.FieldLogger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Errorf(format, args...)
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warnf(format, args...)
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debugf(format, args...)
}
