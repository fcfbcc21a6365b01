// Package store persists collector reports in Pebble, keyed by arrival time.
package store

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"
	"go.uber.org/zap"

	"github.com/iggydv12/lightswarm/internal/collector"
)

const keyPrefix = "snap/"

// keyUpper is the first key past every keyPrefix key.
var keyUpper = []byte("snap0")

// PebbleStore is a Pebble-backed collector.Store.
type PebbleStore struct {
	mu     sync.Mutex
	db     *pebble.DB
	path   string
	last   int64
	logger *zap.Logger
}

// Open opens or creates the database at path.
func Open(path string, logger *zap.Logger) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{Logger: &pebbleLogger{logger}})
	if err != nil {
		return nil, fmt.Errorf("pebble open %s: %w", path, err)
	}
	logger.Info("Snapshot store opened", zap.String("path", path))
	return &PebbleStore{db: db, path: path, logger: logger}, nil
}

// Close flushes and closes the database.
func (s *PebbleStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Append stores r under its arrival time. Reports arriving within the same
// nanosecond get consecutive keys.
func (s *PebbleStore) Append(r collector.Report) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ts := r.Received.UnixNano()
	if ts <= s.last {
		ts = s.last + 1
	}
	if err := s.db.Set(key(ts), data, pebble.Sync); err != nil {
		return fmt.Errorf("pebble set: %w", err)
	}
	s.last = ts
	return nil
}

// History returns up to limit reports, newest first. limit <= 0 returns all.
func (s *PebbleStore) History(limit int) ([]collector.Report, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: keyUpper,
	})
	if err != nil {
		return nil, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	var out []collector.Report
	for iter.Last(); iter.Valid(); iter.Prev() {
		var r collector.Report
		if err := json.Unmarshal(iter.Value(), &r); err != nil {
			s.logger.Warn("Skipping unreadable snapshot", zap.ByteString("key", iter.Key()), zap.Error(err))
			continue
		}
		out = append(out, r)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return out, nil
}

// Count returns the number of stored reports.
func (s *PebbleStore) Count() (int, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: keyUpper,
	})
	if err != nil {
		return 0, fmt.Errorf("pebble iter: %w", err)
	}
	defer iter.Close()

	n := 0
	for iter.First(); iter.Valid(); iter.Next() {
		n++
	}
	return n, iter.Error()
}

func key(ts int64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, ts))
}

// pebbleLogger adapts zap.Logger to the pebble.Logger interface.
type pebbleLogger struct {
	z *zap.Logger
}

func (l *pebbleLogger) Infof(format string, args ...any) {
	l.z.Sugar().Infof(format, args...)
}

func (l *pebbleLogger) Errorf(format string, args ...any) {
	l.z.Sugar().Errorf(format, args...)
}

func (l *pebbleLogger) Fatalf(format string, args ...any) {
	l.z.Sugar().Fatalf(format, args...)
}
