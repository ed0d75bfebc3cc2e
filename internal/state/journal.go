// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package state keeps the run journal in a BadgerDB directory.
//
// Badger holds an exclusive lock on its directory while open, so an open
// journal doubles as the guard against overlapping runs: a second Open on
// the same directory fails with ErrRunInProgress.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/logging"
)

const (
	prefixLast    = "last:"
	prefixHistory = "run:"

	// HistoryTTL bounds how long individual run entries are kept.
	HistoryTTL = 90 * 24 * time.Hour
)

var (
	// ErrRunInProgress means another process holds the state directory.
	ErrRunInProgress = errors.New("another healthsync run is in progress")

	// ErrNoReport means no run of the requested mode has been recorded.
	ErrNoReport = errors.New("no recorded run")
)

// Entry is one journaled run. Report holds the mode-specific report as
// written by the orchestrator.
type Entry struct {
	Mode       string          `json:"mode"`
	RunID      string          `json:"run_id"`
	Status     string          `json:"status"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Report     json.RawMessage `json:"report,omitempty"`
}

// Journal is an open state directory.
type Journal struct {
	db  *badger.DB
	dir string
}

// Open opens or creates the journal in dir.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create state directory: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = nil
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		if isLockError(err) {
			return nil, fmt.Errorf("%w: %s", ErrRunInProgress, dir)
		}
		return nil, fmt.Errorf("open state directory: %w", err)
	}

	logging.Debug().Str("path", dir).Msg("State journal opened")
	return &Journal{db: db, dir: dir}, nil
}

// isLockError matches badger's directory lock failure, which is not exported
// as a sentinel.
func isLockError(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "directory lock")
}

// Close releases the directory lock.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// SaveReport records e as the last run of its mode and appends it to history.
func (j *Journal) SaveReport(ctx context.Context, e *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode run entry: %w", err)
	}

	historyKey := fmt.Sprintf("%s%020d:%s", prefixHistory, e.StartedAt.UnixNano(), e.RunID)
	err = j.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixLast+e.Mode), data); err != nil {
			return err
		}
		return txn.SetEntry(badger.NewEntry([]byte(historyKey), data).WithTTL(HistoryTTL))
	})
	if err != nil {
		return fmt.Errorf("save run entry: %w", err)
	}
	return nil
}

// LastReport returns the most recent run of mode.
func (j *Journal) LastReport(mode string) (*Entry, error) {
	var e Entry
	err := j.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixLast + mode))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &e)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNoReport, mode)
	}
	if err != nil {
		return nil, fmt.Errorf("read last run: %w", err)
	}
	return &e, nil
}

// Reports returns up to limit runs, newest first. A limit of zero returns all.
func (j *Journal) Reports(ctx context.Context, limit int) ([]Entry, error) {
	var entries []Entry
	err := j.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(prefixHistory)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek([]byte(prefixHistory + "\xff")); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var e Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &e)
			}); err != nil {
				logging.Warn().Err(err).Str("key", string(it.Item().Key())).Msg("Skipping unreadable run entry")
				continue
			}
			entries = append(entries, e)
			if limit > 0 && len(entries) >= limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return entries, nil
}
