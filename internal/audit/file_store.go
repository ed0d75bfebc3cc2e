// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package audit

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/goccy/go-json"
)

// FileStore appends events to a JSON-lines file. Each Save is flushed to
// disk before returning.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore creates the parent directory of path and returns a store for it.
func NewFileStore(path string) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &FileStore{path: path}, nil
}

// Path returns the audit log location.
func (s *FileStore) Path() string {
	return s.path
}

// Save appends one line for event.
func (s *FileStore) Save(_ context.Context, event *Event) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	if _, err := f.Write(line); err != nil {
		_ = f.Close()
		return fmt.Errorf("append audit event: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync audit log: %w", err)
	}
	return f.Close()
}

// Query scans the log in file order. Lines that fail to decode are skipped.
func (s *FileStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	defer f.Close()

	var results []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			continue
		}
		if !filter.Matches(&event) {
			continue
		}
		results = append(results, event)
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return results, fmt.Errorf("read audit log: %w", err)
	}
	return results, nil
}
