// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package audit

import (
	"context"
	"sync"
)

// MemoryStore implements Store in memory. Used by tests and replay dry runs.
type MemoryStore struct {
	events []Event
	mu     sync.RWMutex
	maxLen int
}

// NewMemoryStore creates an in-memory audit store holding at most maxLen events.
func NewMemoryStore(maxLen int) *MemoryStore {
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &MemoryStore{
		events: make([]Event, 0, 64),
		maxLen: maxLen,
	}
}

// Save appends an event, dropping the oldest tenth when full.
func (s *MemoryStore) Save(_ context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.events) >= s.maxLen {
		removeCount := s.maxLen / 10
		if removeCount == 0 {
			removeCount = 1
		}
		s.events = s.events[removeCount:]
	}
	s.events = append(s.events, *event)
	return nil
}

// Query returns matching events in insertion order.
func (s *MemoryStore) Query(_ context.Context, filter QueryFilter) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []Event
	for i := range s.events {
		if !filter.Matches(&s.events[i]) {
			continue
		}
		results = append(results, s.events[i])
		if filter.Limit > 0 && len(results) >= filter.Limit {
			break
		}
	}
	return results, nil
}

// Len returns the number of stored events.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}
