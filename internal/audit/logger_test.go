// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package audit

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tomtom215/healthsync/internal/logging"
)

func writeEvent(kind, date string, attempt int, outcome Outcome) *Event {
	return &Event{
		Type:    EventTypeWriteAttempt,
		Outcome: outcome,
		Action:  "create",
		Target:  &Target{Kind: kind, Date: date, Category: "Steps", CategoryID: 3, Value: 8.23},
		Attempt: attempt,
	}
}

func TestLogger_Log(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(100)
	logger := NewLogger(store, nil)
	ctx := logging.ContextWithRunID(context.Background(), "run00001")

	if err := logger.Log(ctx, writeEvent("measurement", "2024-03-01", 1, OutcomeSuccess)); err != nil {
		t.Fatalf("Log() error = %v", err)
	}

	events, err := store.Query(ctx, QueryFilter{})
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	got := events[0]
	if got.ID == "" {
		t.Error("expected generated ID")
	}
	if got.Timestamp.IsZero() {
		t.Error("expected timestamp to be set")
	}
	if got.RunID != "run00001" {
		t.Errorf("RunID = %q, want run00001", got.RunID)
	}
}

func TestLogger_NilStore(t *testing.T) {
	t.Parallel()

	logger := NewLogger(nil, nil)
	if err := logger.Log(context.Background(), writeEvent("weight", "2024-03-01", 1, OutcomeSuccess)); err != nil {
		t.Errorf("expected nil store to discard, got %v", err)
	}
}

type failingStore struct{ MemoryStore }

func (f *failingStore) Save(context.Context, *Event) error { return errors.New("disk full") }

func TestLogger_SaveErrorPropagates(t *testing.T) {
	t.Parallel()

	logger := NewLogger(&failingStore{}, nil)
	err := logger.Log(context.Background(), writeEvent("weight", "2024-03-01", 1, OutcomeSuccess))
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("expected save error, got %v", err)
	}
}

func TestFileStore_AppendOnly(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	logger := NewLogger(store, nil)
	ctx := logging.ContextWithRunID(context.Background(), "runA")

	for attempt := 1; attempt <= 3; attempt++ {
		outcome := OutcomeTimeout
		if attempt == 3 {
			outcome = OutcomeSuccess
		}
		if err := logger.Log(ctx, writeEvent("measurement", "2024-03-01", attempt, outcome)); err != nil {
			t.Fatalf("Log() error = %v", err)
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read audit log: %v", err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 3 {
		t.Errorf("expected 3 lines, got %d", lines)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("audit log mode = %o, want 600", perm)
	}

	timeouts, err := store.Query(ctx, QueryFilter{Outcomes: []Outcome{OutcomeTimeout}})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(timeouts) != 2 {
		t.Errorf("expected 2 timeout events, got %d", len(timeouts))
	}
	if timeouts[0].Attempt != 1 || timeouts[1].Attempt != 2 {
		t.Errorf("unexpected attempt order: %d, %d", timeouts[0].Attempt, timeouts[1].Attempt)
	}
}

func TestFileStore_QueryMissingFile(t *testing.T) {
	t.Parallel()

	store, err := NewFileStore(filepath.Join(t.TempDir(), "audit.jsonl"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	events, err := store.Query(context.Background(), QueryFilter{})
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
}

func TestQueryFilter_Matches(t *testing.T) {
	t.Parallel()

	event := &Event{Type: EventTypeWriteAttempt, Outcome: OutcomeRejected, RunID: "r1", Timestamp: time.Now()}

	tests := []struct {
		name   string
		filter QueryFilter
		want   bool
	}{
		{"empty", QueryFilter{}, true},
		{"run match", QueryFilter{RunID: "r1"}, true},
		{"run mismatch", QueryFilter{RunID: "r2"}, false},
		{"type match", QueryFilter{Types: []EventType{EventTypeRunStarted, EventTypeWriteAttempt}}, true},
		{"type mismatch", QueryFilter{Types: []EventType{EventTypeRunFinished}}, false},
		{"outcome mismatch", QueryFilter{Outcomes: []Outcome{OutcomeSuccess}}, false},
	}
	for _, tt := range tests {
		if got := tt.filter.Matches(event); got != tt.want {
			t.Errorf("%s: Matches() = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestMemoryStore_Eviction(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore(10)
	for i := 0; i < 12; i++ {
		_ = store.Save(context.Background(), &Event{ID: string(rune('a' + i))})
	}
	if store.Len() > 10 {
		t.Errorf("expected at most 10 events, got %d", store.Len())
	}
}
