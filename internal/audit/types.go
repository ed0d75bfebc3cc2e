// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package audit records every destination write attempt of a sync run.
//
// Events are written synchronously: a write attempt is considered recorded
// only once Log returns. The file store appends one JSON object per line and
// never rewrites earlier lines.
package audit

import (
	"context"
	"time"

	"github.com/goccy/go-json"
)

// EventType identifies what an audit event describes.
type EventType string

const (
	EventTypeWriteAttempt    EventType = "write.attempt"
	EventTypeCategoryCreated EventType = "category.created"
	EventTypeRunStarted      EventType = "run.started"
	EventTypeRunFinished     EventType = "run.finished"
)

// Outcome is the result of the audited action.
type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeTimeout  Outcome = "timeout"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailure  Outcome = "failure"
)

// Event is one audit log entry.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Type      EventType `json:"type"`
	Outcome   Outcome   `json:"outcome"`
	RunID     string    `json:"run_id,omitempty"`

	// Action is "create" or "update" for write attempts.
	Action string  `json:"action,omitempty"`
	Target *Target `json:"target,omitempty"`

	Attempt    int    `json:"attempt,omitempty"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`

	Description string          `json:"description,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// Target identifies the destination record of a write.
type Target struct {
	Kind       string  `json:"kind"` // "measurement" or "weight"
	Date       string  `json:"date"`
	Category   string  `json:"category,omitempty"`
	CategoryID int     `json:"category_id,omitempty"`
	RecordID   int     `json:"record_id,omitempty"`
	Value      float64 `json:"value"`
}

// Store persists audit events.
type Store interface {
	Save(ctx context.Context, event *Event) error
	Query(ctx context.Context, filter QueryFilter) ([]Event, error)
}

// QueryFilter selects events. Zero fields match everything.
type QueryFilter struct {
	Types    []EventType
	Outcomes []Outcome
	RunID    string
	Limit    int
}

// Matches reports whether event satisfies the filter.
func (f *QueryFilter) Matches(event *Event) bool {
	if f.RunID != "" && event.RunID != f.RunID {
		return false
	}
	if len(f.Types) > 0 && !containsType(f.Types, event.Type) {
		return false
	}
	if len(f.Outcomes) > 0 && !containsOutcome(f.Outcomes, event.Outcome) {
		return false
	}
	return true
}

func containsType(types []EventType, t EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func containsOutcome(outcomes []Outcome, o Outcome) bool {
	for _, candidate := range outcomes {
		if candidate == o {
			return true
		}
	}
	return false
}
