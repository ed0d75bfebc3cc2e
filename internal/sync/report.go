// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package sync

import (
	"time"

	"github.com/tomtom215/healthsync/internal/models"
)

// Mode names a use case.
type Mode string

const (
	ModeLive      Mode = "live"
	ModeBackfill  Mode = "backfill"
	ModeReplay    Mode = "replay"
	ModeNutrition Mode = "nutrition"
)

// Status summarizes a source or a whole run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailed  Status = "failed"
)

// SourceReport counts the outcome of one source over one range.
type SourceReport struct {
	Source  models.Source `json:"source"`
	Range   models.Range  `json:"range"`
	Created int           `json:"created"`
	Updated int           `json:"updated"`
	Failed  int           `json:"failed"`
	Skipped int           `json:"skipped"`

	// Error is set when the source failed before any point was written.
	Error string `json:"error,omitempty"`
}

// Written returns the number of successful writes.
func (s *SourceReport) Written() int {
	return s.Created + s.Updated
}

// Status classifies the source: failed when it errored or nothing was
// written despite failures, partial when some points failed.
func (s *SourceReport) Status() Status {
	switch {
	case s.Error != "":
		return StatusFailed
	case s.Failed+s.Skipped == 0:
		return StatusSuccess
	case s.Written() == 0:
		return StatusFailed
	default:
		return StatusPartial
	}
}

// RunReport is the result of one run.
type RunReport struct {
	RunID      string          `json:"run_id"`
	Mode       Mode            `json:"mode"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
	Sources    []*SourceReport `json:"sources"`
	Status     Status          `json:"status"`

	// Aborted holds the error that stopped the run early, if any.
	Aborted string `json:"aborted,omitempty"`
}

func newRunReport(id string, mode Mode, started time.Time) *RunReport {
	return &RunReport{RunID: id, Mode: mode, StartedAt: started}
}

// addSource starts the counters for one source and range.
func (r *RunReport) addSource(source models.Source, rng models.Range) *SourceReport {
	sr := &SourceReport{Source: source, Range: rng}
	r.Sources = append(r.Sources, sr)
	return sr
}

// finish stamps the report and derives the overall status: failed when the
// run was aborted, success when every source succeeded, failed when every
// source failed, partial otherwise. A run with no sources succeeds.
func (r *RunReport) finish(at time.Time) {
	r.FinishedAt = at

	succeeded, failed := 0, 0
	for _, sr := range r.Sources {
		switch sr.Status() {
		case StatusSuccess:
			succeeded++
		case StatusFailed:
			failed++
		}
	}

	switch {
	case r.Aborted != "":
		r.Status = StatusFailed
	case succeeded == len(r.Sources):
		r.Status = StatusSuccess
	case failed == len(r.Sources):
		r.Status = StatusFailed
	default:
		r.Status = StatusPartial
	}
}

// Totals sums the counters of every source.
func (r *RunReport) Totals() SourceReport {
	var t SourceReport
	for _, sr := range r.Sources {
		t.Created += sr.Created
		t.Updated += sr.Updated
		t.Failed += sr.Failed
		t.Skipped += sr.Skipped
	}
	return t
}

// Duration returns how long the run took.
func (r *RunReport) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ExitCode maps the status to the process exit code.
func (r *RunReport) ExitCode() int {
	switch r.Status {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 2
	default:
		return 1
	}
}
