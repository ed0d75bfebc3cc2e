// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package upsert writes metric points to the tracker with lookup-then-write
// semantics so that repeated runs converge on one record per key.
//
// The protocol for every point:
//
//  1. Look up the existing record by (category, date), or by date for weight.
//     A failed lookup is treated as "absent".
//  2. Update the found record by id, or create a new one.
//  3. Run the write through the RetryPolicy. Only timeouts are retried.
//  4. Append every attempt to the audit log.
//
// Two concurrent runs can both observe "absent" and both create; healthsync
// prevents that at the run boundary rather than here.
package upsert

import (
	"context"
	"errors"
	"fmt"

	"github.com/tomtom215/healthsync/internal/audit"
	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/metrics"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/tracker"
)

// MaxNotesLength is the longest notes value sent to the tracker.
const MaxNotesLength = 100

var (
	// ErrWriteTimeout means every attempt of a write timed out.
	ErrWriteTimeout = errors.New("write timed out")

	// ErrWriteRejected means the tracker refused the write.
	ErrWriteRejected = errors.New("write rejected")
)

// WriteRejectedError carries the tracker status of a refused write.
// StatusCode is 0 when the failure happened below HTTP.
type WriteRejectedError struct {
	StatusCode int
	Err        error
}

func (e *WriteRejectedError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("write rejected: %v", e.Err)
	}
	return fmt.Sprintf("write rejected with status %d: %v", e.StatusCode, e.Err)
}

// Unwrap exposes both the sentinel and the cause.
func (e *WriteRejectedError) Unwrap() []error {
	return []error{ErrWriteRejected, e.Err}
}

// Action is what a successful upsert did.
type Action string

const (
	ActionCreated Action = "created"
	ActionUpdated Action = "updated"
)

// Destination is the tracker surface the engine writes through.
type Destination interface {
	FindMeasurement(ctx context.Context, categoryID int, date string) (*tracker.Measurement, error)
	CreateMeasurement(ctx context.Context, m tracker.Measurement) (*tracker.Measurement, error)
	UpdateMeasurement(ctx context.Context, id int, m tracker.Measurement) (*tracker.Measurement, error)
	FindWeightEntry(ctx context.Context, date string) (*tracker.WeightEntry, error)
	CreateWeightEntry(ctx context.Context, w tracker.WeightEntry) (*tracker.WeightEntry, error)
	UpdateWeightEntry(ctx context.Context, id int, w tracker.WeightEntry) (*tracker.WeightEntry, error)
}

// Engine performs upserts against a Destination.
type Engine struct {
	dest   Destination
	policy RetryPolicy
	audit  *audit.Logger
}

// NewEngine creates an Engine. A nil audit logger disables auditing.
func NewEngine(dest Destination, policy RetryPolicy, auditLogger *audit.Logger) *Engine {
	return &Engine{dest: dest, policy: policy, audit: auditLogger}
}

// UpsertMeasurement writes value under categoryID on date.
func (e *Engine) UpsertMeasurement(ctx context.Context, date models.Date, categoryID int, value float64, notes string) (Action, error) {
	day := date.String()
	payload := tracker.Measurement{
		Category: categoryID,
		Date:     day,
		Value:    tracker.Decimal(value),
		Notes:    TruncateNotes(notes),
	}

	existingID := 0
	existing, err := e.dest.FindMeasurement(ctx, categoryID, day)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.Ctx(ctx).Warn().Err(err).Str("date", day).Int("category", categoryID).
			Msg("Measurement lookup failed, treating as absent")
	case existing != nil:
		existingID = existing.ID
	}

	target := &audit.Target{Kind: string(models.KindMeasurement), Date: day, CategoryID: categoryID, RecordID: existingID, Value: value}
	return e.write(ctx, target, existingID, func(attemptCtx context.Context) error {
		if existingID != 0 {
			_, err := e.dest.UpdateMeasurement(attemptCtx, existingID, payload)
			return err
		}
		_, err := e.dest.CreateMeasurement(attemptCtx, payload)
		return err
	})
}

// UpsertWeight writes the body weight in pounds for date, rounded to two
// decimals. Weight entries are keyed by date alone.
func (e *Engine) UpsertWeight(ctx context.Context, date models.Date, pounds float64) (Action, error) {
	day := date.String()
	weight := models.Round(pounds, 2)
	payload := tracker.WeightEntry{Date: day, Weight: tracker.Decimal(weight)}

	existingID := 0
	existing, err := e.dest.FindWeightEntry(ctx, day)
	switch {
	case err != nil:
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		logging.Ctx(ctx).Warn().Err(err).Str("date", day).Msg("Weight lookup failed, treating as absent")
	case existing != nil:
		existingID = existing.ID
	}

	target := &audit.Target{Kind: string(models.KindWeight), Date: day, RecordID: existingID, Value: weight}
	return e.write(ctx, target, existingID, func(attemptCtx context.Context) error {
		if existingID != 0 {
			_, err := e.dest.UpdateWeightEntry(attemptCtx, existingID, payload)
			return err
		}
		_, err := e.dest.CreateWeightEntry(attemptCtx, payload)
		return err
	})
}

// write runs fn under the retry policy, auditing each attempt, and maps the
// final error onto the write error taxonomy.
func (e *Engine) write(ctx context.Context, target *audit.Target, existingID int, fn func(context.Context) error) (Action, error) {
	action, auditAction := ActionCreated, "create"
	if existingID != 0 {
		action, auditAction = ActionUpdated, "update"
	}

	attempts := 0
	err := e.policy.Do(ctx, func(attempt int) error {
		attempts = attempt
		err := fn(ctx)
		e.record(ctx, target, auditAction, attempt, err)
		return err
	})
	if err == nil {
		return action, nil
	}

	if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
		return "", err
	}
	if IsTimeout(err) {
		noun := "attempts"
		if attempts == 1 {
			noun = "attempt"
		}
		return "", fmt.Errorf("%w after %d %s: %w", ErrWriteTimeout, attempts, noun, err)
	}
	return "", &WriteRejectedError{StatusCode: tracker.StatusCode(err), Err: err}
}

// record appends one attempt to the audit log and counts it.
func (e *Engine) record(ctx context.Context, target *audit.Target, action string, attempt int, err error) {
	outcome := audit.OutcomeSuccess
	switch {
	case err == nil:
	case IsTimeout(err):
		outcome = audit.OutcomeTimeout
	default:
		outcome = audit.OutcomeRejected
	}
	metrics.WriteAttempts.WithLabelValues(target.Kind, string(outcome)).Inc()

	event := &audit.Event{
		Type:       audit.EventTypeWriteAttempt,
		Outcome:    outcome,
		Action:     action,
		Target:     target,
		Attempt:    attempt,
		StatusCode: tracker.StatusCode(err),
	}
	if err != nil {
		event.Error = err.Error()
	}
	if auditErr := e.audit.Log(ctx, event); auditErr != nil {
		logging.Ctx(ctx).Error().Err(auditErr).Str("date", target.Date).Msg("Failed to append audit event")
	}
}

// TruncateNotes shortens notes to MaxNotesLength characters.
func TruncateNotes(notes string) string {
	runes := []rune(notes)
	if len(runes) <= MaxNotesLength {
		return notes
	}
	return string(runes[:MaxNotesLength])
}
