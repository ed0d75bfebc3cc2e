// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package normalize converts raw provider payloads into canonical metrics:
// decoded vendor scales, converted units, named categories.
//
// Normalization is pure. The same payload always yields the same metrics in
// the same order, which is what makes cache replays deterministic.
package normalize

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
)

// ErrUnknownSource is returned for sources without a normalizer.
var ErrUnknownSource = errors.New("no normalizer for source")

// Notes attached to metrics by source.
const (
	NotesWithings    = "Withings"
	NotesSleepNumber = "Sleep Number"
	NotesNutrition   = "MFP Import"
)

// Normalizer converts payloads. Withings measure timestamps are bucketed
// into calendar days in loc.
type Normalizer struct {
	loc *time.Location
}

// New creates a Normalizer. A nil loc means time.Local.
func New(loc *time.Location) *Normalizer {
	if loc == nil {
		loc = time.Local
	}
	return &Normalizer{loc: loc}
}

// Normalize dispatches payload to the normalizer for source.
func (n *Normalizer) Normalize(source models.Source, payload json.RawMessage) ([]models.Metric, error) {
	switch source {
	case models.SourceWithingsActivity:
		return n.Activity(payload)
	case models.SourceWithingsWeight:
		return n.Body(payload)
	case models.SourceSleepNumber:
		return n.Sleep(payload)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
}

func measurement(source models.Source, date models.Date, name, unit string, value float64, notes string) models.Metric {
	return models.Metric{
		Source: source,
		Kind:   models.KindMeasurement,
		Date:   date,
		Name:   name,
		Unit:   unit,
		Value:  value,
		Notes:  notes,
	}
}
