// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package models

import "math"

// Source names a provider data stream. It doubles as the raw cache key prefix.
type Source string

const (
	SourceWithingsActivity Source = "withings_activity"
	SourceWithingsWeight   Source = "withings_weight"
	SourceSleepNumber      Source = "sleepnumber"
	SourceNutrition        Source = "nutrition"
)

// ProviderSources lists the sources fetched from remote providers, in run order.
var ProviderSources = []Source{SourceWithingsActivity, SourceWithingsWeight, SourceSleepNumber}

// ParseSource validates a source name.
func ParseSource(s string) (Source, bool) {
	switch Source(s) {
	case SourceWithingsActivity, SourceWithingsWeight, SourceSleepNumber, SourceNutrition:
		return Source(s), true
	}
	return "", false
}

// Kind selects the destination record type of a metric.
type Kind string

const (
	// KindMeasurement is a value under a named measurement category.
	KindMeasurement Kind = "measurement"
	// KindWeight is a body weight entry keyed by date alone.
	KindWeight Kind = "weight"
)

// Metric is one normalized value ready to be written to the tracker.
type Metric struct {
	Source Source  `json:"source"`
	Kind   Kind    `json:"kind"`
	Date   Date    `json:"date"`
	Name   string  `json:"name,omitempty"`
	Unit   string  `json:"unit,omitempty"`
	Value  float64 `json:"value"`
	Notes  string  `json:"notes,omitempty"`
}

// CategoryKey identifies a measurement category by exact name and unit.
type CategoryKey struct {
	Name string
	Unit string
}

// Category returns the measurement category key of m.
func (m Metric) Category() CategoryKey {
	return CategoryKey{Name: m.Name, Unit: m.Unit}
}

// Round rounds v to the given number of decimal places, halves away from zero.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
