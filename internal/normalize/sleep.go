// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package normalize

import (
	"fmt"
	"sort"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
)

// Sleep categories.
const (
	CategorySleepDuration    = "Sleep Duration"
	CategorySleepScore       = "Sleep Score"
	CategorySleepHeartRate   = "Sleep Heart Rate"
	CategorySleepHRV         = "Sleep HRV"
	CategorySleepRespiratory = "Sleep Respiratory Rate"

	UnitHours = "hours"
	UnitScore = "score"
	UnitBPM   = "bpm"
	UnitMs    = "ms"
	UnitBrPM  = "brpm"
)

// SleepPayload is the cached form of a Sleep Number range fetch: one raw
// sleepData response per day that had data.
type SleepPayload struct {
	Sleeper SleeperInfo                `json:"sleeper"`
	Days    map[string]json.RawMessage `json:"days"`
}

// SleeperInfo identifies whose sleep the payload describes.
type SleeperInfo struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Side string `json:"side,omitempty"`
}

// sleepDay lists the fields read from a sleepData response. Heart and
// respiration rates have appeared under both the avg and average prefixes.
type sleepDay struct {
	TotalSleepSessionTime *float64 `json:"totalSleepSessionTime"`
	AvgSleepIQ            *float64 `json:"avgSleepIQ"`
	AvgHeartRate          *float64 `json:"avgHeartRate"`
	AverageHeartRate      *float64 `json:"averageHeartRate"`
	AvgRespirationRate    *float64 `json:"avgRespirationRate"`
	AverageRespiration    *float64 `json:"averageRespirationRate"`
	AverageHRV            *float64 `json:"averageHeartRateVariability"`
	AvgHRV                *float64 `json:"avgHeartRateVariability"`
}

// Sleep converts a Sleep Number payload. Duration seconds become hours at
// two decimals; rates are kept at one decimal. Missing or zero values are
// skipped.
func (n *Normalizer) Sleep(payload json.RawMessage) ([]models.Metric, error) {
	var p SleepPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("decode sleep payload: %w", err)
	}

	dates := make([]string, 0, len(p.Days))
	for d := range p.Days {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	src := models.SourceSleepNumber
	var out []models.Metric
	for _, ds := range dates {
		date, err := models.ParseDate(ds)
		if err != nil {
			continue
		}
		raw := p.Days[ds]
		if len(raw) == 0 || string(raw) == "null" {
			continue
		}
		var day sleepDay
		if err := json.Unmarshal(raw, &day); err != nil {
			return nil, fmt.Errorf("decode sleep day %s: %w", ds, err)
		}

		if v := positive(day.TotalSleepSessionTime); v > 0 {
			out = append(out, measurement(src, date, CategorySleepDuration, UnitHours, models.Round(v/3600, 2), NotesSleepNumber))
		}
		if v := positive(day.AvgSleepIQ); v > 0 {
			out = append(out, measurement(src, date, CategorySleepScore, UnitScore, v, NotesSleepNumber))
		}
		if v := positive(first(day.AvgHeartRate, day.AverageHeartRate)); v > 0 {
			out = append(out, measurement(src, date, CategorySleepHeartRate, UnitBPM, models.Round(v, 1), NotesSleepNumber))
		}
		if v := positive(first(day.AverageHRV, day.AvgHRV)); v > 0 {
			out = append(out, measurement(src, date, CategorySleepHRV, UnitMs, models.Round(v, 1), NotesSleepNumber))
		}
		if v := positive(first(day.AvgRespirationRate, day.AverageRespiration)); v > 0 {
			out = append(out, measurement(src, date, CategorySleepRespiratory, UnitBrPM, models.Round(v, 1), NotesSleepNumber))
		}
	}
	return out, nil
}

func first(values ...*float64) *float64 {
	for _, v := range values {
		if v != nil {
			return v
		}
	}
	return nil
}
