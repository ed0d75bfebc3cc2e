// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package normalize

import (
	"fmt"
	"math"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
)

// Withings measure type codes.
const (
	MeasureWeight      = 1
	MeasureFatRatio    = 6
	MeasureMuscleMass  = 76
	MeasureHydration   = 77
	MeasureBoneMass    = 88
	kgToLb             = 2.20462
	MinWeightLb        = 30.0
	MaxWeightLb        = 350.0
	activityStepsScale = 1000.0
	metersPerKm        = 1000.0
)

// Category names and units written to the tracker.
const (
	CategorySteps      = "Steps"
	CategoryDistance   = "Distance"
	CategoryCalories   = "Calories"
	CategoryBodyFat    = "Body Fat"
	CategoryMuscleMass = "Muscle Mass"
	CategoryBoneMass   = "Bone Mass"
	CategoryHydration  = "Hydration"

	UnitKSteps  = "ksteps"
	UnitKm      = "km"
	UnitKcal    = "kcal"
	UnitPercent = "%"
	UnitKg      = "kg"
)

// envelope is the Withings response wrapper.
type envelope struct {
	Status int             `json:"status"`
	Error  string          `json:"error,omitempty"`
	Body   json.RawMessage `json:"body"`
}

func decodeEnvelope(payload json.RawMessage, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return fmt.Errorf("decode withings envelope: %w", err)
	}
	if env.Status != 0 {
		return fmt.Errorf("withings payload carries status %d: %s", env.Status, env.Error)
	}
	if len(env.Body) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("decode withings body: %w", err)
	}
	return nil
}

type activityBody struct {
	Activities []activityDay `json:"activities"`
}

type activityDay struct {
	Date     string   `json:"date"`
	Steps    *float64 `json:"steps"`
	Distance *float64 `json:"distance"`
	Calories *float64 `json:"calories"`
}

// Activity converts a getactivity payload. Steps become thousands of steps
// and meters become kilometers, both at two decimals. Missing or zero
// values are skipped.
func (n *Normalizer) Activity(payload json.RawMessage) ([]models.Metric, error) {
	var body activityBody
	if err := decodeEnvelope(payload, &body); err != nil {
		return nil, err
	}

	var out []models.Metric
	for _, day := range body.Activities {
		date, err := models.ParseDate(day.Date)
		if err != nil {
			continue
		}
		src := models.SourceWithingsActivity

		if v := positive(day.Steps); v > 0 {
			out = append(out, measurement(src, date, CategorySteps, UnitKSteps, models.Round(v/activityStepsScale, 2), NotesWithings))
		}
		if v := positive(day.Distance); v > 0 {
			out = append(out, measurement(src, date, CategoryDistance, UnitKm, models.Round(v/metersPerKm, 2), NotesWithings))
		}
		if v := positive(day.Calories); v > 0 {
			out = append(out, measurement(src, date, CategoryCalories, UnitKcal, models.Round(v, 2), NotesWithings))
		}
	}
	return out, nil
}

type measureBody struct {
	MeasureGroups []measureGroup `json:"measuregrps"`
}

type measureGroup struct {
	Date     int64     `json:"date"`
	Measures []measure `json:"measures"`
}

type measure struct {
	Type  *int   `json:"type"`
	Value *int64 `json:"value"`
	Unit  *int   `json:"unit"`
}

// canonical decodes value * 10^unit.
func (m measure) canonical() (float64, bool) {
	if m.Type == nil || m.Value == nil || m.Unit == nil {
		return 0, false
	}
	return float64(*m.Value) * math.Pow10(*m.Unit), true
}

// Body converts a getmeas payload.
//
// Weight (type 1) is converted from kg to lb and accepted within
// [MinWeightLb, MaxWeightLb]; only the first valid weight of each calendar
// day, in provider order, is kept. Body fat, muscle mass and bone mass are
// kept for every group. Hydration (type 77) is total body water in kg and
// becomes a percentage of the same group's weight; groups without a valid
// weight yield no hydration. Unknown codes are ignored.
func (n *Normalizer) Body(payload json.RawMessage) ([]models.Metric, error) {
	var body measureBody
	if err := decodeEnvelope(payload, &body); err != nil {
		return nil, err
	}

	src := models.SourceWithingsWeight
	weighed := make(map[models.Date]bool)
	var out []models.Metric

	for _, grp := range body.MeasureGroups {
		if grp.Date == 0 {
			continue
		}
		date := models.DateOf(time.Unix(grp.Date, 0).In(n.loc))

		weightKg := 0.0
		for _, m := range grp.Measures {
			if v, ok := m.canonical(); ok && *m.Type == MeasureWeight && validWeightKg(v) {
				weightKg = v
				break
			}
		}

		for _, m := range grp.Measures {
			value, ok := m.canonical()
			if !ok {
				continue
			}

			switch *m.Type {
			case MeasureWeight:
				if weighed[date] || !validWeightKg(value) {
					continue
				}
				weighed[date] = true
				out = append(out, models.Metric{
					Source: src,
					Kind:   models.KindWeight,
					Date:   date,
					Value:  value * kgToLb,
					Notes:  NotesWithings,
				})
			case MeasureFatRatio:
				out = append(out, measurement(src, date, CategoryBodyFat, UnitPercent, models.Round(value, 2), NotesWithings))
			case MeasureMuscleMass:
				out = append(out, measurement(src, date, CategoryMuscleMass, UnitKg, models.Round(value, 2), NotesWithings))
			case MeasureHydration:
				if weightKg <= 0 || value <= 0 {
					continue
				}
				pct := value / weightKg * 100
				out = append(out, measurement(src, date, CategoryHydration, UnitPercent, models.Round(pct, 1), NotesWithings))
			case MeasureBoneMass:
				out = append(out, measurement(src, date, CategoryBoneMass, UnitKg, models.Round(value, 2), NotesWithings))
			}
		}
	}
	return out, nil
}

func validWeightKg(kg float64) bool {
	lb := kg * kgToLb
	return lb >= MinWeightLb && lb <= MaxWeightLb
}

func positive(v *float64) float64 {
	if v == nil || *v <= 0 {
		return 0
	}
	return *v
}
