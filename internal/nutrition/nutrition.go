// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package nutrition turns a day's logged food totals, plus any fixed daily
// meals, into tracker metrics.
package nutrition

import (
	"errors"
	"fmt"
	"os"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/normalize"
	"github.com/tomtom215/healthsync/internal/validation"
)

// Categories written for nutrition.
const (
	CategoryCalories         = "Daily Calories"
	CategoryExerciseCalories = "MFP Exercise Calories"
	CategoryProtein          = "Daily Protein"
	CategoryCarbs            = "Daily Carbs"
	CategoryFat              = "Daily Fat"
	CategorySodium           = "Daily Sodium"

	UnitKcal  = "kcal"
	UnitGrams = "g"
	UnitMg    = "mg"
)

// Record is one day of logged nutrition.
type Record struct {
	Date             string  `json:"date" validate:"required,calendar_date"`
	Calories         float64 `json:"calories" validate:"gte=0"`
	ExerciseCalories float64 `json:"exercise_calories" validate:"gte=0"`
	ProteinG         float64 `json:"protein_g" validate:"gte=0"`
	CarbsG           float64 `json:"carbs_g" validate:"gte=0"`
	FatG             float64 `json:"fat_g" validate:"gte=0"`
	SodiumMG         float64 `json:"sodium_mg" validate:"gte=0"`
}

// Validate checks field constraints.
func (r *Record) Validate() error {
	return validation.ValidateStruct(r)
}

// Meal is a fixed entry added to every day, such as a daily protein shake.
type Meal struct {
	Name     string  `json:"name"`
	Calories float64 `json:"calories" validate:"gte=0"`
	ProteinG float64 `json:"protein_g" validate:"gte=0"`
	CarbsG   float64 `json:"carbs_g" validate:"gte=0"`
	FatG     float64 `json:"fat_g" validate:"gte=0"`
	SodiumMG float64 `json:"sodium_mg" validate:"gte=0"`

	// Enabled defaults to true when absent.
	Enabled *bool `json:"enabled,omitempty"`
}

// IsEnabled reports whether the meal counts toward daily totals.
func (m *Meal) IsEnabled() bool {
	return m.Enabled == nil || *m.Enabled
}

type constantsFile struct {
	DailyMeals []Meal `json:"daily_meals"`
}

// LoadConstants reads the enabled meals from path. A missing file yields
// no meals.
func LoadConstants(path string) ([]Meal, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read daily constants: %w", err)
	}

	var file constantsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("decode daily constants %s: %w", path, err)
	}

	meals := make([]Meal, 0, len(file.DailyMeals))
	for i := range file.DailyMeals {
		m := file.DailyMeals[i]
		if !m.IsEnabled() {
			continue
		}
		if err := validation.ValidateStruct(&m); err != nil {
			return nil, fmt.Errorf("daily meal %q: %w", m.Name, err)
		}
		meals = append(meals, m)
	}
	return meals, nil
}

// LoadRecord reads a Record from a JSON file.
func LoadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read nutrition record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode nutrition record %s: %w", path, err)
	}
	return &r, nil
}

// Combine adds meals to the record's totals. Exercise calories are not
// affected.
func Combine(r Record, meals []Meal) Record {
	for _, m := range meals {
		r.Calories += m.Calories
		r.ProteinG += m.ProteinG
		r.CarbsG += m.CarbsG
		r.FatG += m.FatG
		r.SodiumMG += m.SodiumMG
	}
	return r
}

// Metrics validates r and returns its non-zero values as metrics.
func Metrics(r *Record) ([]models.Metric, error) {
	if err := r.Validate(); err != nil {
		return nil, err
	}
	date, err := models.ParseDate(r.Date)
	if err != nil {
		return nil, err
	}

	fields := []struct {
		name, unit string
		value      float64
	}{
		{CategoryCalories, UnitKcal, r.Calories},
		{CategoryExerciseCalories, UnitKcal, r.ExerciseCalories},
		{CategoryProtein, UnitGrams, r.ProteinG},
		{CategoryCarbs, UnitGrams, r.CarbsG},
		{CategoryFat, UnitGrams, r.FatG},
		{CategorySodium, UnitMg, r.SodiumMG},
	}

	var out []models.Metric
	for _, f := range fields {
		if f.value <= 0 {
			continue
		}
		out = append(out, models.Metric{
			Source: models.SourceNutrition,
			Kind:   models.KindMeasurement,
			Date:   date,
			Name:   f.name,
			Unit:   f.unit,
			Value:  models.Round(f.value, 2),
			Notes:  normalize.NotesNutrition,
		})
	}
	return out, nil
}
