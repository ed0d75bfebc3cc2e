// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package normalize

import (
	"errors"
	"math"
	"reflect"
	"strconv"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
)

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}

func TestActivity(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"status":0,"body":{"activities":[
		{"date":"2024-03-01","steps":8234,"distance":5123,"calories":412.7},
		{"date":"2024-03-02","steps":0,"distance":0,"calories":0},
		{"date":"2024-03-03","steps":12000}
	]}}`)

	got, err := New(time.UTC).Activity(payload)
	if err != nil {
		t.Fatalf("Activity() error = %v", err)
	}

	want := []struct {
		date, name, unit string
		value            float64
	}{
		{"2024-03-01", CategorySteps, UnitKSteps, 8.23},
		{"2024-03-01", CategoryDistance, UnitKm, 5.12},
		{"2024-03-01", CategoryCalories, UnitKcal, 412.7},
		{"2024-03-03", CategorySteps, UnitKSteps, 12},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d metrics, want %d: %+v", len(got), len(want), got)
	}
	for i, w := range want {
		m := got[i]
		if m.Date.String() != w.date || m.Name != w.name || m.Unit != w.unit || !approx(m.Value, w.value) {
			t.Errorf("metric %d = %s %s %s %v, want %+v", i, m.Date, m.Name, m.Unit, m.Value, w)
		}
		if m.Kind != models.KindMeasurement || m.Notes != NotesWithings {
			t.Errorf("metric %d kind/notes = %s/%s", i, m.Kind, m.Notes)
		}
	}
}

func TestActivity_ErrorStatus(t *testing.T) {
	t.Parallel()

	_, err := New(time.UTC).Activity(json.RawMessage(`{"status":401,"error":"invalid_token"}`))
	if err == nil {
		t.Fatal("expected error for non-zero status")
	}
}

// group builds a measure group at noon UTC of date.
func group(date string, measures string) string {
	d := models.MustParseDate(date)
	ts := d.Start(time.UTC).Add(12 * time.Hour).Unix()
	return `{"date":` + itoa(ts) + `,"measures":[` + measures + `]}`
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}

func bodyPayload(groups ...string) json.RawMessage {
	s := `{"status":0,"body":{"measuregrps":[`
	for i, g := range groups {
		if i > 0 {
			s += ","
		}
		s += g
	}
	return json.RawMessage(s + `]}}`)
}

func TestBody_ScaleDecodingAndConversion(t *testing.T) {
	t.Parallel()

	payload := bodyPayload(group("2024-03-01",
		`{"type":1,"value":81234,"unit":-3},{"type":6,"value":2215,"unit":-2},{"type":76,"value":6012,"unit":-2},{"type":88,"value":321,"unit":-2},{"type":77,"value":4521,"unit":-2},{"type":999,"value":5,"unit":0}`))

	got, err := New(time.UTC).Body(payload)
	if err != nil {
		t.Fatalf("Body() error = %v", err)
	}

	byName := map[string]models.Metric{}
	for _, m := range got {
		key := m.Name
		if m.Kind == models.KindWeight {
			key = "weight"
		}
		byName[key] = m
	}
	if len(got) != 5 {
		t.Fatalf("got %d metrics, want 5 (unknown code ignored): %+v", len(got), got)
	}

	if w := byName["weight"]; !approx(w.Value, 81.234*2.20462) {
		t.Errorf("weight = %v lb, want %v", w.Value, 81.234*2.20462)
	}
	if v := byName[CategoryBodyFat].Value; !approx(v, 22.15) {
		t.Errorf("body fat = %v, want 22.15", v)
	}
	if v := byName[CategoryMuscleMass].Value; !approx(v, 60.12) {
		t.Errorf("muscle mass = %v, want 60.12", v)
	}
	if v := byName[CategoryBoneMass].Value; !approx(v, 3.21) {
		t.Errorf("bone mass = %v, want 3.21", v)
	}
	// 45.21 kg water / 81.234 kg weight = 55.65...% -> 55.7
	if v := byName[CategoryHydration].Value; !approx(v, 55.7) {
		t.Errorf("hydration = %v, want 55.7", v)
	}
	if byName[CategoryHydration].Unit != UnitPercent {
		t.Errorf("hydration unit = %q", byName[CategoryHydration].Unit)
	}
}

func TestBody_WeightBounds(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		kgRaw  int64
		unit   int
		accept bool
	}{
		{"too light", 10, 0, false},         // 22 lb
		{"too heavy", 200, 0, false},        // 441 lb
		{"lower edge", 13608, -3, true},     // 30.0003 lb
		{"typical", 81234, -3, true},        // 179 lb
		{"upper edge", 158757, -3, true},    // 349.99 lb
		{"just above upper", 158760, -3, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			payload := bodyPayload(group("2024-03-01", `{"type":1,"value":`+itoa(tt.kgRaw)+`,"unit":`+itoa(int64(tt.unit))+`}`))
			got, err := New(time.UTC).Body(payload)
			if err != nil {
				t.Fatal(err)
			}
			if accepted := len(got) == 1; accepted != tt.accept {
				t.Errorf("accepted = %v, want %v (%+v)", accepted, tt.accept, got)
			}
		})
	}
}

func TestBody_OneWeightPerDay(t *testing.T) {
	t.Parallel()

	payload := bodyPayload(
		group("2024-03-01", `{"type":1,"value":5,"unit":0},{"type":6,"value":2000,"unit":-2}`), // 11 lb, rejected
		group("2024-03-01", `{"type":1,"value":80000,"unit":-3},{"type":6,"value":2100,"unit":-2}`),
		group("2024-03-01", `{"type":1,"value":81000,"unit":-3},{"type":6,"value":2200,"unit":-2}`),
		group("2024-03-02", `{"type":1,"value":82000,"unit":-3}`),
	)

	got, err := New(time.UTC).Body(payload)
	if err != nil {
		t.Fatal(err)
	}

	weights := map[string]float64{}
	fats := 0
	for _, m := range got {
		switch {
		case m.Kind == models.KindWeight:
			if _, dup := weights[m.Date.String()]; dup {
				t.Errorf("duplicate weight for %s", m.Date)
			}
			weights[m.Date.String()] = m.Value
		case m.Name == CategoryBodyFat:
			fats++
		}
	}
	if !approx(weights["2024-03-01"], 80*2.20462) {
		t.Errorf("first valid weight not kept: %v", weights["2024-03-01"])
	}
	if len(weights) != 2 {
		t.Errorf("weights = %v, want two days", weights)
	}
	if fats != 3 {
		t.Errorf("body fat samples = %d, want 3", fats)
	}
}

func TestBody_HydrationNeedsWeight(t *testing.T) {
	t.Parallel()

	payload := bodyPayload(group("2024-03-01", `{"type":77,"value":4500,"unit":-2}`))
	got, err := New(time.UTC).Body(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected no hydration without weight, got %+v", got)
	}
}

func TestBody_DateInLocation(t *testing.T) {
	t.Parallel()

	// 2024-03-02 03:00 UTC is still 2024-03-01 in UTC-6.
	ts := time.Date(2024, 3, 2, 3, 0, 0, 0, time.UTC).Unix()
	payload := bodyPayload(`{"date":` + itoa(ts) + `,"measures":[{"type":1,"value":80,"unit":0}]}`)

	got, err := New(time.FixedZone("CST", -6*3600)).Body(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Date.String() != "2024-03-01" {
		t.Errorf("unexpected date bucketing: %+v", got)
	}
}

func TestBody_MissingFieldsSkipped(t *testing.T) {
	t.Parallel()

	payload := bodyPayload(group("2024-03-01", `{"type":6,"value":2000},{"type":6,"unit":-2},{"value":1,"unit":0}`))
	got, err := New(time.UTC).Body(payload)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("expected incomplete measures to be skipped, got %+v", got)
	}
}

func TestSleep(t *testing.T) {
	t.Parallel()

	payload := json.RawMessage(`{"sleeper":{"id":"S1","name":"Alex","side":"left"},"days":{
		"2024-03-02":{"totalSleepSessionTime":27000,"avgSleepIQ":78,"avgHeartRate":55.44,"avgRespirationRate":14.26,"averageHeartRateVariability":41.77},
		"2024-03-01":{"totalSleepSessionTime":0,"avgSleepIQ":0,"averageHeartRate":58},
		"2024-03-03":null
	}}`)

	got, err := New(time.UTC).Sleep(payload)
	if err != nil {
		t.Fatalf("Sleep() error = %v", err)
	}

	type row struct {
		date, name string
		value      float64
	}
	var rows []row
	for _, m := range got {
		rows = append(rows, row{m.Date.String(), m.Name, m.Value})
		if m.Notes != NotesSleepNumber {
			t.Errorf("notes = %q", m.Notes)
		}
	}
	want := []row{
		{"2024-03-01", CategorySleepHeartRate, 58},
		{"2024-03-02", CategorySleepDuration, 7.5},
		{"2024-03-02", CategorySleepScore, 78},
		{"2024-03-02", CategorySleepHeartRate, 55.4},
		{"2024-03-02", CategorySleepHRV, 41.8},
		{"2024-03-02", CategorySleepRespiratory, 14.3},
	}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("Sleep() =\n%+v\nwant\n%+v", rows, want)
	}
}

func TestNormalize_DeterministicAndDispatch(t *testing.T) {
	t.Parallel()

	n := New(time.UTC)
	payload := json.RawMessage(`{"status":0,"body":{"activities":[{"date":"2024-03-01","steps":8234,"distance":5123,"calories":412.7}]}}`)

	first, err := n.Normalize(models.SourceWithingsActivity, payload)
	if err != nil {
		t.Fatal(err)
	}
	second, err := n.Normalize(models.SourceWithingsActivity, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Error("normalization is not deterministic")
	}

	if _, err := n.Normalize(models.SourceNutrition, payload); !errors.Is(err, ErrUnknownSource) {
		t.Errorf("expected ErrUnknownSource, got %v", err)
	}
}
