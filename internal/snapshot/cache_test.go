// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package snapshot

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/models"
)

func testRange(t *testing.T) models.Range {
	t.Helper()
	rng, err := models.ParseRange("2024-03-01", "2024-03-07")
	if err != nil {
		t.Fatal(err)
	}
	return rng
}

func TestLoadOrFetch_FetchesOnceThenCaches(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir())
	cache.now = func() time.Time { return time.Date(2024, 3, 8, 6, 0, 0, 0, time.UTC) }
	rng := testRange(t)

	calls := 0
	fetch := func(_ context.Context, got models.Range) (json.RawMessage, error) {
		calls++
		if got != rng {
			t.Errorf("fetch range = %s, want %s", got, rng)
		}
		return json.RawMessage(`{"status":0,"body":{"activities":[{"date":"2024-03-01","steps":8234}]}}`), nil
	}

	first, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsActivity, rng, fetch)
	if err != nil {
		t.Fatalf("first LoadOrFetch() error = %v", err)
	}
	second, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsActivity, rng, fetch)
	if err != nil {
		t.Fatalf("second LoadOrFetch() error = %v", err)
	}

	if calls != 1 {
		t.Errorf("fetch called %d times, want 1", calls)
	}
	if string(first.Payload) != string(second.Payload) {
		t.Errorf("payload mismatch:\n%s\n%s", first.Payload, second.Payload)
	}
	if !second.FetchedAt.Equal(first.FetchedAt) {
		t.Errorf("FetchedAt changed: %v vs %v", first.FetchedAt, second.FetchedAt)
	}
	if second.Range != rng || second.Source != models.SourceWithingsActivity {
		t.Errorf("unexpected key in cached snapshot: %s %s", second.Source, second.Range)
	}
}

func TestLoadOrFetch_StoresPayloadVerbatim(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir())
	rng := testRange(t)
	raw := "{\"status\": 0,\n  \"body\": {\"note\": \"a&b<c>\"}}\n"
	fetch := func(context.Context, models.Range) (json.RawMessage, error) {
		return json.RawMessage(raw), nil
	}

	first, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsActivity, rng, fetch)
	if err != nil {
		t.Fatalf("first LoadOrFetch() error = %v", err)
	}
	second, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsActivity, rng, fetch)
	if err != nil {
		t.Fatalf("second LoadOrFetch() error = %v", err)
	}
	loaded, err := cache.Load(models.SourceWithingsActivity, rng)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	for name, got := range map[string]json.RawMessage{"miss": first.Payload, "hit": second.Payload, "load": loaded.Payload} {
		if string(got) != raw {
			t.Errorf("%s payload = %q, want %q", name, got, raw)
		}
	}
}

func TestLoadOrFetch_FileNaming(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cache := New(dir)
	rng := testRange(t)

	_, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsWeight, rng,
		func(context.Context, models.Range) (json.RawMessage, error) {
			return json.RawMessage(`{"status":0}`), nil
		})
	if err != nil {
		t.Fatalf("LoadOrFetch() error = %v", err)
	}

	want := dir + "/withings_weight_2024-03-01_to_2024-03-07.json"
	if _, err := os.Stat(want); err != nil {
		t.Errorf("expected snapshot file %s: %v", want, err)
	}
}

func TestLoadOrFetch_FetchErrorWritesNothing(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir())
	rng := testRange(t)
	boom := errors.New("provider down")

	_, err := cache.LoadOrFetch(context.Background(), models.SourceSleepNumber, rng,
		func(context.Context, models.Range) (json.RawMessage, error) { return nil, boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected fetch error, got %v", err)
	}

	if _, err := cache.Load(models.SourceSleepNumber, rng); !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected no snapshot after failed fetch, got %v", err)
	}
}

func TestLoad_Missing(t *testing.T) {
	t.Parallel()

	_, err := New(t.TempDir()).Load(models.SourceWithingsActivity, testRange(t))
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Errorf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestStore_NeverOverwrites(t *testing.T) {
	t.Parallel()

	cache := New(t.TempDir())
	rng := testRange(t)

	original := &record{Source: models.SourceWithingsWeight, Range: rng, Payload: []byte(`{"v":1}`)}
	if err := cache.store(original); err != nil {
		t.Fatalf("store() error = %v", err)
	}
	replacement := &record{Source: models.SourceWithingsWeight, Range: rng, Payload: []byte(`{"v":2}`)}
	if err := cache.store(replacement); err != nil {
		t.Fatalf("second store() error = %v", err)
	}

	got, err := cache.Load(models.SourceWithingsWeight, rng)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if string(got.Payload) != `{"v":1}` {
		t.Errorf("payload = %s, want original", got.Payload)
	}
}

func TestList(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	cache := New(dir)
	noop := func(context.Context, models.Range) (json.RawMessage, error) { return json.RawMessage(`{}`), nil }

	for _, pair := range [][2]string{{"2024-03-08", "2024-03-14"}, {"2024-03-01", "2024-03-07"}} {
		rng, _ := models.ParseRange(pair[0], pair[1])
		if _, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsActivity, rng, noop); err != nil {
			t.Fatal(err)
		}
	}
	other, _ := models.ParseRange("2024-03-01", "2024-03-01")
	if _, err := cache.LoadOrFetch(context.Background(), models.SourceWithingsWeight, other, noop); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(dir+"/withings_activity_garbage.json", []byte("{}"), 0o600); err != nil {
		t.Fatal(err)
	}

	ranges, err := cache.List(models.SourceWithingsActivity)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("List() returned %d ranges, want 2", len(ranges))
	}
	if ranges[0].Start.String() != "2024-03-01" || ranges[1].Start.String() != "2024-03-08" {
		t.Errorf("List() order = %s, %s", ranges[0], ranges[1])
	}
}
