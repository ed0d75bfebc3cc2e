// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package state

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func openJournal(t *testing.T, dir string) *Journal {
	t.Helper()
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_SaveAndLast(t *testing.T) {
	t.Parallel()

	j := openJournal(t, t.TempDir())
	ctx := context.Background()
	base := time.Date(2024, 3, 2, 6, 0, 0, 0, time.UTC)

	if _, err := j.LastReport("live"); !errors.Is(err, ErrNoReport) {
		t.Fatalf("expected ErrNoReport, got %v", err)
	}

	for i, status := range []string{"partial", "success"} {
		e := &Entry{
			Mode:       "live",
			RunID:      []string{"aaaa1111", "bbbb2222"}[i],
			Status:     status,
			StartedAt:  base.Add(time.Duration(i) * time.Hour),
			FinishedAt: base.Add(time.Duration(i)*time.Hour + time.Minute),
			Report:     json.RawMessage(`{"created":3}`),
		}
		if err := j.SaveReport(ctx, e); err != nil {
			t.Fatalf("SaveReport() error = %v", err)
		}
	}
	if err := j.SaveReport(ctx, &Entry{Mode: "backfill", RunID: "cccc3333", Status: "failed", StartedAt: base.Add(-time.Hour)}); err != nil {
		t.Fatal(err)
	}

	last, err := j.LastReport("live")
	if err != nil {
		t.Fatalf("LastReport() error = %v", err)
	}
	if last.RunID != "bbbb2222" || last.Status != "success" {
		t.Errorf("unexpected last entry %+v", last)
	}
	if string(last.Report) != `{"created":3}` {
		t.Errorf("Report = %s", last.Report)
	}

	all, err := j.Reports(ctx, 0)
	if err != nil {
		t.Fatalf("Reports() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	if all[0].RunID != "bbbb2222" || all[2].RunID != "cccc3333" {
		t.Errorf("entries not newest first: %s, %s, %s", all[0].RunID, all[1].RunID, all[2].RunID)
	}

	limited, err := j.Reports(ctx, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Reports(1) = %d entries, err %v", len(limited), err)
	}
}

func TestOpen_SecondOpenIsRunInProgress(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	_ = openJournal(t, dir)

	second, err := Open(dir)
	if err == nil {
		_ = second.Close()
		t.Fatal("expected second Open to fail")
	}
	if !errors.Is(err, ErrRunInProgress) {
		t.Errorf("expected ErrRunInProgress, got %v", err)
	}
}

func TestOpen_ReopenAfterClose(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	j, err := Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	if err := j.SaveReport(context.Background(), &Entry{Mode: "replay", RunID: "r1", Status: "success", StartedAt: time.Now()}); err != nil {
		t.Fatal(err)
	}
	if err := j.Close(); err != nil {
		t.Fatal(err)
	}

	j2 := openJournal(t, dir)
	if _, err := j2.LastReport("replay"); err != nil {
		t.Errorf("expected persisted entry, got %v", err)
	}
}

func TestJournal_NilClose(t *testing.T) {
	t.Parallel()

	var j *Journal
	if err := j.Close(); err != nil {
		t.Errorf("Close() on nil journal = %v", err)
	}
}
