// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestRecordRun(t *testing.T) {
	before := testutil.ToFloat64(RunsTotal.WithLabelValues("backfill", "partial"))

	RecordRun("backfill", "partial", 3*time.Second)

	after := testutil.ToFloat64(RunsTotal.WithLabelValues("backfill", "partial"))
	if after-before != 1 {
		t.Errorf("expected runs counter to increase by 1, got %v", after-before)
	}
}

func TestRecordRunObservesDuration(t *testing.T) {
	histogramCount := func() uint64 {
		var m dto.Metric
		obs := RunDuration.WithLabelValues("replay")
		if err := obs.(prometheus.Metric).Write(&m); err != nil {
			t.Fatalf("write histogram: %v", err)
		}
		return m.GetHistogram().GetSampleCount()
	}
	before := histogramCount()

	RecordRun("replay", "failed", 90*time.Second)

	if got := histogramCount() - before; got != 1 {
		t.Errorf("expected one duration sample, got %d", got)
	}
}

func TestRecordRunSuccessSetsTimestamp(t *testing.T) {
	RecordRun("live", "success", time.Second)

	if ts := testutil.ToFloat64(RunLastSuccess.WithLabelValues("live")); ts <= 0 {
		t.Errorf("expected last success timestamp to be set, got %v", ts)
	}
}

func TestRecordProviderRequest(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		wantDelta float64
	}{
		{"success", nil, 0},
		{"failure", errors.New("status 503"), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(ProviderRequestErrors.WithLabelValues("withings", "getmeas"))
			RecordProviderRequest("withings", "getmeas", 10*time.Millisecond, tt.err)
			after := testutil.ToFloat64(ProviderRequestErrors.WithLabelValues("withings", "getmeas"))
			if after-before != tt.wantDelta {
				t.Errorf("error counter delta = %v, want %v", after-before, tt.wantDelta)
			}
		})
	}
}

func TestRecordSnapshotLookup(t *testing.T) {
	hits := testutil.ToFloat64(SnapshotCache.WithLabelValues("sleepnumber", "hit"))
	misses := testutil.ToFloat64(SnapshotCache.WithLabelValues("sleepnumber", "miss"))

	RecordSnapshotLookup("sleepnumber", true)
	RecordSnapshotLookup("sleepnumber", false)
	RecordSnapshotLookup("sleepnumber", false)

	if d := testutil.ToFloat64(SnapshotCache.WithLabelValues("sleepnumber", "hit")) - hits; d != 1 {
		t.Errorf("hit delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(SnapshotCache.WithLabelValues("sleepnumber", "miss")) - misses; d != 2 {
		t.Errorf("miss delta = %v, want 2", d)
	}
}

func TestRecordTokenRefresh(t *testing.T) {
	ok := testutil.ToFloat64(TokenRefresh.WithLabelValues("success"))
	bad := testutil.ToFloat64(TokenRefresh.WithLabelValues("failure"))

	RecordTokenRefresh(nil)
	RecordTokenRefresh(errors.New("invalid_grant"))

	if d := testutil.ToFloat64(TokenRefresh.WithLabelValues("success")) - ok; d != 1 {
		t.Errorf("success delta = %v, want 1", d)
	}
	if d := testutil.ToFloat64(TokenRefresh.WithLabelValues("failure")) - bad; d != 1 {
		t.Errorf("failure delta = %v, want 1", d)
	}
}

func TestWriteTextfileFrom(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "healthsync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Add(4)

	path := filepath.Join(t.TempDir(), "nested", "healthsync.prom")
	if err := WriteTextfileFrom(path, reg); err != nil {
		t.Fatalf("WriteTextfileFrom() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read textfile: %v", err)
	}
	if !strings.Contains(string(data), "healthsync_test_total 4") {
		t.Errorf("unexpected textfile contents:\n%s", data)
	}
}

func TestWriteTextfileEmptyPath(t *testing.T) {
	t.Parallel()

	if err := WriteTextfile(""); err != nil {
		t.Errorf("expected no-op for empty path, got %v", err)
	}
}
