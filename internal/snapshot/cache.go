// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package snapshot caches raw provider payloads on disk, one immutable file
// per source and date range. A cached range is never fetched again.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/metrics"
	"github.com/tomtom215/healthsync/internal/models"
)

// ErrSnapshotNotFound is returned by Load when no file exists for the key.
var ErrSnapshotNotFound = errors.New("snapshot not found")

// Snapshot is one cached provider response.
type Snapshot struct {
	Source    models.Source
	Range     models.Range
	FetchedAt time.Time
	Payload   json.RawMessage
}

// record is the on-disk form of a Snapshot. The payload is kept as bytes
// (base64 in the file) so the response is stored exactly as received.
type record struct {
	Source    models.Source `json:"source"`
	Range     models.Range  `json:"date_range"`
	FetchedAt time.Time     `json:"fetched_at"`
	Payload   []byte        `json:"payload"`
}

// FetchFunc retrieves the raw provider payload for a range.
type FetchFunc func(ctx context.Context, rng models.Range) (json.RawMessage, error)

// Cache stores snapshots under a directory.
type Cache struct {
	dir string
	now func() time.Time
}

// New returns a Cache rooted at dir.
func New(dir string) *Cache {
	return &Cache{dir: dir, now: time.Now}
}

// Path returns the file holding the snapshot for source and rng.
func (c *Cache) Path(source models.Source, rng models.Range) string {
	return filepath.Join(c.dir, fmt.Sprintf("%s_%s.json", source, rng))
}

// Load reads a cached snapshot without fetching.
func (c *Cache) Load(source models.Source, rng models.Range) (*Snapshot, error) {
	data, err := os.ReadFile(c.Path(source, rng))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s %s", ErrSnapshotNotFound, source, rng)
	}
	if err != nil {
		return nil, fmt.Errorf("read snapshot: %w", err)
	}

	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode snapshot %s: %w", c.Path(source, rng), err)
	}
	return &Snapshot{
		Source:    rec.Source,
		Range:     rec.Range,
		FetchedAt: rec.FetchedAt,
		Payload:   json.RawMessage(rec.Payload),
	}, nil
}

// LoadOrFetch returns the cached snapshot for (source, rng), calling fetch
// and persisting its payload only when none exists. Both paths return the
// snapshot as read back from disk. Fetch errors are returned unwrapped and
// nothing is written.
func (c *Cache) LoadOrFetch(ctx context.Context, source models.Source, rng models.Range, fetch FetchFunc) (*Snapshot, error) {
	snap, err := c.Load(source, rng)
	if err == nil {
		metrics.RecordSnapshotLookup(string(source), true)
		logging.Ctx(ctx).Debug().
			Str("source", string(source)).
			Str("range", rng.String()).
			Msg("Using cached payload")
		return snap, nil
	}
	if !errors.Is(err, ErrSnapshotNotFound) {
		return nil, err
	}
	metrics.RecordSnapshotLookup(string(source), false)

	payload, err := fetch(ctx, rng)
	if err != nil {
		return nil, err
	}

	rec := &record{
		Source:    source,
		Range:     rng,
		FetchedAt: c.now().UTC(),
		Payload:   payload,
	}
	if err := c.store(rec); err != nil {
		return nil, err
	}
	logging.Ctx(ctx).Info().
		Str("source", string(source)).
		Str("range", rng.String()).
		Int("bytes", len(payload)).
		Msg("Cached raw payload")
	return c.Load(source, rng)
}

// store writes rec through a temp file and links it into place so an
// existing snapshot is never replaced.
func (c *Cache) store(rec *record) error {
	if err := os.MkdirAll(c.dir, 0o700); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(c.dir, ".snapshot-*")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close snapshot: %w", err)
	}

	final := c.Path(rec.Source, rec.Range)
	if err := os.Link(tmpName, final); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil
		}
		return fmt.Errorf("persist snapshot: %w", err)
	}
	return nil
}

// List returns the ranges cached for source, ordered by start date.
func (c *Cache) List(source models.Source) ([]models.Range, error) {
	entries, err := os.ReadDir(c.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list cache directory: %w", err)
	}

	prefix := string(source) + "_"
	var ranges []models.Range
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ".json") {
			continue
		}
		rng, ok := parseRangeName(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ".json"))
		if !ok {
			continue
		}
		ranges = append(ranges, rng)
	}

	sort.Slice(ranges, func(i, j int) bool {
		if ranges[i].Start == ranges[j].Start {
			return ranges[i].End.Before(ranges[j].End)
		}
		return ranges[i].Start.Before(ranges[j].Start)
	})
	return ranges, nil
}

// parseRangeName parses "<start>_to_<end>".
func parseRangeName(s string) (models.Range, bool) {
	start, end, found := strings.Cut(s, "_to_")
	if !found {
		return models.Range{}, false
	}
	rng, err := models.ParseRange(start, end)
	if err != nil {
		return models.Range{}, false
	}
	return rng, true
}
