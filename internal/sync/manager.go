// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/audit"
	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/normalize"
	"github.com/tomtom215/healthsync/internal/nutrition"
	"github.com/tomtom215/healthsync/internal/provider"
	"github.com/tomtom215/healthsync/internal/registry"
	"github.com/tomtom215/healthsync/internal/snapshot"
	"github.com/tomtom215/healthsync/internal/state"
	"github.com/tomtom215/healthsync/internal/upsert"
)

// ErrSourceNotConfigured is returned when a run names a source without a fetcher.
var ErrSourceNotConfigured = errors.New("source not configured")

// Tracker is the destination surface used by the registry and the engine.
type Tracker interface {
	registry.Remote
	upsert.Destination
}

// Options wires a Manager.
type Options struct {
	Tracker    Tracker
	Cache      *snapshot.Cache
	Fetchers   []provider.Fetcher
	Normalizer *normalize.Normalizer
	Retry      upsert.RetryPolicy

	// Audit may be nil to disable the audit log.
	Audit *audit.Logger

	// Journal may be nil; reports are then not persisted.
	Journal *state.Journal

	// Location defines calendar days. Defaults to time.Local.
	Location *time.Location

	// DaysBack is the live sync window for activity and weight. Defaults to 7.
	DaysBack int

	// ConstantsFile holds the fixed daily meals for nutrition runs.
	ConstantsFile string

	// MetricsTextfile, when set, receives a metrics export after every run.
	MetricsTextfile string

	Now func() time.Time
}

// Manager runs synchronization use cases.
type Manager struct {
	opts     Options
	fetchers map[models.Source]provider.Fetcher
	order    []models.Source
}

// NewManager creates a Manager.
func NewManager(opts Options) *Manager {
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.DaysBack <= 0 {
		opts.DaysBack = 7
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Normalizer == nil {
		opts.Normalizer = normalize.New(opts.Location)
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = upsert.DefaultRetryPolicy()
	}

	m := &Manager{opts: opts, fetchers: make(map[models.Source]provider.Fetcher)}
	for _, f := range opts.Fetchers {
		if _, dup := m.fetchers[f.Source()]; dup {
			continue
		}
		m.fetchers[f.Source()] = f
		m.order = append(m.order, f.Source())
	}
	return m
}

// Sources lists the configured provider sources in run order.
func (m *Manager) Sources() []models.Source {
	return append([]models.Source(nil), m.order...)
}

// RunContext is the state scoped to one run.
type RunContext struct {
	ID       string
	Mode     Mode
	Registry *registry.Registry
	Engine   *upsert.Engine
	Report   *RunReport
}

func (m *Manager) newRunContext(mode Mode) *RunContext {
	id := logging.NewRunID()
	reg := registry.New(m.opts.Tracker)
	reg.OnCreate(func(ctx context.Context, key models.CategoryKey, catID int) {
		event := &audit.Event{
			Type:        audit.EventTypeCategoryCreated,
			Outcome:     audit.OutcomeSuccess,
			Target:      &audit.Target{Kind: "category", Category: key.Name, CategoryID: catID},
			Description: key.Unit,
		}
		if err := m.opts.Audit.Log(ctx, event); err != nil {
			logging.Ctx(ctx).Error().Err(err).Msg("Failed to append audit event")
		}
	})

	return &RunContext{
		ID:       id,
		Mode:     mode,
		Registry: reg,
		Engine:   upsert.NewEngine(m.opts.Tracker, m.opts.Retry, m.opts.Audit),
		Report:   newRunReport(id, mode, m.opts.Now()),
	}
}

// today is the current calendar day in the configured location.
func (m *Manager) today() models.Date {
	return models.DateOf(m.opts.Now().In(m.opts.Location))
}

// LiveSync syncs the last DaysBack days of Withings data ending today and
// the previous night of sleep.
func (m *Manager) LiveSync(ctx context.Context) (*RunReport, error) {
	today := m.today()
	window := models.LastDays(today, m.opts.DaysBack)
	yesterday := models.SingleDay(today.AddDays(-1))

	jobs := make([]fetchJob, 0, len(m.order))
	for _, src := range m.order {
		rng := window
		if src == models.SourceSleepNumber {
			rng = yesterday
		}
		jobs = append(jobs, fetchJob{fetcher: m.fetchers[src], rng: rng})
	}

	report := m.execute(ctx, ModeLive, func(ctx context.Context, rc *RunContext) {
		m.runJobs(ctx, rc, jobs)
	})
	return report, ctx.Err()
}

// Backfill syncs rng for the given sources, or every configured source when
// sources is empty.
func (m *Manager) Backfill(ctx context.Context, rng models.Range, sources []models.Source) (*RunReport, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}
	fetchers, err := m.selectFetchers(sources)
	if err != nil {
		return nil, err
	}

	jobs := make([]fetchJob, 0, len(fetchers))
	for _, f := range fetchers {
		jobs = append(jobs, fetchJob{fetcher: f, rng: rng})
	}

	report := m.execute(ctx, ModeBackfill, func(ctx context.Context, rc *RunContext) {
		m.runJobs(ctx, rc, jobs)
	})
	return report, ctx.Err()
}

// Replay re-runs normalization and upserts from cached payloads only. A
// zero rng replays every cached range of each source. Sources default to
// every provider source; a missing snapshot fails that source.
func (m *Manager) Replay(ctx context.Context, rng models.Range, sources []models.Source) (*RunReport, error) {
	if len(sources) == 0 {
		sources = models.ProviderSources
	}
	whole := rng.Start.IsZero() && rng.End.IsZero()
	if !whole {
		if err := rng.Validate(); err != nil {
			return nil, err
		}
	}

	report := m.execute(ctx, ModeReplay, func(ctx context.Context, rc *RunContext) {
		for _, src := range sources {
			ranges := []models.Range{rng}
			if whole {
				listed, err := m.opts.Cache.List(src)
				if err != nil {
					rc.Report.addSource(src, models.Range{}).Error = err.Error()
					continue
				}
				if len(listed) == 0 {
					logging.Ctx(ctx).Info().Str("source", string(src)).Msg("No cached payloads to replay")
				}
				ranges = listed
			}
			for _, r := range ranges {
				src, r := src, r
				_ = m.syncSource(ctx, rc, src, r, func(context.Context) (json.RawMessage, error) {
					snap, err := m.opts.Cache.Load(src, r)
					if err != nil {
						return nil, err
					}
					return snap.Payload, nil
				})
			}
		}
	})
	return report, ctx.Err()
}

// SyncNutrition adds the configured daily meals to rec and upserts the
// result. Invalid records are rejected before a run starts.
func (m *Manager) SyncNutrition(ctx context.Context, rec nutrition.Record) (*RunReport, error) {
	meals, err := nutrition.LoadConstants(m.opts.ConstantsFile)
	if err != nil {
		return nil, err
	}
	combined := nutrition.Combine(rec, meals)
	points, err := nutrition.Metrics(&combined)
	if err != nil {
		return nil, err
	}
	date, err := models.ParseDate(combined.Date)
	if err != nil {
		return nil, err
	}

	report := m.execute(ctx, ModeNutrition, func(ctx context.Context, rc *RunContext) {
		logging.Ctx(ctx).Info().Int("daily_meals", len(meals)).Str("date", date.String()).Msg("Syncing nutrition")
		sr := rc.Report.addSource(models.SourceNutrition, models.SingleDay(date))
		m.writeAll(ctx, rc, sr, points)
	})
	return report, ctx.Err()
}

// selectFetchers resolves sources to configured fetchers, keeping run order.
func (m *Manager) selectFetchers(sources []models.Source) ([]provider.Fetcher, error) {
	if len(sources) == 0 {
		sources = m.order
	}
	out := make([]provider.Fetcher, 0, len(sources))
	for _, src := range sources {
		f, ok := m.fetchers[src]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotConfigured, src)
		}
		out = append(out, f)
	}
	return out, nil
}
