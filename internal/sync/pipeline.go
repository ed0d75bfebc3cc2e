// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package sync

import (
	"context"
	"errors"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/audit"
	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/metrics"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/provider"
	"github.com/tomtom215/healthsync/internal/state"
	"github.com/tomtom215/healthsync/internal/tokenstore"
	"github.com/tomtom215/healthsync/internal/upsert"
)

// acquireFunc yields the raw payload of one source and range.
type acquireFunc func(ctx context.Context) (json.RawMessage, error)

// execute wraps body with run bookkeeping: run id, audit run events,
// final status, metrics and the journal entry.
func (m *Manager) execute(ctx context.Context, mode Mode, body func(ctx context.Context, rc *RunContext)) *RunReport {
	rc := m.newRunContext(mode)
	ctx = logging.ContextWithRunID(ctx, rc.ID)
	log := logging.Ctx(ctx)

	log.Info().Str("mode", string(mode)).Msg("Run started")
	m.auditRun(ctx, &audit.Event{Type: audit.EventTypeRunStarted, Outcome: audit.OutcomeSuccess, Description: string(mode)})

	body(ctx, rc)

	report := rc.Report
	report.finish(m.opts.Now())

	for _, sr := range report.Sources {
		ev := log.Info()
		if sr.Status() != StatusSuccess {
			ev = log.Warn()
		}
		ev.Str("source", string(sr.Source)).
			Str("range", sr.Range.String()).
			Int("created", sr.Created).
			Int("updated", sr.Updated).
			Int("failed", sr.Failed).
			Int("skipped", sr.Skipped).
			Str("error", sr.Error).
			Msg("Source finished")
	}
	totals := report.Totals()
	log.Info().
		Str("mode", string(mode)).
		Str("status", string(report.Status)).
		Int("created", totals.Created).
		Int("updated", totals.Updated).
		Int("failed", totals.Failed).
		Dur("duration", report.Duration()).
		Str("aborted", report.Aborted).
		Msg("Run finished")

	data, err := json.Marshal(report)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode run report")
	}

	outcome := audit.OutcomeSuccess
	if report.Status != StatusSuccess {
		outcome = audit.OutcomeFailure
	}
	m.auditRun(ctx, &audit.Event{
		Type:        audit.EventTypeRunFinished,
		Outcome:     outcome,
		Description: string(report.Status),
		Metadata:    data,
	})

	metrics.RecordRun(string(mode), string(report.Status), report.Duration())

	if m.opts.Journal != nil {
		entry := &state.Entry{
			Mode:       string(mode),
			RunID:      report.RunID,
			Status:     string(report.Status),
			StartedAt:  report.StartedAt,
			FinishedAt: report.FinishedAt,
			Report:     data,
		}
		// The journal outlives a canceled run context.
		if err := m.opts.Journal.SaveReport(context.WithoutCancel(ctx), entry); err != nil {
			log.Error().Err(err).Msg("Failed to journal run report")
		}
	}

	if err := metrics.WriteTextfile(m.opts.MetricsTextfile); err != nil {
		log.Warn().Err(err).Str("path", m.opts.MetricsTextfile).Msg("Failed to export metrics")
	}
	return report
}

func (m *Manager) auditRun(ctx context.Context, event *audit.Event) {
	if err := m.opts.Audit.Log(ctx, event); err != nil {
		logging.Ctx(ctx).Error().Err(err).Msg("Failed to append audit event")
	}
}

// fetchJob is one provider source and the range to sync for it.
type fetchJob struct {
	fetcher provider.Fetcher
	rng     models.Range
}

// abortsRun reports whether err ends the whole run: without a usable
// Withings credential no further provider call can succeed.
func abortsRun(err error) bool {
	return errors.Is(err, tokenstore.ErrRefreshFailed) || errors.Is(err, tokenstore.ErrAuthExpired)
}

// runJobs syncs jobs in order. A credential failure stops the run and
// marks every remaining source failed without contacting it.
func (m *Manager) runJobs(ctx context.Context, rc *RunContext, jobs []fetchJob) {
	for i, job := range jobs {
		err := m.fetchSource(ctx, rc, job.fetcher, job.rng)
		if !abortsRun(err) {
			continue
		}
		rc.Report.Aborted = err.Error()
		logging.Ctx(ctx).Error().Err(err).Msg("Credential failure, aborting run")
		for _, rest := range jobs[i+1:] {
			rc.Report.addSource(rest.fetcher.Source(), rest.rng).Error = "not attempted: " + err.Error()
		}
		return
	}
}

// fetchSource syncs one provider source through the snapshot cache and
// returns the error that prevented obtaining its payload, if any.
func (m *Manager) fetchSource(ctx context.Context, rc *RunContext, f provider.Fetcher, rng models.Range) error {
	return m.syncSource(ctx, rc, f.Source(), rng, func(ctx context.Context) (json.RawMessage, error) {
		snap, err := m.opts.Cache.LoadOrFetch(ctx, f.Source(), rng, f.Fetch)
		if err != nil {
			return nil, err
		}
		return snap.Payload, nil
	})
}

// syncSource acquires, normalizes and writes one source. An acquisition or
// normalization failure fails the source without touching the others and
// is returned.
func (m *Manager) syncSource(ctx context.Context, rc *RunContext, src models.Source, rng models.Range, acquire acquireFunc) error {
	log := logging.Ctx(ctx).With().Str("source", string(src)).Str("range", rng.String()).Logger()
	sr := rc.Report.addSource(src, rng)

	payload, err := acquire(ctx)
	if err != nil {
		sr.Error = err.Error()
		log.Error().Err(err).Msg("Failed to obtain payload")
		return err
	}

	points, err := m.opts.Normalizer.Normalize(src, payload)
	if err != nil {
		sr.Error = err.Error()
		log.Error().Err(err).Msg("Failed to normalize payload")
		return err
	}
	log.Debug().Int("points", len(points)).Msg("Normalized payload")

	m.writeAll(ctx, rc, sr, points)
	return nil
}

// writeAll upserts points in order. Each failure is counted against its
// point only; cancellation marks the remainder skipped.
func (m *Manager) writeAll(ctx context.Context, rc *RunContext, sr *SourceReport, points []models.Metric) {
	for i, p := range points {
		if ctx.Err() != nil {
			sr.Skipped += len(points) - i
			metrics.UpsertsTotal.WithLabelValues(string(sr.Source), "skipped").Add(float64(len(points) - i))
			return
		}

		action, err := m.apply(ctx, rc, p)
		log := logging.Ctx(ctx).With().
			Str("source", string(p.Source)).
			Str("date", p.Date.String()).
			Str("category", label(p)).
			Float64("value", p.Value).
			Logger()

		if err != nil {
			sr.Failed++
			metrics.UpsertsTotal.WithLabelValues(string(sr.Source), "failed").Inc()
			log.Error().Err(err).Msg("Write failed")
			continue
		}

		switch action {
		case upsert.ActionCreated:
			sr.Created++
		case upsert.ActionUpdated:
			sr.Updated++
		}
		metrics.UpsertsTotal.WithLabelValues(string(sr.Source), string(action)).Inc()
		log.Info().Str("action", string(action)).Msg("Wrote point")
	}
}

// apply writes one point, resolving its category first for measurements.
func (m *Manager) apply(ctx context.Context, rc *RunContext, p models.Metric) (upsert.Action, error) {
	if p.Kind == models.KindWeight {
		return rc.Engine.UpsertWeight(ctx, p.Date, p.Value)
	}
	categoryID, err := rc.Registry.Resolve(ctx, p.Name, p.Unit)
	if err != nil {
		return "", err
	}
	return rc.Engine.UpsertMeasurement(ctx, p.Date, categoryID, p.Value, p.Notes)
}

func label(p models.Metric) string {
	if p.Kind == models.KindWeight {
		return "weight"
	}
	return p.Name + " (" + p.Unit + ")"
}
