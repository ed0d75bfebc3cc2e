// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/tomtom215/healthsync/internal/audit"
	"github.com/tomtom215/healthsync/internal/config"
	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/nutrition"
	"github.com/tomtom215/healthsync/internal/state"
	"github.com/tomtom215/healthsync/internal/sync"
)

type command func(ctx context.Context, cfg *config.Config, args []string) (int, error)

var commands = map[string]command{
	"sync":      cmdSync,
	"backfill":  cmdBackfill,
	"replay":    cmdReplay,
	"nutrition": cmdNutrition,
	"authorize": cmdAuthorize,
	"status":    cmdStatus,
}

// parseFlags parses args, mapping flag errors to errUsage.
func parseFlags(fs *flag.FlagSet, args []string) error {
	fs.SetOutput(os.Stderr)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected arguments: %s\n", strings.Join(fs.Args(), " "))
		return errUsage
	}
	return nil
}

// parseSources splits a comma separated source list. Empty means all.
func parseSources(s string) ([]models.Source, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	var out []models.Source
	for _, name := range strings.Split(s, ",") {
		src, ok := models.ParseSource(strings.TrimSpace(name))
		if !ok || src == models.SourceNutrition {
			return nil, fmt.Errorf("unknown source %q", name)
		}
		out = append(out, src)
	}
	return out, nil
}

// parseOptionalRange accepts both ends or neither.
func parseOptionalRange(start, end string) (models.Range, error) {
	if start == "" && end == "" {
		return models.Range{}, nil
	}
	return models.ParseRange(start, end)
}

// withManager opens the shared components, runs fn and reports the result.
func withManager(cfg *config.Config, fn func(m *sync.Manager) (*sync.RunReport, error)) (int, error) {
	a, err := newApp(cfg)
	if err != nil {
		return 1, err
	}
	defer a.Close()

	m, err := a.manager()
	if err != nil {
		return 1, err
	}
	report, err := fn(m)
	if report == nil {
		return 1, err
	}
	if err != nil {
		logging.Warn().Err(err).Msg("Run interrupted")
	}
	printReport(os.Stdout, report)
	return report.ExitCode(), nil
}

func cmdSync(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("sync", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}
	return withManager(cfg, func(m *sync.Manager) (*sync.RunReport, error) {
		return m.LiveSync(ctx)
	})
}

func cmdBackfill(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	start := fs.String("start", "", "first day, YYYY-MM-DD")
	end := fs.String("end", "", "last day, YYYY-MM-DD")
	days := fs.Int("days", 0, "backfill the last N days ending today")
	all := fs.Bool("all", false, "backfill the last year")
	sources := fs.String("sources", "", "comma separated sources (default: all enabled)")
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}

	today := models.DateOf(time.Now().In(cfg.Sync.Location()))
	rng, err := backfillRange(*start, *end, *days, *all, today)
	if err != nil {
		return 1, err
	}
	srcs, err := parseSources(*sources)
	if err != nil {
		return 1, err
	}
	return withManager(cfg, func(m *sync.Manager) (*sync.RunReport, error) {
		return m.Backfill(ctx, rng, srcs)
	})
}

// allDays is the window used by backfill --all.
const allDays = 365

// backfillRange picks the backfill window from exactly one of an explicit
// start/end pair, a day count ending today, or --all.
func backfillRange(start, end string, days int, all bool, today models.Date) (models.Range, error) {
	explicit := start != "" || end != ""
	chosen := 0
	for _, set := range []bool{explicit, days != 0, all} {
		if set {
			chosen++
		}
	}
	switch {
	case chosen == 0:
		return models.Range{}, errors.New("backfill needs --start/--end, --days or --all")
	case chosen > 1:
		return models.Range{}, errors.New("--start/--end, --days and --all are mutually exclusive")
	case days < 0:
		return models.Range{}, fmt.Errorf("--days must be positive, got %d", days)
	case days > 0:
		return models.LastDays(today, days), nil
	case all:
		return models.LastDays(today, allDays), nil
	}
	return models.ParseRange(start, end)
}

func cmdReplay(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	start := fs.String("start", "", "first day, YYYY-MM-DD (default: every cached range)")
	end := fs.String("end", "", "last day, YYYY-MM-DD")
	sources := fs.String("sources", "", "comma separated sources (default: all providers)")
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}

	rng, err := parseOptionalRange(*start, *end)
	if err != nil {
		return 1, err
	}
	srcs, err := parseSources(*sources)
	if err != nil {
		return 1, err
	}
	return withManager(cfg, func(m *sync.Manager) (*sync.RunReport, error) {
		return m.Replay(ctx, rng, srcs)
	})
}

func cmdNutrition(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("nutrition", flag.ContinueOnError)
	file := fs.String("file", "", "JSON file holding one day of totals")
	var rec nutrition.Record
	fs.StringVar(&rec.Date, "date", "", "day, YYYY-MM-DD (default: today)")
	fs.Float64Var(&rec.Calories, "calories", 0, "calories eaten, kcal")
	fs.Float64Var(&rec.ExerciseCalories, "exercise-calories", 0, "exercise calories, kcal")
	fs.Float64Var(&rec.ProteinG, "protein", 0, "protein, g")
	fs.Float64Var(&rec.CarbsG, "carbs", 0, "carbohydrates, g")
	fs.Float64Var(&rec.FatG, "fat", 0, "fat, g")
	fs.Float64Var(&rec.SodiumMG, "sodium", 0, "sodium, mg")
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}

	if *file != "" {
		loaded, err := nutrition.LoadRecord(*file)
		if err != nil {
			return 1, err
		}
		rec = *loaded
	}
	if rec.Date == "" {
		rec.Date = models.DateOf(time.Now().In(cfg.Sync.Location())).String()
	}

	return withManager(cfg, func(m *sync.Manager) (*sync.RunReport, error) {
		return m.SyncNutrition(ctx, rec)
	})
}

func cmdAuthorize(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("authorize", flag.ContinueOnError)
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}
	if !cfg.Withings.Enabled {
		return 1, errors.New("withings is disabled")
	}

	a, err := newApp(cfg)
	if err != nil {
		return 1, err
	}
	defer a.Close()

	grant, err := a.flow.Authorize(ctx)
	if err != nil {
		return 1, err
	}
	cred, err := a.tokens.Save(grant)
	if err != nil {
		return 1, err
	}
	logging.Info().
		Str("token_file", a.tokens.Path()).
		Time("expires_at", cred.ExpiresAt()).
		Msg("Withings authorization stored")
	return 0, nil
}

func cmdStatus(ctx context.Context, cfg *config.Config, args []string) (int, error) {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	limit := fs.Int("limit", 10, "number of runs to show")
	failures := fs.Int("failures", 10, "number of failed writes to show")
	if err := parseFlags(fs, args); err != nil {
		return 1, err
	}

	a, err := newApp(cfg)
	if err != nil {
		return 1, err
	}
	defer a.Close()
	if a.journal == nil {
		return 1, errors.New("state journal unavailable")
	}

	last, err := lastRuns(a.journal)
	if err != nil {
		return 1, err
	}
	history, err := a.journal.Reports(ctx, *limit)
	if err != nil {
		return 1, err
	}
	store, err := audit.NewFileStore(cfg.Storage.AuditLog)
	if err != nil {
		return 1, fmt.Errorf("open audit log: %w", err)
	}
	failed, err := recentFailedWrites(ctx, audit.NewLogger(store, nil), *failures)
	if err != nil {
		return 1, err
	}
	return 0, printStatus(os.Stdout, last, history, failed)
}

var reportModes = []sync.Mode{sync.ModeLive, sync.ModeBackfill, sync.ModeReplay, sync.ModeNutrition}

// lastRuns returns the most recent run of every mode that has one.
func lastRuns(j *state.Journal) ([]state.Entry, error) {
	var entries []state.Entry
	for _, mode := range reportModes {
		e, err := j.LastReport(string(mode))
		if errors.Is(err, state.ErrNoReport) {
			continue
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, nil
}

// recentFailedWrites returns the newest n write attempts that did not
// succeed, oldest first. n <= 0 returns all of them.
func recentFailedWrites(ctx context.Context, log *audit.Logger, n int) ([]audit.Event, error) {
	events, err := log.Query(ctx, audit.QueryFilter{
		Types:    []audit.EventType{audit.EventTypeWriteAttempt},
		Outcomes: []audit.Outcome{audit.OutcomeTimeout, audit.OutcomeRejected, audit.OutcomeFailure},
	})
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	if n > 0 && len(events) > n {
		events = events[len(events)-n:]
	}
	return events, nil
}

func printStatus(out io.Writer, last, history []state.Entry, failed []audit.Event) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LAST RUN PER MODE")
	printEntries(w, last)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "RECENT RUNS")
	printEntries(w, history)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "FAILED WRITES")
	if len(failed) == 0 {
		fmt.Fprintln(w, "none")
		return w.Flush()
	}
	fmt.Fprintln(w, "TIME\tRUN\tACTION\tTARGET\tDATE\tOUTCOME\tATTEMPT\tERROR")
	for i := range failed {
		e := &failed[i]
		target, date := "", ""
		if e.Target != nil {
			target = e.Target.Kind
			if e.Target.Category != "" {
				target += "/" + e.Target.Category
			}
			date = e.Target.Date
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Local().Format(time.RFC3339), e.RunID, e.Action,
			target, date, e.Outcome, e.Attempt, e.Error)
	}
	return w.Flush()
}

func printEntries(w io.Writer, entries []state.Entry) {
	if len(entries) == 0 {
		fmt.Fprintln(w, "none")
		return
	}
	fmt.Fprintln(w, "RUN\tMODE\tSTATUS\tSTARTED\tDURATION")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			e.RunID, e.Mode, e.Status,
			e.StartedAt.Local().Format(time.RFC3339),
			e.FinishedAt.Sub(e.StartedAt).Round(time.Millisecond))
	}
}

// printReport writes a per-source summary table.
func printReport(out io.Writer, r *sync.RunReport) {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(w, "run %s (%s): %s in %s\n", r.RunID, r.Mode, r.Status, r.Duration().Round(time.Millisecond))
	fmt.Fprintln(w, "SOURCE\tRANGE\tCREATED\tUPDATED\tFAILED\tSKIPPED\tERROR")
	for _, s := range r.Sources {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
			s.Source, s.Range, s.Created, s.Updated, s.Failed, s.Skipped, s.Error)
	}
	_ = w.Flush()
}
