// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

/*
Package sync runs the synchronization pipeline shared by every entry point.

Each use case is one call on Manager:

  - LiveSync: recent Withings activity and weight, plus last night's sleep
  - Backfill: the same sources for an explicit date range
  - Replay: cached payloads only, never touching a provider
  - SyncNutrition: one day of nutrition totals plus fixed daily meals

Every call builds a RunContext holding the run id, a fresh category
registry and the upsert engine, then drives each source through

	fetch (through the snapshot cache) -> normalize -> upsert

Failures stay inside the source or the point that produced them. The
returned RunReport carries per-source counts and an overall status that
maps onto the process exit code:

	report, err := manager.Backfill(ctx, rng, nil)
	if err != nil {
	    return err
	}
	os.Exit(report.ExitCode())

Runs are sequential. Overlapping processes are prevented one level up by
the state journal's directory lock.
*/
package sync
