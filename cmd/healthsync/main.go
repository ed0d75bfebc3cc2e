// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package main is the entry point for the healthsync command.
//
// healthsync copies personal health metrics from Withings (daily activity
// and body composition) and Sleep Number (nightly sleep) into a wger
// instance. Every write is an upsert keyed by date and category, so any
// run can be repeated safely.
//
// # Commands
//
//	healthsync sync                                   # last days_back days, plus last night
//	healthsync backfill --start 2024-01-01 --end 2024-03-31 [--sources withings_weight]
//	healthsync replay [--start ... --end ...] [--sources ...]   # cached payloads only
//	healthsync nutrition --file day.json
//	healthsync nutrition --date 2024-03-01 --calories 1800 --protein 90
//	healthsync authorize                              # interactive Withings consent
//	healthsync status [--limit 10]                    # recent run reports
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest priority wins):
//   - Environment variables (WITHINGS_CLIENT_ID, WGER_TOKEN, SLEEPNUMBER_SYNC, ...)
//   - Config file (healthsync.yaml, or the path in CONFIG_PATH)
//   - Built-in defaults
//
// # Exit Codes
//
//	0  every source succeeded
//	2  some sources or points failed
//	1  the run failed, or the command could not start
//
// A second process started while a run holds the state directory exits
// with code 1 without touching any remote system.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/tomtom215/healthsync/internal/config"
	"github.com/tomtom215/healthsync/internal/logging"
)

const usage = `usage: healthsync <command> [flags]

commands:
  sync        sync recent days from every enabled provider
  backfill    sync an explicit date range
  replay      re-apply cached payloads without contacting providers
  nutrition   upsert one day of nutrition totals
  authorize   run the Withings consent flow and store tokens
  status      show recent run reports
`

// errUsage marks invalid invocations; the message is already printed.
var errUsage = errors.New("invalid usage")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 || args[0] == "-h" || args[0] == "--help" || args[0] == "help" {
		fmt.Fprint(os.Stderr, usage)
		if len(args) == 0 {
			return 1
		}
		return 0
	}

	cmd, ok := commands[args[0]]
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", args[0], usage)
		return 1
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("Failed to load configuration")
		return 1
	}
	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	code, err := cmd(ctx, cfg, args[1:])
	if err != nil {
		if !errors.Is(err, errUsage) {
			logging.Error().Err(err).Str("command", args[0]).Msg("Command failed")
		}
		return 1
	}
	return code
}
