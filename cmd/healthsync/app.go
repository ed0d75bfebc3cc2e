// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package main

import (
	"errors"
	"fmt"

	"github.com/tomtom215/healthsync/internal/audit"
	"github.com/tomtom215/healthsync/internal/authflow"
	"github.com/tomtom215/healthsync/internal/config"
	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/provider"
	"github.com/tomtom215/healthsync/internal/snapshot"
	"github.com/tomtom215/healthsync/internal/state"
	"github.com/tomtom215/healthsync/internal/sync"
	"github.com/tomtom215/healthsync/internal/tokenstore"
	"github.com/tomtom215/healthsync/internal/tracker"
	"github.com/tomtom215/healthsync/internal/upsert"
)

// app holds the components shared by every command.
type app struct {
	cfg      *config.Config
	journal  *state.Journal
	withings *provider.WithingsClient
	tokens   *tokenstore.Store
	flow     *authflow.Flow
}

// openJournal takes the state directory lock. With single_flight enabled a
// held lock aborts the command; otherwise the run proceeds unjournaled.
func openJournal(cfg *config.Config) (*state.Journal, error) {
	journal, err := state.Open(cfg.Storage.StateDir)
	if err == nil {
		return journal, nil
	}
	if errors.Is(err, state.ErrRunInProgress) && !cfg.Sync.SingleFlight {
		logging.Warn().Err(err).Msg("Another run holds the state directory; continuing without the journal")
		return nil, nil
	}
	return nil, err
}

func newApp(cfg *config.Config) (*app, error) {
	if !cfg.Sync.SingleFlight {
		logging.Warn().Msg("Single-flight guard disabled; concurrent runs may race on tokens and categories")
	}
	journal, err := openJournal(cfg)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, journal: journal}
	if cfg.Withings.Enabled {
		a.withings = provider.NewWithingsClient(provider.WithingsOptions{
			APIURL:         cfg.Withings.APIURL,
			ClientID:       cfg.Withings.ClientID,
			ClientSecret:   cfg.Withings.ClientSecret,
			RedirectURI:    cfg.Withings.RedirectURI,
			TokenTimeout:   cfg.Withings.TokenTimeout,
			RequestTimeout: cfg.Withings.RequestTimeout,
		})
		a.flow = authflow.New(authflow.Config{
			AuthorizeURL: cfg.Withings.AuthorizeURL,
			ClientID:     cfg.Withings.ClientID,
			RedirectURI:  cfg.Withings.RedirectURI,
			Scope:        provider.WithingsScope,
			Timeout:      cfg.Withings.CallbackTimeout,
		}, a.withings)
		a.tokens = tokenstore.New(cfg.Withings.TokenFile, a.withings, tokenstore.WithAuthorizer(a.flow))
	}
	return a, nil
}

func (a *app) Close() {
	if err := a.journal.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing state journal")
	}
}

// fetchers returns the provider fetchers of every enabled source, in run order.
func (a *app) fetchers() []provider.Fetcher {
	var out []provider.Fetcher
	loc := a.cfg.Sync.Location()
	if a.withings != nil {
		out = append(out,
			provider.NewActivityFetcher(a.withings, a.tokens),
			provider.NewWeightFetcher(a.withings, a.tokens, loc),
		)
	}
	if a.cfg.SleepNumber.Enabled {
		client := provider.NewSleepNumberClient(provider.SleepNumberOptions{
			APIURL:      a.cfg.SleepNumber.APIURL,
			Email:       a.cfg.SleepNumber.Email,
			Password:    a.cfg.SleepNumber.Password,
			RequestPace: a.cfg.SleepNumber.RequestPace,
			Timeout:     a.cfg.SleepNumber.Timeout,
		})
		out = append(out, provider.NewSleepFetcher(client, a.cfg.SleepNumber.SleeperID))
	}
	return out
}

func (a *app) manager() (*sync.Manager, error) {
	store, err := audit.NewFileStore(a.cfg.Storage.AuditLog)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	wger := tracker.NewClient(a.cfg.Tracker.URL, a.cfg.Tracker.Token, tracker.Options{
		Timeout:            a.cfg.Tracker.Timeout,
		WriteTimeout:       a.cfg.Tracker.WriteTimeout,
		WeightTimeout:      a.cfg.Tracker.WeightTimeout,
		InsecureSkipVerify: a.cfg.Tracker.InsecureSkipVerify,
	})

	retry := upsert.DefaultRetryPolicy()
	retry.MaxAttempts = a.cfg.Sync.RetryAttempts
	retry.Delay = a.cfg.Sync.RetryDelay

	return sync.NewManager(sync.Options{
		Tracker:         wger,
		Cache:           snapshot.New(a.cfg.Storage.CacheDir),
		Fetchers:        a.fetchers(),
		Retry:           retry,
		Audit:           audit.NewLogger(store, nil),
		Journal:         a.journal,
		Location:        a.cfg.Sync.Location(),
		DaysBack:        a.cfg.Sync.DaysBack,
		ConstantsFile:   a.cfg.Nutrition.ConstantsFile,
		MetricsTextfile: a.cfg.Metrics.TextfilePath,
	}), nil
}
