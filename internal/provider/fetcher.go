// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/healthsync/internal/logging"
	"github.com/tomtom215/healthsync/internal/models"
	"github.com/tomtom215/healthsync/internal/normalize"
)

// Fetcher retrieves the raw payload of one source for an inclusive range.
type Fetcher interface {
	Source() models.Source
	Fetch(ctx context.Context, rng models.Range) (json.RawMessage, error)
}

// TokenSource yields a valid Withings access token.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// ActivityFetcher fetches daily Withings activity summaries.
type ActivityFetcher struct {
	client *WithingsClient
	tokens TokenSource
}

// NewActivityFetcher creates an ActivityFetcher.
func NewActivityFetcher(client *WithingsClient, tokens TokenSource) *ActivityFetcher {
	return &ActivityFetcher{client: client, tokens: tokens}
}

// Source implements Fetcher.
func (f *ActivityFetcher) Source() models.Source { return models.SourceWithingsActivity }

// Fetch implements Fetcher.
func (f *ActivityFetcher) Fetch(ctx context.Context, rng models.Range) (json.RawMessage, error) {
	token, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return f.client.GetActivity(ctx, token, rng)
}

// WeightFetcher fetches Withings body measurements. The range covers
// 00:00:00 of the first day through 23:59:59 of the last in loc.
type WeightFetcher struct {
	client *WithingsClient
	tokens TokenSource
	loc    *time.Location
}

// NewWeightFetcher creates a WeightFetcher. A nil loc means time.Local.
func NewWeightFetcher(client *WithingsClient, tokens TokenSource, loc *time.Location) *WeightFetcher {
	if loc == nil {
		loc = time.Local
	}
	return &WeightFetcher{client: client, tokens: tokens, loc: loc}
}

// Source implements Fetcher.
func (f *WeightFetcher) Source() models.Source { return models.SourceWithingsWeight }

// Fetch implements Fetcher.
func (f *WeightFetcher) Fetch(ctx context.Context, rng models.Range) (json.RawMessage, error) {
	token, err := f.tokens.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	return f.client.GetMeasures(ctx, token, rng.Start.Start(f.loc), rng.End.End(f.loc))
}

// SleepFetcher fetches one Sleep Number summary per day of the range.
type SleepFetcher struct {
	client    *SleepNumberClient
	sleeperID string
}

// NewSleepFetcher creates a SleepFetcher. An empty sleeperID selects the
// first sleeper on the account.
func NewSleepFetcher(client *SleepNumberClient, sleeperID string) *SleepFetcher {
	return &SleepFetcher{client: client, sleeperID: sleeperID}
}

// Source implements Fetcher.
func (f *SleepFetcher) Source() models.Source { return models.SourceSleepNumber }

// Fetch implements Fetcher. Days without data are omitted from the payload.
// Any other failure aborts the whole range so no partial payload is cached.
func (f *SleepFetcher) Fetch(ctx context.Context, rng models.Range) (json.RawMessage, error) {
	if err := rng.Validate(); err != nil {
		return nil, err
	}

	sleeper, err := f.client.Sleeper(ctx, f.sleeperID)
	if err != nil {
		return nil, err
	}

	log := logging.Ctx(ctx).With().Str("sleeper_id", sleeper.ID).Logger()
	payload := normalize.SleepPayload{
		Sleeper: normalize.SleeperInfo{
			ID:   sleeper.ID,
			Name: sleeper.FirstName,
			Side: string(sleeper.Side),
		},
		Days: make(map[string]json.RawMessage),
	}

	for _, day := range rng.Days() {
		raw, found, err := f.client.SleepData(ctx, sleeper.ID, day)
		if err != nil {
			return nil, fmt.Errorf("sleep data for %s: %w", day, err)
		}
		if !found {
			log.Debug().Str("date", day.String()).Msg("No sleep data")
			continue
		}
		payload.Days[day.String()] = raw
	}

	log.Info().Int("days", len(payload.Days)).Str("range", rng.String()).Msg("Fetched sleep data")
	return json.Marshal(payload)
}
