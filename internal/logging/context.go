// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type contextKey string

const runIDKey contextKey = "run_id"

// NewRunID returns a short identifier for one sync run.
func NewRunID() string {
	return uuid.New().String()[:8]
}

// ContextWithRunID returns a context carrying the run identifier.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// RunIDFromContext returns the run identifier, or "" when absent.
func RunIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(runIDKey).(string); ok {
		return id
	}
	return ""
}

// Ctx returns a logger with run_id added when the context carries one.
//
//	logging.Ctx(ctx).Info().Msg("Run finished")
//	// {"level":"info","run_id":"1a2b3c4d","message":"Run finished"}
func Ctx(ctx context.Context) *zerolog.Logger {
	logger := Logger()
	if id := RunIDFromContext(ctx); id != "" {
		logger = logger.With().Str("run_id", id).Logger()
	}
	return &logger
}

// WithComponent creates a child logger with a component field.
func WithComponent(component string) zerolog.Logger {
	return With().Str("component", component).Logger()
}
