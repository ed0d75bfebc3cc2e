// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/healthsync/internal/logging"
)

// Config controls the audit logger.
type Config struct {
	// LogToStderr mirrors every event into the structured application log.
	LogToStderr bool `json:"log_to_stderr"`
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() *Config {
	return &Config{LogToStderr: false}
}

// Logger stamps and persists audit events synchronously.
type Logger struct {
	config *Config
	store  Store
	now    func() time.Time
}

// NewLogger creates a Logger writing to store.
func NewLogger(store Store, config *Config) *Logger {
	if config == nil {
		config = DefaultConfig()
	}
	return &Logger{config: config, store: store, now: time.Now}
}

// Log fills in ID, timestamp and run id, then saves the event. A Logger
// with no store accepts and discards events.
func (l *Logger) Log(ctx context.Context, event *Event) error {
	if l == nil || l.store == nil {
		return nil
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now().UTC()
	}
	if event.RunID == "" {
		event.RunID = logging.RunIDFromContext(ctx)
	}

	if l.config.LogToStderr {
		if data, err := json.Marshal(event); err == nil {
			logging.Ctx(ctx).Info().RawJSON("event", data).Msg("Audit event")
		}
	}

	if err := l.store.Save(ctx, event); err != nil {
		return fmt.Errorf("save audit event: %w", err)
	}
	return nil
}

// Query delegates to the underlying store.
func (l *Logger) Query(ctx context.Context, filter QueryFilter) ([]Event, error) {
	if l == nil || l.store == nil {
		return nil, nil
	}
	return l.store.Query(ctx, filter)
}
