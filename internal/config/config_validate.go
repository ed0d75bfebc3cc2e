// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/tomtom215/healthsync/internal/logging"
)

// Validate checks the configuration for missing or inconsistent values.
func (c *Config) Validate() error {
	if err := c.validateWithings(); err != nil {
		return err
	}

	if err := c.validateSleepNumber(); err != nil {
		return err
	}

	if err := c.validateTracker(); err != nil {
		return err
	}

	if err := c.validateStorage(); err != nil {
		return err
	}

	if err := c.validateSync(); err != nil {
		return err
	}

	return c.validateLogging()
}

func (c *Config) validateWithings() error {
	if !c.Withings.Enabled {
		return nil
	}
	if c.Withings.ClientID == "" || c.Withings.ClientSecret == "" {
		return fmt.Errorf("WITHINGS_CLIENT_ID and WITHINGS_CLIENT_SECRET are required when Withings sync is enabled")
	}
	if c.Withings.TokenFile == "" {
		return fmt.Errorf("WITHINGS_TOKEN_FILE is required when Withings sync is enabled")
	}
	if err := validateHTTPURL(c.Withings.APIURL, "WITHINGS_API_URL"); err != nil {
		return err
	}
	if err := validateHTTPURL(c.Withings.AuthorizeURL, "withings.authorize_url"); err != nil {
		return err
	}
	return validateHTTPURL(c.Withings.RedirectURI, "WITHINGS_REDIRECT_URI")
}

func (c *Config) validateSleepNumber() error {
	if !c.SleepNumber.Enabled {
		return nil
	}
	if c.SleepNumber.Email == "" || c.SleepNumber.Password == "" {
		return fmt.Errorf("SLEEPNUMBER_EMAIL and SLEEPNUMBER_PASSWORD are required when SLEEPNUMBER_SYNC is true")
	}
	if c.SleepNumber.RequestPace < 0 {
		return fmt.Errorf("SLEEPNUMBER_REQUEST_PACE must not be negative, got %v", c.SleepNumber.RequestPace)
	}
	return validateHTTPURL(c.SleepNumber.APIURL, "SLEEPNUMBER_API_URL")
}

func (c *Config) validateTracker() error {
	if err := validateHTTPURL(c.Tracker.URL, "WGER_BASE_URL"); err != nil {
		return err
	}
	if c.Tracker.Token == "" {
		return fmt.Errorf("WGER_TOKEN is required")
	}
	for name, d := range map[string]time.Duration{
		"WGER_TIMEOUT":        c.Tracker.Timeout,
		"WGER_WRITE_TIMEOUT":  c.Tracker.WriteTimeout,
		"WGER_WEIGHT_TIMEOUT": c.Tracker.WeightTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %v", name, d)
		}
	}
	return nil
}

func (c *Config) validateStorage() error {
	if c.Storage.CacheDir == "" {
		return fmt.Errorf("HEALTHSYNC_CACHE_DIR is required")
	}
	if c.Storage.AuditLog == "" {
		return fmt.Errorf("HEALTHSYNC_AUDIT_LOG is required")
	}
	if c.Storage.StateDir == "" {
		return fmt.Errorf("HEALTHSYNC_STATE_DIR is required")
	}
	return nil
}

func (c *Config) validateSync() error {
	if c.Sync.DaysBack < 1 {
		return fmt.Errorf("SYNC_DAYS_BACK must be at least 1, got %d", c.Sync.DaysBack)
	}
	if c.Sync.RetryAttempts < 1 {
		return fmt.Errorf("SYNC_RETRY_ATTEMPTS must be at least 1, got %d", c.Sync.RetryAttempts)
	}
	if c.Sync.RetryDelay < 0 {
		return fmt.Errorf("SYNC_RETRY_DELAY must not be negative, got %v", c.Sync.RetryDelay)
	}
	if c.Sync.Timezone != "" {
		if _, err := time.LoadLocation(c.Sync.Timezone); err != nil {
			return fmt.Errorf("SYNC_TIMEZONE is not a known time zone: %w", err)
		}
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !logging.ValidLevel(c.Logging.Level) {
		return fmt.Errorf("LOG_LEVEL must be one of trace, debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "json", "console":
		return nil
	default:
		return fmt.Errorf("LOG_FORMAT must be json or console, got %q", c.Logging.Format)
	}
}
