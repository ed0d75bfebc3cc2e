// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

// Package config loads healthsync configuration from defaults, an optional
// YAML file, and environment variables, in that order of precedence.
package config

import "time"

// Config is the complete runtime configuration.
type Config struct {
	Withings    WithingsConfig    `koanf:"withings"`
	SleepNumber SleepNumberConfig `koanf:"sleepnumber"`
	Tracker     TrackerConfig     `koanf:"tracker"`
	Storage     StorageConfig     `koanf:"storage"`
	Sync        SyncConfig        `koanf:"sync"`
	Nutrition   NutritionConfig   `koanf:"nutrition"`
	Metrics     MetricsConfig     `koanf:"metrics"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// WithingsConfig holds Withings OAuth and API settings.
type WithingsConfig struct {
	Enabled         bool          `koanf:"enabled"`
	ClientID        string        `koanf:"client_id"`
	ClientSecret    string        `koanf:"client_secret"`
	RedirectURI     string        `koanf:"redirect_uri"`
	AuthorizeURL    string        `koanf:"authorize_url"`
	APIURL          string        `koanf:"api_url"`
	TokenFile       string        `koanf:"token_file"`
	TokenTimeout    time.Duration `koanf:"token_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	CallbackTimeout time.Duration `koanf:"callback_timeout"`
}

// SleepNumberConfig holds Sleep Number session API settings.
type SleepNumberConfig struct {
	Enabled     bool          `koanf:"enabled"`
	Email       string        `koanf:"email"`
	Password    string        `koanf:"password"`
	APIURL      string        `koanf:"api_url"`
	SleeperID   string        `koanf:"sleeper_id"` // empty selects the first sleeper on the account
	RequestPace time.Duration `koanf:"request_pace"`
	Timeout     time.Duration `koanf:"timeout"`
}

// TrackerConfig holds the destination wger instance settings.
type TrackerConfig struct {
	URL          string        `koanf:"url"`
	Token        string        `koanf:"token"`
	Timeout      time.Duration `koanf:"timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// WeightTimeout applies to weight entry writes, which the server answers slowly.
	WeightTimeout      time.Duration `koanf:"weight_timeout"`
	InsecureSkipVerify bool          `koanf:"insecure_skip_verify"`
}

// StorageConfig locates persisted local state.
type StorageConfig struct {
	CacheDir string `koanf:"cache_dir"`
	AuditLog string `koanf:"audit_log"`
	StateDir string `koanf:"state_dir"`
}

// SyncConfig controls run behavior.
type SyncConfig struct {
	DaysBack      int           `koanf:"days_back"`
	RetryAttempts int           `koanf:"retry_attempts"`
	RetryDelay    time.Duration `koanf:"retry_delay"`
	Timezone      string        `koanf:"timezone"`
	// SingleFlight holds the state directory lock for the duration of a run.
	SingleFlight bool `koanf:"single_flight"`
}

// NutritionConfig locates the recurring daily meals file.
type NutritionConfig struct {
	ConstantsFile string `koanf:"constants_file"`
}

// MetricsConfig controls the Prometheus textfile export.
type MetricsConfig struct {
	TextfilePath string `koanf:"textfile_path"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: trace, debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is json or console.
	Format string `koanf:"format"`

	Caller bool `koanf:"caller"`
}

// Location returns the configured time zone, falling back to local time.
func (s SyncConfig) Location() *time.Location {
	if s.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load reads the layered configuration and validates it.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
