// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths where config files are searched in order
// of priority. The user config directory is appended at lookup time.
var DefaultConfigPaths = []string{
	"healthsync.yaml",
	"healthsync.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns the values applied before file and environment layers.
func defaultConfig() *Config {
	return &Config{
		Withings: WithingsConfig{
			Enabled:         true,
			RedirectURI:     "http://localhost:8080/callback",
			AuthorizeURL:    "https://account.withings.com/oauth2_user/authorize2",
			APIURL:          "https://wbsapi.withings.net",
			TokenFile:       "withings_tokens.json",
			TokenTimeout:    30 * time.Second,
			RequestTimeout:  60 * time.Second,
			CallbackTimeout: 5 * time.Minute,
		},
		SleepNumber: SleepNumberConfig{
			Enabled:     false,
			APIURL:      "https://prod-api.sleepiq.sleepnumber.com",
			RequestPace: 500 * time.Millisecond,
			Timeout:     30 * time.Second,
		},
		Tracker: TrackerConfig{
			URL:           "https://localhost",
			Timeout:       30 * time.Second,
			WriteTimeout:  30 * time.Second,
			WeightTimeout: 60 * time.Second,
		},
		Storage: StorageConfig{
			CacheDir: "data/raw",
			AuditLog: "data/audit.jsonl",
			StateDir: "data/state",
		},
		Sync: SyncConfig{
			DaysBack:      7,
			RetryAttempts: 3,
			RetryDelay:    2 * time.Second,
			SingleFlight:  true,
		},
		Nutrition: NutritionConfig{
			ConstantsFile: "daily_constants.json",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadWithKoanf loads configuration using Koanf with layered sources:
// struct defaults, then the YAML config file, then environment variables.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// WGER_TOKEN -> tracker.token, SLEEPNUMBER_SYNC -> sleepnumber.enabled
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	paths := DefaultConfigPaths
	if dir, err := os.UserConfigDir(); err == nil {
		paths = append(append([]string{}, paths...), filepath.Join(dir, "healthsync", "config.yaml"))
	}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

var envMappings = map[string]string{
	"withings_enabled":          "withings.enabled",
	"withings_client_id":        "withings.client_id",
	"withings_client_secret":    "withings.client_secret",
	"withings_redirect_uri":     "withings.redirect_uri",
	"withings_api_url":          "withings.api_url",
	"withings_token_file":       "withings.token_file",
	"withings_request_timeout":  "withings.request_timeout",
	"withings_callback_timeout": "withings.callback_timeout",

	"sleepnumber_sync":         "sleepnumber.enabled",
	"sleepnumber_email":        "sleepnumber.email",
	"sleepnumber_password":     "sleepnumber.password",
	"sleepnumber_api_url":      "sleepnumber.api_url",
	"sleepnumber_sleeper_id":   "sleepnumber.sleeper_id",
	"sleepnumber_request_pace": "sleepnumber.request_pace",

	"wger_base_url":             "tracker.url",
	"wger_token":                "tracker.token",
	"wger_timeout":              "tracker.timeout",
	"wger_write_timeout":        "tracker.write_timeout",
	"wger_weight_timeout":       "tracker.weight_timeout",
	"wger_insecure_skip_verify": "tracker.insecure_skip_verify",

	"healthsync_cache_dir": "storage.cache_dir",
	"healthsync_audit_log": "storage.audit_log",
	"healthsync_state_dir": "storage.state_dir",

	"sync_days_back":      "sync.days_back",
	"sync_retry_attempts": "sync.retry_attempts",
	"sync_retry_delay":    "sync.retry_delay",
	"sync_timezone":       "sync.timezone",
	"sync_single_flight":  "sync.single_flight",

	"nutrition_constants_file": "nutrition.constants_file",
	"metrics_textfile_path":    "metrics.textfile_path",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unmapped variables return "" and are skipped so unrelated environment
// does not leak into configuration.
func envTransformFunc(key string) string {
	if mapped, ok := envMappings[strings.ToLower(key)]; ok {
		return mapped
	}
	return ""
}
