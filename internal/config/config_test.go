// Healthsync - Personal Health Metrics Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/healthsync

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// setRequiredEnv sets the minimum environment for a valid configuration.
func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv(ConfigPathEnvVar, filepath.Join(t.TempDir(), "missing.yaml"))
	t.Setenv("WITHINGS_CLIENT_ID", "client")
	t.Setenv("WITHINGS_CLIENT_SECRET", "secret")
	t.Setenv("WGER_BASE_URL", "https://wger.example.com")
	t.Setenv("WGER_TOKEN", "token123")
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := defaultConfig()

	if cfg.Withings.RedirectURI != "http://localhost:8080/callback" {
		t.Errorf("Withings.RedirectURI = %q", cfg.Withings.RedirectURI)
	}
	if cfg.Withings.TokenTimeout != 30*time.Second {
		t.Errorf("Withings.TokenTimeout = %v, want 30s", cfg.Withings.TokenTimeout)
	}
	if cfg.Withings.RequestTimeout != 60*time.Second {
		t.Errorf("Withings.RequestTimeout = %v, want 60s", cfg.Withings.RequestTimeout)
	}
	if cfg.SleepNumber.Enabled {
		t.Error("SleepNumber.Enabled should be false by default")
	}
	if cfg.SleepNumber.RequestPace != 500*time.Millisecond {
		t.Errorf("SleepNumber.RequestPace = %v, want 500ms", cfg.SleepNumber.RequestPace)
	}
	if cfg.Sync.RetryAttempts != 3 {
		t.Errorf("Sync.RetryAttempts = %d, want 3", cfg.Sync.RetryAttempts)
	}
	if cfg.Sync.RetryDelay != 2*time.Second {
		t.Errorf("Sync.RetryDelay = %v, want 2s", cfg.Sync.RetryDelay)
	}
	if cfg.Sync.DaysBack != 7 {
		t.Errorf("Sync.DaysBack = %d, want 7", cfg.Sync.DaysBack)
	}
	if cfg.Tracker.WeightTimeout != 60*time.Second {
		t.Errorf("Tracker.WeightTimeout = %v, want 60s", cfg.Tracker.WeightTimeout)
	}
}

func TestEnvTransformFunc(t *testing.T) {
	t.Parallel()

	tests := []struct {
		env  string
		want string
	}{
		{"WGER_TOKEN", "tracker.token"},
		{"WGER_BASE_URL", "tracker.url"},
		{"SLEEPNUMBER_SYNC", "sleepnumber.enabled"},
		{"WITHINGS_CLIENT_ID", "withings.client_id"},
		{"LOG_LEVEL", "logging.level"},
		{"PATH", ""},
		{"HOME", ""},
	}

	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			t.Parallel()
			if got := envTransformFunc(tt.env); got != tt.want {
				t.Errorf("envTransformFunc(%q) = %q, want %q", tt.env, got, tt.want)
			}
		})
	}
}

func TestLoadWithKoanfEnvVars(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("SLEEPNUMBER_SYNC", "true")
	t.Setenv("SLEEPNUMBER_EMAIL", "me@example.com")
	t.Setenv("SLEEPNUMBER_PASSWORD", "pw")
	t.Setenv("SYNC_RETRY_DELAY", "5s")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Tracker.Token != "token123" {
		t.Errorf("Tracker.Token = %q, want token123", cfg.Tracker.Token)
	}
	if !cfg.SleepNumber.Enabled {
		t.Error("SleepNumber.Enabled should be true from SLEEPNUMBER_SYNC")
	}
	if cfg.Sync.RetryDelay != 5*time.Second {
		t.Errorf("Sync.RetryDelay = %v, want 5s", cfg.Sync.RetryDelay)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoadWithKoanfConfigFileAndEnvOverride(t *testing.T) {
	setRequiredEnv(t)

	configPath := filepath.Join(t.TempDir(), "healthsync.yaml")
	content := `
tracker:
  url: https://file.example.com
sync:
  days_back: 14
  timezone: America/Chicago
storage:
  cache_dir: /tmp/raw
`
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, configPath)
	t.Setenv("WGER_BASE_URL", "https://env.example.com")

	cfg, err := LoadWithKoanf()
	if err != nil {
		t.Fatalf("LoadWithKoanf() error = %v", err)
	}

	if cfg.Tracker.URL != "https://env.example.com" {
		t.Errorf("Tracker.URL = %q, want env override", cfg.Tracker.URL)
	}
	if cfg.Sync.DaysBack != 14 {
		t.Errorf("Sync.DaysBack = %d, want 14", cfg.Sync.DaysBack)
	}
	if cfg.Storage.CacheDir != "/tmp/raw" {
		t.Errorf("Storage.CacheDir = %q, want /tmp/raw", cfg.Storage.CacheDir)
	}
	if cfg.Storage.AuditLog != "data/audit.jsonl" {
		t.Errorf("Storage.AuditLog = %q, want default", cfg.Storage.AuditLog)
	}
	if cfg.Sync.Location().String() != "America/Chicago" {
		t.Errorf("Sync.Location() = %v", cfg.Sync.Location())
	}
}

func TestLoadWithKoanfValidation(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing tracker token",
			env:     map[string]string{"WGER_TOKEN": ""},
			wantErr: "WGER_TOKEN is required",
		},
		{
			name:    "bad tracker scheme",
			env:     map[string]string{"WGER_BASE_URL": "ftp://wger.example.com"},
			wantErr: "scheme must be http or https",
		},
		{
			name:    "sleep number without credentials",
			env:     map[string]string{"SLEEPNUMBER_SYNC": "true"},
			wantErr: "SLEEPNUMBER_EMAIL and SLEEPNUMBER_PASSWORD",
		},
		{
			name:    "withings without client id",
			env:     map[string]string{"WITHINGS_CLIENT_ID": ""},
			wantErr: "WITHINGS_CLIENT_ID",
		},
		{
			name:    "withings disabled skips credentials",
			env:     map[string]string{"WITHINGS_ENABLED": "false", "WITHINGS_CLIENT_ID": ""},
			wantErr: "",
		},
		{
			name:    "zero retry attempts",
			env:     map[string]string{"SYNC_RETRY_ATTEMPTS": "0"},
			wantErr: "SYNC_RETRY_ATTEMPTS",
		},
		{
			name:    "unknown time zone",
			env:     map[string]string{"SYNC_TIMEZONE": "Mars/Olympus"},
			wantErr: "SYNC_TIMEZONE",
		},
		{
			name:    "bad log format",
			env:     map[string]string{"LOG_FORMAT": "xml"},
			wantErr: "LOG_FORMAT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequiredEnv(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			_, err := LoadWithKoanf()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	dir := t.TempDir()
	customPath := filepath.Join(dir, "custom.yaml")
	if err := os.WriteFile(customPath, []byte("sync:\n  days_back: 3\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv(ConfigPathEnvVar, customPath)
	if got := findConfigFile(); got != customPath {
		t.Errorf("findConfigFile() = %q, want %q", got, customPath)
	}
}

func TestValidateHTTPURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		raw     string
		wantErr bool
	}{
		{"https://wger.example.com", false},
		{"http://localhost:8080/callback", false},
		{"https://wger.example.com/?x=1", true},
		{"wger.example.com", true},
		{"https://", true},
	}
	for _, tt := range tests {
		err := validateHTTPURL(tt.raw, "FIELD")
		if (err != nil) != tt.wantErr {
			t.Errorf("validateHTTPURL(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
		}
	}
}
