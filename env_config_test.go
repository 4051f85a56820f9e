// env_config_test.go: Testing environment variable configuration
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"testing"
	"time"
)

func TestEnvVarName(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"storage.max_tracked_objects", "MNEMOS_STORAGE_MAX_TRACKED_OBJECTS"},
		{"monitoring.alerts.max_failure_rate", "MNEMOS_MONITORING_ALERTS_MAX_FAILURE_RATE"},
		{"logging.level", "MNEMOS_LOGGING_LEVEL"},
	}
	for _, tt := range tests {
		if got := EnvVarName(tt.key); got != tt.want {
			t.Errorf("EnvVarName(%q) = %q, want %q", tt.key, got, tt.want)
		}
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("MNEMOS_STORAGE_MAX_TRACKED_OBJECTS", "2000")
	t.Setenv("MNEMOS_CONCURRENCY_LOCK_TIMEOUT", "250ms")
	t.Setenv("MNEMOS_ANALYSIS_DISABLE_AUTO_TRACKING", "yes")
	t.Setenv("MNEMOS_MONITORING_ALERTS_MAX_FAILURE_RATE", "0.5")
	t.Setenv("MNEMOS_AUDIT_ENABLED", "true")
	t.Setenv("MNEMOS_AUDIT_OUTPUT_FILE", "/tmp/mnemos-env.jsonl")
	t.Setenv("MNEMOS_AUDIT_MIN_LEVEL", "critical")
	t.Setenv("MNEMOS_LOGGING_LEVEL", "info")

	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}

	if cfg.MaxTrackedObjects != 2000 {
		t.Errorf("Expected 2000 tracked objects, got %d", cfg.MaxTrackedObjects)
	}
	if cfg.LockTimeout != 250*time.Millisecond {
		t.Errorf("Expected 250ms lock timeout, got %v", cfg.LockTimeout)
	}
	if !cfg.DisableAutoTracking {
		t.Error("Expected auto tracking to be disabled")
	}
	if cfg.Alerts.MaxFailureRate != 0.5 {
		t.Errorf("Expected failure rate 0.5, got %v", cfg.Alerts.MaxFailureRate)
	}
	if !cfg.Audit.Enabled || cfg.Audit.OutputFile != "/tmp/mnemos-env.jsonl" || cfg.Audit.MinLevel != AuditCritical {
		t.Errorf("Unexpected audit config: %+v", cfg.Audit)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("Expected log level info, got %q", cfg.LogLevel)
	}

	// Unset keys take defaults
	if cfg.PoolCapacity != 256 || cfg.SemaphoreTimeout != 100*time.Millisecond {
		t.Errorf("Unset keys should have defaults: %d, %v", cfg.PoolCapacity, cfg.SemaphoreTimeout)
	}
}

func TestLoadConfigFromEnv_BlankValuesAreIgnored(t *testing.T) {
	t.Setenv("MNEMOS_STORAGE_MAX_TRACKED_OBJECTS", "   ")
	cfg, err := LoadConfigFromEnv()
	if err != nil {
		t.Fatalf("LoadConfigFromEnv failed: %v", err)
	}
	if cfg.MaxTrackedObjects != 10000 {
		t.Errorf("Blank variable should be ignored, got %d", cfg.MaxTrackedObjects)
	}
	if len(envConfigMap()) != 0 {
		t.Errorf("Expected no collected values, got %v", envConfigMap())
	}
}

func TestLoadConfigFromEnv_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"non-numeric int", "MNEMOS_STORAGE_POOL_CAPACITY", "plenty"},
		{"bad duration", "MNEMOS_MAINTENANCE_INTERVAL", "hourly"},
		{"bad bool", "MNEMOS_AUDIT_ENABLED", "perhaps"},
		{"bad float", "MNEMOS_MONITORING_ALERTS_MAX_FAILURE_RATE", "half"},
		{"bad audit level", "MNEMOS_AUDIT_MIN_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			cfg, err := LoadConfigFromEnv()
			if err == nil {
				t.Fatalf("Expected an error for %s=%s, got %+v", tt.key, tt.value, cfg)
			}
			if GetValidationErrorCode(err) != ErrCodeInvalidConfig {
				t.Errorf("Expected %s, got %v", ErrCodeInvalidConfig, err)
			}
		})
	}
}
