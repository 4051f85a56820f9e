// config_file_test.go: Testing YAML configuration files
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const sampleConfigYAML = `analysis:
  max_fields_per_type: 16
  disable_auto_tracking: true
comparison:
  max_depth: 3
storage:
  max_tracked_objects: 500
  max_snapshot_age: 10m
monitoring:
  timing_buffer_size: 256
  alerts:
    max_average_duration: 5ms
    max_duration: 50ms
    max_failure_rate: 0.02
    min_samples: 10
audit:
  enabled: true
  output_file: audit.jsonl
  min_level: warn
logging:
  level: error
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mnemos.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfig(t, sampleConfigYAML))
	if err != nil {
		t.Fatalf("LoadConfigFile failed: %v", err)
	}

	if cfg.MaxTrackedFieldsPerType != 16 || !cfg.DisableAutoTracking || cfg.MaxComparisonDepth != 3 {
		t.Errorf("Analysis keys not applied: %+v", cfg)
	}
	if cfg.MaxTrackedObjects != 500 || cfg.MaxSnapshotAge != 10*time.Minute {
		t.Errorf("Storage keys not applied: %d, %v", cfg.MaxTrackedObjects, cfg.MaxSnapshotAge)
	}
	if cfg.TimingBufferSize != 256 {
		t.Errorf("Expected timing buffer 256, got %d", cfg.TimingBufferSize)
	}
	want := AlertThresholds{
		MaxAverageDuration: 5 * time.Millisecond,
		MaxDuration:        50 * time.Millisecond,
		MaxFailureRate:     0.02,
		MinSamples:         10,
	}
	if cfg.Alerts != want {
		t.Errorf("Alerts = %+v, want %+v", cfg.Alerts, want)
	}
	if !cfg.Audit.Enabled || cfg.Audit.OutputFile != "audit.jsonl" || cfg.Audit.MinLevel != AuditWarn {
		t.Errorf("Unexpected audit config: %+v", cfg.Audit)
	}
	if cfg.LogLevel != "error" {
		t.Errorf("Expected log level error, got %q", cfg.LogLevel)
	}
	if cfg.PoolCapacity != 256 || cfg.Logger == nil {
		t.Error("Keys absent from the file should take defaults")
	}
}

func TestLoadConfigFile_Errors(t *testing.T) {
	tests := []struct {
		name    string
		path    func(t *testing.T) string
		code    string
		message string
	}{
		{
			name:    "missing file",
			path:    func(t *testing.T) string { return filepath.Join(t.TempDir(), "absent.yaml") },
			code:    ErrCodeConfigNotFound,
			message: "not found",
		},
		{
			name:    "unknown key",
			path:    func(t *testing.T) string { return writeConfig(t, "storage:\n  max_objects: 3\n") },
			code:    ErrCodeInvalidConfig,
			message: "storage.max_objects",
		},
		{
			name:    "malformed yaml",
			path:    func(t *testing.T) string { return writeConfig(t, "storage: [unclosed\n") },
			code:    ErrCodeInvalidConfig,
			message: "parse",
		},
		{
			name:    "wrong value type",
			path:    func(t *testing.T) string { return writeConfig(t, "concurrency:\n  lock_timeout: whenever\n") },
			code:    ErrCodeInvalidConfig,
			message: "invalid configuration file",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(tt.path(t))
			if err == nil {
				t.Fatal("Expected an error")
			}
			if got := GetValidationErrorCode(err); got != tt.code {
				t.Errorf("Expected code %s, got %s (%v)", tt.code, got, err)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("Expected %q in %v", tt.message, err)
			}
		})
	}
}

func TestValidateConfigFile(t *testing.T) {
	result, err := ValidateConfigFile(writeConfig(t, sampleConfigYAML))
	if err != nil {
		t.Fatalf("ValidateConfigFile failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("Sample config should be valid: %v", result.Errors)
	}

	result, err = ValidateConfigFile(writeConfig(t, "logging:\n  level: verbose\n"))
	if err != nil {
		t.Fatalf("ValidateConfigFile failed: %v", err)
	}
	if result.Valid || len(result.Errors) != 1 {
		t.Errorf("Expected a single log level error, got %+v", result)
	}
}

func TestConfig_WriteConfigFileRoundTrip(t *testing.T) {
	cfg := (&Config{
		MaxTrackedObjects: 42,
		LockTimeout:       3 * time.Second,
		Audit: AuditConfig{
			Enabled:       true,
			OutputFile:    "/var/lib/mnemos/audit.db",
			MinLevel:      AuditError,
			BufferSize:    64,
			FlushInterval: time.Second,
			Retention:     24 * time.Hour,
		},
		LogLevel: "info",
	}).WithDefaults()

	path := filepath.Join(t.TempDir(), "nested", "mnemos.yaml")
	if err := cfg.WriteConfigFile(path); err != nil {
		t.Fatalf("WriteConfigFile failed: %v", err)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("Temporary files left behind: %v", entries)
	}

	loaded, err := LoadConfigFile(path)
	if err != nil {
		t.Fatalf("Reloading written config failed: %v", err)
	}
	if loaded.MaxTrackedObjects != 42 || loaded.LockTimeout != 3*time.Second || loaded.LogLevel != "info" {
		t.Errorf("Round trip lost values: %+v", loaded)
	}
	if loaded.Audit != cfg.Audit {
		t.Errorf("Audit = %+v, want %+v", loaded.Audit, cfg.Audit)
	}
	if loaded.MaxConcurrentOperations != cfg.MaxConcurrentOperations || loaded.Alerts != cfg.Alerts {
		t.Error("Defaults should survive the round trip")
	}
}

func TestConfig_ToYAML(t *testing.T) {
	data, err := (&Config{}).WithDefaults().ToYAML()
	if err != nil {
		t.Fatalf("ToYAML failed: %v", err)
	}
	out := string(data)
	for _, want := range []string{"storage:", "max_tracked_objects: 10000", "lock_timeout: 100ms", "min_level: info"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %q in:\n%s", want, out)
		}
	}
}
