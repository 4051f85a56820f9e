// config_validation_test.go - Validation tests in main package
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfig_ValidateDetailed(t *testing.T) {
	tempDir := t.TempDir()

	valid := func(mutate func(c *Config)) *Config {
		c := (&Config{}).WithDefaults()
		c.MaxConcurrentOperations = 8
		mutate(c)
		return c
	}

	tests := []struct {
		name             string
		config           *Config
		expectedValid    bool
		expectedErrors   int
		expectedWarnings int
	}{
		{
			name:          "valid default config",
			config:        valid(func(c *Config) {}),
			expectedValid: true,
		},
		{
			name:           "zero config is invalid until defaults apply",
			config:         &Config{},
			expectedValid:  false,
			expectedErrors: 11,
		},
		{
			name:           "negative field cap",
			config:         valid(func(c *Config) { c.MaxTrackedFieldsPerType = -1 }),
			expectedErrors: 1,
		},
		{
			name:             "large field cap warns",
			config:           valid(func(c *Config) { c.MaxTrackedFieldsPerType = 300 }),
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name:             "deep comparison warns",
			config:           valid(func(c *Config) { c.MaxComparisonDepth = 64 }),
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name:           "timing buffer not a power of 2",
			config:         valid(func(c *Config) { c.TimingBufferSize = 1000 }),
			expectedErrors: 1,
		},
		{
			name:           "failure rate above 1",
			config:         valid(func(c *Config) { c.Alerts.MaxFailureRate = 1.5 }),
			expectedErrors: 1,
		},
		{
			name:           "unknown log level",
			config:         valid(func(c *Config) { c.LogLevel = "verbose" }),
			expectedErrors: 1,
		},
		{
			name:             "long timeouts warn",
			config:           valid(func(c *Config) { c.LockTimeout = 5 * time.Second }),
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name: "snapshot age below maintenance period warns",
			config: valid(func(c *Config) {
				c.MaxSnapshotAge = time.Second
				c.MaintenanceInterval = time.Minute
			}),
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name:             "single operation slot warns",
			config:           valid(func(c *Config) { c.MaxConcurrentOperations = 1 }),
			expectedValid:    true,
			expectedWarnings: 1,
		},
		{
			name: "valid audit config",
			config: valid(func(c *Config) {
				c.Audit = AuditConfig{
					Enabled:       true,
					OutputFile:    filepath.Join(tempDir, "audit.db"),
					BufferSize:    100,
					FlushInterval: time.Second,
				}
			}),
			expectedValid: true,
		},
		{
			name: "audit without output file",
			config: valid(func(c *Config) {
				c.Audit = AuditConfig{Enabled: true, BufferSize: 100, FlushInterval: time.Second}
			}),
			expectedErrors: 1,
		},
		{
			name: "audit with zero buffer and interval warns",
			config: valid(func(c *Config) {
				c.Audit = AuditConfig{Enabled: true, OutputFile: filepath.Join(tempDir, "audit.db")}
			}),
			expectedValid:    true,
			expectedWarnings: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := tt.config.ValidateDetailed()
			if result.Valid != tt.expectedValid {
				t.Errorf("Expected valid=%v, got %v (errors: %v)", tt.expectedValid, result.Valid, result.Errors)
			}
			if len(result.Errors) != tt.expectedErrors {
				t.Errorf("Expected %d errors, got %d: %v", tt.expectedErrors, len(result.Errors), result.Errors)
			}
			if len(result.Warnings) != tt.expectedWarnings {
				t.Errorf("Expected %d warnings, got %d: %v", tt.expectedWarnings, len(result.Warnings), result.Warnings)
			}
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := (&Config{}).WithDefaults()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should validate, got %v", err)
	}

	cfg.MaxTrackedObjects = -5
	err := cfg.Validate()
	if err != ErrInvalidMaxObjects {
		t.Errorf("Expected ErrInvalidMaxObjects sentinel, got %v", err)
	}
	if GetValidationErrorCode(err) != ErrCodeInvalidMaxObjects || !IsValidationError(err) {
		t.Errorf("Unexpected error code for %v", err)
	}
}

func TestValidateOutputFile(t *testing.T) {
	tempDir := t.TempDir()
	regular := filepath.Join(tempDir, "file")
	if err := os.WriteFile(regular, []byte("x"), 0600); err != nil {
		t.Fatalf("Failed to create file: %v", err)
	}

	tests := []struct {
		name string
		path string
		code string
	}{
		{"existing directory", filepath.Join(tempDir, "audit.db"), ""},
		{"missing directory is created later", filepath.Join(tempDir, "a", "b", "audit.db"), ""},
		{"root", "/", ErrCodeInvalidOutputFile},
		{"parent is a file", filepath.Join(regular, "audit.db"), ErrCodeInvalidOutputFile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateOutputFile(tt.path)
			if got := GetValidationErrorCode(err); got != tt.code {
				t.Errorf("validateOutputFile(%q) code = %q, want %q (%v)", tt.path, got, tt.code, err)
			}
		})
	}
}

func TestValidationResult_String(t *testing.T) {
	tests := []struct {
		result   ValidationResult
		contains string
	}{
		{ValidationResult{Valid: true}, "Configuration is valid"},
		{ValidationResult{Valid: true, Warnings: []string{"w"}}, "1 warning(s)"},
		{ValidationResult{Errors: []string{"a", "b"}}, "2 error(s)"},
	}
	for _, tt := range tests {
		if got := tt.result.String(); !strings.Contains(got, tt.contains) {
			t.Errorf("String() = %q, want it to contain %q", got, tt.contains)
		}
	}
}

func TestGetValidationErrorCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrInvalidDepth, ErrCodeInvalidDepth},
		{os.ErrNotExist, "file does not exist"},
	}
	for _, tt := range tests {
		if got := GetValidationErrorCode(tt.err); got != tt.want {
			t.Errorf("GetValidationErrorCode(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}
