// config_validation.go - configuration validation for mnemos
//
// Validation reports hard errors, which make a configuration unusable, and
// warnings for settings that work but are likely to hurt the host.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agilira/go-errors"
)

// Validation errors
var (
	ErrInvalidMaxFields       = errors.New(ErrCodeInvalidMaxFields, "max tracked fields per type must be positive")
	ErrInvalidMaxObjects      = errors.New(ErrCodeInvalidMaxObjects, "max tracked objects must be positive")
	ErrInvalidCachedTypes     = errors.New(ErrCodeInvalidMaxObjects, "max cached types must be positive")
	ErrInvalidMaxAge          = errors.New(ErrCodeInvalidMaxAge, "max age must be positive")
	ErrInvalidInterval        = errors.New(ErrCodeInvalidInterval, "maintenance interval must be positive")
	ErrInvalidDepth           = errors.New(ErrCodeInvalidDepth, "max comparison depth must be positive")
	ErrInvalidConcurrency     = errors.New(ErrCodeInvalidConcurrency, "concurrency limits must be positive")
	ErrInvalidTimeout         = errors.New(ErrCodeInvalidTimeout, "lock and semaphore timeouts must be positive")
	ErrInvalidBufferCapacity  = errors.New(ErrCodeInvalidBufferCapacity, "timing buffer size must be a positive power of 2")
	ErrInvalidPoolCapacity    = errors.New(ErrCodeInvalidBufferCapacity, "pool capacity must be positive")
	ErrInvalidThreshold       = errors.New(ErrCodeInvalidThreshold, "alert thresholds must be non-negative and failure rate at most 1")
	ErrInvalidLogLevel        = errors.New(ErrCodeInvalidLogLevel, "log level must be one of debug, info, warn, error")
	ErrInvalidAuditConfig     = errors.New(ErrCodeInvalidAuditConfig, "audit configuration is invalid")
	ErrInvalidBufferSize      = errors.New(ErrCodeInvalidBufferSize, "buffer size must be positive")
	ErrInvalidFlushInterval   = errors.New(ErrCodeInvalidFlushInterval, "flush interval must be positive")
	ErrInvalidOutputFile      = errors.New(ErrCodeInvalidOutputFile, "audit output file path is invalid")
	ErrUnwritableOutputFile   = errors.New(ErrCodeUnwritableOutputFile, "audit output file is not writable")
	ErrTimeoutTooLarge        = errors.New(ErrCodeInvalidTimeout, "timeouts above 1s can stall callers under contention")
	ErrSnapshotAgeBelowPeriod = errors.New(ErrCodeInvalidMaxAge, "max snapshot age is shorter than the maintenance interval")
)

// validationErrors maps reported messages back to their sentinel errors.
var validationErrors = []error{
	ErrInvalidMaxFields,
	ErrInvalidMaxObjects,
	ErrInvalidCachedTypes,
	ErrInvalidMaxAge,
	ErrInvalidInterval,
	ErrInvalidDepth,
	ErrInvalidConcurrency,
	ErrInvalidTimeout,
	ErrInvalidBufferCapacity,
	ErrInvalidPoolCapacity,
	ErrInvalidThreshold,
	ErrInvalidLogLevel,
	ErrInvalidBufferSize,
	ErrInvalidFlushInterval,
	ErrInvalidOutputFile,
	ErrUnwritableOutputFile,
}

// ValidationResult contains the result of configuration validation with detailed feedback.
type ValidationResult struct {
	Valid    bool     `json:"valid"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
}

// String returns a human-readable representation of validation results
func (vr ValidationResult) String() string {
	if vr.Valid {
		if len(vr.Warnings) == 0 {
			return "Configuration is valid"
		}
		return fmt.Sprintf("Configuration is valid with %d warning(s)", len(vr.Warnings))
	}
	return fmt.Sprintf("Configuration is invalid: %d error(s), %d warning(s)",
		len(vr.Errors), len(vr.Warnings))
}

// Validate returns the first validation error, or nil. Validate checks the
// configuration as given; call WithDefaults first to validate what an
// engine would use.
func (c *Config) Validate() error {
	result := c.ValidateDetailed()
	if result.Valid {
		return nil
	}
	first := result.Errors[0]
	for _, sentinel := range validationErrors {
		if first == sentinel.Error() {
			return sentinel
		}
	}
	return errors.New(ErrCodeInvalidConfig, first)
}

// ValidateDetailed performs comprehensive validation and returns detailed results
// including both errors and warnings
func (c *Config) ValidateDetailed() ValidationResult {
	result := ValidationResult{
		Valid:    true,
		Errors:   make([]string, 0),
		Warnings: make([]string, 0),
	}

	c.validateAnalysis(&result)
	c.validateStorage(&result)
	c.validateConcurrency(&result)
	c.validateMonitoring(&result)
	c.validateAuditConfig(&result)
	c.validatePerformanceConstraints(&result)

	result.Valid = len(result.Errors) == 0
	return result
}

func (c *Config) validateAnalysis(result *ValidationResult) {
	if c.MaxTrackedFieldsPerType <= 0 {
		result.Errors = append(result.Errors, ErrInvalidMaxFields.Error())
	} else if c.MaxTrackedFieldsPerType > 256 {
		result.Warnings = append(result.Warnings,
			"Tracking more than 256 fields per type makes every diff expensive")
	}

	if c.MaxCachedTypes <= 0 {
		result.Errors = append(result.Errors, ErrInvalidCachedTypes.Error())
	}
	if c.MetadataMaxAge <= 0 {
		result.Errors = append(result.Errors, ErrInvalidMaxAge.Error())
	}

	if c.MaxComparisonDepth <= 0 {
		result.Errors = append(result.Errors, ErrInvalidDepth.Error())
	} else if c.MaxComparisonDepth > 32 {
		result.Warnings = append(result.Warnings,
			"Comparison depth above 32 rarely helps and can be slow on deep collections")
	}
}

func (c *Config) validateStorage(result *ValidationResult) {
	if c.MaxTrackedObjects <= 0 {
		result.Errors = append(result.Errors, ErrInvalidMaxObjects.Error())
	} else if c.MaxTrackedObjects > 1_000_000 {
		result.Warnings = append(result.Warnings,
			"More than 1,000,000 tracked objects may consume significant memory")
	}

	if c.MaxSnapshotAge <= 0 {
		result.Errors = append(result.Errors, ErrInvalidMaxAge.Error())
	}
	if c.MaintenanceInterval <= 0 {
		result.Errors = append(result.Errors, ErrInvalidInterval.Error())
	} else if c.MaintenanceInterval < time.Second {
		result.Warnings = append(result.Warnings,
			"Maintenance more often than once per second adds contention")
	}
	if c.MaxSnapshotAge > 0 && c.MaintenanceInterval > 0 && c.MaxSnapshotAge < c.MaintenanceInterval {
		result.Warnings = append(result.Warnings, ErrSnapshotAgeBelowPeriod.Error())
	}

	if c.PoolCapacity <= 0 {
		result.Errors = append(result.Errors, ErrInvalidPoolCapacity.Error())
	}
}

func (c *Config) validateConcurrency(result *ValidationResult) {
	if c.MaxConcurrentOperations <= 0 || c.MaxReadersPerObject <= 0 {
		result.Errors = append(result.Errors, ErrInvalidConcurrency.Error())
	}

	if c.LockTimeout <= 0 || c.SemaphoreTimeout <= 0 {
		result.Errors = append(result.Errors, ErrInvalidTimeout.Error())
	} else if c.LockTimeout > time.Second || c.SemaphoreTimeout > time.Second {
		result.Warnings = append(result.Warnings, ErrTimeoutTooLarge.Error())
	}
}

func (c *Config) validateMonitoring(result *ValidationResult) {
	if c.TimingBufferSize <= 0 || c.TimingBufferSize&(c.TimingBufferSize-1) != 0 {
		result.Errors = append(result.Errors, ErrInvalidBufferCapacity.Error())
	} else if c.TimingBufferSize > 1<<16 {
		result.Warnings = append(result.Warnings,
			"Large timing buffer may consume significant memory")
	}

	a := c.Alerts
	if a.MaxAverageDuration < 0 || a.MaxDuration < 0 || a.MinSamples < 0 ||
		a.MaxFailureRate < 0 || a.MaxFailureRate > 1 {
		result.Errors = append(result.Errors, ErrInvalidThreshold.Error())
	}

	if c.LogLevel != "" {
		if _, ok := parseLogLevel(c.LogLevel); !ok {
			result.Errors = append(result.Errors, ErrInvalidLogLevel.Error())
		}
	}
}

// validateAuditConfig validates audit configuration if enabled
func (c *Config) validateAuditConfig(result *ValidationResult) {
	if !c.Audit.Enabled {
		return
	}

	if c.Audit.BufferSize < 0 {
		result.Errors = append(result.Errors, ErrInvalidBufferSize.Error())
	} else if c.Audit.BufferSize == 0 {
		result.Warnings = append(result.Warnings, "Audit buffer size is 0, consider setting to 100-1000 for better performance")
	} else if c.Audit.BufferSize > 10000 {
		result.Warnings = append(result.Warnings, "Large audit buffer size may consume significant memory")
	}

	if c.Audit.FlushInterval < 0 {
		result.Errors = append(result.Errors, ErrInvalidFlushInterval.Error())
	} else if c.Audit.FlushInterval == 0 {
		result.Warnings = append(result.Warnings, "Audit flush interval is 0, events will be written immediately (may impact performance)")
	}

	if c.Audit.OutputFile == "" {
		result.Errors = append(result.Errors, ErrInvalidOutputFile.Error())
		return
	}
	if err := validateOutputFile(c.Audit.OutputFile); err != nil {
		result.Errors = append(result.Errors, err.Error())
	}
}

// validateOutputFile checks if the audit output file path is valid and writable
func validateOutputFile(outputFile string) error {
	cleanPath := filepath.Clean(outputFile)
	if cleanPath == "." || cleanPath == "/" {
		return errors.New(ErrCodeInvalidOutputFile,
			fmt.Sprintf("path '%s' is not a valid file path", outputFile))
	}

	dir := filepath.Dir(cleanPath)
	info, err := os.Stat(dir)
	switch {
	case os.IsNotExist(err):
		// The audit logger creates missing directories.
		return nil
	case err != nil:
		return errors.Wrap(err, ErrCodeUnwritableOutputFile,
			fmt.Sprintf("cannot access directory '%s'", dir))
	case !info.IsDir():
		return errors.New(ErrCodeInvalidOutputFile,
			fmt.Sprintf("'%s' is not a directory", dir))
	}
	return nil
}

// validatePerformanceConstraints adds performance-related warnings
func (c *Config) validatePerformanceConstraints(result *ValidationResult) {
	if c.MaxConcurrentOperations > 0 && c.MaxConcurrentOperations < 2 {
		result.Warnings = append(result.Warnings,
			"A single operation slot serializes every capture and diff")
	}

	if c.DisableAutoTracking && c.DisableContentTracking {
		result.Warnings = append(result.Warnings,
			"Auto and content tracking are both disabled; only explicit fields compared by identity are tracked")
	}

	if c.Audit.Enabled && c.Audit.FlushInterval > 0 && c.Audit.FlushInterval < 100*time.Millisecond {
		result.Warnings = append(result.Warnings,
			"Frequent audit flushing may impact I/O performance")
	}

	// ~64 bytes per field value plus entry overhead
	memoryEst := c.MaxTrackedObjects*(128+c.MaxTrackedFieldsPerType*64) + int(c.TimingBufferSize*96)
	if memoryEst > 512*1024*1024 {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("Configuration may use ~%dMB memory, consider reducing limits", memoryEst/(1024*1024)))
	}
}

// GetValidationErrorCode extracts the error code from a mnemos error
func GetValidationErrorCode(err error) string {
	if err == nil {
		return ""
	}
	if coder, ok := err.(errors.ErrorCoder); ok {
		return string(coder.ErrorCode())
	}

	errStr := err.Error()

	// Handle go-errors format: [CODE]: Message
	if len(errStr) > 3 && errStr[0] == '[' {
		if idx := strings.IndexByte(errStr, ']'); idx > 1 {
			return errStr[1:idx]
		}
	}
	if idx := strings.IndexByte(errStr, ':'); idx >= 0 {
		return errStr[:idx]
	}
	return errStr
}

// IsValidationError checks if an error carries a mnemos error code
func IsValidationError(err error) bool {
	return strings.HasPrefix(GetValidationErrorCode(err), "MNEMOS_")
}
