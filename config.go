// config.go: Configuration for the mnemos change tracking engine
//
// Copyright (c) 2025 AGILira
// Series: AGILira System Libraries
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"log/slog"
	"runtime"
	"strings"
	"time"
)

// Config holds the engine configuration. The zero value is usable: every
// unset field is filled by WithDefaults. A Config is read once, when the
// engine is created.
type Config struct {
	// MaxTrackedFieldsPerType caps tracked fields per type. Explicitly
	// tracked fields always count; auto-tracked fields are trimmed to fit.
	// Default: 32
	MaxTrackedFieldsPerType int

	// MaxCachedTypes bounds the metadata cache.
	// Default: 1024
	MaxCachedTypes int

	// MetadataMaxAge is the age after which cached metadata that is not in
	// use is evicted.
	// Default: 1 hour
	MetadataMaxAge time.Duration

	// DisableAutoTracking turns off heuristic tracking of simple fields;
	// only explicitly tracked fields are captured.
	DisableAutoTracking bool

	// DisableContentTracking makes every collection compare by identity,
	// regardless of per-field content options.
	DisableContentTracking bool

	// MaxComparisonDepth bounds element-wise comparison of nested
	// collections when a field does not set its own depth.
	// Default: 5
	MaxComparisonDepth int

	// MaxTrackedObjects bounds the snapshot store.
	// Default: 10000
	MaxTrackedObjects int

	// MaxSnapshotAge is the age after which a stored snapshot is dropped
	// by maintenance.
	// Default: 30 minutes
	MaxSnapshotAge time.Duration

	// PoolCapacity is the number of idle snapshots kept for reuse.
	// Default: 256
	PoolCapacity int

	// MaxConcurrentOperations bounds concurrent captures and diffs.
	// Default: 4 * GOMAXPROCS
	MaxConcurrentOperations int

	// MaxReadersPerObject bounds concurrent captures of one object.
	// Default: 64
	MaxReadersPerObject int

	// LockTimeout bounds the wait for a per-object lock.
	// Default: 100ms
	LockTimeout time.Duration

	// SemaphoreTimeout bounds the wait for a global operation slot.
	// Default: 100ms
	SemaphoreTimeout time.Duration

	// MaintenanceInterval is the period of the background maintenance loop
	// and the minimum spacing of opportunistic metadata maintenance.
	// Default: 1 minute
	MaintenanceInterval time.Duration

	// TimingBufferSize is the number of recent timings kept (power of 2).
	// Default: 1024
	TimingBufferSize int64

	// Alerts configures performance alert thresholds.
	// Default: 5ms average, 100ms max, 5% failures, 10 samples
	Alerts AlertThresholds

	// Audit configuration for the failure and lifecycle trail.
	// Default: disabled
	Audit AuditConfig

	// ErrorHandler receives every recovered failure. It must not block.
	// Example: func(err error) { metrics.Increment("mnemos.errors") }
	ErrorHandler ErrorHandler

	// Logger receives diagnostic messages. Default: slog text logger on
	// stderr at LogLevel.
	Logger Logger

	// LogLevel is used when Logger is nil: debug, info, warn or error.
	// Default: warn
	LogLevel string
}

// DefaultAlertThresholds returns the default alert configuration.
func DefaultAlertThresholds() AlertThresholds {
	return AlertThresholds{
		MaxAverageDuration: 5 * time.Millisecond,
		MaxDuration:        100 * time.Millisecond,
		MaxFailureRate:     0.05,
		MinSamples:         10,
	}
}

// WithDefaults applies sensible defaults to the configuration
func (c *Config) WithDefaults() *Config {
	config := *c

	if config.MaxTrackedFieldsPerType <= 0 {
		config.MaxTrackedFieldsPerType = 32
	}
	if config.MaxCachedTypes <= 0 {
		config.MaxCachedTypes = 1024
	}
	if config.MetadataMaxAge <= 0 {
		config.MetadataMaxAge = time.Hour
	}
	if config.MaxComparisonDepth <= 0 {
		config.MaxComparisonDepth = 5
	}
	if config.MaxTrackedObjects <= 0 {
		config.MaxTrackedObjects = 10000
	}
	if config.MaxSnapshotAge <= 0 {
		config.MaxSnapshotAge = 30 * time.Minute
	}
	if config.PoolCapacity <= 0 {
		config.PoolCapacity = 256
	}
	if config.MaxConcurrentOperations <= 0 {
		config.MaxConcurrentOperations = 4 * runtime.GOMAXPROCS(0)
	}
	if config.MaxReadersPerObject <= 0 {
		config.MaxReadersPerObject = 64
	}
	if config.LockTimeout <= 0 {
		config.LockTimeout = 100 * time.Millisecond
	}
	if config.SemaphoreTimeout <= 0 {
		config.SemaphoreTimeout = 100 * time.Millisecond
	}
	if config.MaintenanceInterval <= 0 {
		config.MaintenanceInterval = time.Minute
	}

	if config.TimingBufferSize <= 0 {
		config.TimingBufferSize = 1024
	}
	// Ensure capacity is power of 2
	if config.TimingBufferSize&(config.TimingBufferSize-1) != 0 {
		capacity := int64(1)
		for capacity < config.TimingBufferSize {
			capacity <<= 1
		}
		config.TimingBufferSize = capacity
	}

	if config.Alerts == (AlertThresholds{}) {
		config.Alerts = DefaultAlertThresholds()
	}
	if config.Audit == (AuditConfig{}) {
		config.Audit = DefaultAuditConfig()
	}

	if config.LogLevel == "" {
		config.LogLevel = "warn"
	}
	if config.Logger == nil {
		level, ok := parseLogLevel(config.LogLevel)
		if !ok {
			level = slog.LevelWarn
		}
		config.Logger = NewDefaultLogger(level)
	}

	return &config
}

// parseLogLevel maps a level name to a slog level.
func parseLogLevel(name string) (slog.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return slog.LevelDebug, true
	case "info":
		return slog.LevelInfo, true
	case "warn", "warning":
		return slog.LevelWarn, true
	case "error":
		return slog.LevelError, true
	default:
		return slog.LevelWarn, false
	}
}
