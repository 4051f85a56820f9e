// audit.go: Audit trail for engine failures and lifecycle
//
// Recovered failures never surface through the engine API; the audit trail
// is where they become durable. Events are buffered, checksummed and
// written in batches to a pluggable backend.
//
// Copyright (c) 2025 AGILira
// Series: AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
)

// AuditLevel represents the severity of audit events
type AuditLevel int

const (
	AuditInfo AuditLevel = iota
	AuditWarn
	AuditError
	AuditCritical
)

func (al AuditLevel) String() string {
	switch al {
	case AuditInfo:
		return "INFO"
	case AuditWarn:
		return "WARN"
	case AuditError:
		return "ERROR"
	case AuditCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// ParseAuditLevel converts a level name (case-insensitive) to an AuditLevel.
func ParseAuditLevel(name string) (AuditLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "INFO":
		return AuditInfo, true
	case "WARN", "WARNING":
		return AuditWarn, true
	case "ERROR":
		return AuditError, true
	case "CRITICAL":
		return AuditCritical, true
	default:
		return AuditInfo, false
	}
}

// Audit event names.
const (
	AuditFieldReadFailure  = "field_read_failure"
	AuditComparisonFailure = "comparison_failure"
	AuditAnalysisFailure   = "analysis_failure"
	AuditLockTimeout       = "lock_timeout"
	AuditSemaphoreTimeout  = "semaphore_timeout"
	AuditPerformanceAlert  = "performance_alert"
	AuditTrackingRemoved   = "tracking_removed"
	AuditEngineStart       = "engine_start"
	AuditEngineStop        = "engine_stop"
	AuditEngineError       = "engine_error"
)

const auditComponent = "mnemos"

// AuditEvent represents a single auditable event
type AuditEvent struct {
	Timestamp   time.Time              `json:"timestamp"`
	Level       AuditLevel             `json:"level"`
	Event       string                 `json:"event"`
	Component   string                 `json:"component"`
	EngineID    string                 `json:"engine_id,omitempty"`
	Operation   string                 `json:"operation,omitempty"`
	ObjectType  string                 `json:"object_type,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Message     string                 `json:"message,omitempty"`
	ProcessID   int                    `json:"process_id"`
	ProcessName string                 `json:"process_name"`
	Context     map[string]interface{} `json:"context,omitempty"`
	Checksum    string                 `json:"checksum"` // For tamper detection
}

// AuditConfig configures the audit system
type AuditConfig struct {
	Enabled       bool          `json:"enabled" yaml:"enabled"`
	OutputFile    string        `json:"output_file" yaml:"output_file"`
	MinLevel      AuditLevel    `json:"min_level" yaml:"min_level"`
	BufferSize    int           `json:"buffer_size" yaml:"buffer_size"`
	FlushInterval time.Duration `json:"flush_interval" yaml:"flush_interval"`
	Retention     time.Duration `json:"retention" yaml:"retention"`
}

// DefaultAuditConfig returns the default audit configuration. Auditing is
// off by default; when enabled without an OutputFile, events go to the
// shared SQLite database under the system temp directory.
func DefaultAuditConfig() AuditConfig {
	return AuditConfig{
		Enabled:       false,
		OutputFile:    "",
		MinLevel:      AuditInfo,
		BufferSize:    256,
		FlushInterval: 5 * time.Second,
		Retention:     90 * 24 * time.Hour,
	}
}

// DefaultAuditPath returns the shared SQLite audit database path.
func DefaultAuditPath() string {
	return filepath.Join(os.TempDir(), "mnemos", "audit.db")
}

// AuditLogger buffers audit events and writes them to a backend (SQLite or
// JSONL) in batches, from the caller on a full buffer and from a background
// flusher on FlushInterval.
type AuditLogger struct {
	config      AuditConfig
	backend     auditBackend
	buffer      []AuditEvent
	bufferMu    sync.Mutex
	flushTicker *time.Ticker
	stopCh      chan struct{}
	closeOnce   sync.Once
	closed      atomic.Bool
	processID   int
	processName string
}

// NewAuditLogger creates an audit logger. A disabled configuration yields a
// logger that drops every event without touching the filesystem.
func NewAuditLogger(config AuditConfig) (*AuditLogger, error) {
	logger := &AuditLogger{
		config:      config,
		stopCh:      make(chan struct{}),
		processID:   os.Getpid(),
		processName: getProcessName(),
	}
	if !config.Enabled {
		return logger, nil
	}

	backend, err := createAuditBackend(config)
	if err != nil {
		return nil, errors.Wrap(err, ErrCodeInvalidAuditConfig, "failed to initialize audit backend")
	}
	logger.backend = backend
	logger.buffer = make([]AuditEvent, 0, max(config.BufferSize, 0))

	if config.FlushInterval > 0 {
		logger.flushTicker = time.NewTicker(config.FlushInterval)
		go logger.flushLoop()
	}

	return logger, nil
}

// OpenAuditTrail opens an existing trail for querying and maintenance.
// An empty path selects DefaultAuditPath.
func OpenAuditTrail(path string) (*AuditLogger, error) {
	if path == "" {
		path = DefaultAuditPath()
	}
	cfg := DefaultAuditConfig()
	cfg.Enabled = true
	cfg.OutputFile = path
	cfg.FlushInterval = 0
	return NewAuditLogger(cfg)
}

// Log records an audit event. Timestamp, component, process fields and
// checksum are filled in here.
func (al *AuditLogger) Log(event AuditEvent) {
	if al == nil || al.backend == nil || al.closed.Load() || event.Level < al.config.MinLevel {
		return
	}

	event.Timestamp = timecache.CachedTime()
	event.Component = auditComponent
	event.ProcessID = al.processID
	event.ProcessName = al.processName
	event.Checksum = al.generateChecksum(event)

	al.bufferMu.Lock()
	al.buffer = append(al.buffer, event)
	if len(al.buffer) >= al.config.BufferSize {
		_ = al.flushBufferUnsafe() // A failed flush keeps the events for the next attempt
	}
	al.bufferMu.Unlock()
}

// LogFailure records a recovered engine failure. The event name and level
// are derived from the error code.
func (al *AuditLogger) LogFailure(engineID, operation string, err error) {
	if err == nil {
		return
	}
	code := GetValidationErrorCode(err)
	event, level := failureEvent(code)
	al.Log(AuditEvent{
		Level:     level,
		Event:     event,
		EngineID:  engineID,
		Operation: operation,
		Code:      code,
		Message:   err.Error(),
	})
}

// LogAlert records a performance alert.
func (al *AuditLogger) LogAlert(engineID string, alert Alert) {
	level := AuditInfo
	switch alert.Severity {
	case SeverityWarning:
		level = AuditWarn
	case SeverityError:
		level = AuditError
	case SeverityCritical:
		level = AuditCritical
	}
	al.Log(AuditEvent{
		Level:     level,
		Event:     AuditPerformanceAlert,
		EngineID:  engineID,
		Operation: alert.Operation,
		Message:   alert.Message,
		Context: map[string]interface{}{
			"metric":    alert.Metric,
			"observed":  alert.Observed,
			"threshold": alert.Threshold,
			"severity":  alert.Severity.String(),
		},
	})
}

// LogLifecycle records engine lifecycle and bookkeeping events.
func (al *AuditLogger) LogLifecycle(engineID, event, objectType string, context map[string]interface{}) {
	al.Log(AuditEvent{
		Level:      AuditInfo,
		Event:      event,
		EngineID:   engineID,
		ObjectType: objectType,
		Context:    context,
	})
}

func failureEvent(code string) (string, AuditLevel) {
	switch code {
	case ErrCodeFieldReadFailed:
		return AuditFieldReadFailure, AuditWarn
	case ErrCodeComparisonFailed:
		return AuditComparisonFailure, AuditWarn
	case ErrCodeAnalysisFailed, ErrCodeInvalidTag:
		return AuditAnalysisFailure, AuditError
	case ErrCodeLockTimeout:
		return AuditLockTimeout, AuditWarn
	case ErrCodeSemaphoreTimeout:
		return AuditSemaphoreTimeout, AuditWarn
	default:
		return AuditEngineError, AuditError
	}
}

// Query returns stored events matching q, newest first. Buffered events
// are flushed first.
func (al *AuditLogger) Query(q AuditQuery) ([]AuditRecord, error) {
	if al == nil || al.backend == nil {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit trail is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.Query(q)
}

// Cleanup deletes events older than olderThan. With dryRun it only counts them.
func (al *AuditLogger) Cleanup(olderThan time.Duration, dryRun bool) (int64, error) {
	if al == nil || al.backend == nil {
		return 0, errors.New(ErrCodeInvalidAuditConfig, "audit trail is disabled")
	}
	if err := al.Flush(); err != nil {
		return 0, err
	}
	return al.backend.Cleanup(olderThan, dryRun)
}

// Stats returns backend statistics.
func (al *AuditLogger) Stats() (*AuditDatabaseStats, error) {
	if al == nil || al.backend == nil {
		return nil, errors.New(ErrCodeInvalidAuditConfig, "audit trail is disabled")
	}
	if err := al.Flush(); err != nil {
		return nil, err
	}
	return al.backend.GetStats()
}

// Maintenance applies the retention policy and optimizes the backend.
func (al *AuditLogger) Maintenance() error {
	if al == nil || al.backend == nil {
		return nil
	}
	return al.backend.Maintenance()
}

// Flush immediately writes all buffered events
func (al *AuditLogger) Flush() error {
	if al == nil || al.backend == nil {
		return nil
	}
	al.bufferMu.Lock()
	defer al.bufferMu.Unlock()
	return al.flushBufferUnsafe()
}

// Close flushes pending events and releases the backend. It is safe to
// call more than once.
func (al *AuditLogger) Close() error {
	if al == nil {
		return nil
	}
	var err error
	al.closeOnce.Do(func() {
		al.closed.Store(true)
		close(al.stopCh)
		if al.flushTicker != nil {
			al.flushTicker.Stop()
		}
		if al.backend == nil {
			return
		}
		if flushErr := al.Flush(); flushErr != nil {
			err = errors.Wrap(flushErr, ErrCodeIOError, "failed to flush audit logger during close")
		}
		if closeErr := al.backend.Close(); closeErr != nil && err == nil {
			err = errors.Wrap(closeErr, ErrCodeIOError, "failed to close audit backend")
		}
	})
	return err
}

// flushLoop runs the background flush process
func (al *AuditLogger) flushLoop() {
	for {
		select {
		case <-al.flushTicker.C:
			_ = al.Flush()
		case <-al.stopCh:
			return
		}
	}
}

// flushBufferUnsafe writes buffer to backend storage (caller must hold bufferMu).
func (al *AuditLogger) flushBufferUnsafe() error {
	if len(al.buffer) == 0 {
		return nil
	}
	if err := al.backend.Write(al.buffer); err != nil {
		return errors.Wrap(err, ErrCodeIOError, "failed to write audit events to backend")
	}
	al.buffer = al.buffer[:0]
	return nil
}

// generateChecksum creates a tamper-detection checksum using SHA-256
func (al *AuditLogger) generateChecksum(event AuditEvent) string {
	data := fmt.Sprintf("%d:%s:%s:%s:%s:%s",
		event.Timestamp.UnixNano(),
		event.Event, event.Component, event.EngineID, event.Code, event.Message)
	hash := sha256.Sum256([]byte(data))
	return fmt.Sprintf("%x", hash)
}

// VerifyChecksum reports whether event still matches its checksum.
func VerifyChecksum(event AuditEvent) bool {
	return (&AuditLogger{}).generateChecksum(event) == event.Checksum
}

func getProcessName() string {
	if len(os.Args) > 0 {
		return filepath.Base(os.Args[0])
	}
	return "mnemos"
}
