// mnemos: Identity-keyed state snapshots and field-level change detection
//
// Philosophy:
// - Never disturb the host: failures are recovered, counted and reported,
//   never raised through the public API
// - Bounded everything: metadata cache, snapshot store, pooled buffers,
//   concurrent operations and every wait
// - Identity, not equality: objects are keyed by weak references to their
//   address and never kept alive by the engine
// - Lock-free hot paths (xsync maps and counters, atomic statistics)
//
// Example Usage:
//   engine := mnemos.New(mnemos.Config{MaxTrackedObjects: 5000})
//   if err := engine.Start(); err != nil {
//       return err
//   }
//   defer engine.Close()
//
//   widget := &Widget{Name: "gear", Price: 10}
//   engine.DetectChanges(widget) // every tracked field reported as Added
//   widget.Price = 12
//   result := engine.DetectChanges(widget)
//   for _, change := range result.Changes {
//       log.Printf("%s: %v -> %v (%s)", change.Field, change.Previous, change.Current, change.Reason)
//   }
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Error codes for mnemos operations
const (
	ErrCodeInvalidConfig          = "MNEMOS_INVALID_CONFIG"
	ErrCodeFileNotFound           = "MNEMOS_FILE_NOT_FOUND"
	ErrCodeConfigNotFound         = "MNEMOS_CONFIG_NOT_FOUND"
	ErrCodeEngineRunning          = "MNEMOS_ENGINE_RUNNING"
	ErrCodeEngineStopped          = "MNEMOS_ENGINE_STOPPED"
	ErrCodeEngineClosed           = "MNEMOS_ENGINE_CLOSED"
	ErrCodeInvalidTag             = "MNEMOS_INVALID_TAG"
	ErrCodeInvalidRegistration    = "MNEMOS_INVALID_REGISTRATION"
	ErrCodeAnalysisFailed         = "MNEMOS_ANALYSIS_FAILED"
	ErrCodeFieldReadFailed        = "MNEMOS_FIELD_READ_FAILED"
	ErrCodeComparisonFailed       = "MNEMOS_COMPARISON_FAILED"
	ErrCodeLockTimeout            = "MNEMOS_LOCK_TIMEOUT"
	ErrCodeSemaphoreTimeout       = "MNEMOS_SEMAPHORE_TIMEOUT"
	ErrCodeNotTrackable           = "MNEMOS_NOT_TRACKABLE"
	ErrCodeInvalidMaxFields       = "MNEMOS_INVALID_MAX_FIELDS"
	ErrCodeInvalidMaxObjects      = "MNEMOS_INVALID_MAX_OBJECTS"
	ErrCodeInvalidMaxAge          = "MNEMOS_INVALID_MAX_AGE"
	ErrCodeInvalidInterval        = "MNEMOS_INVALID_INTERVAL"
	ErrCodeInvalidDepth           = "MNEMOS_INVALID_DEPTH"
	ErrCodeInvalidConcurrency     = "MNEMOS_INVALID_CONCURRENCY"
	ErrCodeInvalidTimeout         = "MNEMOS_INVALID_TIMEOUT"
	ErrCodeInvalidBufferCapacity  = "MNEMOS_INVALID_BUFFER_CAPACITY"
	ErrCodeInvalidThreshold       = "MNEMOS_INVALID_THRESHOLD"
	ErrCodeInvalidLogLevel        = "MNEMOS_INVALID_LOG_LEVEL"
	ErrCodeInvalidAuditConfig     = "MNEMOS_INVALID_AUDIT_CONFIG"
	ErrCodeInvalidBufferSize      = "MNEMOS_INVALID_BUFFER_SIZE"
	ErrCodeInvalidFlushInterval   = "MNEMOS_INVALID_FLUSH_INTERVAL"
	ErrCodeInvalidOutputFile      = "MNEMOS_INVALID_OUTPUT_FILE"
	ErrCodeUnwritableOutputFile   = "MNEMOS_UNWRITABLE_OUTPUT_FILE"
	ErrCodeAuditQueryUnsupported  = "MNEMOS_AUDIT_QUERY_UNSUPPORTED"
	ErrCodeIOError                = "MNEMOS_IO_ERROR"
)

// ErrorHandler receives failures the engine recovered from. It is called
// synchronously on the goroutine that hit the failure; a panicking handler
// is recovered.
type ErrorHandler func(err error)

// Engine ties the analyzer, comparator, snapshot factory, store, guard and
// monitor together behind the public tracking API. All methods are safe for
// concurrent use.
type Engine struct {
	id     uuid.UUID
	config Config

	analyzer   *FieldAnalyzer
	comparator *Comparator
	factory    *SnapshotFactory
	store      *SnapshotStore
	guard      *ConcurrencyGuard
	monitor    *PerformanceMonitor

	auditLogger *AuditLogger
	logger      Logger

	lifecycleMu sync.Mutex
	running     atomic.Bool
	closed      atomic.Bool
	stopCh      chan struct{}
	stoppedCh   chan struct{}
}

// New creates an engine. The configuration is completed with WithDefaults;
// an audit trail that cannot be opened is disabled with a warning rather
// than failing construction.
func New(config Config) *Engine {
	cfg := config.WithDefaults()

	e := &Engine{
		id:         uuid.New(),
		config:     *cfg,
		analyzer:   NewFieldAnalyzer(*cfg),
		comparator: NewComparator(*cfg),
		factory:    NewSnapshotFactory(*cfg),
		guard:      NewConcurrencyGuard(*cfg),
		monitor:    NewPerformanceMonitor(*cfg),
		logger:     cfg.Logger,
	}
	e.store = NewSnapshotStore(*cfg, e.factory.pool)
	e.store.onEvict = e.guard.reclaim

	e.analyzer.report = e.reportFailure
	e.comparator.report = e.reportFailure
	e.factory.report = e.reportFailure
	e.guard.report = e.reportFailure

	auditLogger, err := NewAuditLogger(cfg.Audit)
	if err != nil {
		e.logger.Warn("audit trail disabled", "error", err.Error())
		auditLogger, _ = NewAuditLogger(AuditConfig{Enabled: false})
	}
	e.auditLogger = auditLogger

	return e
}

// ID returns the engine instance id used in audit events and metrics.
func (e *Engine) ID() uuid.UUID {
	return e.id
}

// Config returns the effective configuration.
func (e *Engine) Config() Config {
	return e.config
}

// AnalyzeType returns the tracking metadata for t. Pointer types resolve to
// their element type; non-struct types yield disabled metadata.
func (e *Engine) AnalyzeType(t reflect.Type) *TypeMetadata {
	meta, _ := MeasureValue(e.monitor, OpAnalyzeType, func() (*TypeMetadata, error) {
		return e.analyzer.AnalyzeContext(context.Background(), t)
	})
	if meta == nil {
		meta = disabledMetadata(structType(t), "analysis abandoned")
	}
	return meta
}

// AnalyzeTypeOf is AnalyzeType for the dynamic type of v.
func (e *Engine) AnalyzeTypeOf(v any) *TypeMetadata {
	return e.AnalyzeType(reflect.TypeOf(v))
}

// CaptureSnapshot records the current tracked state of obj, which must be a
// non-nil pointer to a struct, and returns it. It returns nil when obj is
// not trackable, its type has tracking disabled, or the guard timed out.
func (e *Engine) CaptureSnapshot(obj any) *Snapshot {
	return e.CaptureSnapshotContext(context.Background(), obj)
}

// CaptureSnapshotContext is CaptureSnapshot bounded by ctx. A worker id set
// with WithWorkerID is recorded on the snapshot.
func (e *Engine) CaptureSnapshotContext(ctx context.Context, obj any) *Snapshot {
	key, ok := identityOf(obj)
	if !ok {
		return nil
	}

	var snap *Snapshot
	_ = e.monitor.Measure(OpCaptureSnapshot, func() error {
		return e.guard.Read(ctx, key, func() error {
			meta, err := e.analyzer.AnalyzeContext(ctx, key.typ)
			if err != nil {
				return err
			}
			if meta.TrackingDisabled {
				return nil
			}
			captured, err := e.factory.CaptureContext(ctx, obj, meta)
			if err != nil {
				return err
			}
			snap = captured.escape()
			e.store.put(key, snap)
			return nil
		})
	})
	return snap
}

// DetectChanges captures obj, compares it with the previously stored
// snapshot of the same instance and stores the new one. The first call for
// an instance reports every tracked field as Added. Untrackable objects,
// disabled types and guard timeouts yield the zero ChangeResult.
func (e *Engine) DetectChanges(obj any) ChangeResult {
	return e.DetectChangesContext(context.Background(), obj)
}

// DetectChangesContext is DetectChanges bounded by ctx. Diffs of the same
// instance are serialized; different instances proceed independently.
func (e *Engine) DetectChangesContext(ctx context.Context, obj any) ChangeResult {
	key, ok := identityOf(obj)
	if !ok {
		return ChangeResult{}
	}

	var result ChangeResult
	_ = e.monitor.Measure(OpDetectChanges, func() error {
		return e.guard.Write(ctx, key, func() error {
			meta, err := e.analyzer.AnalyzeContext(ctx, key.typ)
			if err != nil {
				return err
			}
			if meta.TrackingDisabled {
				return nil
			}
			current, err := e.factory.CaptureContext(ctx, obj, meta)
			if err != nil {
				return err
			}

			previous := e.store.acquire(key)
			result = current.DiffFrom(previous, e.comparator)
			if previous != nil {
				previous.release()
			}
			e.store.put(key, current)
			return nil
		})
	})
	return result
}

// RemoveTracking forgets obj: its stored snapshot is released and its lock
// reclaimed. Unknown objects are ignored.
func (e *Engine) RemoveTracking(obj any) {
	_ = e.monitor.Measure(OpRemoveTracking, func() error {
		e.removeTracking(obj)
		return nil
	})
}

func (e *Engine) removeTracking(obj any) bool {
	key, ok := identityOf(obj)
	if !ok {
		return false
	}
	if e.store.remove(key) {
		e.auditLogger.LogLifecycle(e.id.String(), AuditTrackingRemoved, key.typ.String(), nil)
		return true
	}
	e.guard.reclaim(key)
	return false
}

// BulkCleanup keeps tracking only the objects in active. Every other stored
// snapshot is released and the lock of every other object reclaimed. It
// returns the number of snapshots removed.
func (e *Engine) BulkCleanup(active []any) int {
	removed, _ := MeasureValue(e.monitor, OpBulkCleanup, func() (int, error) {
		keep := make(map[instanceKey]struct{}, len(active))
		for _, obj := range active {
			if key, ok := identityOf(obj); ok {
				keep[key] = struct{}{}
			}
		}

		keys := e.store.retain(keep)
		for _, key := range keys {
			e.auditLogger.LogLifecycle(e.id.String(), AuditTrackingRemoved, key.typ.String(), nil)
		}
		e.guard.retain(keep)
		return len(keys), nil
	})
	return removed
}

// Register installs explicit tracking rules for t, overriding struct tags
// field by field. Cached metadata for t is invalidated.
func (e *Engine) Register(t reflect.Type, spec *TypeSpec) error {
	if err := e.analyzer.Register(t, spec); err != nil {
		return err
	}
	e.logger.Debug("type registered", "type", structType(t).String())
	return nil
}

// RegisterEqualityFunc installs fn as the equality for values of type t on
// fields that opt into custom equality. A nil fn removes it.
func (e *Engine) RegisterEqualityFunc(t reflect.Type, fn EqualityFunc) {
	e.comparator.RegisterEquality(t, fn)
}

// RegisterEquality is the typed form of Engine.RegisterEqualityFunc.
func RegisterEquality[T any](e *Engine, fn func(a, b T) bool) {
	RegisterEqualityFunc(e.comparator, fn)
}

// Alerts evaluates the configured thresholds against current statistics.
func (e *Engine) Alerts() []Alert {
	return e.monitor.Alerts()
}

// RecentTimings returns up to max recent timings of operation, oldest
// first. An empty operation returns timings of every operation.
func (e *Engine) RecentTimings(operation string, max int) []TimingRecord {
	return e.monitor.RecentTimings(operation, max)
}

// GetStatistics returns a point-in-time view of every component.
func (e *Engine) GetStatistics() Statistics {
	return Statistics{
		EngineID:    e.id,
		Running:     e.running.Load(),
		Cache:       e.analyzer.Stats(),
		Storage:     e.store.Stats(),
		Threading:   e.guard.Stats(),
		Comparison:  e.comparator.Stats(),
		Capture:     e.factory.Stats(),
		Performance: e.monitor.Summary(),
		CollectedAt: timecache.CachedTime(),
	}
}

// MaintenanceReport describes one maintenance pass.
type MaintenanceReport struct {
	SnapshotsEvicted int
	LocksReclaimed   int
	TypesEvicted     int
	Alerts           []Alert
	Duration         time.Duration
}

// Maintain runs one maintenance pass: store eviction, lock reclamation for
// collected objects, metadata cache eviction and alert evaluation. Started
// engines run it every MaintenanceInterval.
func (e *Engine) Maintain() MaintenanceReport {
	start := time.Now()
	var report MaintenanceReport
	_ = e.monitor.Measure(OpMaintenance, func() error {
		report.SnapshotsEvicted = e.store.Cleanup()
		report.LocksReclaimed = e.guard.sweep()
		report.TypesEvicted = e.analyzer.Maintain()
		report.Alerts = e.monitor.Alerts()
		return nil
	})
	report.Duration = time.Since(start)

	for _, alert := range report.Alerts {
		if alert.Severity >= SeverityWarning {
			e.logger.Warn("performance alert", "operation", alert.Operation,
				"metric", alert.Metric, "severity", alert.Severity.String(), "message", alert.Message)
		}
		e.auditLogger.LogAlert(e.id.String(), alert)
	}
	if err := e.auditLogger.Maintenance(); err != nil {
		e.logger.Warn("audit maintenance failed", "error", err.Error())
	}

	e.logger.Debug("maintenance completed",
		"snapshots_evicted", report.SnapshotsEvicted,
		"locks_reclaimed", report.LocksReclaimed,
		"types_evicted", report.TypesEvicted,
		"alerts", len(report.Alerts),
		"duration", report.Duration)
	return report
}

// Start launches the background maintenance loop.
func (e *Engine) Start() error {
	if e.closed.Load() {
		return errors.New(ErrCodeEngineClosed, "engine is closed")
	}

	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if !e.running.CompareAndSwap(false, true) {
		return errors.New(ErrCodeEngineRunning, "engine is already running")
	}

	e.stopCh = make(chan struct{})
	e.stoppedCh = make(chan struct{})
	go e.maintenanceLoop(e.stopCh, e.stoppedCh)

	e.auditLogger.LogLifecycle(e.id.String(), AuditEngineStart, "", map[string]interface{}{
		"maintenance_interval": e.config.MaintenanceInterval.String(),
		"max_tracked_objects":  e.config.MaxTrackedObjects,
	})
	e.logger.Info("engine started", "engine_id", e.id.String())
	return nil
}

// Stop halts the maintenance loop and waits for it to exit. Tracking
// operations keep working on a stopped engine.
func (e *Engine) Stop() error {
	e.lifecycleMu.Lock()
	defer e.lifecycleMu.Unlock()
	if !e.running.CompareAndSwap(true, false) {
		return errors.New(ErrCodeEngineStopped, "engine is not running")
	}

	close(e.stopCh)
	<-e.stoppedCh

	e.auditLogger.LogLifecycle(e.id.String(), AuditEngineStop, "", nil)
	e.logger.Info("engine stopped", "engine_id", e.id.String())
	return nil
}

// IsRunning returns true if the maintenance loop is active
func (e *Engine) IsRunning() bool {
	return e.running.Load()
}

// Close stops the engine if it is running and closes the audit trail.
// Close is idempotent.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.running.Load() {
		_ = e.Stop()
	}
	return e.auditLogger.Close()
}

func (e *Engine) maintenanceLoop(stopCh <-chan struct{}, stoppedCh chan<- struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(e.config.MaintenanceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			e.Maintain()
		}
	}
}

// reportFailure is the sink for every recovered failure: diagnostic log,
// audit trail and the configured ErrorHandler.
func (e *Engine) reportFailure(err error) {
	if err == nil {
		return
	}

	code := GetValidationErrorCode(err)
	switch code {
	case ErrCodeFieldReadFailed, ErrCodeComparisonFailed:
		e.logger.Debug("recovered failure", "code", code, "error", err.Error())
	default:
		e.logger.Warn("recovered failure", "code", code, "error", err.Error())
	}

	e.auditLogger.LogFailure(e.id.String(), "", err)

	if handler := e.config.ErrorHandler; handler != nil {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error("error handler panicked", "panic", r)
			}
		}()
		handler(err)
	}
}
