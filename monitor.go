// monitor.go: PerformanceMonitor - per-operation timing and alerting
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"math"
	"slices"
	"strings"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/puzpuzpuz/xsync/v3"
)

// Engine operation names.
const (
	OpAnalyzeType     = "analyze_type"
	OpCaptureSnapshot = "capture_snapshot"
	OpDetectChanges   = "detect_changes"
	OpRemoveTracking  = "remove_tracking"
	OpBulkCleanup     = "bulk_cleanup"
	OpMaintenance     = "maintenance"
)

// OperationStatistics aggregates every measured call of one operation.
type OperationStatistics struct {
	Operation string        `json:"operation"`
	Count     int64         `json:"count"`
	Failures  int64         `json:"failures"`
	Total     time.Duration `json:"total"`
	Min       time.Duration `json:"min"`
	Max       time.Duration `json:"max"`
	LastRun   time.Time     `json:"last_run"`
}

// AverageDuration returns Total / Count.
func (s OperationStatistics) AverageDuration() time.Duration {
	if s.Count == 0 {
		return 0
	}
	return s.Total / time.Duration(s.Count)
}

// FailureRate returns Failures / Count.
func (s OperationStatistics) FailureRate() float64 {
	return ratio(s.Failures, s.Count)
}

// PerformanceSummary is a point-in-time view of all operations.
type PerformanceSummary struct {
	Operations      []OperationStatistics `json:"operations"`
	TotalOperations int64                 `json:"total_operations"`
	TotalFailures   int64                 `json:"total_failures"`
	RecentTimings   int                   `json:"recent_timings"`
	Overwritten     int64                 `json:"overwritten"`
	CollectedAt     time.Time             `json:"collected_at"`
}

// Operation returns the statistics of the named operation.
func (s PerformanceSummary) Operation(name string) (OperationStatistics, bool) {
	for _, op := range s.Operations {
		if op.Operation == name {
			return op, true
		}
	}
	return OperationStatistics{}, false
}

// FailureRate returns the failure rate across all operations.
func (s PerformanceSummary) FailureRate() float64 {
	return ratio(s.TotalFailures, s.TotalOperations)
}

type operationStats struct {
	count    atomic.Int64
	failures atomic.Int64
	total    atomic.Int64
	min      atomic.Int64
	max      atomic.Int64
	lastRun  atomic.Int64
}

func newOperationStats() *operationStats {
	s := &operationStats{}
	s.min.Store(math.MaxInt64)
	return s
}

func (s *operationStats) record(d time.Duration, success bool) {
	n := int64(d)
	s.count.Add(1)
	if !success {
		s.failures.Add(1)
	}
	s.total.Add(n)
	for {
		cur := s.min.Load()
		if n >= cur || s.min.CompareAndSwap(cur, n) {
			break
		}
	}
	for {
		cur := s.max.Load()
		if n <= cur || s.max.CompareAndSwap(cur, n) {
			break
		}
	}
	s.lastRun.Store(timecache.CachedTimeNano())
}

func (s *operationStats) snapshot(name string) OperationStatistics {
	out := OperationStatistics{
		Operation: name,
		Count:     s.count.Load(),
		Failures:  s.failures.Load(),
		Total:     time.Duration(s.total.Load()),
		Max:       time.Duration(s.max.Load()),
		LastRun:   time.Unix(0, s.lastRun.Load()),
	}
	if out.Count > 0 {
		out.Min = time.Duration(s.min.Load())
	}
	return out
}

// PerformanceMonitor measures named operations.
type PerformanceMonitor struct {
	ops        *xsync.MapOf[string, *operationStats]
	ring       *timingRing
	thresholds AlertThresholds
}

// NewPerformanceMonitor creates a monitor using the monitoring settings of config.
func NewPerformanceMonitor(config Config) *PerformanceMonitor {
	cfg := config.WithDefaults()
	return &PerformanceMonitor{
		ops:        xsync.NewMapOf[string, *operationStats](),
		ring:       newTimingRing(cfg.TimingBufferSize),
		thresholds: cfg.Alerts,
	}
}

// Measure runs fn and records its duration under name. An error return
// counts as a failure. A panic is recorded as a failure and re-raised.
func (m *PerformanceMonitor) Measure(name string, fn func() error) error {
	start := time.Now()
	completed := false
	defer func() {
		if !completed {
			m.Record(name, time.Since(start), false)
		}
	}()
	err := fn()
	completed = true
	m.Record(name, time.Since(start), err == nil)
	return err
}

// MeasureValue is Measure for functions returning a value.
func MeasureValue[T any](m *PerformanceMonitor, name string, fn func() (T, error)) (T, error) {
	var out T
	err := m.Measure(name, func() error {
		var err error
		out, err = fn()
		return err
	})
	return out, err
}

// Record adds one observation for name.
func (m *PerformanceMonitor) Record(name string, d time.Duration, success bool) {
	stats, _ := m.ops.LoadOrCompute(name, newOperationStats)
	stats.record(d, success)
	m.ring.add(TimingRecord{
		Operation: name,
		Duration:  d,
		Success:   success,
		At:        timecache.CachedTime(),
	})
}

// RecentTimings returns up to max of the most recent records, oldest first.
// An empty name matches every operation; max <= 0 returns all retained.
func (m *PerformanceMonitor) RecentTimings(name string, max int) []TimingRecord {
	return m.ring.recent(name, max)
}

// Operation returns the statistics of one operation.
func (m *PerformanceMonitor) Operation(name string) (OperationStatistics, bool) {
	stats, ok := m.ops.Load(name)
	if !ok {
		return OperationStatistics{}, false
	}
	return stats.snapshot(name), true
}

// Summary returns statistics for every operation, sorted by name.
func (m *PerformanceMonitor) Summary() PerformanceSummary {
	var summary PerformanceSummary
	m.ops.Range(func(name string, stats *operationStats) bool {
		op := stats.snapshot(name)
		summary.Operations = append(summary.Operations, op)
		summary.TotalOperations += op.Count
		summary.TotalFailures += op.Failures
		return true
	})
	slices.SortFunc(summary.Operations, func(a, b OperationStatistics) int {
		return strings.Compare(a.Operation, b.Operation)
	})
	summary.RecentTimings = m.ring.len()
	summary.Overwritten = m.ring.overwritten.Load()
	summary.CollectedAt = timecache.CachedTime()
	return summary
}

// Alerts evaluates the configured thresholds.
func (m *PerformanceMonitor) Alerts() []Alert {
	return m.CheckAlerts(m.thresholds)
}

// CheckAlerts evaluates t against the current statistics.
func (m *PerformanceMonitor) CheckAlerts(t AlertThresholds) []Alert {
	return evaluateAlerts(m.Summary().Operations, t)
}

// Reset clears all statistics and timings.
func (m *PerformanceMonitor) Reset() {
	m.ops.Clear()
	m.ring.reset()
}
