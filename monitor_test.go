// monitor_test.go: Tests for operation timing, the timing ring and alerts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agilira/go-errors"
)

func TestPerformanceMonitor_Measure(t *testing.T) {
	m := NewPerformanceMonitor(Config{Logger: NopLogger()})

	_ = m.Measure(OpCaptureSnapshot, func() error { return nil })
	_ = m.Measure(OpCaptureSnapshot, func() error {
		time.Sleep(2 * time.Millisecond)
		return nil
	})
	err := m.Measure(OpCaptureSnapshot, func() error {
		return errors.New(ErrCodeLockTimeout, "timeout")
	})
	if GetValidationErrorCode(err) != ErrCodeLockTimeout {
		t.Errorf("Measure should return fn's error, got %v", err)
	}

	op, ok := m.Operation(OpCaptureSnapshot)
	if !ok {
		t.Fatal("Expected statistics for capture_snapshot")
	}
	if op.Count != 3 || op.Failures != 1 {
		t.Errorf("Expected 3 calls and 1 failure, got %+v", op)
	}
	if op.Max < 2*time.Millisecond || op.Min > op.Max {
		t.Errorf("Unexpected min/max: %v/%v", op.Min, op.Max)
	}
	if op.AverageDuration() != op.Total/3 {
		t.Errorf("Unexpected average %v for total %v", op.AverageDuration(), op.Total)
	}
	if _, ok := m.Operation("unknown"); ok {
		t.Error("Unknown operation should not have statistics")
	}
}

func TestPerformanceMonitor_MeasurePanicIsRecordedAndRethrown(t *testing.T) {
	m := NewPerformanceMonitor(Config{Logger: NopLogger()})

	func() {
		defer func() {
			if recover() == nil {
				t.Error("Expected the panic to propagate")
			}
		}()
		_ = m.Measure(OpDetectChanges, func() error { panic("boom") })
	}()

	op, _ := m.Operation(OpDetectChanges)
	if op.Count != 1 || op.Failures != 1 {
		t.Errorf("Panicking call should count as a failure, got %+v", op)
	}
}

func TestPerformanceMonitor_MeasureValue(t *testing.T) {
	m := NewPerformanceMonitor(Config{Logger: NopLogger()})
	n, err := MeasureValue(m, OpBulkCleanup, func() (int, error) { return 7, nil })
	if err != nil || n != 7 {
		t.Errorf("MeasureValue = %d, %v; want 7, nil", n, err)
	}
}

func TestPerformanceMonitor_SummaryAndReset(t *testing.T) {
	m := NewPerformanceMonitor(Config{Logger: NopLogger()})
	m.Record(OpDetectChanges, time.Millisecond, true)
	m.Record(OpAnalyzeType, time.Millisecond, false)
	m.Record(OpCaptureSnapshot, time.Millisecond, true)

	summary := m.Summary()
	if len(summary.Operations) != 3 {
		t.Fatalf("Expected 3 operations, got %d", len(summary.Operations))
	}
	want := []string{OpAnalyzeType, OpCaptureSnapshot, OpDetectChanges}
	for i, op := range summary.Operations {
		if op.Operation != want[i] {
			t.Errorf("Operations not sorted: position %d is %s", i, op.Operation)
		}
	}
	if summary.TotalOperations != 3 || summary.TotalFailures != 1 || summary.RecentTimings != 3 {
		t.Errorf("Unexpected summary: %+v", summary)
	}
	if _, ok := summary.Operation(OpAnalyzeType); !ok {
		t.Error("Summary lookup by name failed")
	}

	m.Reset()
	if summary := m.Summary(); len(summary.Operations) != 0 || summary.RecentTimings != 0 {
		t.Errorf("Reset should clear everything, got %+v", summary)
	}
}

func TestPerformanceMonitor_RecentTimings(t *testing.T) {
	m := NewPerformanceMonitor(Config{TimingBufferSize: 8, Logger: NopLogger()})
	for i := 1; i <= 12; i++ {
		op := OpCaptureSnapshot
		if i%2 == 0 {
			op = OpDetectChanges
		}
		m.Record(op, time.Duration(i), true)
	}

	all := m.RecentTimings("", 0)
	if len(all) != 8 {
		t.Fatalf("Expected the ring to retain 8 records, got %d", len(all))
	}
	for i, rec := range all {
		if want := time.Duration(i + 5); rec.Duration != want {
			t.Errorf("Record %d: expected %v, got %v (oldest first)", i, want, rec.Duration)
		}
	}

	diffs := m.RecentTimings(OpDetectChanges, 2)
	if len(diffs) != 2 || diffs[0].Duration != 10 || diffs[1].Duration != 12 {
		t.Errorf("Expected the last two diffs, got %+v", diffs)
	}

	if m.Summary().Overwritten != 4 {
		t.Errorf("Expected 4 overwritten records, got %d", m.Summary().Overwritten)
	}
}

func TestTimingRing_ConcurrentWriters(t *testing.T) {
	r := newTimingRing(64)
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				r.add(TimingRecord{Operation: fmt.Sprintf("op-%d", w), Duration: time.Duration(i)})
			}
		}(w)
	}
	wg.Wait()

	if r.len() != 64 {
		t.Errorf("Expected 64 retained records, got %d", r.len())
	}
	recs := r.recent("", 0)
	if len(recs) != 64 {
		t.Errorf("Expected 64 readable records, got %d", len(recs))
	}
	for i := 1; i < len(recs); i++ {
		if recs[i].seq <= recs[i-1].seq {
			t.Fatalf("Records out of order at %d", i)
		}
	}
}

func TestTimingRing_InvalidCapacity(t *testing.T) {
	if r := newTimingRing(100); r.capacity != 1024 {
		t.Errorf("Non power-of-2 capacity should fall back to 1024, got %d", r.capacity)
	}
}

func TestGradeSeverity(t *testing.T) {
	tests := []struct {
		observed, threshold float64
		want                Severity
		raised              bool
	}{
		{0.5, 1, 0, false},
		{0.8, 1, SeverityInfo, true},
		{1, 1, SeverityWarning, true},
		{2.5, 1, SeverityError, true},
		{4, 1, SeverityCritical, true},
		{10, 0, 0, false},
	}
	for _, tt := range tests {
		sev, ok := gradeSeverity(tt.observed, tt.threshold)
		if ok != tt.raised || (ok && sev != tt.want) {
			t.Errorf("gradeSeverity(%v, %v) = %v, %v; want %v, %v", tt.observed, tt.threshold, sev, ok, tt.want, tt.raised)
		}
	}
}

func TestPerformanceMonitor_Alerts(t *testing.T) {
	m := NewPerformanceMonitor(Config{
		Logger: NopLogger(),
		Alerts: AlertThresholds{
			MaxAverageDuration: time.Millisecond,
			MaxDuration:        10 * time.Millisecond,
			MaxFailureRate:     0.1,
			MinSamples:         4,
		},
	})

	// Below MinSamples nothing is evaluated
	for i := 0; i < 3; i++ {
		m.Record(OpDetectChanges, 50*time.Millisecond, false)
	}
	if alerts := m.Alerts(); len(alerts) != 0 {
		t.Fatalf("Expected no alerts below min samples, got %+v", alerts)
	}

	m.Record(OpDetectChanges, 50*time.Millisecond, false)
	for i := 0; i < 4; i++ {
		m.Record(OpCaptureSnapshot, 100*time.Microsecond, true)
	}

	alerts := m.Alerts()
	if len(alerts) != 3 {
		t.Fatalf("Expected 3 alerts for detect_changes, got %+v", alerts)
	}
	for _, a := range alerts {
		if a.Operation != OpDetectChanges {
			t.Errorf("Healthy operation raised an alert: %+v", a)
		}
		if a.Severity != SeverityCritical {
			t.Errorf("Expected critical severity for %s, got %s", a.Metric, a.Severity)
		}
	}
	if alerts[0].Metric != MetricAverageDuration || alerts[2].Metric != MetricMaxDuration {
		t.Errorf("Alerts not sorted by metric: %s, %s, %s", alerts[0].Metric, alerts[1].Metric, alerts[2].Metric)
	}

	// Explicit thresholds override the configured ones
	if custom := m.CheckAlerts(AlertThresholds{MaxFailureRate: 1}); len(custom) != 1 || custom[0].Severity != SeverityWarning {
		t.Errorf("Expected a single failure rate warning, got %+v", custom)
	}
}
