// alerts.go: Threshold-based performance alerts
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/agilira/go-timecache"
)

// Severity grades an alert.
type Severity uint8

const (
	SeverityInfo Severity = iota
	SeverityWarning
	SeverityError
	SeverityCritical
)

// String returns the string representation of Severity.
func (s Severity) String() string {
	switch s {
	case SeverityInfo:
		return "info"
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Alert metrics.
const (
	MetricAverageDuration = "average_duration"
	MetricMaxDuration     = "max_duration"
	MetricFailureRate     = "failure_rate"
)

// AlertThresholds configures alert evaluation. A zero threshold disables
// its metric. Operations with fewer than MinSamples calls are not evaluated.
type AlertThresholds struct {
	MaxAverageDuration time.Duration `json:"max_average_duration" yaml:"max_average_duration"`
	MaxDuration        time.Duration `json:"max_duration" yaml:"max_duration"`
	MaxFailureRate     float64       `json:"max_failure_rate" yaml:"max_failure_rate"`
	MinSamples         int64         `json:"min_samples" yaml:"min_samples"`
}

// Alert reports an operation whose statistics approach or exceed a
// threshold. Durations are expressed in seconds in Observed and Threshold.
type Alert struct {
	Operation string    `json:"operation"`
	Metric    string    `json:"metric"`
	Observed  float64   `json:"observed"`
	Threshold float64   `json:"threshold"`
	Severity  Severity  `json:"severity"`
	Message   string    `json:"message"`
	RaisedAt  time.Time `json:"raised_at"`
}

// gradeSeverity maps observed/threshold to a severity. Values below 80% of
// the threshold raise nothing.
func gradeSeverity(observed, threshold float64) (Severity, bool) {
	if threshold <= 0 {
		return 0, false
	}
	r := observed / threshold
	switch {
	case r >= 4:
		return SeverityCritical, true
	case r >= 2:
		return SeverityError, true
	case r >= 1:
		return SeverityWarning, true
	case r >= 0.8:
		return SeverityInfo, true
	default:
		return 0, false
	}
}

// evaluateAlerts checks every operation against t. Alerts are ordered by
// decreasing severity, then operation and metric.
func evaluateAlerts(ops []OperationStatistics, t AlertThresholds) []Alert {
	now := timecache.CachedTime()
	var alerts []Alert

	for _, op := range ops {
		if op.Count == 0 || op.Count < t.MinSamples {
			continue
		}
		if t.MaxAverageDuration > 0 {
			avg := op.AverageDuration()
			if sev, ok := gradeSeverity(avg.Seconds(), t.MaxAverageDuration.Seconds()); ok {
				alerts = append(alerts, Alert{
					Operation: op.Operation,
					Metric:    MetricAverageDuration,
					Observed:  avg.Seconds(),
					Threshold: t.MaxAverageDuration.Seconds(),
					Severity:  sev,
					Message:   fmt.Sprintf("%s: average duration %v against threshold %v", op.Operation, avg, t.MaxAverageDuration),
					RaisedAt:  now,
				})
			}
		}
		if t.MaxDuration > 0 {
			if sev, ok := gradeSeverity(op.Max.Seconds(), t.MaxDuration.Seconds()); ok {
				alerts = append(alerts, Alert{
					Operation: op.Operation,
					Metric:    MetricMaxDuration,
					Observed:  op.Max.Seconds(),
					Threshold: t.MaxDuration.Seconds(),
					Severity:  sev,
					Message:   fmt.Sprintf("%s: max duration %v against threshold %v", op.Operation, op.Max, t.MaxDuration),
					RaisedAt:  now,
				})
			}
		}
		if t.MaxFailureRate > 0 {
			rate := op.FailureRate()
			if sev, ok := gradeSeverity(rate, t.MaxFailureRate); ok {
				alerts = append(alerts, Alert{
					Operation: op.Operation,
					Metric:    MetricFailureRate,
					Observed:  rate,
					Threshold: t.MaxFailureRate,
					Severity:  sev,
					Message:   fmt.Sprintf("%s: failure rate %.2f%% against threshold %.2f%%", op.Operation, rate*100, t.MaxFailureRate*100),
					RaisedAt:  now,
				})
			}
		}
	}

	slices.SortFunc(alerts, func(a, b Alert) int {
		if c := cmp.Compare(b.Severity, a.Severity); c != 0 {
			return c
		}
		if c := cmp.Compare(a.Operation, b.Operation); c != 0 {
			return c
		}
		return cmp.Compare(a.Metric, b.Metric)
	})
	return alerts
}
