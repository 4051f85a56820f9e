// stats.go: Aggregated engine statistics
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"time"

	"github.com/google/uuid"
)

// Statistics is a point-in-time view of every engine component. It is meant
// for diagnostics; values are read one counter at a time and may be
// mutually inconsistent under load.
type Statistics struct {
	EngineID    uuid.UUID            `json:"engine_id"`
	Running     bool                 `json:"running"`
	Cache       CacheStatistics      `json:"cache"`
	Storage     StorageStatistics    `json:"storage"`
	Threading   ThreadingStatistics  `json:"threading"`
	Comparison  ComparisonStatistics `json:"comparison"`
	Capture     CaptureStatistics    `json:"capture"`
	Performance PerformanceSummary   `json:"performance"`
	CollectedAt time.Time            `json:"collected_at"`
}

// ratio returns a/b, or 0 when b is zero.
func ratio(a, b int64) float64 {
	if b == 0 {
		return 0
	}
	return float64(a) / float64(b)
}
