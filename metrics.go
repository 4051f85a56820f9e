// metrics.go: Prometheus export of engine statistics
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector exports engine statistics as Prometheus metrics. Values are
// read when the registry is scraped.
type Collector struct {
	stats func() Statistics

	// Metadata cache
	cacheEntries   *prometheus.Desc
	cacheHits      *prometheus.Desc
	cacheMisses    *prometheus.Desc
	cacheAnalyses  *prometheus.Desc
	cacheEvictions *prometheus.Desc

	// Snapshot store
	storeEntries   *prometheus.Desc
	storeHits      *prometheus.Desc
	storeMisses    *prometheus.Desc
	storeEvictions *prometheus.Desc
	poolReused     *prometheus.Desc
	poolCreated    *prometheus.Desc

	// Concurrency
	activeOperations *prometheus.Desc
	trackedLocks     *prometheus.Desc
	timeouts         *prometheus.Desc

	// Failures
	fieldReadFailures  *prometheus.Desc
	comparisonFailures *prometheus.Desc
	analysisFailures   *prometheus.Desc

	// Operations
	operationCount    *prometheus.Desc
	operationFailures *prometheus.Desc
	operationSeconds  *prometheus.Desc
	operationMax      *prometheus.Desc
}

// Collector returns a Prometheus collector for this engine. Metrics carry
// an engine_id constant label so that several engines can share a registry.
func (e *Engine) Collector() *Collector {
	return NewCollector(e.GetStatistics, prometheus.Labels{"engine_id": e.id.String()})
}

// NewCollector creates a collector over a statistics source.
func NewCollector(stats func() Statistics, constLabels prometheus.Labels) *Collector {
	desc := func(name, help string, labels ...string) *prometheus.Desc {
		return prometheus.NewDesc("mnemos_"+name, help, labels, constLabels)
	}
	return &Collector{
		stats: stats,

		cacheEntries:   desc("metadata_cache_entries", "Number of cached type metadata entries"),
		cacheHits:      desc("metadata_cache_hits_total", "Metadata cache hits"),
		cacheMisses:    desc("metadata_cache_misses_total", "Metadata cache misses"),
		cacheAnalyses:  desc("metadata_analyses_total", "Type analyses performed"),
		cacheEvictions: desc("metadata_cache_evictions_total", "Metadata cache evictions"),

		storeEntries:   desc("snapshot_store_entries", "Stored snapshots, including entries of collected objects not yet purged"),
		storeHits:      desc("snapshot_store_hits_total", "Snapshot lookups that found a previous snapshot"),
		storeMisses:    desc("snapshot_store_misses_total", "Snapshot lookups without a previous snapshot"),
		storeEvictions: desc("snapshot_store_evictions_total", "Snapshots evicted by reason", "reason"),
		poolReused:     desc("snapshot_pool_reused_total", "Snapshots taken from the pool"),
		poolCreated:    desc("snapshot_pool_created_total", "Snapshots allocated because the pool was empty"),

		activeOperations: desc("active_operations", "Captures and diffs currently running"),
		trackedLocks:     desc("object_locks", "Per-object locks currently held in the lock table"),
		timeouts:         desc("timeouts_total", "Operations abandoned on a timeout by kind", "kind"),

		fieldReadFailures:  desc("field_read_failures_total", "Fields recorded as unreadable"),
		comparisonFailures: desc("comparison_failures_total", "Comparisons that fell back to identity after a failure"),
		analysisFailures:   desc("analysis_failures_total", "Type analyses that failed"),

		operationCount:    desc("operations_total", "Measured operations", "operation"),
		operationFailures: desc("operation_failures_total", "Measured operations that failed", "operation"),
		operationSeconds:  desc("operation_duration_seconds_total", "Total time spent in measured operations", "operation"),
		operationMax:      desc("operation_duration_max_seconds", "Longest measured operation", "operation"),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cacheEntries
	ch <- c.cacheHits
	ch <- c.cacheMisses
	ch <- c.cacheAnalyses
	ch <- c.cacheEvictions

	ch <- c.storeEntries
	ch <- c.storeHits
	ch <- c.storeMisses
	ch <- c.storeEvictions
	ch <- c.poolReused
	ch <- c.poolCreated

	ch <- c.activeOperations
	ch <- c.trackedLocks
	ch <- c.timeouts

	ch <- c.fieldReadFailures
	ch <- c.comparisonFailures
	ch <- c.analysisFailures

	ch <- c.operationCount
	ch <- c.operationFailures
	ch <- c.operationSeconds
	ch <- c.operationMax
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.stats()

	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}
	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}

	gauge(c.cacheEntries, float64(s.Cache.Entries))
	counter(c.cacheHits, float64(s.Cache.Hits))
	counter(c.cacheMisses, float64(s.Cache.Misses))
	counter(c.cacheAnalyses, float64(s.Cache.Analyses))
	counter(c.cacheEvictions, float64(s.Cache.Evictions))

	gauge(c.storeEntries, float64(s.Storage.Entries))
	counter(c.storeHits, float64(s.Storage.Hits))
	counter(c.storeMisses, float64(s.Storage.Misses))
	counter(c.storeEvictions, float64(s.Storage.EvictedUnreachable), "unreachable")
	counter(c.storeEvictions, float64(s.Storage.EvictedExpired), "expired")
	counter(c.storeEvictions, float64(s.Storage.EvictedCapacity), "capacity")
	counter(c.poolReused, float64(s.Storage.Pool.Reused))
	counter(c.poolCreated, float64(s.Storage.Pool.Created))

	gauge(c.activeOperations, float64(s.Threading.ActiveOperations))
	gauge(c.trackedLocks, float64(s.Threading.TrackedLocks))
	counter(c.timeouts, float64(s.Threading.LockTimeouts), "lock")
	counter(c.timeouts, float64(s.Threading.SemaphoreTimeouts), "semaphore")

	counter(c.fieldReadFailures, float64(s.Capture.FieldFailures))
	counter(c.comparisonFailures, float64(s.Comparison.Failures))
	counter(c.analysisFailures, float64(s.Cache.Failures))

	for _, op := range s.Performance.Operations {
		counter(c.operationCount, float64(op.Count), op.Operation)
		counter(c.operationFailures, float64(op.Failures), op.Operation)
		counter(c.operationSeconds, op.Total.Seconds(), op.Operation)
		gauge(c.operationMax, op.Max.Seconds(), op.Operation)
	}
}
