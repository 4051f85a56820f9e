// Package mnemos provides identity-keyed state snapshots and field-level
// change detection for live Go objects.
//
// Given a pointer to a struct, mnemos discovers which fields are worth
// observing, captures their values, compares successive captures of the
// same instance with pluggable equality strategies and reports exactly
// which fields changed and why. Snapshots are kept in a bounded,
// thread-safe store keyed by object identity that never keeps the
// objects themselves alive.
//
// # Architecture Overview
//
// The engine consists of six components:
//  1. **FieldAnalyzer**: classifies struct fields once per type and caches the result
//  2. **Comparator**: identity, content, custom and category-based equality
//  3. **SnapshotFactory**: captures tracked field values into pooled snapshots
//  4. **SnapshotStore**: bounded store keyed by weak references, with LRU eviction
//  5. **ConcurrencyGuard**: global semaphore plus per-object reader/writer locks
//  6. **PerformanceMonitor**: per-operation statistics, recent timings and alerts
//
// # Quick Start
//
//	type Widget struct {
//		Name  string
//		Price float64
//		Tags  []string `mnemos:"track,contents"`
//		cache map[string]int
//	}
//
//	engine := mnemos.New(mnemos.Config{})
//	defer engine.Close()
//
//	w := &Widget{Name: "gear", Price: 10}
//	engine.DetectChanges(w) // Name, Price and Tags reported as Added
//
//	w.Price = 12
//	w.Tags = append(w.Tags, "sale")
//	result := engine.DetectChanges(w)
//	for _, c := range result.Changes {
//		fmt.Printf("%s %s: %v -> %v (%s)\n", c.Field, c.Kind, c.Previous, c.Current, c.Reason)
//	}
//
// # Field Selection
//
// Without markers, exported fields of simple value types (booleans,
// numbers, strings, time.Time, time.Duration, uuid.UUID and named types
// over them) are tracked automatically, up to MaxTrackedFieldsPerType.
// Struct tags override the heuristics:
//
//	Field  T `mnemos:"-"`                        // never tracked
//	Field  T `mnemos:"track"`                    // always tracked
//	Items  []T `mnemos:"track,contents,depth=2"` // element-wise comparison
//	Money  Amount `mnemos:"track,custom"`       // registered or Equal method
//	_      struct{} `mnemos:"disable"`          // disables the whole type
//
// The same rules can be registered without tags, which wins over tags
// field by field:
//
//	engine.Register(reflect.TypeFor[Widget](), mnemos.NewTypeSpec().
//		Track("Tags", mnemos.WithContents()).
//		Ignore("Name"))
//
// # Equality
//
// Collections compare by identity unless contents tracking is requested:
// replacing a slice is a change, appending in place within capacity is
// not. Fields marked custom use an equality registered for their type,
// or the type's own Equal method:
//
//	mnemos.RegisterEquality(engine, func(a, b Amount) bool {
//		return a.Cents == b.Cents && a.Currency == b.Currency
//	})
//
// # Failure Model
//
// Nothing panics or returns errors from the tracking API. Fields that
// cannot be read are captured as Unreadable and compare equal; comparisons
// that panic degrade to identity; lock and semaphore timeouts yield "no
// change". Every recovered failure is counted in Statistics, passed to
// Config.ErrorHandler, logged and, when enabled, written to the audit
// trail with a go-errors code such as MNEMOS_LOCK_TIMEOUT.
//
// # Configuration
//
// Config is usable as a zero value. It can also be loaded from YAML
// (LoadConfigFile), MNEMOS_* environment variables (LoadConfigFromEnv),
// command-line flags (LoadConfigFromFlags) or all of them layered
// (LoadConfigMultiSource).
//
// # Observability
//
// GetStatistics returns counters of every component, Alerts evaluates
// duration and failure thresholds, and Collector exports the statistics to
// Prometheus. Start runs periodic maintenance that evicts expired
// snapshots, reclaims locks of collected objects and logs alerts.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0
package mnemos
