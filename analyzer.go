// analyzer.go: FieldAnalyzer - type introspection with cached metadata
//
// The analyzer classifies every field of a struct type once and caches the
// result per type. Concurrent first requests for the same type share a
// single analysis; the cache is bounded by age and by entry count.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"fmt"
	"reflect"
	"slices"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/singleflight"
)

var (
	timeType     = reflect.TypeFor[time.Time]()
	durationType = reflect.TypeFor[time.Duration]()
	uuidType     = reflect.TypeFor[uuid.UUID]()
)

// engineTypes are the engine's own components. Host types embedding them
// are not tracked through them.
var engineTypes = map[reflect.Type]struct{}{
	reflect.TypeFor[Engine]():             {},
	reflect.TypeFor[FieldAnalyzer]():      {},
	reflect.TypeFor[Comparator]():         {},
	reflect.TypeFor[SnapshotFactory]():    {},
	reflect.TypeFor[Snapshot]():           {},
	reflect.TypeFor[SnapshotStore]():      {},
	reflect.TypeFor[ConcurrencyGuard]():   {},
	reflect.TypeFor[PerformanceMonitor](): {},
}

// CacheStatistics describes the metadata cache.
type CacheStatistics struct {
	Entries       int   `json:"entries"`
	Hits          int64 `json:"hits"`
	Misses        int64 `json:"misses"`
	Analyses      int64 `json:"analyses"`
	Failures      int64 `json:"failures"`
	Evictions     int64 `json:"evictions"`
	Invalidations int64 `json:"invalidations"`
}

// HitRatio returns hits / (hits + misses), or 0 when nothing was looked up.
func (s CacheStatistics) HitRatio() float64 {
	return ratio(s.Hits, s.Hits+s.Misses)
}

// FieldAnalyzer classifies struct fields and caches TypeMetadata per type.
type FieldAnalyzer struct {
	maxFieldsPerType    int
	autoTracking        bool
	maxCachedTypes      int
	metadataMaxAge      time.Duration
	maintenanceInterval time.Duration

	cache *xsync.MapOf[reflect.Type, *cacheEntry]
	specs *xsync.MapOf[reflect.Type, *TypeSpec]
	group singleflight.Group

	// gens and epoch advance on every invalidation. An analysis only
	// caches its result if neither moved while it ran.
	gens  *xsync.MapOf[reflect.Type, uint64]
	epoch atomic.Uint64

	hits          *xsync.Counter
	misses        *xsync.Counter
	analyses      *xsync.Counter
	failures      *xsync.Counter
	evictions     *xsync.Counter
	invalidations *xsync.Counter

	lastMaintenance atomic.Int64
	maintaining     atomic.Bool

	report func(error)
}

// NewFieldAnalyzer creates an analyzer using the analysis settings of config.
func NewFieldAnalyzer(config Config) *FieldAnalyzer {
	cfg := config.WithDefaults()
	a := &FieldAnalyzer{
		maxFieldsPerType:    cfg.MaxTrackedFieldsPerType,
		autoTracking:        !cfg.DisableAutoTracking,
		maxCachedTypes:      cfg.MaxCachedTypes,
		metadataMaxAge:      cfg.MetadataMaxAge,
		maintenanceInterval: cfg.MaintenanceInterval,
		cache:               xsync.NewMapOf[reflect.Type, *cacheEntry](),
		specs:               xsync.NewMapOf[reflect.Type, *TypeSpec](),
		gens:                xsync.NewMapOf[reflect.Type, uint64](),
		hits:                xsync.NewCounter(),
		misses:              xsync.NewCounter(),
		analyses:            xsync.NewCounter(),
		failures:            xsync.NewCounter(),
		evictions:           xsync.NewCounter(),
		invalidations:       xsync.NewCounter(),
	}
	a.lastMaintenance.Store(timecache.CachedTimeNano())
	return a
}

// Analyze returns the metadata for t, analyzing it on first use.
// Pointer types are resolved to their element type. It never panics:
// types that cannot be analyzed yield metadata with TrackingDisabled set.
func (a *FieldAnalyzer) Analyze(t reflect.Type) *TypeMetadata {
	meta, _ := a.AnalyzeContext(context.Background(), t)
	return meta
}

// AnalyzeContext is Analyze with cancellation. Concurrent callers asking for
// the same uncached type wait for one shared analysis; a caller whose
// context ends first gives up with an error while the analysis continues.
func (a *FieldAnalyzer) AnalyzeContext(ctx context.Context, t reflect.Type) (*TypeMetadata, error) {
	t = structType(t)
	if t == nil {
		return disabledMetadata(nil, "nil type"), nil
	}

	if e, ok := a.cache.Load(t); ok {
		a.hits.Inc()
		e.touch()
		a.maybeMaintain()
		return e.meta, nil
	}
	a.misses.Inc()

	ch := a.group.DoChan(typeKey(t), func() (interface{}, error) {
		return a.load(t), nil
	})

	select {
	case res := <-ch:
		a.maybeMaintain()
		return res.Val.(*TypeMetadata), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), ErrCodeAnalysisFailed, "type analysis abandoned").
			WithContext("type", t.String())
	}
}

// maxStaleRetries bounds re-analysis when invalidations keep racing a load.
const maxStaleRetries = 3

// analysisStamp identifies the registration state an analysis started from.
type analysisStamp struct {
	gen   uint64
	epoch uint64
}

func (a *FieldAnalyzer) stamp(t reflect.Type) analysisStamp {
	gen, _ := a.gens.Load(t)
	return analysisStamp{gen: gen, epoch: a.epoch.Load()}
}

// load runs inside the singleflight group for t.
func (a *FieldAnalyzer) load(t reflect.Type) *TypeMetadata {
	var meta *TypeMetadata
	for range maxStaleRetries {
		if e, ok := a.cache.Load(t); ok {
			return e.meta
		}
		st := a.stamp(t)
		meta = a.analyze(t)
		if a.storeIfCurrent(t, st, meta) {
			return meta
		}
	}
	// Still racing registrations: serve the latest result uncached.
	return meta
}

// storeIfCurrent caches meta unless t was invalidated after st was taken.
func (a *FieldAnalyzer) storeIfCurrent(t reflect.Type, st analysisStamp, meta *TypeMetadata) bool {
	stored := false
	a.cache.Compute(t, func(cur *cacheEntry, loaded bool) (*cacheEntry, bool) {
		if a.stamp(t) != st {
			return cur, !loaded
		}
		stored = true
		return newCacheEntry(meta), false
	})
	return stored
}

// analyze performs the actual introspection.
func (a *FieldAnalyzer) analyze(t reflect.Type) (meta *TypeMetadata) {
	a.analyses.Inc()

	defer func() {
		if r := recover(); r != nil {
			err := errors.New(ErrCodeAnalysisFailed, fmt.Sprintf("type introspection panicked: %v", r)).
				WithContext("type", t.String())
			a.fail(err)
			meta = disabledMetadata(t, err.Error())
		}
	}()

	if t.Kind() != reflect.Struct {
		return disabledMetadata(t, "not a struct type")
	}

	spec, _ := a.specs.Load(t)
	if spec != nil && spec.disabled {
		return disabledMetadata(t, "tracking disabled by registration")
	}

	var auto, explicit, ignored []FieldDescriptor
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		marker, err := parseFieldTag(sf.Tag.Get(tagName))
		if err != nil {
			wrapped := errors.Wrap(err, ErrCodeAnalysisFailed, "malformed tracking tag").
				WithContext("type", t.String()).
				WithContext("field", sf.Name)
			a.fail(wrapped)
			return disabledMetadata(t, wrapped.Error())
		}

		// Blank fields are padding; they only carry the type-level marker.
		if sf.Name == "_" {
			if marker.disable {
				return disabledMetadata(t, "tracking disabled by type marker")
			}
			continue
		}
		if marker.disable {
			wrapped := errors.New(ErrCodeAnalysisFailed, "disable directive is only valid on a blank field").
				WithContext("type", t.String()).
				WithContext("field", sf.Name)
			a.fail(wrapped)
			return disabledMetadata(t, wrapped.Error())
		}

		if reg, ok := spec.marker(sf.Name); ok {
			marker = marker.merge(reg)
		}

		fd := FieldDescriptor{
			Name:     sf.Name,
			Type:     sf.Type,
			Index:    slices.Clone(sf.Index),
			Options:  marker.options,
			Exported: sf.IsExported(),
		}
		fd.Kind = a.classify(sf, marker)

		switch fd.Kind {
		case AutoTrack:
			auto = append(auto, fd)
		case ExplicitTrack:
			explicit = append(explicit, fd)
		case Ignore:
			ignored = append(ignored, fd)
		}
	}

	return newTypeMetadata(t, a.enforceCap(auto, len(explicit)), explicit, ignored)
}

// classify applies the marker and heuristic rules in priority order.
func (a *FieldAnalyzer) classify(sf reflect.StructField, m fieldMarker) TrackingKind {
	switch {
	case m.ignore:
		return Ignore
	case m.track:
		return ExplicitTrack
	case skipByHeuristic(sf):
		return Skip
	case a.autoTracking && isSimpleType(sf.Type):
		return AutoTrack
	default:
		return Skip
	}
}

// enforceCap trims auto-tracked fields, keeping declaration order, so that
// explicit plus auto fits maxFieldsPerType. Explicit fields are never trimmed.
func (a *FieldAnalyzer) enforceCap(auto []FieldDescriptor, explicitCount int) []FieldDescriptor {
	if a.maxFieldsPerType <= 0 {
		return auto
	}
	room := max(a.maxFieldsPerType-explicitCount, 0)
	if len(auto) > room {
		return auto[:room:room]
	}
	return auto
}

// Register attaches a TypeSpec to t and drops any cached metadata for it.
func (a *FieldAnalyzer) Register(t reflect.Type, spec *TypeSpec) error {
	t = structType(t)
	if t == nil || t.Kind() != reflect.Struct {
		return errors.New(ErrCodeInvalidRegistration, "registration requires a struct type")
	}

	declared := make(map[string]struct{}, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		declared[t.Field(i).Name] = struct{}{}
	}
	if spec != nil {
		for name := range spec.fields {
			if _, ok := declared[name]; !ok {
				return errors.New(ErrCodeInvalidRegistration, "unknown field '"+name+"'").
					WithContext("type", t.String())
			}
		}
	}

	a.specs.Store(t, spec.clone())
	a.Invalidate(t)
	return nil
}

// Invalidate drops the cached metadata for t. The next request re-analyzes,
// and an analysis of t already in flight does not cache its result.
func (a *FieldAnalyzer) Invalidate(t reflect.Type) {
	t = structType(t)
	if t == nil {
		return
	}
	a.gens.Compute(t, func(gen uint64, _ bool) (uint64, bool) {
		return gen + 1, false
	})
	a.group.Forget(typeKey(t))
	if _, ok := a.cache.LoadAndDelete(t); ok {
		a.invalidations.Inc()
	}
}

// InvalidateAll empties the metadata cache.
func (a *FieldAnalyzer) InvalidateAll() {
	a.epoch.Add(1)
	a.invalidations.Add(int64(a.cache.Size()))
	a.cache.Clear()
}

// maybeMaintain runs Maintain at most once per maintenance interval.
func (a *FieldAnalyzer) maybeMaintain() {
	if a.maintenanceInterval <= 0 {
		return
	}
	now := timecache.CachedTimeNano()
	last := a.lastMaintenance.Load()
	if time.Duration(now-last) < a.maintenanceInterval {
		return
	}
	if a.lastMaintenance.CompareAndSwap(last, now) {
		a.Maintain()
	}
}

// Maintain evicts entries older than the metadata max age that were not
// accessed within the last maintenance interval, then evicts least recently
// used entries until at most maxCachedTypes remain. Returns the number evicted.
func (a *FieldAnalyzer) Maintain() int {
	if !a.maintaining.CompareAndSwap(false, true) {
		return 0
	}
	defer a.maintaining.Store(false)

	now := timecache.CachedTimeNano()
	var stale, live []lruCandidate[reflect.Type, *cacheEntry]
	a.cache.Range(func(t reflect.Type, e *cacheEntry) bool {
		c := lruCandidate[reflect.Type, *cacheEntry]{key: t, entry: e, seq: e.accessSeq.Load()}
		if a.metadataMaxAge > 0 && e.age(now) > a.metadataMaxAge &&
			!e.recentlyAccessed(now, a.maintenanceInterval) {
			stale = append(stale, c)
		} else {
			live = append(live, c)
		}
		return true
	})

	removed := 0
	for _, c := range stale {
		if a.evict(c.key, c.entry) {
			removed++
		}
	}
	if a.maxCachedTypes > 0 {
		for _, c := range oldestFirst(live, len(live)-a.maxCachedTypes) {
			if a.evict(c.key, c.entry) {
				removed++
			}
		}
	}
	return removed
}

// evict removes t only if it still maps to e.
func (a *FieldAnalyzer) evict(t reflect.Type, e *cacheEntry) bool {
	removed := false
	a.cache.Compute(t, func(cur *cacheEntry, loaded bool) (*cacheEntry, bool) {
		if loaded && cur == e {
			removed = true
			return nil, true
		}
		return cur, !loaded
	})
	if removed {
		a.evictions.Inc()
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (a *FieldAnalyzer) Stats() CacheStatistics {
	return CacheStatistics{
		Entries:       a.cache.Size(),
		Hits:          a.hits.Value(),
		Misses:        a.misses.Value(),
		Analyses:      a.analyses.Value(),
		Failures:      a.failures.Value(),
		Evictions:     a.evictions.Value(),
		Invalidations: a.invalidations.Value(),
	}
}

func (a *FieldAnalyzer) fail(err error) {
	a.failures.Inc()
	if a.report != nil {
		a.report(err)
	}
}

// structType resolves pointer types to the type they point at.
func structType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	return t
}

// typeKey is a singleflight key unique per type, including unnamed and
// function-local types that share a printed name.
func typeKey(t reflect.Type) string {
	return fmt.Sprintf("%s@%p", t, t)
}

func skipByHeuristic(sf reflect.StructField) bool {
	return sf.Anonymous || !sf.IsExported() || isInfrastructureType(sf.Type)
}

// isSimpleType reports whether t is a scalar value type: booleans, numbers,
// strings, time values, UUIDs and named types over those kinds.
func isSimpleType(t reflect.Type) bool {
	switch t {
	case timeType, durationType, uuidType:
		return true
	}
	switch t.Kind() {
	case reflect.Bool, reflect.String,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64, reflect.Complex64, reflect.Complex128:
		return true
	}
	return false
}

// isInfrastructureType reports synchronization and engine types that are
// never worth tracking.
func isInfrastructureType(t reflect.Type) bool {
	t = structType(t)
	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return true
	}
	if _, ok := engineTypes[t]; ok {
		return true
	}
	switch t.PkgPath() {
	case "sync", "sync/atomic", "context", "weak", "unsafe":
		return true
	}
	return false
}
