// metadata.go: Per-type tracking metadata
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"reflect"
	"slices"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// TypeMetadata is the analyzer's classification of one struct type.
// It is created once per type and never modified afterwards; the slices
// it exposes must be treated as read-only.
type TypeMetadata struct {
	Type              reflect.Type
	AutoTracked       []FieldDescriptor
	ExplicitlyTracked []FieldDescriptor
	Ignored           []FieldDescriptor
	TrackingDisabled  bool
	DisabledReason    string
	CreatedAt         time.Time

	// ExplicitRemoval is set for small pointer-free types. Their instances
	// can share an allocation with other objects, so the store cannot tell
	// when one becomes unreachable. Their entries leave only through
	// RemoveTracking, BulkCleanup, MaxSnapshotAge or the capacity bound.
	ExplicitRemoval bool

	allTracked []FieldDescriptor
	fieldNames []string
	byName     map[string]int
}

func newTypeMetadata(t reflect.Type, auto, explicit, ignored []FieldDescriptor) *TypeMetadata {
	m := &TypeMetadata{
		Type:              t,
		AutoTracked:       auto,
		ExplicitlyTracked: explicit,
		Ignored:           ignored,
		CreatedAt:         timecache.CachedTime(),
		ExplicitRemoval:   t != nil && tinyAllocated(t),
	}

	// Explicit fields first, then auto, each in declaration order.
	m.allTracked = make([]FieldDescriptor, 0, len(explicit)+len(auto))
	m.allTracked = append(m.allTracked, explicit...)
	m.allTracked = append(m.allTracked, auto...)

	m.fieldNames = make([]string, len(m.allTracked))
	m.byName = make(map[string]int, len(m.allTracked))
	for i, fd := range m.allTracked {
		m.fieldNames[i] = fd.Name
		m.byName[fd.Name] = i
	}
	return m
}

func disabledMetadata(t reflect.Type, reason string) *TypeMetadata {
	m := newTypeMetadata(t, nil, nil, nil)
	m.TrackingDisabled = true
	m.DisabledReason = reason
	return m
}

// AllTracked returns explicitly tracked fields followed by auto-tracked ones.
func (m *TypeMetadata) AllTracked() []FieldDescriptor {
	return slices.Clone(m.allTracked)
}

// TrackedCount returns the number of tracked fields.
func (m *TypeMetadata) TrackedCount() int {
	return len(m.allTracked)
}

// Field looks up a tracked field by name.
func (m *TypeMetadata) Field(name string) (FieldDescriptor, bool) {
	i, ok := m.byName[name]
	if !ok {
		return FieldDescriptor{}, false
	}
	return m.allTracked[i], true
}

// IsTracked reports whether name is one of the tracked fields.
func (m *TypeMetadata) IsTracked(name string) bool {
	_, ok := m.byName[name]
	return ok
}

// cacheEntry wraps metadata in the analyzer cache. Age and recency are
// derived from the timestamps on demand.
type cacheEntry struct {
	meta       *TypeMetadata
	createdAt  int64
	lastAccess atomic.Int64
	accessSeq  atomic.Uint64
}

func newCacheEntry(meta *TypeMetadata) *cacheEntry {
	now := timecache.CachedTimeNano()
	e := &cacheEntry{meta: meta, createdAt: now}
	e.lastAccess.Store(now)
	e.accessSeq.Store(nextAccessTick())
	return e
}

func (e *cacheEntry) touch() {
	e.lastAccess.Store(timecache.CachedTimeNano())
	e.accessSeq.Store(nextAccessTick())
}

func (e *cacheEntry) age(now int64) time.Duration {
	return time.Duration(now - e.createdAt)
}

func (e *cacheEntry) recentlyAccessed(now int64, window time.Duration) bool {
	return time.Duration(now-e.lastAccess.Load()) < window
}
