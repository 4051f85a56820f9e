// snapshot.go: Immutable field snapshots and diffs
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
)

// Unreadable is recorded for a field whose value could not be read during
// capture. Comparisons involving it report no change.
var Unreadable any = unreadable{}

type unreadable struct{}

func (unreadable) String() string { return "<unreadable>" }

// IsUnreadable reports whether v is the Unreadable marker.
func IsUnreadable(v any) bool {
	_, ok := v.(unreadable)
	return ok
}

// ChangeKind classifies a field change.
type ChangeKind uint8

const (
	// Added: the field exists in the current snapshot only.
	Added ChangeKind = iota
	// Modified: the field exists in both snapshots with different values.
	Modified
	// Removed: the field exists in the previous snapshot only.
	Removed
)

// String returns the string representation of ChangeKind.
func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// FieldChange describes one differing field.
type FieldChange struct {
	Field    string     `json:"field"`
	Previous any        `json:"previous,omitempty"`
	Current  any        `json:"current,omitempty"`
	Kind     ChangeKind `json:"kind"`
	Reason   string     `json:"reason"`
}

// ChangeResult is the outcome of a change detection.
type ChangeResult struct {
	HasChanges bool          `json:"has_changes"`
	Changes    []FieldChange `json:"changes,omitempty"`
}

// Fields returns the names of the changed fields in report order.
func (r ChangeResult) Fields() []string {
	names := make([]string, len(r.Changes))
	for i, c := range r.Changes {
		names[i] = c.Field
	}
	return names
}

// Change returns the change for the named field.
func (r ChangeResult) Change(field string) (FieldChange, bool) {
	for _, c := range r.Changes {
		if c.Field == field {
			return c, true
		}
	}
	return FieldChange{}, false
}

func newChangeResult(changes []FieldChange) ChangeResult {
	return ChangeResult{HasChanges: len(changes) > 0, Changes: changes}
}

// Snapshot holds the tracked field values of one object at one instant.
// It never references the object it was captured from and is not modified
// after capture.
type Snapshot struct {
	typ        reflect.Type
	meta       *TypeMetadata
	values     []any
	capturedAt time.Time
	worker     string

	// refs counts holders inside the engine. A snapshot that was never
	// handed to a caller goes back to the pool when the count drops to zero.
	refs    atomic.Int32
	escaped atomic.Bool
	pool    *Pool[*Snapshot]
}

// Type returns the struct type the snapshot was captured from.
func (s *Snapshot) Type() reflect.Type { return s.typ }

// Metadata returns the metadata used for the capture.
func (s *Snapshot) Metadata() *TypeMetadata { return s.meta }

// CapturedAt returns the capture time.
func (s *Snapshot) CapturedAt() time.Time { return s.capturedAt }

// Worker returns the worker id attached to the capture context, if any.
func (s *Snapshot) Worker() string { return s.worker }

// Len returns the number of captured fields.
func (s *Snapshot) Len() int { return len(s.values) }

// Fields returns the captured field names in capture order.
func (s *Snapshot) Fields() []string {
	return slices.Clone(s.meta.fieldNames)
}

// Value returns the captured value of the named field.
func (s *Snapshot) Value(field string) (any, bool) {
	i, ok := s.meta.byName[field]
	if !ok {
		return nil, false
	}
	return s.values[i], true
}

// ToMap returns the captured values keyed by field name.
func (s *Snapshot) ToMap() map[string]any {
	m := make(map[string]any, len(s.values))
	for i, name := range s.meta.fieldNames {
		m[name] = s.values[i]
	}
	return m
}

// DiffFrom reports how s differs from previous. A nil previous reports every
// field as Added. Snapshots of different types share no fields: all current
// fields are Added and all previous fields Removed.
func (s *Snapshot) DiffFrom(previous *Snapshot, cmp *Comparator) ChangeResult {
	if cmp == nil {
		cmp = NewComparator(Config{})
	}
	if previous == nil {
		changes := make([]FieldChange, 0, len(s.values))
		for i, fd := range s.meta.allTracked {
			changes = append(changes, FieldChange{
				Field:   fd.Name,
				Current: s.values[i],
				Kind:    Added,
				Reason:  "field first observed",
			})
		}
		return newChangeResult(changes)
	}

	sameType := previous.typ == s.typ
	var changes []FieldChange

	for i, fd := range s.meta.allTracked {
		cur := s.values[i]
		prev, found := previous.lookup(s.meta, i, fd.Name, sameType)
		if !found {
			changes = append(changes, FieldChange{Field: fd.Name, Current: cur, Kind: Added, Reason: "field first observed"})
			continue
		}
		if equal, used := cmp.compare(prev, cur, fd); !equal {
			changes = append(changes, FieldChange{
				Field:    fd.Name,
				Previous: prev,
				Current:  cur,
				Kind:     Modified,
				Reason:   changeReason(used, prev, cur),
			})
		}
	}

	for j, fd := range previous.meta.allTracked {
		if sameType && s.meta.IsTracked(fd.Name) {
			continue
		}
		changes = append(changes, FieldChange{Field: fd.Name, Previous: previous.values[j], Kind: Removed, Reason: "field no longer tracked"})
	}

	return newChangeResult(changes)
}

// lookup finds the previous value of a current field.
func (s *Snapshot) lookup(current *TypeMetadata, index int, name string, sameType bool) (any, bool) {
	if !sameType {
		return nil, false
	}
	if s.meta == current {
		return s.values[index], true
	}
	j, ok := s.meta.byName[name]
	if !ok {
		return nil, false
	}
	return s.values[j], true
}

func changeReason(used comparisonStrategy, prev, cur any) string {
	switch used {
	case strategyAbsent:
		if isAbsent(reflect.ValueOf(prev)) {
			return "value set"
		}
		return "value cleared"
	case strategyContents:
		return "collection contents changed"
	case strategyCustom:
		return "custom equality reported a difference"
	case strategySimple:
		return "value changed"
	}
	if reflect.TypeOf(prev) != reflect.TypeOf(cur) {
		return "value type changed"
	}
	return "reference changed"
}

func (s *Snapshot) retain() {
	s.refs.Add(1)
}

func (s *Snapshot) release() {
	if s.refs.Add(-1) == 0 && !s.escaped.Load() && s.pool != nil {
		s.pool.Put(s)
	}
}

// discard returns a snapshot that was never stored to the pool.
func (s *Snapshot) discard() {
	s.retain()
	s.release()
}

// escape marks s as handed out; it is never pooled afterwards.
func (s *Snapshot) escape() *Snapshot {
	s.escaped.Store(true)
	return s
}

// maxPooledFields bounds the value slices kept by the pool.
const maxPooledFields = 64

func resetSnapshot(s *Snapshot) (*Snapshot, bool) {
	if cap(s.values) > maxPooledFields {
		return nil, false
	}
	clear(s.values)
	s.values = s.values[:0]
	s.typ = nil
	s.meta = nil
	s.capturedAt = time.Time{}
	s.worker = ""
	s.refs.Store(0)
	s.escaped.Store(false)
	return s, true
}
