// registry.go: Registration-time tracking configuration
//
// TypeSpec is the builder counterpart of the mnemos struct tag. It lets a
// host configure types it does not own (or does not want to annotate) before
// the first analysis. Registration entries are merged over tag markers.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import "maps"

// FieldOption adjusts CompareOptions for a registered field.
type FieldOption func(*CompareOptions)

// WithContents enables element-wise comparison for a slice or array field.
func WithContents() FieldOption {
	return func(o *CompareOptions) { o.TrackContents = true }
}

// WithMaxDepth bounds element-wise comparison of nested collections.
func WithMaxDepth(depth int) FieldOption {
	return func(o *CompareOptions) {
		if depth >= 0 {
			o.MaxDepth = depth
		}
	}
}

// WithCustomEquality enables registered equality functions and Equal methods.
func WithCustomEquality() FieldOption {
	return func(o *CompareOptions) { o.UseCustomEquality = true }
}

// WithDescription attaches a human-readable description to the field.
func WithDescription(description string) FieldOption {
	return func(o *CompareOptions) { o.Description = description }
}

// TypeSpec collects per-field markers for one type.
//
// Example:
//
//	spec := mnemos.NewTypeSpec().
//		Track("Data", mnemos.WithContents()).
//		Ignore("Cache")
//	engine.Register(reflect.TypeOf(Widget{}), spec)
type TypeSpec struct {
	fields   map[string]fieldMarker
	disabled bool
}

// NewTypeSpec returns an empty specification.
func NewTypeSpec() *TypeSpec {
	return &TypeSpec{fields: make(map[string]fieldMarker)}
}

// Track marks a field for explicit tracking.
func (s *TypeSpec) Track(name string, opts ...FieldOption) *TypeSpec {
	m := s.fields[name]
	m.track = true
	if len(opts) > 0 {
		for _, opt := range opts {
			opt(&m.options)
		}
		m.hasOptions = true
	}
	s.fields[name] = m
	return s
}

// Configure sets comparison options without changing the classification.
func (s *TypeSpec) Configure(name string, opts ...FieldOption) *TypeSpec {
	m := s.fields[name]
	for _, opt := range opts {
		opt(&m.options)
	}
	m.hasOptions = true
	s.fields[name] = m
	return s
}

// Ignore marks a field as ignored. Ignore always wins over Track.
func (s *TypeSpec) Ignore(name string) *TypeSpec {
	m := s.fields[name]
	m.ignore = true
	s.fields[name] = m
	return s
}

// Disable turns tracking off for the whole type.
func (s *TypeSpec) Disable() *TypeSpec {
	s.disabled = true
	return s
}

// clone returns an independent copy so later builder calls cannot
// affect a registered spec.
func (s *TypeSpec) clone() *TypeSpec {
	if s == nil {
		return NewTypeSpec()
	}
	return &TypeSpec{fields: maps.Clone(s.fields), disabled: s.disabled}
}

func (s *TypeSpec) marker(name string) (fieldMarker, bool) {
	if s == nil {
		return fieldMarker{}, false
	}
	m, ok := s.fields[name]
	return m, ok
}
