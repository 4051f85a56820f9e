// field.go: Field descriptors and per-field tracking markers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/agilira/go-errors"
)

// TrackingKind is the disposition assigned to a field by the analyzer.
type TrackingKind uint8

const (
	// Skip means the field is neither tracked nor explicitly ignored.
	Skip TrackingKind = iota
	// AutoTrack means the field was selected by the simple-value heuristic.
	AutoTrack
	// ExplicitTrack means the field carries a track marker.
	ExplicitTrack
	// Ignore means the field carries an ignore marker.
	Ignore
)

func (k TrackingKind) String() string {
	switch k {
	case Skip:
		return "skip"
	case AutoTrack:
		return "auto"
	case ExplicitTrack:
		return "explicit"
	case Ignore:
		return "ignore"
	default:
		return "unknown"
	}
}

// CompareOptions configures how a single field is compared.
type CompareOptions struct {
	// UseCustomEquality enables registered equality functions and Equal methods.
	UseCustomEquality bool

	// MaxDepth bounds element-wise comparison of nested collections.
	// Zero means the engine default (Config.MaxComparisonDepth).
	MaxDepth int

	// TrackContents switches slices and arrays from identity to
	// element-wise comparison and makes the snapshot keep a shallow copy.
	TrackContents bool

	// Description is free text surfaced in change reports.
	Description string
}

// FieldDescriptor describes one struct field as classified by the analyzer.
// Descriptors are values and never change after analysis.
type FieldDescriptor struct {
	Name     string
	Type     reflect.Type
	Index    []int
	Kind     TrackingKind
	Options  CompareOptions
	Exported bool
}

// IsTracked reports whether the field participates in snapshots.
func (fd FieldDescriptor) IsTracked() bool {
	return fd.Kind == AutoTrack || fd.Kind == ExplicitTrack
}

// tagName is the struct tag key read by the analyzer.
const tagName = "mnemos"

// fieldMarker is the parsed form of a tag or a registration entry.
type fieldMarker struct {
	ignore     bool
	track      bool
	disable    bool
	hasOptions bool
	options    CompareOptions
}

// merge overlays a registration marker on a tag marker. A registered
// classification replaces the tag's; within one registration ignore wins.
func (m fieldMarker) merge(other fieldMarker) fieldMarker {
	out := m
	switch {
	case other.ignore:
		out.ignore, out.track = true, false
	case other.track:
		out.ignore, out.track = false, true
	}
	if other.hasOptions {
		out.options = other.options
		out.hasOptions = true
	}
	return out
}

// parseFieldTag parses the mnemos struct tag.
//
// Grammar:
//
//	mnemos:"-"                      ignore
//	mnemos:"ignore"                 ignore
//	mnemos:"track,contents,depth=3" explicit track with options
//	mnemos:",custom"                options only, classification by heuristics
//	mnemos:"disable"                on a blank field, disables the whole type
//
// desc= must be the last option; everything after it is the description.
func parseFieldTag(tag string) (fieldMarker, error) {
	var m fieldMarker
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return m, nil
	}
	if tag == "-" {
		m.ignore = true
		return m, nil
	}

	head, rest, _ := strings.Cut(tag, ",")
	switch strings.TrimSpace(head) {
	case "":
	case "ignore":
		m.ignore = true
	case "track":
		m.track = true
	case "disable":
		m.disable = true
	default:
		return m, errors.New(ErrCodeInvalidTag, "unknown tracking directive '"+head+"'").
			WithContext("tag", tag)
	}

	for rest != "" {
		var opt string
		if strings.HasPrefix(strings.TrimSpace(rest), "desc=") {
			opt, rest = strings.TrimSpace(rest), ""
		} else {
			opt, rest, _ = strings.Cut(rest, ",")
			opt = strings.TrimSpace(opt)
		}
		if opt == "" {
			continue
		}
		m.hasOptions = true
		switch {
		case opt == "contents":
			m.options.TrackContents = true
		case opt == "custom":
			m.options.UseCustomEquality = true
		case strings.HasPrefix(opt, "depth="):
			depth, err := strconv.Atoi(strings.TrimPrefix(opt, "depth="))
			if err != nil || depth < 0 {
				return m, errors.New(ErrCodeInvalidTag, "depth must be a non-negative integer").
					WithContext("tag", tag)
			}
			m.options.MaxDepth = depth
		case strings.HasPrefix(opt, "desc="):
			m.options.Description = strings.TrimPrefix(opt, "desc=")
		default:
			return m, errors.New(ErrCodeInvalidTag, "unknown tracking option '"+opt+"'").
				WithContext("tag", tag)
		}
	}

	return m, nil
}
