// analyzer_test.go: Tests for field classification and the metadata cache
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type analyzedWidget struct {
	ID        uuid.UUID
	Name      string
	Price     float64
	Stock     int
	Active    bool
	UpdatedAt time.Time
	TTL       time.Duration
	Tags      []string          `mnemos:"track,contents,depth=2"`
	Attrs     map[string]string `mnemos:"track,desc=free-form attributes, not ordered"`
	Secret    string            `mnemos:"-"`
	Notes     []string
	Owner     *analyzedWidget
	Callback  func()
	mu        sync.Mutex
	internal  int
}

type disabledByMarker struct {
	_    struct{} `mnemos:"disable"`
	Name string
}

type badTag struct {
	Name string `mnemos:"follow"`
}

type misplacedDisable struct {
	Name string `mnemos:"disable"`
}

type embeddedBase struct {
	Version int
}

type withEmbedded struct {
	embeddedBase
	Label string
}

type wideStruct struct {
	F01, F02, F03, F04, F05, F06, F07, F08 int
	Pinned                                 string `mnemos:"track"`
}

func newTestAnalyzer(cfg Config) *FieldAnalyzer {
	cfg.Logger = NopLogger()
	return NewFieldAnalyzer(cfg)
}

func fieldNames(fds []FieldDescriptor) []string {
	names := make([]string, len(fds))
	for i, fd := range fds {
		names[i] = fd.Name
	}
	return names
}

func TestFieldAnalyzer_Classification(t *testing.T) {
	a := newTestAnalyzer(Config{})
	meta := a.Analyze(reflect.TypeFor[analyzedWidget]())

	if meta.TrackingDisabled {
		t.Fatalf("Expected tracking enabled, got disabled: %s", meta.DisabledReason)
	}

	wantAuto := []string{"ID", "Name", "Price", "Stock", "Active", "UpdatedAt", "TTL"}
	if got := fieldNames(meta.AutoTracked); !reflect.DeepEqual(got, wantAuto) {
		t.Errorf("AutoTracked = %v, want %v", got, wantAuto)
	}
	wantExplicit := []string{"Tags", "Attrs"}
	if got := fieldNames(meta.ExplicitlyTracked); !reflect.DeepEqual(got, wantExplicit) {
		t.Errorf("ExplicitlyTracked = %v, want %v", got, wantExplicit)
	}
	if got := fieldNames(meta.Ignored); !reflect.DeepEqual(got, []string{"Secret"}) {
		t.Errorf("Ignored = %v, want [Secret]", got)
	}

	// Explicit fields come first in capture order
	all := fieldNames(meta.AllTracked())
	if all[0] != "Tags" || all[1] != "Attrs" || all[2] != "ID" {
		t.Errorf("Unexpected capture order: %v", all)
	}

	for _, name := range []string{"Notes", "Owner", "Callback", "mu", "internal"} {
		if meta.IsTracked(name) {
			t.Errorf("Field %s should not be tracked", name)
		}
	}

	tags, ok := meta.Field("Tags")
	if !ok {
		t.Fatal("Tags should be tracked")
	}
	if !tags.Options.TrackContents || tags.Options.MaxDepth != 2 {
		t.Errorf("Unexpected Tags options: %+v", tags.Options)
	}
	attrs, _ := meta.Field("Attrs")
	if attrs.Options.Description != "free-form attributes, not ordered" {
		t.Errorf("Unexpected description: %q", attrs.Options.Description)
	}
}

func TestFieldAnalyzer_PointerResolvesToStruct(t *testing.T) {
	a := newTestAnalyzer(Config{})
	byValue := a.Analyze(reflect.TypeFor[analyzedWidget]())
	byPointer := a.Analyze(reflect.TypeFor[*analyzedWidget]())
	if byValue != byPointer {
		t.Error("Pointer and value types should share cached metadata")
	}
}

func TestFieldAnalyzer_DisabledTypes(t *testing.T) {
	a := newTestAnalyzer(Config{})

	tests := []struct {
		name     string
		typ      reflect.Type
		failures int64
	}{
		{"type marker", reflect.TypeFor[disabledByMarker](), 0},
		{"not a struct", reflect.TypeFor[int](), 0},
		{"malformed tag", reflect.TypeFor[badTag](), 1},
		{"disable on named field", reflect.TypeFor[misplacedDisable](), 1},
	}

	var failures int64
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			meta := a.Analyze(tt.typ)
			if !meta.TrackingDisabled {
				t.Errorf("Expected tracking disabled for %v", tt.typ)
			}
			if meta.TrackedCount() != 0 {
				t.Errorf("Disabled metadata should track nothing, got %d", meta.TrackedCount())
			}
			failures += tt.failures
			if got := a.Stats().Failures; got != failures {
				t.Errorf("Expected %d analysis failures, got %d", failures, got)
			}
		})
	}

	if meta := a.Analyze(nil); !meta.TrackingDisabled {
		t.Error("Nil type should yield disabled metadata")
	}
}

func TestFieldAnalyzer_EmbeddedFieldsSkipped(t *testing.T) {
	a := newTestAnalyzer(Config{})
	meta := a.Analyze(reflect.TypeFor[withEmbedded]())
	if got := fieldNames(meta.AllTracked()); !reflect.DeepEqual(got, []string{"Label"}) {
		t.Errorf("Expected only Label tracked, got %v", got)
	}
}

func TestFieldAnalyzer_FieldCap(t *testing.T) {
	a := newTestAnalyzer(Config{MaxTrackedFieldsPerType: 4})
	meta := a.Analyze(reflect.TypeFor[wideStruct]())

	if meta.TrackedCount() != 4 {
		t.Fatalf("Expected 4 tracked fields, got %d", meta.TrackedCount())
	}
	if !meta.IsTracked("Pinned") {
		t.Error("Explicit fields must survive the cap")
	}
	if got := fieldNames(meta.AutoTracked); !reflect.DeepEqual(got, []string{"F01", "F02", "F03"}) {
		t.Errorf("Expected the first auto fields in declaration order, got %v", got)
	}
}

func TestFieldAnalyzer_AutoTrackingDisabled(t *testing.T) {
	a := newTestAnalyzer(Config{DisableAutoTracking: true})
	meta := a.Analyze(reflect.TypeFor[analyzedWidget]())
	if len(meta.AutoTracked) != 0 {
		t.Errorf("Expected no auto-tracked fields, got %v", fieldNames(meta.AutoTracked))
	}
	if len(meta.ExplicitlyTracked) != 2 {
		t.Errorf("Explicit fields should still be tracked, got %v", fieldNames(meta.ExplicitlyTracked))
	}
}

func TestFieldAnalyzer_ConcurrentAnalysisRunsOnce(t *testing.T) {
	a := newTestAnalyzer(Config{})
	typ := reflect.TypeFor[analyzedWidget]()

	const workers = 32
	results := make([]*TypeMetadata, workers)
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			results[i] = a.Analyze(typ)
		}(i)
	}
	close(start)
	wg.Wait()

	for i, meta := range results {
		if meta != results[0] {
			t.Fatalf("Worker %d got a different metadata instance", i)
		}
	}
	if got := a.Stats().Analyses; got != 1 {
		t.Errorf("Expected exactly 1 analysis, got %d", got)
	}
}

func TestFieldAnalyzer_ContextCancelled(t *testing.T) {
	a := newTestAnalyzer(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	// A cached type is served even with a dead context
	a.Analyze(reflect.TypeFor[wideStruct]())
	if _, err := a.AnalyzeContext(ctx, reflect.TypeFor[wideStruct]()); err != nil {
		t.Errorf("Cached lookup should not fail, got %v", err)
	}
}

func TestFieldAnalyzer_Register(t *testing.T) {
	a := newTestAnalyzer(Config{})
	typ := reflect.TypeFor[analyzedWidget]()
	before := a.Analyze(typ)

	spec := NewTypeSpec().
		Ignore("Name").
		Track("Notes", WithContents()).
		Configure("Price", WithCustomEquality())
	if err := a.Register(typ, spec); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Later builder calls must not leak into the registered spec
	spec.Ignore("Price")

	after := a.Analyze(typ)
	if after == before {
		t.Fatal("Register should invalidate cached metadata")
	}
	if after.IsTracked("Name") {
		t.Error("Name should be ignored by registration")
	}
	notes, ok := after.Field("Notes")
	if !ok || notes.Kind != ExplicitTrack || !notes.Options.TrackContents {
		t.Errorf("Notes should be explicitly tracked with contents, got %+v", notes)
	}
	price, ok := after.Field("Price")
	if !ok || price.Kind != AutoTrack || !price.Options.UseCustomEquality {
		t.Errorf("Price should stay auto-tracked with custom equality, got %+v", price)
	}
	if a.Stats().Invalidations != 1 {
		t.Errorf("Expected 1 invalidation, got %d", a.Stats().Invalidations)
	}
}

func TestFieldAnalyzer_RegisterErrors(t *testing.T) {
	a := newTestAnalyzer(Config{})

	if err := a.Register(reflect.TypeFor[string](), NewTypeSpec()); GetValidationErrorCode(err) != ErrCodeInvalidRegistration {
		t.Errorf("Expected %s for non-struct, got %v", ErrCodeInvalidRegistration, err)
	}
	err := a.Register(reflect.TypeFor[analyzedWidget](), NewTypeSpec().Track("Missing"))
	if GetValidationErrorCode(err) != ErrCodeInvalidRegistration {
		t.Errorf("Expected %s for unknown field, got %v", ErrCodeInvalidRegistration, err)
	}

	if err := a.Register(reflect.TypeFor[wideStruct](), NewTypeSpec().Disable()); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if meta := a.Analyze(reflect.TypeFor[wideStruct]()); !meta.TrackingDisabled {
		t.Error("Disable() should turn tracking off for the type")
	}
}

func TestFieldAnalyzer_MaintainEvictsLRU(t *testing.T) {
	a := newTestAnalyzer(Config{MaxCachedTypes: 2})

	a.Analyze(reflect.TypeFor[analyzedWidget]())
	a.Analyze(reflect.TypeFor[wideStruct]())
	a.Analyze(reflect.TypeFor[withEmbedded]())
	// Touch the first type so the second becomes least recently used
	a.Analyze(reflect.TypeFor[analyzedWidget]())

	if removed := a.Maintain(); removed != 1 {
		t.Fatalf("Expected 1 eviction, got %d", removed)
	}
	stats := a.Stats()
	if stats.Entries != 2 || stats.Evictions != 1 {
		t.Errorf("Unexpected stats after maintenance: %+v", stats)
	}
	if _, ok := a.cache.Load(reflect.TypeFor[wideStruct]()); ok {
		t.Error("Least recently used type should have been evicted")
	}
}

func TestFieldAnalyzer_InvalidateAll(t *testing.T) {
	a := newTestAnalyzer(Config{})
	a.Analyze(reflect.TypeFor[analyzedWidget]())
	a.Analyze(reflect.TypeFor[wideStruct]())
	a.InvalidateAll()

	stats := a.Stats()
	if stats.Entries != 0 || stats.Invalidations != 2 {
		t.Errorf("Unexpected stats after InvalidateAll: %+v", stats)
	}
	a.Analyze(reflect.TypeFor[analyzedWidget]())
	if a.Stats().Analyses != 3 {
		t.Errorf("Expected re-analysis after invalidation, got %d analyses", a.Stats().Analyses)
	}
}

func TestParseFieldTag(t *testing.T) {
	tests := []struct {
		tag     string
		want    fieldMarker
		wantErr bool
	}{
		{"", fieldMarker{}, false},
		{"-", fieldMarker{ignore: true}, false},
		{"ignore", fieldMarker{ignore: true}, false},
		{"track", fieldMarker{track: true}, false},
		{"disable", fieldMarker{disable: true}, false},
		{"track,contents,depth=3", fieldMarker{track: true, hasOptions: true,
			options: CompareOptions{TrackContents: true, MaxDepth: 3}}, false},
		{",custom", fieldMarker{hasOptions: true, options: CompareOptions{UseCustomEquality: true}}, false},
		{"track,desc=a, b", fieldMarker{track: true, hasOptions: true, options: CompareOptions{Description: "a, b"}}, false},
		{"follow", fieldMarker{}, true},
		{"track,depth=-1", fieldMarker{}, true},
		{"track,shallow", fieldMarker{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.tag, func(t *testing.T) {
			got, err := parseFieldTag(tt.tag)
			if tt.wantErr {
				if GetValidationErrorCode(err) != ErrCodeInvalidTag {
					t.Errorf("Expected %s, got %v", ErrCodeInvalidTag, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("parseFieldTag(%q) = %+v, want %+v", tt.tag, got, tt.want)
			}
		})
	}
}

func TestFieldAnalyzer_RegisterDuringAnalysis(t *testing.T) {
	a := newTestAnalyzer(Config{})
	typ := reflect.TypeFor[analyzedWidget]()

	// An analysis that started before the registration
	st := a.stamp(typ)
	stale := a.analyze(typ)

	if err := a.Register(typ, NewTypeSpec().Ignore("Name")); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if a.storeIfCurrent(typ, st, stale) {
		t.Fatal("Metadata built before the registration must not be cached")
	}
	if a.Analyze(typ).IsTracked("Name") {
		t.Error("The registration should apply to the next analysis")
	}

	st = a.stamp(typ)
	a.InvalidateAll()
	if a.storeIfCurrent(typ, st, stale) {
		t.Error("InvalidateAll should also reject analyses in flight")
	}
}

func TestTinyAllocated(t *testing.T) {
	tests := []struct {
		name string
		typ  reflect.Type
		want bool
	}{
		{"int32", reflect.TypeFor[struct{ N int32 }](), true},
		{"byte array", reflect.TypeFor[struct{ B [15]byte }](), true},
		{"sixteen bytes", reflect.TypeFor[struct{ A, B int64 }](), false},
		{"string", reflect.TypeFor[struct{ S string }](), false},
		{"pointer", reflect.TypeFor[struct{ P *int }](), false},
		{"nested pointer", reflect.TypeFor[struct{ In struct{ M map[string]int } }](), false},
		{"empty array", reflect.TypeFor[struct {
			A [0]*int
			N int32
		}](), true},
		{"empty", reflect.TypeFor[struct{}](), false},
	}
	for _, tt := range tests {
		if got := tinyAllocated(tt.typ); got != tt.want {
			t.Errorf("%s: tinyAllocated = %v, want %v", tt.name, got, tt.want)
		}
	}
}
