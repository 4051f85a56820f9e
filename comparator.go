// comparator.go: Comparator - pluggable per-field equality
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"reflect"
	"time"

	"github.com/agilira/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
)

// EqualityFunc decides whether two values of the same type are equal.
type EqualityFunc func(a, b any) bool

// ComparisonStatistics describes comparator activity.
type ComparisonStatistics struct {
	Comparisons        int64 `json:"comparisons"`
	Failures           int64 `json:"failures"`
	ContentComparisons int64 `json:"content_comparisons"`
	CustomComparisons  int64 `json:"custom_comparisons"`
}

// FailureRate returns failures / comparisons.
func (s ComparisonStatistics) FailureRate() float64 {
	return ratio(s.Failures, s.Comparisons)
}

// valueCategory selects the default strategy in the dispatch table.
type valueCategory uint8

const (
	categorySimple valueCategory = iota
	categoryCollection
	categoryComplex
	categoryCount
)

// comparisonStrategy records which rule decided a comparison.
type comparisonStrategy uint8

const (
	strategyIdentity comparisonStrategy = iota
	strategyAbsent
	strategyUnreadable
	strategyContents
	strategyCustom
	strategySimple
	strategyCollection
	strategyComplex
)

var categoryStrategies = [categoryCount]comparisonStrategy{
	categorySimple:     strategySimple,
	categoryCollection: strategyCollection,
	categoryComplex:    strategyComplex,
}

// Comparator decides whether a field changed between two snapshots.
//
// Dispatch order:
//  1. both absent, or the same reference: equal; exactly one absent: unequal
//  2. TrackContents on a slice or array: element-wise up to MaxDepth
//  3. UseCustomEquality with a registered func or an Equal(T) bool method
//  4. by category: simple values by value, collections and everything
//     else by identity
//
// A panic in steps 2 to 4 is recovered, counted as a failure, and the
// result falls back to identity equality.
type Comparator struct {
	defaultDepth    int
	contentsEnabled bool

	custom   *xsync.MapOf[reflect.Type, EqualityFunc]
	dispatch [categoryCount]func(a, b reflect.Value) bool

	comparisons *xsync.Counter
	failures    *xsync.Counter
	contents    *xsync.Counter
	customs     *xsync.Counter

	report func(error)
}

// NewComparator creates a comparator using the comparison settings of config.
func NewComparator(config Config) *Comparator {
	cfg := config.WithDefaults()
	c := &Comparator{
		defaultDepth:    cfg.MaxComparisonDepth,
		contentsEnabled: !cfg.DisableContentTracking,
		custom:          xsync.NewMapOf[reflect.Type, EqualityFunc](),
		comparisons:     xsync.NewCounter(),
		failures:        xsync.NewCounter(),
		contents:        xsync.NewCounter(),
		customs:         xsync.NewCounter(),
	}
	c.dispatch[categorySimple] = naturalEqual
	c.dispatch[categoryCollection] = identityEqual
	c.dispatch[categoryComplex] = identityEqual
	return c
}

// RegisterEquality installs fn for fields of type t that request custom equality.
func (c *Comparator) RegisterEquality(t reflect.Type, fn EqualityFunc) {
	if t == nil {
		return
	}
	if fn == nil {
		c.custom.Delete(t)
		return
	}
	c.custom.Store(t, fn)
}

// RegisterEqualityFunc is the typed form of RegisterEquality.
func RegisterEqualityFunc[T any](c *Comparator, fn func(a, b T) bool) {
	c.RegisterEquality(reflect.TypeFor[T](), func(a, b any) bool {
		return fn(a.(T), b.(T))
	})
}

// Equal reports whether previous and current are equal under field's options.
func (c *Comparator) Equal(previous, current any, field FieldDescriptor) bool {
	equal, _ := c.compare(previous, current, field)
	return equal
}

func (c *Comparator) compare(previous, current any, field FieldDescriptor) (bool, comparisonStrategy) {
	c.comparisons.Inc()

	// A field that could not be read is reported as unchanged.
	if IsUnreadable(previous) || IsUnreadable(current) {
		return true, strategyUnreadable
	}

	pv, cv := reflect.ValueOf(previous), reflect.ValueOf(current)
	pAbsent, cAbsent := isAbsent(pv), isAbsent(cv)
	switch {
	case pAbsent && cAbsent:
		return true, strategyAbsent
	case pAbsent || cAbsent:
		return false, strategyAbsent
	}
	if pv.Type() != cv.Type() {
		return false, strategyIdentity
	}
	if sameReference(pv, cv) {
		return true, strategyIdentity
	}

	t := pv.Type()

	if field.Options.TrackContents && c.contentsEnabled && isOrderedCollection(t) {
		depth := field.Options.MaxDepth
		if depth <= 0 {
			depth = c.defaultDepth
		}
		c.contents.Inc()
		if equal, ok := c.guarded(field, t, func() bool { return c.contentsEqual(pv, cv, depth) }); ok {
			return equal, strategyContents
		}
		return safeIdentity(pv, cv), strategyIdentity
	}

	if field.Options.UseCustomEquality {
		if fn := c.customFor(t, pv); fn != nil {
			c.customs.Inc()
			if equal, ok := c.guarded(field, t, func() bool { return fn(pv, cv) }); ok {
				return equal, strategyCustom
			}
			return safeIdentity(pv, cv), strategyIdentity
		}
	}

	cat := categorize(t)
	if equal, ok := c.guarded(field, t, func() bool { return c.dispatch[cat](pv, cv) }); ok {
		return equal, categoryStrategies[cat]
	}
	return safeIdentity(pv, cv), strategyIdentity
}

// guarded runs fn, converting a panic into a counted comparison failure.
func (c *Comparator) guarded(field FieldDescriptor, t reflect.Type, fn func() bool) (equal bool, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			c.failures.Inc()
			if c.report != nil {
				c.report(errors.New(ErrCodeComparisonFailed, fmt.Sprintf("comparison panicked: %v", r)).
					WithContext("field", field.Name).
					WithContext("type", t.String()))
			}
			equal, ok = false, false
		}
	}()
	return fn(), true
}

// customFor returns a registered function for t, or a call to t's
// Equal(T) bool method, or nil.
func (c *Comparator) customFor(t reflect.Type, sample reflect.Value) func(a, b reflect.Value) bool {
	if fn, ok := c.custom.Load(t); ok {
		return func(a, b reflect.Value) bool {
			return fn(a.Interface(), b.Interface())
		}
	}

	method, ok := t.MethodByName("Equal")
	if !ok || !sample.CanInterface() {
		return nil
	}
	mt := method.Type // receiver is In(0)
	if mt.NumIn() != 2 || mt.NumOut() != 1 || mt.Out(0).Kind() != reflect.Bool || !t.AssignableTo(mt.In(1)) {
		return nil
	}
	return func(a, b reflect.Value) bool {
		return method.Func.Call([]reflect.Value{a, b})[0].Bool()
	}
}

// contentsEqual compares ordered collections element by element. Nested
// collections consume one level of depth; at depth zero identity is used.
func (c *Comparator) contentsEqual(a, b reflect.Value, depth int) bool {
	if depth <= 0 {
		return identityEqual(a, b)
	}
	if a.Len() != b.Len() {
		return false
	}
	for i := 0; i < a.Len(); i++ {
		if !c.elementEqual(a.Index(i), b.Index(i), depth) {
			return false
		}
	}
	return true
}

func (c *Comparator) elementEqual(x, y reflect.Value, depth int) bool {
	if x.Kind() == reflect.Interface {
		if x.IsNil() || y.IsNil() {
			return x.IsNil() == y.IsNil()
		}
		x, y = x.Elem(), y.Elem()
		if x.Type() != y.Type() {
			return false
		}
	}

	xAbsent, yAbsent := isAbsent(x), isAbsent(y)
	if xAbsent || yAbsent {
		return xAbsent == yAbsent
	}
	if sameReference(x, y) {
		return true
	}
	if isOrderedCollection(x.Type()) {
		return c.contentsEqual(x, y, depth-1)
	}
	return c.dispatch[categorize(x.Type())](x, y)
}

// Stats returns a snapshot of the comparator counters.
func (c *Comparator) Stats() ComparisonStatistics {
	return ComparisonStatistics{
		Comparisons:        c.comparisons.Value(),
		Failures:           c.failures.Value(),
		ContentComparisons: c.contents.Value(),
		CustomComparisons:  c.customs.Value(),
	}
}

func categorize(t reflect.Type) valueCategory {
	if isSimpleType(t) {
		return categorySimple
	}
	switch t.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return categoryCollection
	default:
		return categoryComplex
	}
}

func isOrderedCollection(t reflect.Type) bool {
	k := t.Kind()
	return k == reflect.Slice || k == reflect.Array
}

func isAbsent(v reflect.Value) bool {
	if !v.IsValid() {
		return true
	}
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func,
		reflect.Interface, reflect.UnsafePointer:
		return v.IsNil()
	}
	return false
}

// sameReference reports whether two reference-kind values share storage.
func sameReference(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Slice:
		return a.Len() == b.Len() && a.Pointer() == b.Pointer()
	}
	return false
}

// identityEqual compares references by address and values by ==.
// Non-comparable structs and arrays compare their fields by identity.
func identityEqual(a, b reflect.Value) bool {
	switch a.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return a.Pointer() == b.Pointer()
	case reflect.Slice:
		return a.Len() == b.Len() && (a.Len() == 0 || a.Pointer() == b.Pointer())
	case reflect.Interface:
		if a.IsNil() || b.IsNil() {
			return a.IsNil() == b.IsNil()
		}
		ae, be := a.Elem(), b.Elem()
		if ae.Type() != be.Type() {
			return false
		}
		return identityEqual(ae, be)
	case reflect.Struct:
		if a.Type().Comparable() {
			return a.Equal(b)
		}
		for i := 0; i < a.NumField(); i++ {
			if !identityEqual(a.Field(i), b.Field(i)) {
				return false
			}
		}
		return true
	case reflect.Array:
		if a.Type().Comparable() {
			return a.Equal(b)
		}
		for i := 0; i < a.Len(); i++ {
			if !identityEqual(a.Index(i), b.Index(i)) {
				return false
			}
		}
		return true
	default:
		return a.Equal(b)
	}
}

// safeIdentity is identityEqual that reports a difference instead of panicking.
func safeIdentity(a, b reflect.Value) (equal bool) {
	defer func() {
		if recover() != nil {
			equal = false
		}
	}()
	return identityEqual(a, b)
}

// naturalEqual is value equality for simple types. Times compare by
// instant and NaN equals NaN so an unchanged NaN field is not a change.
func naturalEqual(a, b reflect.Value) bool {
	if a.Type() == timeType && a.CanInterface() {
		return a.Interface().(time.Time).Equal(b.Interface().(time.Time))
	}
	switch a.Kind() {
	case reflect.Float32, reflect.Float64:
		x, y := a.Float(), b.Float()
		return x == y || (x != x && y != y)
	case reflect.Complex64, reflect.Complex128:
		x, y := a.Complex(), b.Complex()
		return x == y || (x != x && y != y)
	}
	return a.Equal(b)
}
