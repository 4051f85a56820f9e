// capture.go: SnapshotFactory - reads tracked fields into snapshots
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"fmt"
	"reflect"
	"unsafe"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/puzpuzpuz/xsync/v3"
)

// CaptureStatistics describes snapshot production.
type CaptureStatistics struct {
	Captures      int64          `json:"captures"`
	FieldFailures int64          `json:"field_failures"`
	Pool          PoolStatistics `json:"pool"`
}

// SnapshotFactory captures the tracked fields of objects. Snapshots are
// drawn from a bounded pool and return to it once the engine drops them.
type SnapshotFactory struct {
	pool            *Pool[*Snapshot]
	contentsEnabled bool
	defaultDepth    int

	// empties holds one zero-length slice per slice type so that
	// capturing empty collections does not allocate.
	empties *xsync.MapOf[reflect.Type, any]

	captures      *xsync.Counter
	fieldFailures *xsync.Counter

	report func(error)
}

var noValues = []any{}

// NewSnapshotFactory creates a factory using the capture settings of config.
func NewSnapshotFactory(config Config) *SnapshotFactory {
	cfg := config.WithDefaults()
	return &SnapshotFactory{
		pool: NewPool(cfg.PoolCapacity,
			func() *Snapshot { return &Snapshot{} },
			resetSnapshot),
		contentsEnabled: !cfg.DisableContentTracking,
		defaultDepth:    cfg.MaxComparisonDepth,
		empties:         xsync.NewMapOf[reflect.Type, any](),
		captures:        xsync.NewCounter(),
		fieldFailures:   xsync.NewCounter(),
	}
}

// Capture reads the fields listed in meta from obj, which must be a non-nil
// pointer to a value of meta.Type. A field that cannot be read is recorded
// as Unreadable; the capture itself still succeeds.
func (f *SnapshotFactory) Capture(obj any, meta *TypeMetadata) (*Snapshot, error) {
	return f.CaptureContext(context.Background(), obj, meta)
}

// CaptureContext is Capture recording the worker id carried by ctx.
func (f *SnapshotFactory) CaptureContext(ctx context.Context, obj any, meta *TypeMetadata) (*Snapshot, error) {
	if meta == nil {
		return nil, errors.New(ErrCodeNotTrackable, "metadata is required")
	}
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return nil, errors.New(ErrCodeNotTrackable, "object must be a non-nil pointer to a struct").
			WithContext("type", fmt.Sprintf("%T", obj))
	}
	sv := v.Elem()
	if sv.Type() != meta.Type {
		return nil, errors.New(ErrCodeNotTrackable, "object type does not match metadata").
			WithContext("type", sv.Type().String()).
			WithContext("expected", fmt.Sprint(meta.Type))
	}

	s := f.pool.Get()
	s.typ = meta.Type
	s.meta = meta
	s.capturedAt = timecache.CachedTime()
	s.worker = workerID(ctx)
	s.pool = f.pool

	n := len(meta.allTracked)
	switch {
	case n == 0:
		s.values = noValues
	case cap(s.values) < n:
		s.values = make([]any, n)
	default:
		s.values = s.values[:n]
	}
	for i, fd := range meta.allTracked {
		s.values[i] = f.readField(sv, fd)
	}

	f.captures.Inc()
	return s, nil
}

// readField returns the value of one field, never panicking.
func (f *SnapshotFactory) readField(sv reflect.Value, fd FieldDescriptor) (value any) {
	defer func() {
		if r := recover(); r != nil {
			f.fieldFailed(sv.Type(), fd, fmt.Sprintf("field read panicked: %v", r))
			value = Unreadable
		}
	}()

	fv, err := sv.FieldByIndexErr(fd.Index)
	if err != nil {
		f.fieldFailed(sv.Type(), fd, err.Error())
		return Unreadable
	}
	if !fv.CanInterface() {
		if !fv.CanAddr() {
			f.fieldFailed(sv.Type(), fd, "unexported field is not addressable")
			return Unreadable
		}
		fv = reflect.NewAt(fv.Type(), unsafe.Pointer(fv.UnsafeAddr())).Elem()
	}

	if fd.Options.TrackContents && f.contentsEnabled && fv.Kind() == reflect.Slice {
		depth := fd.Options.MaxDepth
		if depth <= 0 {
			depth = f.defaultDepth
		}
		return f.copyContents(fv, depth).Interface()
	}
	return fv.Interface()
}

// copyContents copies a slice so later in-place mutation of the original is
// visible to comparison. Nested slices are copied up to depth levels.
func (f *SnapshotFactory) copyContents(v reflect.Value, depth int) reflect.Value {
	if v.IsNil() {
		return v
	}
	if v.Len() == 0 {
		return reflect.ValueOf(f.emptyOf(v.Type()))
	}
	cp := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
	reflect.Copy(cp, v)
	if depth > 1 && v.Type().Elem().Kind() == reflect.Slice {
		for i := 0; i < cp.Len(); i++ {
			cp.Index(i).Set(f.copyContents(cp.Index(i), depth-1))
		}
	}
	return cp
}

func (f *SnapshotFactory) emptyOf(t reflect.Type) any {
	empty, _ := f.empties.LoadOrCompute(t, func() any {
		return reflect.MakeSlice(t, 0, 0).Interface()
	})
	return empty
}

func (f *SnapshotFactory) fieldFailed(t reflect.Type, fd FieldDescriptor, msg string) {
	f.fieldFailures.Inc()
	if f.report != nil {
		f.report(errors.New(ErrCodeFieldReadFailed, msg).
			WithContext("type", t.String()).
			WithContext("field", fd.Name))
	}
}

// Stats returns a snapshot of the factory counters.
func (f *SnapshotFactory) Stats() CaptureStatistics {
	return CaptureStatistics{
		Captures:      f.captures.Value(),
		FieldFailures: f.fieldFailures.Value(),
		Pool:          f.pool.Stats(),
	}
}
