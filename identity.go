// identity.go: Weak instance identity and access ordering
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"reflect"
	"slices"
	"sync/atomic"
	"weak"
)

// instanceKey identifies a tracked object by address without keeping it
// alive. Weak pointers made from the same pointer compare equal, and a
// weak pointer is never reused for another object, so keys cannot collide
// even after the owner is collected. The type is part of the key because a
// struct and its first field share an address.
type instanceKey struct {
	ref weak.Pointer[byte]
	typ reflect.Type
}

// identityOf returns the key for obj. Only non-nil pointers to non-empty
// structs are trackable.
func identityOf(obj any) (instanceKey, bool) {
	v := reflect.ValueOf(obj)
	if v.Kind() != reflect.Pointer || v.IsNil() {
		return instanceKey{}, false
	}
	elem := v.Type().Elem()
	if elem.Kind() != reflect.Struct || elem.Size() == 0 {
		return instanceKey{}, false
	}
	return instanceKey{
		ref: weak.Make((*byte)(v.UnsafePointer())),
		typ: elem,
	}, true
}

// alive reports whether the owner is still reachable. For tiny-allocated
// types it may keep reporting true after the owner is gone.
func (k instanceKey) alive() bool {
	return k.ref.Value() != nil
}

// maxTinySize is the runtime's tiny allocator bound. Pointer-free objects
// smaller than this share 16-byte blocks with unrelated objects, and a weak
// pointer into such a block can outlive the object it was made from.
const maxTinySize = 16

// tinyAllocated reports whether instances of t may come from the tiny
// allocator, which makes their reachability invisible to the store.
func tinyAllocated(t reflect.Type) bool {
	return t.Size() > 0 && t.Size() < maxTinySize && !hasPointers(t)
}

func hasPointers(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.UnsafePointer, reflect.Map, reflect.Chan,
		reflect.Func, reflect.Interface, reflect.Slice, reflect.String:
		return true
	case reflect.Array:
		return t.Len() > 0 && hasPointers(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if hasPointers(t.Field(i).Type) {
				return true
			}
		}
	}
	return false
}

// accessClock orders accesses for LRU decisions. Wall-clock timestamps are
// too coarse for that; timecache resolution is shared by many accesses.
var accessClock atomic.Uint64

func nextAccessTick() uint64 {
	return accessClock.Add(1)
}

// lruCandidate is a point-in-time view of a cache entry used by eviction.
type lruCandidate[K comparable, V any] struct {
	key   K
	entry V
	seq   uint64
}

// oldestFirst returns the n least recently accessed candidates.
func oldestFirst[K comparable, V any](candidates []lruCandidate[K, V], n int) []lruCandidate[K, V] {
	if n <= 0 {
		return nil
	}
	slices.SortFunc(candidates, func(a, b lruCandidate[K, V]) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		default:
			return 0
		}
	})
	if n > len(candidates) {
		n = len(candidates)
	}
	return candidates[:n]
}

type workerKey struct{}

// WithWorkerID tags ctx with the identifier of the calling worker. Snapshots
// captured under that context record it.
func WithWorkerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, workerKey{}, id)
}

func workerID(ctx context.Context) string {
	if id, ok := ctx.Value(workerKey{}).(string); ok {
		return id
	}
	return ""
}
