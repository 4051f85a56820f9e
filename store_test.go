// store_test.go: Tests for the identity-keyed snapshot store
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"
)

type storedItem struct {
	Name  string
	Count int
}

type storeFixture struct {
	analyzer *FieldAnalyzer
	factory  *SnapshotFactory
	store    *SnapshotStore
}

func newStoreFixture(cfg Config) *storeFixture {
	cfg.Logger = NopLogger()
	f := NewSnapshotFactory(cfg)
	return &storeFixture{
		analyzer: NewFieldAnalyzer(cfg),
		factory:  f,
		store:    NewSnapshotStore(cfg, f.pool),
	}
}

func (fx *storeFixture) capture(t *testing.T, obj any) *Snapshot {
	t.Helper()
	snap, err := fx.factory.Capture(obj, fx.analyzer.Analyze(reflect.TypeOf(obj)))
	if err != nil {
		t.Fatalf("Capture failed: %v", err)
	}
	return snap
}

func TestSnapshotStore_StoreGetRemove(t *testing.T) {
	fx := newStoreFixture(Config{})
	item := &storedItem{Name: "a"}
	other := &storedItem{Name: "a"}

	if _, ok := fx.store.Get(item); ok {
		t.Fatal("Empty store should miss")
	}
	if err := fx.store.Store(item, fx.capture(t, item)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	snap, ok := fx.store.Get(item)
	if !ok {
		t.Fatal("Expected stored snapshot")
	}
	if name, _ := snap.Value("Name"); name != "a" {
		t.Errorf("Unexpected snapshot value %v", name)
	}
	if _, ok := fx.store.Get(other); ok {
		t.Error("Equal objects with distinct identity must not share snapshots")
	}

	if !fx.store.Remove(item) {
		t.Error("Remove should report an existing entry")
	}
	if fx.store.Remove(item) {
		t.Error("Second remove should report nothing")
	}

	stats := fx.store.Stats()
	if stats.Hits != 1 || stats.Misses != 2 || stats.Stores != 1 || stats.Removals != 1 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

func TestSnapshotStore_RejectsUntrackable(t *testing.T) {
	fx := newStoreFixture(Config{})
	item := &storedItem{}

	tests := []struct {
		name string
		obj  any
		snap *Snapshot
	}{
		{"value", storedItem{}, fx.capture(t, item)},
		{"nil pointer", (*storedItem)(nil), fx.capture(t, item)},
		{"pointer to int", new(int), fx.capture(t, item)},
		{"nil snapshot", item, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := fx.store.Store(tt.obj, tt.snap); GetValidationErrorCode(err) != ErrCodeNotTrackable {
				t.Errorf("Expected %s, got %v", ErrCodeNotTrackable, err)
			}
		})
	}
}

func TestSnapshotStore_ReplaceReleasesPrevious(t *testing.T) {
	fx := newStoreFixture(Config{})
	item := &storedItem{Name: "a"}
	key, _ := identityOf(item)

	first := fx.capture(t, item)
	fx.store.put(key, first)
	second := fx.capture(t, item)
	fx.store.put(key, second)

	// The replaced snapshot was never handed out, so it went back to the pool
	third := fx.capture(t, item)
	if third != first {
		t.Error("Replaced snapshot should be reused by the next capture")
	}
	if fx.store.Len() != 1 {
		t.Errorf("Expected 1 entry, got %d", fx.store.Len())
	}
}

func TestSnapshotStore_AcquiredSnapshotSurvivesReplacement(t *testing.T) {
	fx := newStoreFixture(Config{})
	item := &storedItem{Name: "a"}
	key, _ := identityOf(item)

	fx.store.put(key, fx.capture(t, item))
	held := fx.store.acquire(key)

	item.Name = "b"
	fx.store.put(key, fx.capture(t, item))

	// Still referenced by the holder: not pooled yet
	reused := fx.capture(t, item)
	if reused == held {
		t.Fatal("Held snapshot must not be reused")
	}
	if name, _ := held.Value("Name"); name != "a" {
		t.Errorf("Held snapshot changed: %v", name)
	}
	held.release()
}

func TestSnapshotStore_CapacityEvictsLRU(t *testing.T) {
	fx := newStoreFixture(Config{MaxTrackedObjects: 10})
	items := make([]*storedItem, 10)
	for i := range items {
		items[i] = &storedItem{Count: i}
		if err := fx.store.Store(items[i], fx.capture(t, items[i])); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
	// Refresh the first item so the second one is least recently used
	if _, ok := fx.store.Get(items[0]); !ok {
		t.Fatal("Expected first item to be stored")
	}

	extra := &storedItem{Count: 99}
	if err := fx.store.Store(extra, fx.capture(t, extra)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// Inline shrink trims to 90% of the bound
	if got := fx.store.Len(); got != 9 {
		t.Fatalf("Expected 9 entries after shrink, got %d", got)
	}
	if _, ok := fx.store.Get(items[0]); !ok {
		t.Error("Recently accessed item should survive")
	}
	if _, ok := fx.store.Get(extra); !ok {
		t.Error("Newest item should survive")
	}
	if _, ok := fx.store.Get(items[1]); ok {
		t.Error("Least recently used item should be evicted")
	}
	if fx.store.Stats().EvictedCapacity != 2 {
		t.Errorf("Expected 2 capacity evictions, got %d", fx.store.Stats().EvictedCapacity)
	}
	runtime.KeepAlive(items)
}

func TestSnapshotStore_ExpiredEntries(t *testing.T) {
	fx := newStoreFixture(Config{MaxSnapshotAge: time.Nanosecond})
	item := &storedItem{}
	if err := fx.store.Store(item, fx.capture(t, item)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}

	// timecache resolution is coarse; wait until the entry is visibly old
	deadline := time.Now().Add(2 * time.Second)
	for fx.store.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
		fx.store.Cleanup()
	}
	if fx.store.Len() != 0 {
		t.Fatal("Expired snapshot should be evicted")
	}
	if fx.store.Stats().EvictedExpired != 1 {
		t.Errorf("Expected 1 expired eviction, got %d", fx.store.Stats().EvictedExpired)
	}
	runtime.KeepAlive(item)
}

func TestSnapshotStore_DoesNotKeepObjectsAlive(t *testing.T) {
	fx := newStoreFixture(Config{})

	const n = 100
	func() {
		for i := 0; i < n; i++ {
			item := &storedItem{Name: "transient", Count: i}
			if err := fx.store.Store(item, fx.capture(t, item)); err != nil {
				t.Fatalf("Store failed: %v", err)
			}
		}
	}()
	if fx.store.Len() != n {
		t.Fatalf("Expected %d entries, got %d", n, fx.store.Len())
	}

	runtime.GC()
	runtime.GC()
	removed := fx.store.Cleanup()

	if fx.store.Len() != 0 {
		t.Errorf("Entries of collected objects should be purged, %d left", fx.store.Len())
	}
	if removed != n || fx.store.Stats().EvictedUnreachable != n {
		t.Errorf("Expected %d unreachable evictions, got %d (%+v)", n, removed, fx.store.Stats())
	}
}

func TestSnapshotStore_OnEvictCallback(t *testing.T) {
	fx := newStoreFixture(Config{})
	var evicted []instanceKey
	fx.store.onEvict = func(key instanceKey) { evicted = append(evicted, key) }

	item := &storedItem{}
	key, _ := identityOf(item)
	fx.store.put(key, fx.capture(t, item))
	fx.store.remove(key)

	if len(evicted) != 1 || evicted[0] != key {
		t.Errorf("Expected onEvict for the removed key, got %v", evicted)
	}
}

func TestSnapshotStore_ConcurrentAccess(t *testing.T) {
	fx := newStoreFixture(Config{MaxTrackedObjects: 64})
	items := make([]*storedItem, 128)
	for i := range items {
		items[i] = &storedItem{Count: i}
	}

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				item := items[(w*31+i)%len(items)]
				key, _ := identityOf(item)
				snap, err := fx.factory.Capture(item, fx.analyzer.Analyze(reflect.TypeOf(item)))
				if err != nil {
					t.Errorf("Capture failed: %v", err)
					return
				}
				fx.store.put(key, snap)
				if prev := fx.store.acquire(key); prev != nil {
					prev.release()
				}
			}
		}(w)
	}
	wg.Wait()

	fx.store.Cleanup()
	if got := fx.store.Len(); got > 64 {
		t.Errorf("Store exceeded its bound after cleanup: %d", got)
	}
	runtime.KeepAlive(items)
}
