// store.go: SnapshotStore - bounded identity-keyed snapshot cache
//
// The store keeps the most recent snapshot of every tracked object. Keys are
// weak, so the store never keeps an object alive; entries of collected
// objects are purged by the next eviction pass.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/puzpuzpuz/xsync/v3"
)

// StorageStatistics describes the snapshot store.
type StorageStatistics struct {
	Entries            int            `json:"entries"`
	MaxEntries         int            `json:"max_entries"`
	Hits               int64          `json:"hits"`
	Misses             int64          `json:"misses"`
	Stores             int64          `json:"stores"`
	Removals           int64          `json:"removals"`
	Cleanups           int64          `json:"cleanups"`
	EvictedUnreachable int64          `json:"evicted_unreachable"`
	EvictedExpired     int64          `json:"evicted_expired"`
	EvictedCapacity    int64          `json:"evicted_capacity"`
	Pool               PoolStatistics `json:"pool"`
}

// HitRatio returns hits / (hits + misses).
func (s StorageStatistics) HitRatio() float64 {
	return ratio(s.Hits, s.Hits+s.Misses)
}

// Evictions returns the total number of entries removed by cleanup.
func (s StorageStatistics) Evictions() int64 {
	return s.EvictedUnreachable + s.EvictedExpired + s.EvictedCapacity
}

type snapshotEntry struct {
	snap       *Snapshot
	capturedAt int64
	lastAccess atomic.Int64
	accessSeq  atomic.Uint64
}

func newSnapshotEntry(snap *Snapshot) *snapshotEntry {
	now := timecache.CachedTimeNano()
	e := &snapshotEntry{snap: snap, capturedAt: now}
	e.lastAccess.Store(now)
	e.accessSeq.Store(nextAccessTick())
	return e
}

func (e *snapshotEntry) touch() {
	e.lastAccess.Store(timecache.CachedTimeNano())
	e.accessSeq.Store(nextAccessTick())
}

// evictionReason tells the store which counter an eviction feeds.
type evictionReason uint8

const (
	evictUnreachable evictionReason = iota
	evictExpired
	evictCapacity
)

// SnapshotStore caches the latest snapshot per object identity.
//
// Entries of unreachable owners are purged by Cleanup. Owners of small
// pointer-free types (under 16 bytes, see TypeMetadata.ExplicitRemoval)
// are an exception: the runtime packs them into shared blocks and their
// weak keys keep resolving, so those entries stay until removed explicitly,
// they expire or capacity eviction picks them.
type SnapshotStore struct {
	entries    *xsync.MapOf[instanceKey, *snapshotEntry]
	maxEntries int
	maxAge     time.Duration
	pool       *Pool[*Snapshot]

	// cleanupMu coalesces eviction passes.
	cleanupMu sync.Mutex

	hits               *xsync.Counter
	misses             *xsync.Counter
	stores             *xsync.Counter
	removals           *xsync.Counter
	cleanups           *xsync.Counter
	evictedUnreachable *xsync.Counter
	evictedExpired     *xsync.Counter
	evictedCapacity    *xsync.Counter

	// onEvict is called for every key that leaves the store.
	onEvict func(instanceKey)
}

// NewSnapshotStore creates a store using the storage settings of config.
// pool may be nil when the store is used on its own.
func NewSnapshotStore(config Config, pool *Pool[*Snapshot]) *SnapshotStore {
	cfg := config.WithDefaults()
	return &SnapshotStore{
		entries:            xsync.NewMapOf[instanceKey, *snapshotEntry](),
		maxEntries:         cfg.MaxTrackedObjects,
		maxAge:             cfg.MaxSnapshotAge,
		pool:               pool,
		hits:               xsync.NewCounter(),
		misses:             xsync.NewCounter(),
		stores:             xsync.NewCounter(),
		removals:           xsync.NewCounter(),
		cleanups:           xsync.NewCounter(),
		evictedUnreachable: xsync.NewCounter(),
		evictedExpired:     xsync.NewCounter(),
		evictedCapacity:    xsync.NewCounter(),
	}
}

// Store records snap as the latest snapshot of obj.
func (s *SnapshotStore) Store(obj any, snap *Snapshot) error {
	key, ok := identityOf(obj)
	if !ok {
		return errors.New(ErrCodeNotTrackable, "object must be a non-nil pointer to a struct").
			WithContext("type", fmt.Sprintf("%T", obj))
	}
	if snap == nil {
		return errors.New(ErrCodeNotTrackable, "snapshot is nil")
	}
	s.put(key, snap)
	return nil
}

// Get returns the latest snapshot of obj. The returned snapshot stays valid
// for as long as the caller holds it.
func (s *SnapshotStore) Get(obj any) (*Snapshot, bool) {
	key, ok := identityOf(obj)
	if !ok {
		return nil, false
	}
	snap := s.acquire(key)
	if snap == nil {
		return nil, false
	}
	snap.escape()
	snap.release()
	return snap, true
}

// Remove forgets obj. It reports whether an entry existed.
func (s *SnapshotStore) Remove(obj any) bool {
	key, ok := identityOf(obj)
	if !ok {
		return false
	}
	return s.remove(key)
}

// Len returns the number of entries, including entries of collected
// objects not yet purged.
func (s *SnapshotStore) Len() int {
	return s.entries.Size()
}

// acquire returns the snapshot for key with an extra reference that the
// caller must release.
func (s *SnapshotStore) acquire(key instanceKey) *Snapshot {
	var snap *Snapshot
	s.entries.Compute(key, func(e *snapshotEntry, loaded bool) (*snapshotEntry, bool) {
		if !loaded {
			return nil, true
		}
		e.snap.retain()
		e.touch()
		snap = e.snap
		return e, false
	})
	if snap == nil {
		s.misses.Inc()
	} else {
		s.hits.Inc()
	}
	return snap
}

// put installs snap for key, releasing the snapshot it replaces.
func (s *SnapshotStore) put(key instanceKey, snap *Snapshot) {
	snap.retain()
	var replaced *Snapshot
	inserted := false
	s.entries.Compute(key, func(e *snapshotEntry, loaded bool) (*snapshotEntry, bool) {
		if loaded {
			replaced = e.snap
		} else {
			inserted = true
		}
		return newSnapshotEntry(snap), false
	})
	if replaced != nil && replaced != snap {
		replaced.release()
	} else if replaced == snap {
		snap.release()
	}
	s.stores.Inc()

	if inserted && s.maxEntries > 0 && s.entries.Size() > s.maxEntries {
		s.shrink()
	}
}

func (s *SnapshotStore) remove(key instanceKey) bool {
	var removed *Snapshot
	s.entries.Compute(key, func(e *snapshotEntry, loaded bool) (*snapshotEntry, bool) {
		if loaded {
			removed = e.snap
		}
		return nil, true
	})
	if removed == nil {
		return false
	}
	removed.release()
	s.removals.Inc()
	if s.onEvict != nil {
		s.onEvict(key)
	}
	return true
}

// retain removes every entry whose key is not in keep and returns the
// removed keys.
func (s *SnapshotStore) retain(keep map[instanceKey]struct{}) []instanceKey {
	var removed []instanceKey
	s.entries.Range(func(key instanceKey, _ *snapshotEntry) bool {
		if _, ok := keep[key]; !ok && s.remove(key) {
			removed = append(removed, key)
		}
		return true
	})
	return removed
}

// shrink runs an inline eviction pass when the store has grown past its
// bound. It trims to 90% of the bound so that inserts do not trigger a pass
// each. Callers never wait for a pass already in progress.
func (s *SnapshotStore) shrink() {
	if !s.cleanupMu.TryLock() {
		return
	}
	defer s.cleanupMu.Unlock()
	s.evict(s.maxEntries - s.maxEntries/10)
}

// Cleanup removes entries of unreachable owners, entries older than the
// snapshot max age and, while above the bound, the least recently accessed
// entries. It returns the number of entries removed.
func (s *SnapshotStore) Cleanup() int {
	s.cleanupMu.Lock()
	defer s.cleanupMu.Unlock()
	return s.evict(s.maxEntries)
}

func (s *SnapshotStore) evict(target int) int {
	s.cleanups.Inc()
	now := timecache.CachedTimeNano()

	var live []lruCandidate[instanceKey, *snapshotEntry]
	removed := 0
	s.entries.Range(func(key instanceKey, e *snapshotEntry) bool {
		switch {
		case !key.alive():
			if s.evictEntry(key, e, evictUnreachable) {
				removed++
			}
		case s.maxAge > 0 && time.Duration(now-e.capturedAt) > s.maxAge:
			if s.evictEntry(key, e, evictExpired) {
				removed++
			}
		default:
			live = append(live, lruCandidate[instanceKey, *snapshotEntry]{key: key, entry: e, seq: e.accessSeq.Load()})
		}
		return true
	})

	if target > 0 {
		for _, c := range oldestFirst(live, len(live)-target) {
			if s.evictEntry(c.key, c.entry, evictCapacity) {
				removed++
			}
		}
	}
	return removed
}

// evictEntry removes key only if it still maps to e.
func (s *SnapshotStore) evictEntry(key instanceKey, e *snapshotEntry, reason evictionReason) bool {
	removed := false
	s.entries.Compute(key, func(cur *snapshotEntry, loaded bool) (*snapshotEntry, bool) {
		if loaded && cur == e {
			removed = true
			return nil, true
		}
		return cur, !loaded
	})
	if !removed {
		return false
	}
	e.snap.release()
	switch reason {
	case evictUnreachable:
		s.evictedUnreachable.Inc()
	case evictExpired:
		s.evictedExpired.Inc()
	case evictCapacity:
		s.evictedCapacity.Inc()
	}
	if s.onEvict != nil {
		s.onEvict(key)
	}
	return true
}

// Stats returns a snapshot of the store counters.
func (s *SnapshotStore) Stats() StorageStatistics {
	stats := StorageStatistics{
		Entries:            s.entries.Size(),
		MaxEntries:         s.maxEntries,
		Hits:               s.hits.Value(),
		Misses:             s.misses.Value(),
		Stores:             s.stores.Value(),
		Removals:           s.removals.Value(),
		Cleanups:           s.cleanups.Value(),
		EvictedUnreachable: s.evictedUnreachable.Value(),
		EvictedExpired:     s.evictedExpired.Value(),
		EvictedCapacity:    s.evictedCapacity.Value(),
	}
	if s.pool != nil {
		stats.Pool = s.pool.Stats()
	}
	return stats
}
