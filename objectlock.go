// objectlock.go: Per-object reader/writer locks with deadlines
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"golang.org/x/sync/semaphore"
)

// objectLock is a reader/writer lock that honours context deadlines.
// Readers take one unit of the semaphore, writers take all of them.
// semaphore.Weighted is FIFO, so a waiting writer holds back later readers.
type objectLock struct {
	rw *semaphore.Weighted

	// holders and retired are only touched inside map Compute callbacks,
	// which serialize per key.
	holders int64
	retired bool
}

func newObjectLock(maxReaders int64) *objectLock {
	return &objectLock{rw: semaphore.NewWeighted(maxReaders)}
}

// lockFor returns the lock of key, creating it on first use, and registers
// the caller as a holder.
func (g *ConcurrencyGuard) lockFor(key instanceKey) *objectLock {
	var l *objectLock
	g.locks.Compute(key, func(cur *objectLock, loaded bool) (*objectLock, bool) {
		if !loaded {
			cur = newObjectLock(g.maxReaders)
			g.locksCreated.Inc()
		}
		cur.holders++
		l = cur
		return cur, false
	})
	return l
}

// unref drops a holder registered by lockFor. A retired lock is removed
// when its last holder leaves.
func (g *ConcurrencyGuard) unref(key instanceKey, l *objectLock) {
	g.locks.Compute(key, func(cur *objectLock, loaded bool) (*objectLock, bool) {
		if !loaded || cur != l {
			return cur, !loaded
		}
		cur.holders--
		if cur.holders == 0 && cur.retired {
			g.locksReclaimed.Inc()
			return nil, true
		}
		return cur, false
	})
}

// reclaim removes the lock of key once nobody holds it.
func (g *ConcurrencyGuard) reclaim(key instanceKey) {
	g.locks.Compute(key, func(cur *objectLock, loaded bool) (*objectLock, bool) {
		if !loaded {
			return nil, true
		}
		if cur.holders == 0 {
			g.locksReclaimed.Inc()
			return nil, true
		}
		cur.retired = true
		return cur, false
	})
}

// retain reclaims the locks of every key not in keep.
func (g *ConcurrencyGuard) retain(keep map[instanceKey]struct{}) {
	g.locks.Range(func(key instanceKey, _ *objectLock) bool {
		if _, ok := keep[key]; !ok {
			g.reclaim(key)
		}
		return true
	})
}

// sweep reclaims the locks of collected objects and returns how many were
// scheduled for removal.
func (g *ConcurrencyGuard) sweep() int {
	n := 0
	g.locks.Range(func(key instanceKey, _ *objectLock) bool {
		if !key.alive() {
			g.reclaim(key)
			n++
		}
		return true
	})
	return n
}
