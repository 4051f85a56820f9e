// timing_ring.go: Lock-free ring of recent operation timings
//
// Derived from the BoreasLite MPSC ring: producers claim a sequence with a
// single atomic add and publish into slot sequence&mask. Unlike BoreasLite
// there is no consumer cursor; writers overwrite the oldest slot and readers
// take point-in-time copies.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"slices"
	"sync/atomic"
	"time"
)

// TimingRecord is one measured call.
type TimingRecord struct {
	Operation string        `json:"operation"`
	Duration  time.Duration `json:"duration"`
	Success   bool          `json:"success"`
	At        time.Time     `json:"at"`

	seq int64
}

// timingRing keeps the most recent timings. Capacity must be a power of 2.
type timingRing struct {
	slots    []atomic.Pointer[TimingRecord]
	capacity int64
	mask     int64

	writerCursor atomic.Int64
	_            [56]byte // Padding to prevent false sharing

	overwritten atomic.Int64
}

func newTimingRing(capacity int64) *timingRing {
	if capacity <= 0 || (capacity&(capacity-1)) != 0 {
		capacity = 1024
	}
	return &timingRing{
		slots:    make([]atomic.Pointer[TimingRecord], capacity),
		capacity: capacity,
		mask:     capacity - 1,
	}
}

// add publishes rec, overwriting the oldest record when the ring is full.
func (r *timingRing) add(rec TimingRecord) {
	seq := r.writerCursor.Add(1) - 1
	rec.seq = seq
	if seq >= r.capacity {
		r.overwritten.Add(1)
	}
	r.slots[seq&r.mask].Store(&rec)
}

// recent returns up to max records, oldest first, optionally filtered by
// operation name. Records being overwritten while the read runs are skipped.
func (r *timingRing) recent(operation string, max int) []TimingRecord {
	end := r.writerCursor.Load()
	start := end - r.capacity
	if start < 0 {
		start = 0
	}
	if max <= 0 || int64(max) > end-start {
		max = int(end - start)
	}

	out := make([]TimingRecord, 0, max)
	for seq := end - 1; seq >= start && len(out) < max; seq-- {
		rec := r.slots[seq&r.mask].Load()
		if rec == nil || rec.seq != seq {
			continue
		}
		if operation != "" && rec.Operation != operation {
			continue
		}
		out = append(out, *rec)
	}

	slices.Reverse(out)
	return out
}

// reset forgets all records.
func (r *timingRing) reset() {
	r.writerCursor.Store(0)
	for i := range r.slots {
		r.slots[i].Store(nil)
	}
	r.overwritten.Store(0)
}

// len returns the number of retained records.
func (r *timingRing) len() int {
	n := r.writerCursor.Load()
	if n > r.capacity {
		n = r.capacity
	}
	return int(n)
}
