// pool.go: Bounded lock-free object pool
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"github.com/puzpuzpuz/xsync/v3"
)

// PoolStatistics describes pool reuse.
type PoolStatistics struct {
	Created   int64 `json:"created"`
	Reused    int64 `json:"reused"`
	Returned  int64 `json:"returned"`
	Discarded int64 `json:"discarded"`
}

// ReuseRatio returns reused / (created + reused).
func (s PoolStatistics) ReuseRatio() float64 {
	return ratio(s.Reused, s.Created+s.Reused)
}

// Pool is a fixed-capacity free list. Unlike sync.Pool it keeps its items
// across garbage collections and reports how often they are reused.
type Pool[T any] struct {
	queue *xsync.MPMCQueueOf[T]
	newFn func() T
	reset func(T) (T, bool)

	created   *xsync.Counter
	reused    *xsync.Counter
	returned  *xsync.Counter
	discarded *xsync.Counter
}

// NewPool creates a pool holding at most capacity idle items. reset prepares
// an item for reuse and returns false to discard it instead.
func NewPool[T any](capacity int, newFn func() T, reset func(T) (T, bool)) *Pool[T] {
	if capacity <= 0 {
		capacity = 1
	}
	return &Pool[T]{
		queue:     xsync.NewMPMCQueueOf[T](capacity),
		newFn:     newFn,
		reset:     reset,
		created:   xsync.NewCounter(),
		reused:    xsync.NewCounter(),
		returned:  xsync.NewCounter(),
		discarded: xsync.NewCounter(),
	}
}

// Get returns an idle item or a new one.
func (p *Pool[T]) Get() T {
	if item, ok := p.queue.TryDequeue(); ok {
		p.reused.Inc()
		return item
	}
	p.created.Inc()
	return p.newFn()
}

// Put offers item back to the pool. Items rejected by reset or arriving
// while the pool is full are dropped.
func (p *Pool[T]) Put(item T) {
	if p.reset != nil {
		var keep bool
		if item, keep = p.reset(item); !keep {
			p.discarded.Inc()
			return
		}
	}
	if p.queue.TryEnqueue(item) {
		p.returned.Inc()
		return
	}
	p.discarded.Inc()
}

// Stats returns a snapshot of the pool counters.
func (p *Pool[T]) Stats() PoolStatistics {
	return PoolStatistics{
		Created:   p.created.Value(),
		Reused:    p.reused.Value(),
		Returned:  p.returned.Value(),
		Discarded: p.discarded.Value(),
	}
}
