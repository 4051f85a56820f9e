// guard.go: ConcurrencyGuard - bounded, per-object serialized execution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package mnemos

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/agilira/go-errors"
	"github.com/puzpuzpuz/xsync/v3"
	"golang.org/x/sync/semaphore"
)

// ThreadingStatistics describes the concurrency guard.
type ThreadingStatistics struct {
	ActiveOperations  int64 `json:"active_operations"`
	PeakOperations    int64 `json:"peak_operations"`
	MaxOperations     int64 `json:"max_operations"`
	TrackedLocks      int   `json:"tracked_locks"`
	Acquisitions      int64 `json:"acquisitions"`
	LockTimeouts      int64 `json:"lock_timeouts"`
	SemaphoreTimeouts int64 `json:"semaphore_timeouts"`
	LocksCreated      int64 `json:"locks_created"`
	LocksReclaimed    int64 `json:"locks_reclaimed"`
	CaptureAttempts   int64 `json:"capture_attempts"`
	DiffAttempts      int64 `json:"diff_attempts"`
}

// TimeoutRate returns timeouts / attempts.
func (s ThreadingStatistics) TimeoutRate() float64 {
	return ratio(s.LockTimeouts+s.SemaphoreTimeouts, s.CaptureAttempts+s.DiffAttempts)
}

// ConcurrencyGuard bounds the number of concurrent operations process-wide
// and serializes writers per object.
//
// Acquisition order is always object lock, then global semaphore. Holding
// the semaphore while waiting for an object lock would let a slow writer
// starve unrelated objects of slots.
type ConcurrencyGuard struct {
	sem              *semaphore.Weighted
	maxOperations    int64
	maxReaders       int64
	lockTimeout      time.Duration
	semaphoreTimeout time.Duration

	locks *xsync.MapOf[instanceKey, *objectLock]

	active atomic.Int64
	peak   atomic.Int64

	acquisitions      *xsync.Counter
	lockTimeouts      *xsync.Counter
	semaphoreTimeouts *xsync.Counter
	locksCreated      *xsync.Counter
	locksReclaimed    *xsync.Counter
	captureAttempts   *xsync.Counter
	diffAttempts      *xsync.Counter

	report func(error)
}

// NewConcurrencyGuard creates a guard using the concurrency settings of config.
func NewConcurrencyGuard(config Config) *ConcurrencyGuard {
	cfg := config.WithDefaults()
	return &ConcurrencyGuard{
		sem:               semaphore.NewWeighted(int64(cfg.MaxConcurrentOperations)),
		maxOperations:     int64(cfg.MaxConcurrentOperations),
		maxReaders:        int64(cfg.MaxReadersPerObject),
		lockTimeout:       cfg.LockTimeout,
		semaphoreTimeout:  cfg.SemaphoreTimeout,
		locks:             xsync.NewMapOf[instanceKey, *objectLock](),
		acquisitions:      xsync.NewCounter(),
		lockTimeouts:      xsync.NewCounter(),
		semaphoreTimeouts: xsync.NewCounter(),
		locksCreated:      xsync.NewCounter(),
		locksReclaimed:    xsync.NewCounter(),
		captureAttempts:   xsync.NewCounter(),
		diffAttempts:      xsync.NewCounter(),
	}
}

// Read runs fn holding the read side of key's lock. Reads of the same
// object may run concurrently with each other but not with a write.
func (g *ConcurrencyGuard) Read(ctx context.Context, key instanceKey, fn func() error) error {
	g.captureAttempts.Inc()
	return g.run(ctx, key, 1, fn)
}

// Write runs fn holding key's lock exclusively.
func (g *ConcurrencyGuard) Write(ctx context.Context, key instanceKey, fn func() error) error {
	g.diffAttempts.Inc()
	return g.run(ctx, key, g.maxReaders, fn)
}

func (g *ConcurrencyGuard) run(ctx context.Context, key instanceKey, weight int64, fn func() error) error {
	l := g.lockFor(key)
	defer g.unref(key, l)

	if err := acquireWithin(ctx, l.rw, weight, g.lockTimeout); err != nil {
		g.lockTimeouts.Inc()
		return g.timedOut(errors.Wrap(err, ErrCodeLockTimeout, "object lock not acquired in time").
			WithContext("type", key.typ.String()).
			WithContext("timeout", g.lockTimeout.String()))
	}
	defer l.rw.Release(weight)

	if err := acquireWithin(ctx, g.sem, 1, g.semaphoreTimeout); err != nil {
		g.semaphoreTimeouts.Inc()
		return g.timedOut(errors.Wrap(err, ErrCodeSemaphoreTimeout, "operation slot not acquired in time").
			WithContext("type", key.typ.String()).
			WithContext("timeout", g.semaphoreTimeout.String()))
	}
	defer g.sem.Release(1)

	g.enter()
	defer g.active.Add(-1)
	return fn()
}

// acquireWithin acquires n units of sem, giving up after timeout or when
// ctx ends. A non-positive timeout waits on ctx alone.
func acquireWithin(ctx context.Context, sem *semaphore.Weighted, n int64, timeout time.Duration) error {
	if sem.TryAcquire(n) {
		return nil
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return sem.Acquire(ctx, n)
}

func (g *ConcurrencyGuard) enter() {
	g.acquisitions.Inc()
	n := g.active.Add(1)
	for {
		peak := g.peak.Load()
		if n <= peak || g.peak.CompareAndSwap(peak, n) {
			return
		}
	}
}

func (g *ConcurrencyGuard) timedOut(err error) error {
	if g.report != nil {
		g.report(err)
	}
	return err
}

// Stats returns a snapshot of the guard counters.
func (g *ConcurrencyGuard) Stats() ThreadingStatistics {
	return ThreadingStatistics{
		ActiveOperations:  g.active.Load(),
		PeakOperations:    g.peak.Load(),
		MaxOperations:     g.maxOperations,
		TrackedLocks:      g.locks.Size(),
		Acquisitions:      g.acquisitions.Value(),
		LockTimeouts:      g.lockTimeouts.Value(),
		SemaphoreTimeouts: g.semaphoreTimeouts.Value(),
		LocksCreated:      g.locksCreated.Value(),
		LocksReclaimed:    g.locksReclaimed.Value(),
		CaptureAttempts:   g.captureAttempts.Value(),
		DiffAttempts:      g.diffAttempts.Value(),
	}
}

// isTimeout reports whether err came from a lock or semaphore timeout.
func isTimeout(err error) bool {
	if coder, ok := err.(errors.ErrorCoder); ok {
		code := string(coder.ErrorCode())
		return code == ErrCodeLockTimeout || code == ErrCodeSemaphoreTimeout
	}
	return false
}
