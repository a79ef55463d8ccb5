// Copyright 2024 NTVFS Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package vfs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
	"ntvfs/internal/metrics"
)

// DefaultLockRetryInterval bounds how long a waiter sleeps before retrying
// a lock that may be held by another process. Releases made through the
// coordinator wake waiters immediately.
const DefaultLockRetryInterval = 50 * time.Millisecond

// LockType is the kind of byte-range lock
type LockType int

const (
	LockShared LockType = iota
	LockExclusive
)

func (t LockType) String() string {
	if t == LockExclusive {
		return "exclusive"
	}
	return "shared"
}

// RangeLock describes one byte-range lock request.
type RangeLock struct {
	Owner  uint64 // holder identity, e.g. the session id
	Type   LockType
	Start  uint64
	Length uint64
}

// Overlaps reports whether two ranges share at least one byte
func (l RangeLock) Overlaps(o RangeLock) bool {
	if l.Length == 0 || o.Length == 0 {
		return false
	}
	return l.Start < o.Start+o.Length && o.Start < l.Start+l.Length
}

// LockHandle is an open file that byte-range locks apply to. *os.File
// satisfies it.
type LockHandle interface {
	Fd() uintptr
}

// LockPrimitive is the backing store's non-blocking byte-range lock.
// TryLock returns ErrLockConflict when another holder conflicts.
type LockPrimitive interface {
	TryLock(h LockHandle, l RangeLock) error
	Unlock(h LockHandle, l RangeLock) error
}

// Outcome is the single result of a blocking lock wait.
type Outcome int

const (
	OutcomeNone Outcome = iota
	Granted
	TimedOut
	Unblocked
)

func (o Outcome) String() string {
	switch o {
	case Granted:
		return "granted"
	case TimedOut:
		return "timed_out"
	case Unblocked:
		return "unblocked"
	}
	return "none"
}

func (o Outcome) err() error {
	switch o {
	case TimedOut:
		return common.ErrTimedOut
	case Unblocked:
		return common.ErrUnblocked
	}
	return nil
}

// lockWaiter is one parked lock request. outcome is written once, under mu.
type lockWaiter struct {
	handle LockHandle
	lock   RangeLock
	wake   chan struct{}

	mu      sync.Mutex
	outcome Outcome
}

func (w *lockWaiter) resolve(o Outcome) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome != OutcomeNone {
		return false
	}
	w.outcome = o
	return true
}

func (w *lockWaiter) current() Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.outcome
}

func (w *lockWaiter) poke() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// LockCoordinator layers cancellable, timeout-bounded blocking on top of a
// non-blocking lock primitive.
type LockCoordinator struct {
	prim    LockPrimitive
	retry   time.Duration
	metrics *metrics.Metrics

	mu      sync.Mutex
	waiters map[*lockWaiter]struct{}
}

// NewLockCoordinator creates a coordinator over prim
func NewLockCoordinator(prim LockPrimitive, m *metrics.Metrics) *LockCoordinator {
	return &LockCoordinator{
		prim:    prim,
		retry:   DefaultLockRetryInterval,
		metrics: m,
		waiters: make(map[*lockWaiter]struct{}),
	}
}

// SetRetryInterval changes how often parked waiters retry on their own
func (c *LockCoordinator) SetRetryInterval(d time.Duration) {
	if d > 0 {
		c.retry = d
	}
}

// Lock applies l without blocking. ErrLockConflict if it cannot be granted.
func (c *LockCoordinator) Lock(h LockHandle, l RangeLock) error {
	return c.prim.TryLock(h, l)
}

// Unlock releases l and wakes every parked waiter to retry
func (c *LockCoordinator) Unlock(h LockHandle, l RangeLock) error {
	if err := c.prim.Unlock(h, l); err != nil {
		return err
	}
	c.mu.Lock()
	for w := range c.waiters {
		w.poke()
	}
	c.mu.Unlock()
	return nil
}

// LockWait blocks until l is granted or the wait is unblocked.
func (c *LockCoordinator) LockWait(ctx context.Context, h LockHandle, l RangeLock) (Outcome, error) {
	return c.wait(ctx, h, l, 0)
}

// LockWaitTimeout is LockWait bounded by timeout; ErrTimedOut when it expires.
func (c *LockCoordinator) LockWaitTimeout(ctx context.Context, h LockHandle, l RangeLock, timeout time.Duration) (Outcome, error) {
	if timeout <= 0 {
		return OutcomeNone, fmt.Errorf("lock wait timeout %v: %w", timeout, common.ErrProgramming)
	}
	return c.wait(ctx, h, l, timeout)
}

// Unblock wakes every waiter parked on l for h with Unblocked and returns
// how many were woken. Safe to call from teardown while waits are running.
func (c *LockCoordinator) Unblock(h LockHandle, l RangeLock) int {
	return c.unblockMatching(func(w *lockWaiter) bool {
		return w.handle == h && w.lock == l
	})
}

// UnblockOwner wakes every waiter of one holder, used when its session ends.
func (c *LockCoordinator) UnblockOwner(owner uint64) int {
	return c.unblockMatching(func(w *lockWaiter) bool {
		return w.lock.Owner == owner
	})
}

// UnblockHandle wakes every waiter parked on h, used when h is closed.
func (c *LockCoordinator) UnblockHandle(h LockHandle) int {
	return c.unblockMatching(func(w *lockWaiter) bool {
		return w.handle == h
	})
}

func (c *LockCoordinator) unblockMatching(match func(*lockWaiter) bool) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for w := range c.waiters {
		if match(w) && w.resolve(Unblocked) {
			w.poke()
			n++
		}
	}
	return n
}

func (c *LockCoordinator) register(w *lockWaiter) {
	c.mu.Lock()
	c.waiters[w] = struct{}{}
	c.mu.Unlock()
}

func (c *LockCoordinator) unregister(w *lockWaiter) {
	c.mu.Lock()
	delete(c.waiters, w)
	c.mu.Unlock()
}

// tryGrant attempts the lock while holding the waiter's mutex so a racing
// unblock either happens before (no lock is taken) or after (it finds the
// waiter already granted).
func (c *LockCoordinator) tryGrant(w *lockWaiter) (Outcome, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.outcome != OutcomeNone {
		return w.outcome, nil
	}
	err := c.prim.TryLock(w.handle, w.lock)
	if err == nil {
		w.outcome = Granted
		return Granted, nil
	}
	if errors.Is(err, common.ErrLockConflict) {
		return OutcomeNone, nil
	}
	return OutcomeNone, err
}

func (c *LockCoordinator) wait(ctx context.Context, h LockHandle, l RangeLock, timeout time.Duration) (o Outcome, err error) {
	start := time.Now()
	defer func() {
		if o != OutcomeNone {
			c.metrics.RecordLockWait(o.String(), time.Since(start))
		}
		if log.IsLevelEnabled(log.TraceLevel) {
			log.Tracef("[Lock] wait owner=%d %s [%d,+%d) → %v %v (%v)", l.Owner, l.Type, l.Start, l.Length, o, err, time.Since(start))
		}
	}()

	w := &lockWaiter{handle: h, lock: l, wake: make(chan struct{}, 1)}
	// register before the first attempt so an Unblock issued right after
	// this call starts always finds the waiter
	c.register(w)
	defer c.unregister(w)

	if o, err := c.tryGrant(w); err != nil || o != OutcomeNone {
		return o, err
	}

	var expired <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expired = timer.C
	}
	ticker := time.NewTicker(c.retry)
	defer ticker.Stop()

	for {
		select {
		case <-w.wake:
		case <-ticker.C:
		case <-expired:
			w.resolve(TimedOut)
		case <-ctx.Done():
			if w.resolve(Unblocked) {
				o = w.current()
				return o, fmt.Errorf("%w: %w", common.ErrUnblocked, ctx.Err())
			}
		}
		o, err := c.tryGrant(w)
		if err != nil {
			return OutcomeNone, err
		}
		if o != OutcomeNone {
			return o, o.err()
		}
	}
}
