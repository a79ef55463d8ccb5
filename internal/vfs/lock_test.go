package vfs

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ntvfs/internal/common"
)

type fakeHandle uintptr

func (h fakeHandle) Fd() uintptr { return uintptr(h) }

type heldLock struct {
	h LockHandle
	l RangeLock
}

// memLocker is an in-process LockPrimitive with POSIX-like conflict rules
type memLocker struct {
	mu    sync.Mutex
	held  []heldLock
	tries atomic.Int64
}

func (m *memLocker) TryLock(h LockHandle, l RangeLock) error {
	m.tries.Add(1)
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.held {
		if o.h == h || !o.l.Overlaps(l) {
			continue
		}
		if o.l.Type == LockExclusive || l.Type == LockExclusive {
			return common.ErrLockConflict
		}
	}
	m.held = append(m.held, heldLock{h, l})
	return nil
}

func (m *memLocker) Unlock(h LockHandle, l RangeLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, o := range m.held {
		if o.h == h && o.l.Start == l.Start && o.l.Length == l.Length {
			m.held = append(m.held[:i], m.held[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *memLocker) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

var (
	hA = fakeHandle(1)
	hB = fakeHandle(2)
)

func excl(owner, start, length uint64) RangeLock {
	return RangeLock{Owner: owner, Type: LockExclusive, Start: start, Length: length}
}

func TestRangeLockOverlaps(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b RangeLock
		want bool
	}{
		{"same", excl(1, 0, 10), excl(2, 0, 10), true},
		{"adjacent", excl(1, 0, 10), excl(2, 10, 10), false},
		{"inside", excl(1, 0, 100), excl(2, 50, 1), true},
		{"zero length", excl(1, 0, 0), excl(2, 0, 10), false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.a.Overlaps(tt.b))
			assert.Equal(t, tt.want, tt.b.Overlaps(tt.a))
		})
	}
}

func TestLockNonBlocking(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)

	require.NoError(t, c.Lock(hA, excl(1, 0, 10)))
	assert.ErrorIs(t, c.Lock(hB, excl(2, 5, 10)), common.ErrLockConflict)
	require.NoError(t, c.Lock(hB, excl(2, 10, 10)))
	require.NoError(t, c.Unlock(hA, excl(1, 0, 10)))
	require.NoError(t, c.Lock(hB, excl(2, 5, 5)))
}

func TestLockWaitGrantedOnUnlock(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	// long retry so only the unlock broadcast can wake the waiter in time
	c.SetRetryInterval(time.Hour)

	require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

	done := make(chan Outcome, 1)
	go func() {
		o, err := c.LockWait(context.Background(), hB, excl(2, 0, 10))
		assert.NoError(t, err)
		done <- o
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, c.Unlock(hA, excl(1, 0, 10)))

	select {
	case o := <-done:
		assert.Equal(t, Granted, o)
	case <-time.After(time.Second):
		t.Fatal("waiter was not woken by unlock")
	}
}

func TestLockWaitTimeout(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	c.SetRetryInterval(5 * time.Millisecond)

	require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

	start := time.Now()
	o, err := c.LockWaitTimeout(context.Background(), hB, excl(2, 0, 10), 50*time.Millisecond)
	elapsed := time.Since(start)

	assert.Equal(t, TimedOut, o)
	assert.ErrorIs(t, err, common.ErrTimedOut)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.Less(t, elapsed, 500*time.Millisecond)
}

func TestLockWaitTimeoutRejectsNonPositive(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	_, err := c.LockWaitTimeout(context.Background(), hB, excl(2, 0, 10), 0)
	assert.ErrorIs(t, err, common.ErrProgramming)
}

func TestUnblockWakesWaiter(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	c.SetRetryInterval(time.Hour)

	require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

	type result struct {
		o   Outcome
		err error
	}
	done := make(chan result, 1)
	l := excl(2, 0, 10)
	go func() {
		o, err := c.LockWait(context.Background(), hB, l)
		done <- result{o, err}
	}()

	// wait for the waiter to park
	require.Eventually(t, func() bool { return c.Unblock(hB, l) == 1 }, time.Second, 5*time.Millisecond)

	select {
	case r := <-done:
		assert.Equal(t, Unblocked, r.o)
		assert.ErrorIs(t, r.err, common.ErrUnblocked)
	case <-time.After(time.Second):
		t.Fatal("unblock did not wake the waiter")
	}
	assert.Equal(t, 0, c.Unblock(hB, l), "nothing left to unblock")
}

func TestUnblockOwnerAndHandle(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	c.SetRetryInterval(time.Hour)
	require.NoError(t, c.Lock(hA, excl(1, 0, 100)))

	var wg sync.WaitGroup
	outcomes := make(chan Outcome, 3)
	for i, l := range []RangeLock{excl(7, 0, 10), excl(7, 20, 10), excl(8, 40, 10)} {
		l := l
		h := fakeHandle(10 + i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			o, _ := c.LockWait(context.Background(), h, l)
			outcomes <- o
		}()
	}

	require.Eventually(t, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		return len(c.waiters) == 3
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, 2, c.UnblockOwner(7))
	assert.Equal(t, 1, c.UnblockHandle(fakeHandle(12)))
	wg.Wait()
	close(outcomes)
	for o := range outcomes {
		assert.Equal(t, Unblocked, o)
	}
}

func TestLockWaitContextCancel(t *testing.T) {
	t.Parallel()
	c := NewLockCoordinator(&memLocker{}, nil)
	require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	o, err := c.LockWait(ctx, hB, excl(2, 0, 10))
	assert.Equal(t, Unblocked, o)
	assert.ErrorIs(t, err, common.ErrUnblocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

// Unblock racing a grant must yield exactly one outcome, and a waiter that
// reports Unblocked must not be holding the lock.
func TestUnblockGrantRace(t *testing.T) {
	t.Parallel()

	for i := 0; i < 200; i++ {
		prim := &memLocker{}
		c := NewLockCoordinator(prim, nil)
		c.SetRetryInterval(time.Millisecond)
		require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

		l := excl(2, 0, 10)
		var o Outcome
		var err error
		done := make(chan struct{})
		go func() {
			o, err = c.LockWait(context.Background(), hB, l)
			close(done)
		}()

		runtime.Gosched()
		go c.Unlock(hA, excl(1, 0, 10))
		unblocked := c.Unblock(hB, l)
		<-done

		switch o {
		case Granted:
			require.NoError(t, err)
			assert.Equal(t, 1, prim.count())
		case Unblocked:
			require.ErrorIs(t, err, common.ErrUnblocked)
			assert.Equal(t, 1, unblocked)
			require.Eventually(t, func() bool { return prim.count() == 0 }, time.Second, time.Millisecond)
		default:
			t.Fatalf("iteration %d: unexpected outcome %v", i, o)
		}
	}
}

func TestZeroLengthLockNoop(t *testing.T) {
	t.Parallel()
	// zero-length locks never reach fcntl, so any fd works
	var locker FcntlLocker
	require.NoError(t, locker.TryLock(fakeHandle(1<<30), excl(1, 0, 0)))
	require.NoError(t, locker.Unlock(fakeHandle(1<<30), excl(1, 0, 0)))
}

func TestFcntlRange(t *testing.T) {
	t.Parallel()

	start, length := fcntlRange(10, 20)
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(20), length)

	start, length = fcntlRange(10, ^uint64(0))
	assert.Equal(t, int64(10), start)
	assert.Equal(t, int64(0), length, "runs to end of file")

	start, _ = fcntlRange(^uint64(0), 1)
	assert.Equal(t, int64(1<<63-1), start)
}

func TestFcntlLockerConflictsAcrossHandles(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("open file description locks are linux only")
	}
	t.Parallel()

	path := filepath.Join(t.TempDir(), "locked")
	require.NoError(t, os.WriteFile(path, make([]byte, 100), 0644))
	f1, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f1.Close()
	f2, err := os.OpenFile(path, os.O_RDWR, 0)
	require.NoError(t, err)
	defer f2.Close()

	var locker FcntlLocker
	require.NoError(t, locker.TryLock(f1, excl(1, 0, 10)))
	err = locker.TryLock(f2, excl(2, 5, 10))
	assert.True(t, errors.Is(err, common.ErrLockConflict), "got %v", err)

	shared := RangeLock{Owner: 2, Type: LockShared, Start: 20, Length: 10}
	require.NoError(t, locker.TryLock(f1, shared))
	require.NoError(t, locker.TryLock(f2, shared))

	require.NoError(t, locker.Unlock(f1, excl(1, 0, 10)))
	require.NoError(t, locker.TryLock(f2, excl(2, 5, 10)))

	// coordinator wait across real handles
	c := NewLockCoordinator(locker, nil)
	o, err := c.LockWaitTimeout(context.Background(), f1, excl(1, 0, 10), 30*time.Millisecond)
	assert.Equal(t, TimedOut, o)
	assert.ErrorIs(t, err, common.ErrTimedOut)
}

func TestLockWaitTimeoutAgainstRelease(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		release time.Duration
		want    Outcome
	}{
		{"released late", 500 * time.Millisecond, TimedOut},
		{"released early", 10 * time.Millisecond, Granted},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := NewLockCoordinator(&memLocker{}, nil)
			c.SetRetryInterval(time.Hour)
			require.NoError(t, c.Lock(hA, excl(1, 0, 10)))

			timer := time.AfterFunc(tt.release, func() { c.Unlock(hA, excl(1, 0, 10)) })
			defer timer.Stop()

			o, _ := c.LockWaitTimeout(context.Background(), hB, excl(2, 0, 10), 50*time.Millisecond)
			assert.Equal(t, tt.want, o)
		})
	}
}

func TestUnblockTimeoutRaceSingleOutcome(t *testing.T) {
	t.Parallel()

	for i := 0; i < 100; i++ {
		c := NewLockCoordinator(&memLocker{}, nil)
		require.NoError(t, c.Lock(hA, excl(1, 0, 10)))
		l := excl(2, 0, 10)

		done := make(chan Outcome, 2)
		go func() {
			o, _ := c.LockWaitTimeout(context.Background(), hB, l, time.Millisecond)
			done <- o
		}()
		time.Sleep(time.Millisecond)
		c.Unblock(hB, l)

		select {
		case o := <-done:
			assert.Contains(t, []Outcome{TimedOut, Unblocked}, o)
		case <-time.After(time.Second):
			t.Fatalf("iteration %d: wait hung", i)
		}
		assert.Empty(t, done, "exactly one outcome")
	}
}
