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

//go:build linux || darwin

package vfs

import (
	"errors"
	"math"

	"golang.org/x/sys/unix"

	"ntvfs/internal/common"
)

// FcntlLocker is the POSIX advisory byte-range lock primitive. On linux it
// uses open file description locks, so two handles opened by the same
// process still conflict with each other.
type FcntlLocker struct{}

// TryLock implements LockPrimitive
func (FcntlLocker) TryLock(h LockHandle, l RangeLock) error {
	if l.Length == 0 {
		return nil
	}
	typ := int16(unix.F_RDLCK)
	if l.Type == LockExclusive {
		typ = int16(unix.F_WRLCK)
	}
	return fcntlSetLock(h, typ, l)
}

// Unlock implements LockPrimitive
func (FcntlLocker) Unlock(h LockHandle, l RangeLock) error {
	if l.Length == 0 {
		return nil
	}
	return fcntlSetLock(h, int16(unix.F_UNLCK), l)
}

func fcntlSetLock(h LockHandle, typ int16, l RangeLock) error {
	start, length := fcntlRange(l.Start, l.Length)
	flk := unix.Flock_t{
		Type:   typ,
		Whence: 0,
		Start:  start,
		Len:    length,
	}
	err := unix.FcntlFlock(h.Fd(), setLockCmd, &flk)
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EACCES) {
		return common.ErrLockConflict
	}
	return err
}

// fcntlRange clamps an unsigned SMB range into fcntl's signed offsets. A
// range running past MaxInt64 becomes "to end of file" (Len 0).
func fcntlRange(start, length uint64) (int64, int64) {
	if start > math.MaxInt64 {
		return math.MaxInt64, 0
	}
	if length > math.MaxInt64-start {
		return int64(start), 0
	}
	return int64(start), int64(length)
}
