package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// zeroRange has no hole punching here; callers fall back to writing zeros
func zeroRange(f *os.File, off, n int64) error {
	return unix.ENOTSUP
}

// preallocate reserves size-cur bytes past the current EOF
func preallocate(f *os.File, cur, size int64) error {
	fst := unix.Fstore_t{
		Flags:   unix.F_ALLOCATEALL,
		Posmode: unix.F_PEOFPOSMODE,
		Length:  size - cur,
	}
	return unix.FcntlFstore(f.Fd(), unix.F_PREALLOCATE, &fst)
}
