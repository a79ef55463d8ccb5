package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

const directIOFlag = unix.O_DIRECT

// ApplyFileAdvice passes the access-pattern hints to the kernel
func (h CreateHints) ApplyFileAdvice(f *os.File) error {
	switch {
	case h.RandomAccess:
		return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_RANDOM)
	case h.ReadAhead:
		return unix.Fadvise(int(f.Fd()), 0, 0, unix.FADV_SEQUENTIAL)
	}
	return nil
}
