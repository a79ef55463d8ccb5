package vfs

import (
	"os"

	"golang.org/x/sys/unix"
)

// zeroRange deallocates the range, or zeroes it in place on filesystems
// that cannot punch holes.
func zeroRange(f *os.File, off, n int64) error {
	fd := int(f.Fd())
	err := unix.Fallocate(fd, unix.FALLOC_FL_PUNCH_HOLE|unix.FALLOC_FL_KEEP_SIZE, off, n)
	if err == nil || !unsupported(err) {
		return err
	}
	return unix.Fallocate(fd, unix.FALLOC_FL_ZERO_RANGE|unix.FALLOC_FL_KEEP_SIZE, off, n)
}

// preallocate reserves blocks up to size without moving EOF
func preallocate(f *os.File, cur, size int64) error {
	return unix.Fallocate(int(f.Fd()), unix.FALLOC_FL_KEEP_SIZE, 0, size)
}
