//go:build !linux

package vfs

import "os"

// O_DIRECT does not exist here; F_NOCACHE would need a separate fcntl.
const directIOFlag = 0

// ApplyFileAdvice is a no-op without posix_fadvise
func (h CreateHints) ApplyFileAdvice(f *os.File) error {
	return nil
}
