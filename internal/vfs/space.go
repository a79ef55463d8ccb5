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
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ntvfs/internal/common"
)

// AllocatedRange is one run of allocated (non-hole) bytes of a file.
type AllocatedRange struct {
	Offset uint64
	Length uint64
}

// SectorSize describes the backing filesystem for
// FILE_FS_SECTOR_SIZE_INFORMATION.
type SectorSize struct {
	Logical   uint32
	Physical  uint32
	OptimalIO uint32
}

// logicalSectorSize is reported when no block device is visible
const logicalSectorSize = 512

const zeroChunk = 64 * 1024

// fileHandle returns the open regular file behind handle
func (fs *PosixFS) fileHandle(handle vfs.VfsHandle) (*openHandle, error) {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	if info.isDir {
		return nil, EISDIR
	}
	return info, nil
}

func writable(info *openHandle) bool {
	return info.flags&(os.O_WRONLY|os.O_RDWR) != 0
}

// ZeroData zeroes [offset, offset+length) without changing the file size.
// Bytes past EOF are left alone. Holes are punched where the filesystem
// supports it, otherwise the range is overwritten with zeros.
func (fs *PosixFS) ZeroData(handle vfs.VfsHandle, offset, length uint64) (err error) {
	defer recoverFSPanic("ZeroData", &err)

	info, err := fs.fileHandle(handle)
	if err != nil {
		return err
	}
	if !writable(info) {
		return EACCES
	}
	if length == 0 {
		return nil
	}
	st, err := info.file.Stat()
	if err != nil {
		return toErrno(err)
	}
	size := uint64(st.Size())
	if offset >= size {
		return nil
	}
	end := offset + length
	if end < offset || end > size {
		end = size
	}

	log.Debugf("[VFS] ZeroData %q: off=%d len=%d", info.path, offset, end-offset)
	if err := zeroRange(info.file, int64(offset), int64(end-offset)); err == nil {
		return nil
	} else if !unsupported(err) {
		return toErrno(err)
	}
	return toErrno(writeZeros(info.file, int64(offset), int64(end-offset)))
}

func writeZeros(f *os.File, off, n int64) error {
	buf := make([]byte, min(n, zeroChunk))
	for n > 0 {
		chunk := min(n, int64(len(buf)))
		if _, err := f.WriteAt(buf[:chunk], off); err != nil {
			return err
		}
		off += chunk
		n -= chunk
	}
	return nil
}

// AllocSize applies FILE_ALLOCATION_INFORMATION. A size below EOF truncates
// the file to it; a larger size reserves blocks without moving EOF.
func (fs *PosixFS) AllocSize(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverFSPanic("AllocSize", &err)

	info, err := fs.fileHandle(handle)
	if err != nil {
		return err
	}
	if !writable(info) {
		return EACCES
	}
	st, err := info.file.Stat()
	if err != nil {
		return toErrno(err)
	}
	cur := uint64(st.Size())
	if size < cur {
		return toErrno(info.file.Truncate(int64(size)))
	}
	if size == cur {
		return nil
	}
	if err := preallocate(info.file, int64(cur), int64(size)); err != nil {
		if unsupported(err) {
			log.Debugf("[VFS] AllocSize %q: preallocation unsupported", info.path)
			return nil
		}
		return toErrno(err)
	}
	return nil
}

// QueryAllocatedRanges lists the allocated runs within [start, start+length)
// clipped to EOF, at most limit of them. When more exist, the first limit are
// returned with EOVERFLOW. Filesystems without SEEK_DATA report the
// whole range as allocated.
func (fs *PosixFS) QueryAllocatedRanges(handle vfs.VfsHandle, start, length uint64, limit int) (ranges []AllocatedRange, err error) {
	defer recoverFSPanic("QueryAllocatedRanges", &err)

	info, err := fs.fileHandle(handle)
	if err != nil {
		return nil, err
	}
	if limit < 0 {
		return nil, EINVAL
	}
	st, err := info.file.Stat()
	if err != nil {
		return nil, toErrno(err)
	}
	size := uint64(st.Size())
	end := start + length
	if end < start || end > size {
		end = size
	}

	add := func(off, n uint64) error {
		if len(ranges) == limit {
			return toErrno(fmt.Errorf("more than %d allocated ranges: %w", limit, common.ErrBufferOverflow))
		}
		ranges = append(ranges, AllocatedRange{Offset: off, Length: n})
		return nil
	}

	for off := start; off < end; {
		data, err := info.file.Seek(int64(off), unix.SEEK_DATA)
		if errors.Is(err, syscall.ENXIO) {
			break
		}
		if err != nil {
			if unsupported(err) || errors.Is(err, syscall.EINVAL) {
				err := add(off, end-off)
				return ranges, err
			}
			return nil, toErrno(err)
		}
		if uint64(data) >= end {
			break
		}
		hole, err := info.file.Seek(data, unix.SEEK_HOLE)
		if err != nil {
			return nil, toErrno(err)
		}
		stop := min(uint64(hole), end)
		if err := add(uint64(data), stop-uint64(data)); err != nil {
			return ranges, err
		}
		off = stop
	}
	return ranges, nil
}

// SectorSize reports the sector geometry of the filesystem holding handle
func (fs *PosixFS) SectorSize(handle vfs.VfsHandle) (SectorSize, error) {
	full, err := fs.handlePath(handle)
	if err != nil {
		return SectorSize{}, err
	}
	var st unix.Statfs_t
	if err := unix.Statfs(full, &st); err != nil {
		return SectorSize{}, toErrno(err)
	}
	bsize := uint32(st.Bsize)
	if bsize < logicalSectorSize {
		bsize = logicalSectorSize
	}
	return SectorSize{Logical: logicalSectorSize, Physical: bsize, OptimalIO: bsize}, nil
}

func unsupported(err error) bool {
	return errors.Is(err, syscall.EOPNOTSUPP) || errors.Is(err, syscall.ENOTSUP) || errors.Is(err, syscall.ENOSYS)
}
