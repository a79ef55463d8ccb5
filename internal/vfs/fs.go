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
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ntvfs/internal/common"
	"ntvfs/internal/metrics"
	"ntvfs/internal/xattr"
)

// PosixFS implements vfs.VFSFileSystem as a passthrough over a directory of
// the host filesystem. NTFS-only metadata (creation time, DOS attributes,
// alternate streams) lives in extended attributes.
type PosixFS struct {
	mu      sync.RWMutex
	root    string
	handles *HandleManager
	store   xattr.Store
	md      *xattr.Metadata
	locks   *LockCoordinator
	metrics *metrics.Metrics

	lockPrim  LockPrimitive
	lockRetry time.Duration
	caseless  bool
}

// Option configures a PosixFS
type Option func(*PosixFS)

// WithXattrStore replaces the host xattr store, e.g. with an in-memory one
// for filesystems that lack user xattrs.
func WithXattrStore(s xattr.Store) Option {
	return func(fs *PosixFS) { fs.store = s }
}

// WithMetrics enables instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(fs *PosixFS) { fs.metrics = m }
}

// WithLockPrimitive replaces the fcntl byte-range lock primitive
func WithLockPrimitive(p LockPrimitive) Option {
	return func(fs *PosixFS) { fs.lockPrim = p }
}

// WithLockRetry sets how often parked lock waiters retry on their own
func WithLockRetry(d time.Duration) Option {
	return func(fs *PosixFS) { fs.lockRetry = d }
}

// NewPosixFS exports root. root must be an existing directory.
func NewPosixFS(root string, opts ...Option) (*PosixFS, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, ENOTDIR
	}

	fs := &PosixFS{
		root:     abs,
		handles:  NewHandleManager(),
		store:    xattr.NewUnixStore(),
		lockPrim: FcntlLocker{},
	}
	for _, opt := range opts {
		opt(fs)
	}
	fs.md = xattr.NewMetadata(fs.store)
	fs.locks = NewLockCoordinator(fs.lockPrim, fs.metrics)
	if fs.lockRetry > 0 {
		fs.locks.SetRetryInterval(fs.lockRetry)
	}
	return fs, nil
}

// Root returns the exported directory
func (fs *PosixFS) Root() string {
	return fs.root
}

// Metadata returns the NTFS metadata codec bound to this filesystem's store
func (fs *PosixFS) Metadata() *xattr.Metadata {
	return fs.md
}

// Locks returns the byte-range lock coordinator
func (fs *PosixFS) Locks() *LockCoordinator {
	return fs.locks
}

// Shutdown closes every open handle and wakes all parked lock waiters
func (fs *PosixFS) Shutdown() {
	for _, info := range fs.handles.Drain() {
		fs.locks.UnblockHandle(info.file)
		info.file.Close()
	}
}

// --- File Operations ---
// All operations have panic recovery to prevent SMB server disconnections

// Open opens a file
func (fs *PosixFS) Open(path string, flags int, mode int) (handle vfs.VfsHandle, err error) {
	defer recoverFSPanic("Open", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Open %q flags=%d → %v (%v)", path, flags, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Open: path=%q flags=%d mode=%d", path, flags, mode)
	return fs.open(path, flags, mode, CreateHints{})
}

// OpenWithCreateOptions opens path applying an SMB create-options mask.
// Invalid masks fail before anything is touched.
func (fs *PosixFS) OpenWithCreateOptions(path string, flags int, mode int, opts CreateOptions) (handle vfs.VfsHandle, err error) {
	defer recoverFSPanic("OpenWithCreateOptions", &err)
	hints, err := InterpretCreateOptions(opts)
	if err != nil {
		log.Debugf("[VFS] OpenWithCreateOptions %q: %v", path, err)
		return 0, EINVAL
	}
	log.Debugf("[VFS] OpenWithCreateOptions: path=%q flags=%d opts=0x%08x hints=%+v", path, flags, uint32(opts), hints)

	if hints.ReadOnly {
		flags &^= os.O_WRONLY | os.O_RDWR | os.O_TRUNC
	}
	if hints.DirectoryOnly {
		if flags&os.O_CREATE != 0 {
			if _, err := fs.Mkdir(path, mode); err != nil && !errors.Is(err, EEXIST) {
				return 0, err
			}
		}
		return fs.openDir(path, hints)
	}
	return fs.open(path, flags|hints.OpenFlags(), mode, hints)
}

func (fs *PosixFS) open(path string, flags int, mode int, hints CreateHints) (vfs.VfsHandle, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = fs.casePath(common.NormalizePath(path))
	full, err := fs.resolve(path)
	if err != nil {
		return 0, EINVAL
	}

	// SMB writes are positional
	flags &^= os.O_APPEND

	_, statErr := os.Lstat(full)
	created := errors.Is(statErr, os.ErrNotExist) && flags&os.O_CREATE != 0
	overwritten := statErr == nil && flags&os.O_TRUNC != 0

	f, err := os.OpenFile(full, flags|unix.O_NOFOLLOW|unix.O_CLOEXEC, os.FileMode(mode&0777))
	if err != nil && hints.DirectIO && errors.Is(err, unix.EINVAL) {
		// tmpfs and friends reject O_DIRECT
		f, err = os.OpenFile(full, (flags&^directIOFlag)|unix.O_NOFOLLOW|unix.O_CLOEXEC, os.FileMode(mode&0777))
	}
	if err != nil {
		log.Debugf("[VFS] Open %q: %v", path, err)
		return 0, toErrno(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, toErrno(err)
	}
	if info.IsDir() {
		f.Close()
		return 0, EISDIR
	}

	// only once the open succeeded: a failed overwrite keeps its metadata
	if overwritten {
		fs.resetOverwritten(full)
	}
	if created {
		fs.stampCreationTime(full)
	}
	if err := hints.ApplyFileAdvice(f); err != nil {
		log.Debugf("[VFS] Open %q: fadvise: %v", path, err)
	}

	h := fs.handles.AllocateWithHints(f, path, false, flags, hints)
	return vfs.VfsHandle(h), nil
}

// Close closes a file handle
func (fs *PosixFS) Close(handle vfs.VfsHandle) (err error) {
	defer recoverFSPanic("Close", &err)
	info, ok := fs.handles.Release(HandleID(handle))
	if !ok {
		return EBADF
	}
	fs.locks.UnblockHandle(info.file)
	if err := info.file.Close(); err != nil {
		log.Debugf("[VFS] Close %q: %v", info.path, err)
	}
	if info.hints.DeleteOnClose {
		fs.mu.Lock()
		defer fs.mu.Unlock()
		full, err := fs.resolve(info.path)
		if err != nil {
			return EINVAL
		}
		if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
			return toErrno(err)
		}
	}
	return nil
}

// Read reads data from a file
func (fs *PosixFS) Read(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverFSPanic("Read", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	n, err = info.file.ReadAt(buf, int64(offset))
	if err == io.EOF {
		return n, nil
	}
	if err != nil {
		return n, toErrno(err)
	}
	return n, nil
}

// Write writes data to a file
func (fs *PosixFS) Write(handle vfs.VfsHandle, buf []byte, offset uint64, flags int) (n int, err error) {
	defer recoverFSPanic("Write", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Write handle=%d len=%d off=%d → %v (%v)", handle, len(buf), offset, err, time.Since(start)) }()
	}

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0, EBADF
	}
	if info.isDir {
		return 0, EISDIR
	}

	n, err = info.file.WriteAt(buf, int64(offset))
	if err != nil {
		return n, toErrno(err)
	}
	return n, nil
}

// Truncate truncates a file
func (fs *PosixFS) Truncate(handle vfs.VfsHandle, size uint64) (err error) {
	defer recoverFSPanic("Truncate", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if info.isDir {
		return EISDIR
	}
	return toErrno(info.file.Truncate(int64(size)))
}

// FSync flushes file data to disk
func (fs *PosixFS) FSync(handle vfs.VfsHandle) error {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	return toErrno(info.file.Sync())
}

// Flush flushes file data. Write-through handles are already synchronous.
func (fs *PosixFS) Flush(handle vfs.VfsHandle) error {
	if _, ok := fs.handles.Get(HandleID(handle)); !ok {
		return EBADF
	}
	return nil
}

// --- Directory Operations ---

// Mkdir creates a directory
func (fs *PosixFS) Mkdir(path string, mode int) (attrs *vfs.Attributes, err error) {
	defer recoverFSPanic("Mkdir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() { log.Tracef("[VFS] Mkdir %q → %v (%v)", path, err, time.Since(start)) }()
	}
	log.Debugf("[VFS] Mkdir: path=%q mode=%o", path, mode)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = fs.casePath(common.NormalizePath(path))
	full, err := fs.resolve(path)
	if err != nil {
		return nil, EINVAL
	}
	if mode&0777 == 0 {
		mode = 0755
	}
	if err := os.Mkdir(full, os.FileMode(mode&0777)); err != nil {
		return nil, toErrno(err)
	}
	fs.stampCreationTime(full)
	return fs.statPath(full)
}

// OpenDir opens a directory
func (fs *PosixFS) OpenDir(path string) (handle vfs.VfsHandle, err error) {
	defer recoverFSPanic("OpenDir", &err)
	log.Debugf("[VFS] OpenDir: path=%q", path)
	return fs.openDir(path, CreateHints{DirectoryOnly: true})
}

func (fs *PosixFS) openDir(path string, hints CreateHints) (vfs.VfsHandle, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	path = fs.casePath(common.NormalizePath(path))
	full, err := fs.resolve(path)
	if err != nil {
		return 0, EINVAL
	}
	f, err := os.OpenFile(full, os.O_RDONLY|unix.O_NOFOLLOW|unix.O_CLOEXEC, 0)
	if err != nil {
		return 0, toErrno(err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return 0, toErrno(err)
	}
	if !info.IsDir() {
		f.Close()
		return 0, ENOTDIR
	}
	if hints.DeleteOnClose && path != "" {
		if empty, err := dirEmpty(full); err != nil || !empty {
			f.Close()
			if err != nil {
				return 0, err
			}
			return 0, ENOTEMPTY
		}
	}
	h := fs.handles.AllocateWithHints(f, path, true, os.O_RDONLY, hints)
	return vfs.VfsHandle(h), nil
}

// ReadDir reads directory entries. offset > 0 restarts the scan; count
// bounds the batch and the handle remembers its position between calls.
func (fs *PosixFS) ReadDir(handle vfs.VfsHandle, offset int, count int) (entries []vfs.DirInfo, err error) {
	defer recoverFSPanic("ReadDir", &err)
	if log.IsLevelEnabled(log.TraceLevel) {
		start := time.Now()
		defer func() {
			log.Tracef("[VFS] ReadDir handle=%d off=%d → %d entries, %v (%v)", handle, offset, len(entries), err, time.Since(start))
		}()
	}
	log.Debugf("[VFS] ReadDir: handle=%d offset=%d count=%d", handle, offset, count)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	h := HandleID(handle)
	info, ok := fs.handles.Get(h)
	if !ok {
		log.Debugf("[VFS] ReadDir: EBADF handle not found")
		return nil, EBADF
	}
	if !info.isDir {
		return nil, ENOTDIR
	}

	// SMB2 protocol: offset > 0 (RESTART_SCANS) means restart enumeration
	if offset > 0 {
		fs.handles.SetDirEnumDone(h, false)
		fs.handles.UpdateDirPos(h, 0)
	}
	if fs.handles.IsDirEnumDone(h) {
		log.Debugf("[VFS] ReadDir: returning EOF (enumeration done)")
		return nil, io.EOF
	}

	full, err := fs.resolve(info.path)
	if err != nil {
		return nil, EINVAL
	}
	all, err := fs.listDir(info.file, full)
	if err != nil {
		return nil, err
	}

	pos := fs.handles.GetDirPos(h)
	if pos > len(all) {
		pos = len(all)
	}
	end := len(all)
	if count > 0 && pos+count < end {
		end = pos + count
	}
	fs.handles.UpdateDirPos(h, end)
	if end == len(all) {
		fs.handles.SetDirEnumDone(h, true)
	}
	if pos == end {
		return nil, io.EOF
	}
	return all[pos:end], nil
}

// --- Metadata Operations ---

// GetAttr gets file attributes. Handle 0 is the share root.
func (fs *PosixFS) GetAttr(handle vfs.VfsHandle) (attrs *vfs.Attributes, err error) {
	defer recoverFSPanic("GetAttr", &err)
	log.Debugf("[VFS] GetAttr: handle=%d", handle)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	if handle == 0 {
		return fs.statPath(fs.root)
	}
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return nil, EINVAL
	}
	var st unix.Stat_t
	if err := unix.Fstat(int(info.file.Fd()), &st); err != nil {
		return nil, toErrno(err)
	}
	return BuildDirEntryAttrs(fs.md, filepath.Dir(full), filepath.Base(full), &st).Attributes(), nil
}

// SetAttr sets mode, size and times
func (fs *PosixFS) SetAttr(handle vfs.VfsHandle, inAttrs *vfs.Attributes) (attrs *vfs.Attributes, err error) {
	defer recoverFSPanic("SetAttr", &err)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return nil, EINVAL
	}

	if mode, ok := inAttrs.GetUnixMode(); ok {
		if err := info.file.Chmod(os.FileMode(mode & 0777)); err != nil {
			return nil, toErrno(err)
		}
	}
	if size, ok := inAttrs.GetSizeBytes(); ok && !info.isDir {
		if err := info.file.Truncate(int64(size)); err != nil {
			return nil, toErrno(err)
		}
	}

	mtime, hasMtime := inAttrs.GetLastDataModificationTime()
	atime, hasAtime := inAttrs.GetAccessTime()
	if hasMtime || hasAtime {
		// UTIME_OMIT leaves the other timestamp alone
		ts := []unix.Timespec{{Nsec: unix.UTIME_OMIT}, {Nsec: unix.UTIME_OMIT}}
		if hasAtime {
			ts[0] = unix.NsecToTimespec(atime.UnixNano())
		}
		if hasMtime {
			ts[1] = unix.NsecToTimespec(mtime.UnixNano())
		}
		if err := unix.UtimesNanoAt(unix.AT_FDCWD, full, ts, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			return nil, toErrno(err)
		}
	}

	return fs.statPath(full)
}

// Lookup finds name relative to a directory handle (0 is the share root).
// name may hold several components.
func (fs *PosixFS) Lookup(dirHandle vfs.VfsHandle, name string) (attrs *vfs.Attributes, err error) {
	defer recoverFSPanic("Lookup", &err)
	log.Debugf("[VFS] Lookup: dirHandle=%d name=%q", dirHandle, name)
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	dir := ""
	if dirHandle != 0 {
		info, ok := fs.handles.Get(HandleID(dirHandle))
		if !ok {
			return nil, EBADF
		}
		if !info.isDir {
			return nil, ENOTDIR
		}
		dir = info.path
	}

	full, err := fs.resolve(fs.casePath(dir + "/" + name))
	if err != nil {
		return nil, EINVAL
	}
	return fs.statPath(full)
}

// StatFS returns filesystem statistics of the backing filesystem
func (fs *PosixFS) StatFS(handle vfs.VfsHandle) (*vfs.FSAttributes, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(fs.root, &st); err != nil {
		return nil, toErrno(err)
	}
	attrs := &vfs.FSAttributes{}
	attrs.SetBlockSize(uint64(st.Bsize))
	attrs.SetIOSize(uint64(st.Bsize))
	attrs.SetBlocks(uint64(st.Blocks))
	attrs.SetFreeBlocks(uint64(st.Bfree))
	attrs.SetAvailableBlocks(uint64(st.Bavail))
	attrs.SetFiles(uint64(st.Files))
	attrs.SetFreeFiles(uint64(st.Ffree))
	return attrs, nil
}

// --- File Management ---

// Unlink removes a file or empty directory
func (fs *PosixFS) Unlink(handle vfs.VfsHandle) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	log.Debugf("[VFS] Unlink: handle=%d", handle)
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		log.Debugf("[VFS] Unlink: handle not found, returning EBADF")
		return EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil || info.path == "" {
		return EINVAL
	}
	return toErrno(os.Remove(full))
}

// Rename renames/moves a file. A bare newName stays in the same directory;
// a name with separators is a share path.
func (fs *PosixFS) Rename(handle vfs.VfsHandle, newName string, flags int) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}

	newPath := newName
	if !strings.ContainsAny(newName, "/\\") {
		newPath = common.ParentPath(info.path) + "/" + newName
	}
	newPath = common.NormalizePath(strings.ReplaceAll(newPath, "\\", "/"))

	src, err := fs.resolve(info.path)
	if err != nil {
		return EINVAL
	}
	dst, err := fs.resolve(newPath)
	if err != nil {
		return EINVAL
	}
	if err := os.Rename(src, dst); err != nil {
		return toErrno(err)
	}
	fs.handles.Rename(info.path, newPath)
	log.Debugf("[VFS] Rename: %q → %q", info.path, newPath)
	return nil
}

// --- Symbolic Link Operations ---

// Readlink reads a symbolic link target
func (fs *PosixFS) Readlink(handle vfs.VfsHandle) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return "", EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return "", EINVAL
	}
	target, err := os.Readlink(full)
	if err != nil {
		return "", toErrno(err)
	}
	return target, nil
}

// Symlink converts an existing file to a symbolic link pointing to target
func (fs *PosixFS) Symlink(handle vfs.VfsHandle, target string, mode int) (*vfs.Attributes, error) {
	log.Debugf("[VFS] Symlink: handle=%d target=%q mode=%d", handle, target, mode)
	fs.mu.Lock()
	defer fs.mu.Unlock()

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return nil, EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return nil, EINVAL
	}
	if err := os.Remove(full); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, toErrno(err)
	}
	if err := os.Symlink(target, full); err != nil {
		return nil, toErrno(err)
	}
	return fs.statPath(full)
}

// Link creates a hard link
func (fs *PosixFS) Link(srcNode vfs.VfsNode, dstNode vfs.VfsNode, name string) (*vfs.Attributes, error) {
	return nil, ENOTSUP
}

// --- Extended Attributes ---
// SMB exposes alternate data streams through the xattr calls; every name
// here is a stream name, stored under the user.stream. prefix.

func (fs *PosixFS) Listxattr(handle vfs.VfsHandle) ([]string, error) {
	full, err := fs.handlePath(handle)
	if err != nil {
		return nil, err
	}
	streams, err := xattr.ListStreams(fs.store, full)
	if err != nil {
		return nil, toErrno(err)
	}
	if streams == nil {
		streams = []string{}
	}
	return streams, nil
}

// Getxattr reads a stream into buf. An empty buf asks for the size, which is
// matched case-insensitively like NTFS stream names.
func (fs *PosixFS) Getxattr(handle vfs.VfsHandle, name string, buf []byte) (int, error) {
	full, err := fs.handlePath(handle)
	if err != nil {
		return 0, err
	}
	key, err := xattr.StreamXattrName(name)
	if err != nil {
		return 0, toErrno(err)
	}
	if len(buf) == 0 {
		n, err := xattr.CaseXattrLen(fs.store, full, key)
		return n, toErrno(err)
	}
	val, err := fs.store.Get(full, key)
	if err != nil {
		return 0, toErrno(err)
	}
	if len(val) > len(buf) {
		return len(val), unix.ERANGE
	}
	return copy(buf, val), nil
}

func (fs *PosixFS) Setxattr(handle vfs.VfsHandle, name string, value []byte) error {
	full, err := fs.handlePath(handle)
	if err != nil {
		return err
	}
	key, err := xattr.StreamXattrName(name)
	if err != nil {
		return toErrno(err)
	}
	return toErrno(fs.store.Set(full, key, value))
}

func (fs *PosixFS) Removexattr(handle vfs.VfsHandle, name string) error {
	full, err := fs.handlePath(handle)
	if err != nil {
		return err
	}
	return toErrno(xattr.RemoveStream(fs.store, full, name))
}

// --- NTFS extensions ---

// BasicInfo is the NTFS-only part of FILE_BASIC_INFORMATION
type BasicInfo struct {
	CreationTime   time.Time
	FileAttributes uint32
}

// FileBasicInfo returns the creation time and DOS attributes of a handle
func (fs *PosixFS) FileBasicInfo(handle vfs.VfsHandle) (BasicInfo, error) {
	full, err := fs.handlePath(handle)
	if err != nil {
		return BasicInfo{}, err
	}
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return BasicInfo{}, toErrno(err)
	}
	a := BuildDirEntryAttrs(fs.md, filepath.Dir(full), filepath.Base(full), &st)
	return BasicInfo{CreationTime: a.CreationTime, FileAttributes: a.FileAttributes}, nil
}

// SetFileBasicInfo stores creation time and DOS attributes. Zero fields
// are left unchanged, as in SMB2 SET_INFO.
func (fs *PosixFS) SetFileBasicInfo(handle vfs.VfsHandle, bi BasicInfo) error {
	full, err := fs.handlePath(handle)
	if err != nil {
		return err
	}
	if !bi.CreationTime.IsZero() {
		if err := fs.md.SetCreationTime(full, TimeToFiletime(bi.CreationTime)); err != nil {
			return toErrno(err)
		}
	}
	if bi.FileAttributes != 0 {
		attrs := bi.FileAttributes &^ FileAttributeDirectory
		if info, ok := fs.handles.Get(HandleID(handle)); ok && info.isDir {
			attrs |= FileAttributeDirectory
		}
		if err := fs.md.SetFileAttributes(full, attrs); err != nil {
			return toErrno(err)
		}
	}
	return nil
}

// LockRange applies a byte-range lock on an open file. With wait set it
// parks until granted, unblocked or timeout (0 waits forever).
func (fs *PosixFS) LockRange(ctx context.Context, handle vfs.VfsHandle, l RangeLock, wait bool, timeout time.Duration) error {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	if !wait {
		return fs.locks.Lock(info.file, l)
	}
	var err error
	if timeout > 0 {
		_, err = fs.locks.LockWaitTimeout(ctx, info.file, l, timeout)
	} else {
		_, err = fs.locks.LockWait(ctx, info.file, l)
	}
	return err
}

// UnlockRange releases a byte-range lock and wakes parked waiters
func (fs *PosixFS) UnlockRange(handle vfs.VfsHandle, l RangeLock) error {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return EBADF
	}
	return fs.locks.Unlock(info.file, l)
}

// CancelLock wakes the waiter parked on l for handle (SMB2 CANCEL)
func (fs *PosixFS) CancelLock(handle vfs.VfsHandle, l RangeLock) int {
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return 0
	}
	return fs.locks.Unblock(info.file, l)
}

// CopyChunks performs a server-side copy between two open files
func (fs *PosixFS) CopyChunks(ctx context.Context, src, dst vfs.VfsHandle, chunks []Chunk) (CopyResult, error) {
	s, ok := fs.handles.Get(HandleID(src))
	if !ok || s.isDir {
		return CopyResult{}, EBADF
	}
	d, ok := fs.handles.Get(HandleID(dst))
	if !ok || d.isDir {
		return CopyResult{}, EBADF
	}
	return CopyChunks(ctx, s.file, d.file, chunks, fs.metrics)
}


// listDir builds "." and ".." plus every entry of the open directory,
// sorted by name.
func (fs *PosixFS) listDir(dir *os.File, full string) ([]vfs.DirInfo, error) {
	names, err := readDirNames(full)
	if err != nil {
		return nil, toErrno(err)
	}
	sort.Strings(names)

	dirfd := int(dir.Fd())
	var self unix.Stat_t
	if err := unix.Fstat(dirfd, &self); err != nil {
		return nil, toErrno(err)
	}
	selfAttrs := BuildDirEntryAttrs(fs.md, filepath.Dir(full), filepath.Base(full), &self)

	out := make([]vfs.DirInfo, 0, len(names)+2)
	dot := selfAttrs.ToDirInfo()
	dot.Name = "."
	dotdot := selfAttrs.ToDirInfo()
	dotdot.Name = ".."
	out = append(out, dot, dotdot)

	for _, name := range names {
		var st unix.Stat_t
		if err := unix.Fstatat(dirfd, name, &st, unix.AT_SYMLINK_NOFOLLOW); err != nil {
			// raced with a remove
			log.Debugf("[VFS] ReadDir: skipping %q: %v", name, err)
			continue
		}
		out = append(out, BuildDirEntryAttrs(fs.md, full, name, &st).ToDirInfo())
	}
	return out, nil
}
