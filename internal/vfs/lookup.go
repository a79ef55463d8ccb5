package vfs

import (
	"errors"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
)

// WithCaseInsensitive makes path resolution match names the way Windows
// clients expect: an exact match wins, otherwise the first entry of the
// directory that equals the name under Unicode case folding.
func WithCaseInsensitive(on bool) Option {
	return func(fs *PosixFS) { fs.caseless = on }
}

// ResolveCaseless returns the on-disk spelling of a share path, matching
// each component case-insensitively. It fails with ENOENT when a component
// has no match.
func (fs *PosixFS) ResolveCaseless(path string) (string, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return fs.lookupCaseless(common.NormalizePath(strings.ReplaceAll(path, "\\", "/")))
}

func (fs *PosixFS) lookupCaseless(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	full, err := fs.resolve(path)
	if err != nil {
		return "", EINVAL
	}
	if _, err := os.Lstat(full); err == nil {
		return path, nil
	}

	parent, err := fs.lookupCaseless(common.ParentPath(path))
	if err != nil {
		return "", err
	}
	dir, err := fs.resolve(parent)
	if err != nil {
		return "", EINVAL
	}
	names, err := readDirNames(dir)
	if err != nil {
		return "", toErrno(err)
	}
	sort.Strings(names)

	base := common.BaseName(path)
	for _, name := range names {
		if strings.EqualFold(name, base) {
			return joinShare(parent, name), nil
		}
	}
	return "", ENOENT
}

// casePath is the path an operation should act on. Existing entries get
// their on-disk spelling; a missing leaf keeps the client's spelling under
// the matched parent so creates land next to it.
func (fs *PosixFS) casePath(path string) string {
	if !fs.caseless || path == ".." || strings.HasPrefix(path, "../") {
		return path
	}
	path = common.NormalizePath(strings.ReplaceAll(path, "\\", "/"))
	if found, err := fs.lookupCaseless(path); err == nil {
		return found
	}
	parent, err := fs.lookupCaseless(common.ParentPath(path))
	if err != nil {
		return path
	}
	return joinShare(parent, common.BaseName(path))
}

func joinShare(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// IsEmptyDir reports whether the directory behind handle has no entries
func (fs *PosixFS) IsEmptyDir(handle vfs.VfsHandle) (empty bool, err error) {
	defer recoverFSPanic("IsEmptyDir", &err)

	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return false, EBADF
	}
	if !info.isDir {
		return false, ENOTDIR
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return false, EINVAL
	}
	return dirEmpty(full)
}

func dirEmpty(full string) (bool, error) {
	d, err := os.Open(full)
	if err != nil {
		return false, toErrno(err)
	}
	defer d.Close()
	if _, err := d.Readdirnames(1); err != nil {
		if errors.Is(err, io.EOF) {
			return true, nil
		}
		log.Debugf("[VFS] IsEmptyDir %q: %v", full, err)
		return false, toErrno(err)
	}
	return false, nil
}
