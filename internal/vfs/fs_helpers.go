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
	"os"
	"path/filepath"
	"runtime/debug"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ntvfs/internal/common"
	"ntvfs/internal/xattr"
)

// =============================================================================
// Panic Recovery
// =============================================================================

// recoverFSPanic recovers from panics in PosixFS operations
// This is CRITICAL for preventing SMB server disconnections
func recoverFSPanic(operation string, err *error) {
	if r := recover(); r != nil {
		log.Errorf("[VFS] PANIC RECOVERED in %s: %v\nStack:\n%s", operation, r, debug.Stack())
		if err != nil {
			*err = EIO
		}
	}
}

// =============================================================================
// Path Helpers
// =============================================================================

// resolve maps a share path onto the host filesystem
func (fs *PosixFS) resolve(path string) (string, error) {
	return common.ResolveUnder(fs.root, path)
}

// handlePath returns the host path of an open handle; 0 is the share root.
func (fs *PosixFS) handlePath(handle vfs.VfsHandle) (string, error) {
	if handle == 0 {
		return fs.root, nil
	}
	info, ok := fs.handles.Get(HandleID(handle))
	if !ok {
		return "", EBADF
	}
	full, err := fs.resolve(info.path)
	if err != nil {
		return "", EINVAL
	}
	return full, nil
}

// =============================================================================
// Attribute Helpers
// =============================================================================

// statPath stats full without following symlinks and converts the result
func (fs *PosixFS) statPath(full string) (*vfs.Attributes, error) {
	var st unix.Stat_t
	if err := unix.Lstat(full, &st); err != nil {
		return nil, toErrno(err)
	}
	return BuildDirEntryAttrs(fs.md, filepath.Dir(full), filepath.Base(full), &st).Attributes(), nil
}

// stampCreationTime records the creation time of a new entry. Filesystems
// without user xattrs fall back to ctime on read.
func (fs *PosixFS) stampCreationTime(full string) {
	err := fs.md.SetCreationTime(full, TimeToFiletime(time.Now()))
	if err != nil && !errors.Is(err, xattr.ErrNotSupported) {
		log.Debugf("[VFS] stamp creation time %q: %v", full, err)
	}
}

// resetOverwritten drops the alternate streams and DOS attributes of a file
// being overwritten. The creation time survives.
func (fs *PosixFS) resetOverwritten(full string) {
	ct, hasCT, _ := fs.md.CreationTime(full)
	if err := xattr.TruncateXattrs(fs.store, full, false); err != nil {
		log.Debugf("[VFS] truncate xattrs %q: %v", full, err)
		return
	}
	if hasCT {
		if err := fs.md.SetCreationTime(full, ct); err != nil {
			log.Debugf("[VFS] restore creation time %q: %v", full, err)
		}
	}
}

// readDirNames lists entry names of a directory, without "." and ".."
func readDirNames(full string) ([]string, error) {
	d, err := os.Open(full)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	return d.Readdirnames(-1)
}
