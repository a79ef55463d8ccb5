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
	"io/fs"
	"syscall"

	"ntvfs/internal/common"
	"ntvfs/internal/xattr"
)

// VFS error codes mapped to syscall errors
var (
	ENOENT       = syscall.ENOENT       // No such file or directory
	EEXIST       = syscall.EEXIST       // File exists
	ENOTDIR      = syscall.ENOTDIR      // Not a directory
	EISDIR       = syscall.EISDIR       // Is a directory
	EBADF        = syscall.EBADF        // Bad file descriptor
	EINVAL       = syscall.EINVAL       // Invalid argument
	ENOTSUP      = syscall.ENOTSUP      // Operation not supported
	ENOSPC       = syscall.ENOSPC       // No space left on device
	EIO          = syscall.EIO          // I/O error
	EACCES       = syscall.EACCES       // Permission denied
	EPERM        = syscall.EPERM        // Operation not permitted
	EROFS        = syscall.EROFS        // Read-only file system
	ENOTEMPTY    = syscall.ENOTEMPTY    // Directory not empty
	EAGAIN       = syscall.EAGAIN       // Resource temporarily unavailable (lock conflict)
	ETIMEDOUT    = syscall.ETIMEDOUT    // Lock wait timed out
	ECANCELED    = syscall.ECANCELED    // Lock wait unblocked
	ENAMETOOLONG = syscall.ENAMETOOLONG
	EOVERFLOW    = syscall.EOVERFLOW // Result larger than the caller's buffer
)

// toErrno maps internal errors onto the errno the SMB layer translates
// into an NT status. Errnos pass through untouched.
func toErrno(err error) error {
	if err == nil {
		return nil
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	switch {
	case errors.Is(err, common.ErrNotFound), errors.Is(err, fs.ErrNotExist):
		return ENOENT
	case errors.Is(err, common.ErrExists), errors.Is(err, fs.ErrExist):
		return EEXIST
	case errors.Is(err, common.ErrNotDir):
		return ENOTDIR
	case errors.Is(err, common.ErrIsDir):
		return EISDIR
	case errors.Is(err, common.ErrInvalidHandle), errors.Is(err, fs.ErrClosed):
		return EBADF
	case errors.Is(err, fs.ErrPermission):
		return EACCES
	case errors.Is(err, xattr.ErrNoAttr):
		return ENOATTR
	case errors.Is(err, xattr.ErrNotSupported):
		return ENOTSUP
	case errors.Is(err, common.ErrTruncatedName):
		return ENAMETOOLONG
	case errors.Is(err, common.ErrLockConflict):
		return EAGAIN
	case errors.Is(err, common.ErrTimedOut):
		return ETIMEDOUT
	case errors.Is(err, common.ErrUnblocked):
		return ECANCELED
	case errors.Is(err, common.ErrBufferOverflow):
		return EOVERFLOW
	case errors.Is(err, common.ErrInvalidPath),
		errors.Is(err, common.ErrInvalidStreamName),
		errors.Is(err, common.ErrInvalidCreateOptions),
		errors.Is(err, common.ErrInvalidChunk),
		errors.Is(err, common.ErrProgramming):
		return EINVAL
	}
	return EIO
}
