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
	"fmt"
	"io/fs"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"ntvfs/internal/common"
	"ntvfs/internal/xattr"
)

func TestErrorMappings(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want syscall.Errno
	}{
		{"ENOENT", ENOENT, syscall.ENOENT},
		{"EEXIST", EEXIST, syscall.EEXIST},
		{"EBADF", EBADF, syscall.EBADF},
		{"EINVAL", EINVAL, syscall.EINVAL},
		{"ENOTSUP", ENOTSUP, syscall.ENOTSUP},
		{"EIO", EIO, syscall.EIO},
		{"EAGAIN", EAGAIN, syscall.EAGAIN},
		{"ETIMEDOUT", ETIMEDOUT, syscall.ETIMEDOUT},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.err, "%s should map to syscall.%s", tt.name, tt.name)
		})
	}
}

func TestToErrno(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   error
		want error
	}{
		{"nil", nil, nil},
		{"errno passes through", syscall.ENOSPC, ENOSPC},
		{"wrapped errno", fmt.Errorf("write: %w", syscall.EROFS), EROFS},
		{"not found", common.ErrNotFound, ENOENT},
		{"fs not exist", fs.ErrNotExist, ENOENT},
		{"fs exist", fs.ErrExist, EEXIST},
		{"invalid handle", common.ErrInvalidHandle, EBADF},
		{"no attr", xattr.ErrNoAttr, ENOATTR},
		{"xattrs unsupported", xattr.ErrNotSupported, ENOTSUP},
		{"truncated stream name", common.ErrTruncatedName, ENAMETOOLONG},
		{"invalid stream name", fmt.Errorf("x: %w", common.ErrInvalidStreamName), EINVAL},
		{"invalid chunk", common.ErrInvalidChunk, EINVAL},
		{"lock conflict", common.ErrLockConflict, EAGAIN},
		{"timed out", common.ErrTimedOut, ETIMEDOUT},
		{"unblocked", common.ErrUnblocked, ECANCELED},
		{"buffer overflow", fmt.Errorf("ranges: %w", common.ErrBufferOverflow), EOVERFLOW},
		{"unknown", fmt.Errorf("boom"), EIO},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, toErrno(tt.in))
		})
	}
}
