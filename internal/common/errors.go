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

package common

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrExists        = errors.New("already exists")
	ErrNotDir        = errors.New("not a directory")
	ErrIsDir         = errors.New("is a directory")
	ErrInvalidPath   = errors.New("invalid path")
	ErrInvalidHandle = errors.New("invalid handle")
	ErrIO            = errors.New("I/O error")

	// ErrProgramming reports caller misuse such as an out-of-range
	// subscription id. It fails the call, never the process.
	ErrProgramming = errors.New("programming error")

	// ErrIPCFailure reports a disconnected channel or a malformed response
	// from the notification service.
	ErrIPCFailure = errors.New("ipc failure")

	// ErrCorruptMetadata reports a stored attribute of the wrong size.
	ErrCorruptMetadata = errors.New("corrupt metadata")

	ErrInvalidCreateOptions = errors.New("invalid create options")
	ErrInvalidStreamName    = errors.New("invalid stream name")
	ErrTruncatedName        = errors.New("name too long")
	ErrInvalidChunk         = errors.New("invalid chunk")

	// ErrTimedOut is returned when a bounded lock wait expires. Retryable.
	ErrTimedOut = errors.New("timed out")

	ErrLockConflict = errors.New("lock conflict")
	ErrUnblocked    = errors.New("lock wait unblocked")

	// ErrBufferOverflow means a result did not fit the caller's limit; the
	// part that fit is still returned alongside it.
	ErrBufferOverflow = errors.New("buffer overflow")
)
