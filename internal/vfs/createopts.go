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
	"os"

	"ntvfs/internal/common"
)

// CreateOptions is the create-options bitmask of an SMB2 CREATE request.
type CreateOptions uint32

// Protocol create options [MS-SMB2] 2.2.13.
const (
	FileDirectoryFile           CreateOptions = 0x00000001 // must be a directory
	FileWriteThrough            CreateOptions = 0x00000002
	FileSequentialOnly          CreateOptions = 0x00000004
	FileNoIntermediateBuffering CreateOptions = 0x00000008
	FileSynchronousIOAlert      CreateOptions = 0x00000010 // MBZ
	FileSynchronousIONonAlert   CreateOptions = 0x00000020 // MBZ
	FileNonDirectoryFile        CreateOptions = 0x00000040 // must not be a directory
	CreateTreeConnection        CreateOptions = 0x00000080 // MBZ
	FileCompleteIfOplocked      CreateOptions = 0x00000100
	FileNoEAKnowledge           CreateOptions = 0x00000200
	FileOpenRemoteInstance      CreateOptions = 0x00000400
	CreateOpenForRecovery       CreateOptions = 0x00000400 // obsolete, MBZ
	FileRandomAccess            CreateOptions = 0x00000800
	FileDeleteOnClose           CreateOptions = 0x00001000
	FileOpenByFileID            CreateOptions = 0x00002000
	FileOpenForBackupIntent     CreateOptions = 0x00004000
	FileNoCompression           CreateOptions = 0x00008000
	FileOpenRequiringOplock     CreateOptions = 0x00010000
	FileDisallowExclusive       CreateOptions = 0x00020000
	FileReserveOpfilter         CreateOptions = 0x00100000
	FileOpenReparsePoint        CreateOptions = 0x00200000
	FileOpenNoRecall            CreateOptions = 0x00400000
	FileOpenForFreeSpaceQuery   CreateOptions = 0x00800000 // MBZ

	// CreateOptionsMask covers the bits that travel on the wire.
	CreateOptionsMask CreateOptions = 0x00FFFFFF
)

// Local-only markers. Never sent over the wire.
const (
	CreateOptionReadOnly CreateOptions = 0x10000000
	CreateOptionSpecial  CreateOptions = 0x20000000
)

// createOptionsMustBeZero are documented as must-be-zero.
const createOptionsMustBeZero = FileSynchronousIOAlert | FileSynchronousIONonAlert |
	CreateTreeConnection | CreateOpenForRecovery | FileOpenForFreeSpaceQuery

const createOptionsLocal = CreateOptionReadOnly | CreateOptionSpecial

// CreateHints are the local effects of an accepted create-options mask.
// Applying them is the caller's job.
type CreateHints struct {
	DirectoryOnly bool
	NonDirectory  bool
	SyncWrite     bool // write-through
	DirectIO      bool // no intermediate buffering
	DeleteOnClose bool
	ReadAhead     bool // sequential only
	RandomAccess  bool
	ReadOnly      bool
	Special       bool
}

// InterpretCreateOptions validates opts and maps accepted bits to hints.
// It fails with ErrInvalidCreateOptions on contradictory or must-be-zero bits.
func InterpretCreateOptions(opts CreateOptions) (CreateHints, error) {
	if opts&FileDirectoryFile != 0 && opts&FileNonDirectoryFile != 0 {
		return CreateHints{}, fmt.Errorf("directory and non-directory both requested (0x%08x): %w", uint32(opts), common.ErrInvalidCreateOptions)
	}
	if bad := opts & createOptionsMustBeZero; bad != 0 {
		return CreateHints{}, fmt.Errorf("must-be-zero bits 0x%08x set: %w", uint32(bad), common.ErrInvalidCreateOptions)
	}
	if bad := opts &^ (CreateOptionsMask | createOptionsLocal); bad != 0 {
		return CreateHints{}, fmt.Errorf("undefined bits 0x%08x set: %w", uint32(bad), common.ErrInvalidCreateOptions)
	}

	h := CreateHints{
		DirectoryOnly: opts&FileDirectoryFile != 0,
		NonDirectory:  opts&FileNonDirectoryFile != 0,
		SyncWrite:     opts&FileWriteThrough != 0,
		DirectIO:      opts&FileNoIntermediateBuffering != 0,
		DeleteOnClose: opts&FileDeleteOnClose != 0,
		ReadAhead:     opts&FileSequentialOnly != 0,
		RandomAccess:  opts&FileRandomAccess != 0,
		ReadOnly:      opts&CreateOptionReadOnly != 0,
		Special:       opts&CreateOptionSpecial != 0,
	}
	// random access wins over a conflicting sequential hint
	if h.RandomAccess {
		h.ReadAhead = false
	}
	return h, nil
}

// WireOptions strips the local-only markers before a mask is sent anywhere.
func (o CreateOptions) WireOptions() CreateOptions {
	return o & CreateOptionsMask
}

// OpenFlags returns the os.OpenFile flags implied by the hints
func (h CreateHints) OpenFlags() int {
	flags := 0
	if h.SyncWrite {
		flags |= os.O_SYNC
	}
	if h.DirectIO {
		flags |= directIOFlag
	}
	return flags
}
