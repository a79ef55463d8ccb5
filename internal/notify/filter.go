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

// Package notify bridges SMB2 CHANGE_NOTIFY waits to the out-of-process
// notification service.
package notify

// Completion filter bits [MS-SMB2] 2.2.35.
const (
	FileNotifyChangeFileName    uint32 = 0x00000001
	FileNotifyChangeDirName     uint32 = 0x00000002
	FileNotifyChangeAttributes  uint32 = 0x00000004
	FileNotifyChangeSize        uint32 = 0x00000008
	FileNotifyChangeLastWrite   uint32 = 0x00000010
	FileNotifyChangeLastAccess  uint32 = 0x00000020
	FileNotifyChangeCreation    uint32 = 0x00000040
	FileNotifyChangeEA          uint32 = 0x00000080
	FileNotifyChangeSecurity    uint32 = 0x00000100
	FileNotifyChangeStreamName  uint32 = 0x00000200
	FileNotifyChangeStreamSize  uint32 = 0x00000400
	FileNotifyChangeStreamWrite uint32 = 0x00000800

	FileNotifyChangeAll uint32 = 0x00000FFF
)

// Change actions [MS-FSCC] 2.4.42.
const (
	FileActionAdded          uint32 = 0x00000001
	FileActionRemoved        uint32 = 0x00000002
	FileActionModified       uint32 = 0x00000003
	FileActionRenamedOldName uint32 = 0x00000004
	FileActionRenamedNewName uint32 = 0x00000005
	FileActionAddedStream    uint32 = 0x00000006
	FileActionRemovedStream  uint32 = 0x00000007
	FileActionModifiedStream uint32 = 0x00000008
)

// NT status codes a notify completion can carry.
const (
	StatusSuccess       uint32 = 0x00000000
	StatusNotifyCleanup uint32 = 0x0000010B
	StatusNotifyEnumDir uint32 = 0x0000010C // changes overflowed the buffer
	StatusCancelled     uint32 = 0xC0000120
)

// MatchesFilter reports whether an action should complete a watch with the
// given completion filter.
func MatchesFilter(action uint32, filter uint32) bool {
	switch action {
	case FileActionAdded, FileActionRemoved, FileActionRenamedOldName, FileActionRenamedNewName:
		return filter&(FileNotifyChangeFileName|FileNotifyChangeDirName) != 0
	case FileActionModified:
		return filter&(FileNotifyChangeSize|FileNotifyChangeLastWrite|FileNotifyChangeAttributes|
			FileNotifyChangeLastAccess|FileNotifyChangeCreation|FileNotifyChangeEA|FileNotifyChangeSecurity) != 0
	case FileActionAddedStream, FileActionRemovedStream:
		return filter&FileNotifyChangeStreamName != 0
	case FileActionModifiedStream:
		return filter&(FileNotifyChangeStreamSize|FileNotifyChangeStreamWrite) != 0
	}
	return false
}

// ActionString names an action for logs
func ActionString(action uint32) string {
	switch action {
	case FileActionAdded:
		return "ADDED"
	case FileActionRemoved:
		return "REMOVED"
	case FileActionModified:
		return "MODIFIED"
	case FileActionRenamedOldName:
		return "RENAMED_OLD"
	case FileActionRenamedNewName:
		return "RENAMED_NEW"
	case FileActionAddedStream:
		return "ADDED_STREAM"
	case FileActionRemovedStream:
		return "REMOVED_STREAM"
	case FileActionModifiedStream:
		return "MODIFIED_STREAM"
	}
	return "UNKNOWN"
}
