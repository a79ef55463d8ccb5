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

package notify

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/text/encoding/unicode"

	"ntvfs/internal/common"
)

// changeRecordHeader is action u32 LE followed by name length u32 LE
const changeRecordHeader = 8

// ChangeRecord is one change reported by the notification service. Name is
// relative to the watched directory.
type ChangeRecord struct {
	Action uint32
	Name   string
}

// AppendChangeRecord appends the service encoding of one record to buf
func AppendChangeRecord(buf []byte, action uint32, name string) []byte {
	buf = binary.LittleEndian.AppendUint32(buf, action)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
	return append(buf, name...)
}

// ParseChangeRecords decodes records packed back to back. A record running
// past the buffer is an IPC failure.
func ParseChangeRecords(buf []byte) ([]ChangeRecord, error) {
	var out []ChangeRecord
	for off := 0; off < len(buf); {
		if len(buf)-off < changeRecordHeader {
			return out, fmt.Errorf("change record at %d: short header: %w", off, common.ErrIPCFailure)
		}
		action := binary.LittleEndian.Uint32(buf[off:])
		n := int(binary.LittleEndian.Uint32(buf[off+4:]))
		off += changeRecordHeader
		if n < 0 || n > len(buf)-off {
			return out, fmt.Errorf("change record at %d: name length %d: %w", off-changeRecordHeader, n, common.ErrIPCFailure)
		}
		out = append(out, ChangeRecord{Action: action, Name: string(buf[off : off+n])})
		off += n
	}
	return out, nil
}

var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

// EncodeFileNotifyInformation builds the FILE_NOTIFY_INFORMATION chain of a
// CHANGE_NOTIFY response [MS-FSCC] 2.4.42: 12 byte header, UTF-16LE name,
// entries 4-byte aligned and linked by NextEntryOffset. ok is false when the
// chain would not fit in maxLen; the caller then answers
// StatusNotifyEnumDir. maxLen <= 0 means unbounded.
func EncodeFileNotifyInformation(records []ChangeRecord, maxLen int) (buf []byte, ok bool) {
	if len(records) == 0 {
		return nil, true
	}
	enc := utf16le.NewEncoder()
	prev := -1
	for _, r := range records {
		name, err := enc.Bytes([]byte(common.ToWindowsPath(r.Name)))
		if err != nil {
			// unencodable names are dropped rather than failing the batch
			continue
		}
		start := len(buf)
		if prev >= 0 {
			binary.LittleEndian.PutUint32(buf[prev:], uint32(start-prev))
		}
		buf = binary.LittleEndian.AppendUint32(buf, 0)
		buf = binary.LittleEndian.AppendUint32(buf, r.Action)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(name)))
		buf = append(buf, name...)
		for len(buf)%4 != 0 {
			buf = append(buf, 0)
		}
		prev = start
	}
	if maxLen > 0 && len(buf) > maxLen {
		return nil, false
	}
	return buf, true
}
