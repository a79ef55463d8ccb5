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
	"os"
	"strings"
	"time"

	"github.com/macos-fuse-t/go-smb2/vfs"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"ntvfs/internal/xattr"
)

// DOS file attribute bits [MS-FSCC] 2.6.
const (
	FileAttributeReadonly  uint32 = 0x00000001
	FileAttributeHidden    uint32 = 0x00000002
	FileAttributeSystem    uint32 = 0x00000004
	FileAttributeDirectory uint32 = 0x00000010
	FileAttributeArchive   uint32 = 0x00000020
	FileAttributeNormal    uint32 = 0x00000080
)

// DirEntryAttrs are the Windows-side attributes of one directory entry.
type DirEntryAttrs struct {
	Name           string
	CreationTime   time.Time
	FileAttributes uint32
	Stat           *unix.Stat_t
}

// DefaultFileAttributes derives a DOS attribute mask from a name and a
// POSIX mode for entries that have none stored.
func DefaultFileAttributes(name string, mode uint32) uint32 {
	var attrs uint32
	if mode&unix.S_IFMT == unix.S_IFDIR {
		attrs |= FileAttributeDirectory
	}
	if strings.HasPrefix(name, ".") && name != "." && name != ".." {
		attrs |= FileAttributeHidden
	}
	if mode&0222 == 0 {
		attrs |= FileAttributeReadonly
	}
	if attrs == 0 {
		attrs = FileAttributeNormal
	}
	return attrs
}

func timespecToTime(ts unix.Timespec) time.Time {
	return time.Unix(ts.Unix())
}

// BuildDirEntryAttrs produces the attributes of entry name in dirPath.
// Stored metadata wins; otherwise creation time falls back to the change
// time and the mask is derived from the mode. Called once per entry while
// listing, so it costs at most one attribute store round trip.
func BuildDirEntryAttrs(md *xattr.Metadata, dirPath, name string, st *unix.Stat_t) DirEntryAttrs {
	entryPath := dirPath + string(os.PathSeparator) + name
	ext, err := md.Load(entryPath)
	if err != nil {
		// corrupt values read as absent and get overwritten on next set
		log.Debugf("[VFS] BuildDirEntryAttrs %q: %v", entryPath, err)
	}

	a := DirEntryAttrs{Name: name, Stat: st}
	if ext.HasCreationTime {
		a.CreationTime = FiletimeToTime(ext.CreationTime)
	} else {
		a.CreationTime = timespecToTime(st.Ctim)
	}
	if ext.HasFileAttributes {
		a.FileAttributes = ext.FileAttributes
	} else {
		a.FileAttributes = DefaultFileAttributes(name, uint32(st.Mode))
	}
	return a
}

// IsDir reports whether the entry is a directory
func (a DirEntryAttrs) IsDir() bool {
	return uint32(a.Stat.Mode)&unix.S_IFMT == unix.S_IFDIR
}

// fillAttributes copies stat fields and the Windows-side times into attrs
func (a DirEntryAttrs) fillAttributes(attrs *vfs.Attributes) {
	st := a.Stat
	mode := uint32(st.Mode)

	attrs.SetInodeNumber(uint64(st.Ino))
	attrs.SetFileHandle(vfs.VfsNode(st.Ino))
	attrs.SetSizeBytes(uint64(st.Size))
	attrs.SetLinkCount(uint32(st.Nlink))
	attrs.SetUID(st.Uid)
	attrs.SetGID(st.Gid)
	attrs.SetPermissions(vfs.NewPermissionsFromMode(mode))
	attrs.SetUnixMode(mode & 0777)
	attrs.SetLastDataModificationTime(timespecToTime(st.Mtim))
	attrs.SetLastStatusChangeTime(timespecToTime(st.Ctim))
	attrs.SetAccessTime(timespecToTime(st.Atim))
	attrs.SetBirthTime(a.CreationTime)
	attrs.SetChangeID(uint64(timespecToTime(st.Ctim).UnixNano()))

	switch mode & unix.S_IFMT {
	case unix.S_IFDIR:
		attrs.SetFileType(vfs.FileTypeDirectory)
	case unix.S_IFLNK:
		attrs.SetFileType(vfs.FileTypeSymlink)
	default:
		attrs.SetFileType(vfs.FileTypeRegularFile)
	}
}

// Attributes converts the entry to go-smb2 attributes
func (a DirEntryAttrs) Attributes() *vfs.Attributes {
	attrs := &vfs.Attributes{}
	a.fillAttributes(attrs)
	return attrs
}

// ToDirInfo converts the entry to a go-smb2 directory listing record
func (a DirEntryAttrs) ToDirInfo() vfs.DirInfo {
	di := vfs.DirInfo{Name: a.Name}
	a.fillAttributes(&di.Attributes)
	return di
}
