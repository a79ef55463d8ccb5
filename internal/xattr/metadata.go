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

package xattr

import (
	"encoding/binary"
	"errors"
	"fmt"

	"ntvfs/internal/common"
)

// Attribute key layout. Every key lives in the "user." namespace followed
// by a fixed literal prefix.
const (
	XattrUserPrefix = "user."

	CreationTimePrefix  = "creation.time."
	FileAttributePrefix = "file.attribute."
	StreamPrefix        = "stream."

	XattrNameCreationTime  = XattrUserPrefix + CreationTimePrefix
	XattrNameFileAttribute = XattrUserPrefix + FileAttributePrefix
	XattrNameStream        = XattrUserPrefix + StreamPrefix

	CreationTimeLen  = 8
	FileAttributeLen = 4

	// XattrNameMax is the attribute name limit of Linux filesystems.
	XattrNameMax = 255
)

// byteOrder is the canonical on-disk order of the fixed-width values.
// Little-endian matches the SMB wire and the x86 hosts the format was
// first written by; it is never the host's native order implicitly.
var byteOrder = binary.LittleEndian

// EncodeCreationTime encodes a FILETIME creation timestamp
func EncodeCreationTime(t uint64) []byte {
	b := make([]byte, CreationTimeLen)
	byteOrder.PutUint64(b, t)
	return b
}

// DecodeCreationTime decodes a stored creation timestamp. Values that are
// not exactly 8 bytes are ErrCorruptMetadata.
func DecodeCreationTime(b []byte) (uint64, error) {
	if len(b) != CreationTimeLen {
		return 0, fmt.Errorf("creation time is %d bytes: %w", len(b), common.ErrCorruptMetadata)
	}
	return byteOrder.Uint64(b), nil
}

// EncodeFileAttributes encodes a DOS attribute mask
func EncodeFileAttributes(a uint32) []byte {
	b := make([]byte, FileAttributeLen)
	byteOrder.PutUint32(b, a)
	return b
}

// DecodeFileAttributes decodes a stored DOS attribute mask. Values that are
// not exactly 4 bytes are ErrCorruptMetadata.
func DecodeFileAttributes(b []byte) (uint32, error) {
	if len(b) != FileAttributeLen {
		return 0, fmt.Errorf("file attributes are %d bytes: %w", len(b), common.ErrCorruptMetadata)
	}
	return byteOrder.Uint32(b), nil
}

// Metadata reads and writes creation time and DOS attributes of entries.
// It is not synchronized; callers serialize mutation of one entry.
type Metadata struct {
	store Store
}

// NewMetadata creates a codec on top of store
func NewMetadata(store Store) *Metadata {
	return &Metadata{store: store}
}

// Store returns the underlying attribute store
func (m *Metadata) Store() Store {
	return m.store
}

// isAbsent reports whether err means the value is simply not there.
func isAbsent(err error) bool {
	return errors.Is(err, ErrNoAttr) || errors.Is(err, ErrNotSupported)
}

func (m *Metadata) get(path, name string) ([]byte, bool, error) {
	v, err := m.store.Get(path, name)
	if err != nil {
		if isAbsent(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

// CreationTime returns the stored creation time of path. ok is false when
// no value is stored or the filesystem has no user xattrs.
func (m *Metadata) CreationTime(path string) (t uint64, ok bool, err error) {
	v, ok, err := m.get(path, XattrNameCreationTime)
	if !ok || err != nil {
		return 0, false, err
	}
	t, err = DecodeCreationTime(v)
	if err != nil {
		return 0, false, err
	}
	return t, true, nil
}

// SetCreationTime overwrites the stored creation time of path
func (m *Metadata) SetCreationTime(path string, t uint64) error {
	return m.store.Set(path, XattrNameCreationTime, EncodeCreationTime(t))
}

// FileAttributes returns the stored DOS attribute mask of path
func (m *Metadata) FileAttributes(path string) (attrs uint32, ok bool, err error) {
	v, ok, err := m.get(path, XattrNameFileAttribute)
	if !ok || err != nil {
		return 0, false, err
	}
	attrs, err = DecodeFileAttributes(v)
	if err != nil {
		return 0, false, err
	}
	return attrs, true, nil
}

// SetFileAttributes overwrites the stored DOS attribute mask of path
func (m *Metadata) SetFileAttributes(path string, attrs uint32) error {
	return m.store.Set(path, XattrNameFileAttribute, EncodeFileAttributes(attrs))
}

// Extended is the NTFS-only metadata stored for one entry.
type Extended struct {
	CreationTime      uint64
	HasCreationTime   bool
	FileAttributes    uint32
	HasFileAttributes bool
}

// Load reads both values of path, in a single store round trip when the
// store supports it. A corrupt value is reported as absent together with
// an ErrCorruptMetadata error; the other value is still returned.
func (m *Metadata) Load(path string) (Extended, error) {
	var raw map[string][]byte
	if mg, ok := m.store.(MultiGetter); ok {
		var err error
		raw, err = mg.GetMany(path, XattrNameCreationTime, XattrNameFileAttribute)
		if err != nil {
			if isAbsent(err) {
				return Extended{}, nil
			}
			return Extended{}, err
		}
	} else {
		raw = make(map[string][]byte, 2)
		for _, name := range []string{XattrNameCreationTime, XattrNameFileAttribute} {
			v, ok, err := m.get(path, name)
			if err != nil {
				return Extended{}, err
			}
			if ok {
				raw[name] = v
			}
		}
	}

	var ext Extended
	var errs []error
	if v, ok := raw[XattrNameCreationTime]; ok {
		t, err := DecodeCreationTime(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			ext.CreationTime, ext.HasCreationTime = t, true
		}
	}
	if v, ok := raw[XattrNameFileAttribute]; ok {
		a, err := DecodeFileAttributes(v)
		if err != nil {
			errs = append(errs, err)
		} else {
			ext.FileAttributes, ext.HasFileAttributes = a, true
		}
	}
	return ext, errors.Join(errs...)
}
