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
	"errors"
	"fmt"
	"strings"

	"ntvfs/internal/common"
)

const (
	// StreamTypeData is the only stream type that can be emulated.
	StreamTypeData = "$DATA"

	// MaxStreamNameLen is the longest stream name whose key still fits
	// the filesystem's attribute name limit.
	MaxStreamNameLen = XattrNameMax - len(XattrNameStream)

	invalidStreamChars = "\\/:*?\"<>|\x00"
)

func validateStreamName(name string) error {
	if name == "" || strings.ContainsAny(name, invalidStreamChars) {
		return fmt.Errorf("stream %q: %w", name, common.ErrInvalidStreamName)
	}
	if len(name) > MaxStreamNameLen {
		return fmt.Errorf("stream name is %d bytes, limit %d: %w", len(name), MaxStreamNameLen, common.ErrTruncatedName)
	}
	return nil
}

// StreamXattrName maps a client stream name ("name" or "name:$DATA") to the
// attribute key that stores it. The key preserves the client's case.
func StreamXattrName(stream string) (string, error) {
	name := stream
	if i := strings.IndexByte(stream, ':'); i >= 0 {
		if !strings.EqualFold(stream[i+1:], StreamTypeData) {
			return "", fmt.Errorf("stream %q: unsupported type: %w", stream, common.ErrInvalidStreamName)
		}
		name = stream[:i]
	}
	if err := validateStreamName(name); err != nil {
		return "", err
	}
	return XattrNameStream + name, nil
}

// StreamNameFromXattr is the inverse of StreamXattrName
func StreamNameFromXattr(key string) (string, error) {
	if !strings.HasPrefix(key, XattrNameStream) {
		return "", fmt.Errorf("key %q is not a stream: %w", key, common.ErrInvalidStreamName)
	}
	name := strings.TrimPrefix(key, XattrNameStream)
	if err := validateStreamName(name); err != nil {
		return "", err
	}
	return name, nil
}

// IsStreamKey reports whether an attribute key holds an alternate stream
func IsStreamKey(key string) bool {
	return strings.HasPrefix(key, XattrNameStream)
}

// ListStreams returns the names of all alternate streams of path. A
// filesystem without user xattrs has no streams.
func ListStreams(store Store, path string) ([]string, error) {
	keys, err := store.List(path)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil, nil
		}
		return nil, err
	}
	var streams []string
	for _, key := range keys {
		if name, err := StreamNameFromXattr(key); err == nil {
			streams = append(streams, name)
		}
	}
	return streams, nil
}

// CaseXattrLen returns the value length of the first attribute of path whose
// key equals key ignoring case. ErrNoAttr when nothing matches.
func CaseXattrLen(store Store, path, key string) (int, error) {
	keys, err := store.List(path)
	if err != nil {
		return 0, err
	}
	for _, k := range keys {
		if len(k) != len(key) || !strings.EqualFold(k, key) {
			continue
		}
		v, err := store.Get(path, k)
		if err != nil {
			return 0, err
		}
		return len(v), nil
	}
	return 0, fmt.Errorf("%q on %s: %w", key, path, ErrNoAttr)
}

// RemoveStream deletes one alternate stream of path
func RemoveStream(store Store, path, stream string) error {
	key, err := StreamXattrName(stream)
	if err != nil {
		return err
	}
	return store.Remove(path, key)
}

// TruncateXattrs removes the user attributes of path, keeping alternate
// streams when keepStreams is set. Used when a file is overwritten.
func TruncateXattrs(store Store, path string, keepStreams bool) error {
	keys, err := store.List(path)
	if err != nil {
		if errors.Is(err, ErrNotSupported) {
			return nil
		}
		return err
	}
	for _, key := range keys {
		if !strings.HasPrefix(key, XattrUserPrefix) {
			continue
		}
		if keepStreams && IsStreamKey(key) {
			continue
		}
		if err := store.Remove(path, key); err != nil && !errors.Is(err, ErrNoAttr) {
			return err
		}
	}
	return nil
}
