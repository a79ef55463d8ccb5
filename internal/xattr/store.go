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

// Package xattr stores NTFS-only metadata (creation time, DOS attribute
// bits, alternate data streams) in extended attributes of the backing
// POSIX filesystem.
package xattr

import (
	"errors"
	"sort"
	"sync"
)

var (
	// ErrNoAttr is returned by a Store when the named attribute does not exist.
	ErrNoAttr = errors.New("no such attribute")

	// ErrNotSupported is returned by a Store when the backing filesystem
	// rejects the attribute namespace.
	ErrNotSupported = errors.New("extended attributes not supported")
)

// Store reads and writes extended attributes of filesystem entries by path.
// Implementations do not follow symlinks.
type Store interface {
	Get(path, name string) ([]byte, error)
	Set(path, name string, value []byte) error
	List(path string) ([]string, error)
	Remove(path, name string) error
}

// MemStore is an in-memory Store, used for filesystems without xattr
// support and in tests.
type MemStore struct {
	mu      sync.RWMutex
	entries map[string]map[string][]byte

	// Unsupported makes every call fail with ErrNotSupported.
	Unsupported bool
}

// NewMemStore creates an empty in-memory store
func NewMemStore() *MemStore {
	return &MemStore{entries: make(map[string]map[string][]byte)}
}

func (s *MemStore) Get(path, name string) ([]byte, error) {
	if s.Unsupported {
		return nil, ErrNotSupported
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.entries[path][name]
	if !ok {
		return nil, ErrNoAttr
	}
	return append([]byte(nil), v...), nil
}

func (s *MemStore) Set(path, name string, value []byte) error {
	if s.Unsupported {
		return ErrNotSupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	attrs, ok := s.entries[path]
	if !ok {
		attrs = make(map[string][]byte)
		s.entries[path] = attrs
	}
	attrs[name] = append([]byte(nil), value...)
	return nil
}

func (s *MemStore) List(path string) ([]string, error) {
	if s.Unsupported {
		return nil, ErrNotSupported
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.entries[path]))
	for name := range s.entries[path] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (s *MemStore) Remove(path, name string) error {
	if s.Unsupported {
		return ErrNotSupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.entries[path][name]; !ok {
		return ErrNoAttr
	}
	delete(s.entries[path], name)
	return nil
}

// MultiGetter is implemented by stores that can fetch several attributes
// of one entry in a single round trip. Missing names are left out of the
// result.
type MultiGetter interface {
	GetMany(path string, names ...string) (map[string][]byte, error)
}

func (s *MemStore) GetMany(path string, names ...string) (map[string][]byte, error) {
	if s.Unsupported {
		return nil, ErrNotSupported
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string][]byte, len(names))
	for _, name := range names {
		if v, ok := s.entries[path][name]; ok {
			out[name] = append([]byte(nil), v...)
		}
	}
	return out, nil
}
