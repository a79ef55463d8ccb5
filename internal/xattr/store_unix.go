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

//go:build linux || darwin

package xattr

import (
	"bytes"
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// UnixStore is a Store backed by the l*xattr family of system calls.
type UnixStore struct{}

// NewUnixStore returns a Store operating on the real filesystem
func NewUnixStore() *UnixStore {
	return &UnixStore{}
}

func mapErr(op, path, name string, err error) error {
	switch {
	case errors.Is(err, errNoAttr):
		return fmt.Errorf("%s %q on %s: %w", op, name, path, ErrNoAttr)
	case errors.Is(err, unix.ENOTSUP), errors.Is(err, unix.EOPNOTSUPP):
		return fmt.Errorf("%s %q on %s: %w", op, name, path, ErrNotSupported)
	default:
		return fmt.Errorf("%s %q on %s: %w", op, name, path, err)
	}
}

func (UnixStore) Get(path, name string) ([]byte, error) {
	for {
		sz, err := unix.Lgetxattr(path, name, nil)
		if err != nil {
			return nil, mapErr("getxattr", path, name, err)
		}
		if sz == 0 {
			return []byte{}, nil
		}
		buf := make([]byte, sz)
		n, err := unix.Lgetxattr(path, name, buf)
		if errors.Is(err, unix.ERANGE) {
			// value grew between the two calls
			continue
		}
		if err != nil {
			return nil, mapErr("getxattr", path, name, err)
		}
		return buf[:n], nil
	}
}

func (UnixStore) Set(path, name string, value []byte) error {
	if err := unix.Lsetxattr(path, name, value, 0); err != nil {
		return mapErr("setxattr", path, name, err)
	}
	return nil
}

func (UnixStore) List(path string) ([]string, error) {
	for {
		sz, err := unix.Llistxattr(path, nil)
		if err != nil {
			return nil, mapErr("listxattr", path, "", err)
		}
		if sz == 0 {
			return nil, nil
		}
		buf := make([]byte, sz)
		n, err := unix.Llistxattr(path, buf)
		if errors.Is(err, unix.ERANGE) {
			continue
		}
		if err != nil {
			return nil, mapErr("listxattr", path, "", err)
		}
		var names []string
		for _, name := range bytes.Split(buf[:n], []byte{0}) {
			if len(name) > 0 {
				names = append(names, string(name))
			}
		}
		return names, nil
	}
}

func (UnixStore) Remove(path, name string) error {
	if err := unix.Lremovexattr(path, name); err != nil {
		return mapErr("removexattr", path, name, err)
	}
	return nil
}

// GetMany reads small values with one lgetxattr per name into a fixed
// buffer. The path is never opened, so FIFOs and device nodes inside the
// tree see no side effects.
func (s UnixStore) GetMany(path string, names ...string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(names))
	var buf [64]byte
	for _, name := range names {
		n, err := unix.Lgetxattr(path, name, buf[:])
		switch {
		case err == nil:
			out[name] = append([]byte(nil), buf[:n]...)
		case errors.Is(err, unix.ERANGE):
			// larger than any fixed-width value; read it in full so the
			// caller can report its real size
			v, err := s.Get(path, name)
			if err != nil && !errors.Is(err, ErrNoAttr) {
				return nil, err
			}
			if err == nil {
				out[name] = v
			}
		case errors.Is(err, errNoAttr):
		default:
			return nil, mapErr("getxattr", path, name, err)
		}
	}
	return out, nil
}
