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

import (
	"path/filepath"
	"strings"
)

// NormalizePath cleans and normalizes a share-relative path, removing
// leading/trailing slashes. The share root normalizes to "".
func NormalizePath(path string) string {
	path = filepath.Clean(path)
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "." {
		return ""
	}
	return path
}

// ResolveUnder maps a share-relative path onto the backing directory root.
// Paths that would escape root are rejected with ErrInvalidPath.
func ResolveUnder(root, path string) (string, error) {
	// SMB clients send backslash separated names
	path = NormalizePath(strings.ReplaceAll(path, "\\", "/"))
	if path == ".." || strings.HasPrefix(path, "../") {
		return "", ErrInvalidPath
	}
	if path == "" {
		return root, nil
	}
	return filepath.Join(root, path), nil
}

// RelativeTo returns full expressed relative to base, using forward
// slashes. ok is false when full is not inside base.
func RelativeTo(base, full string) (rel string, ok bool) {
	r, err := filepath.Rel(base, full)
	if err != nil || r == ".." || strings.HasPrefix(r, "../") {
		return "", false
	}
	if r == "." {
		return "", true
	}
	return filepath.ToSlash(r), true
}

// ParentPath returns the parent directory of a path
func ParentPath(path string) string {
	path = NormalizePath(path)
	if path == "" {
		return ""
	}
	dir := filepath.Dir(path)
	if dir == "." {
		return ""
	}
	return dir
}

// BaseName returns the base name of a path
func BaseName(path string) string {
	path = NormalizePath(path)
	if path == "" {
		return ""
	}
	return filepath.Base(path)
}

// ToWindowsPath converts a share-relative path to the backslash form SMB
// clients expect in responses
func ToWindowsPath(path string) string {
	return strings.ReplaceAll(path, "/", "\\")
}
