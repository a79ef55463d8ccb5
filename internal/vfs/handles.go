package vfs

import (
	"os"
	"sync"
)

// HandleID is the type for VFS handles
type HandleID uint64

// openHandle represents an open file or directory
type openHandle struct {
	file        *os.File
	path        string // path within the share (relative, forward slashes)
	isDir       bool
	flags       int
	hints       CreateHints
	dirPos      int  // For ReadDir pagination
	dirEnumDone bool // True if directory enumeration completed (for SMB)
}

// HandleManager manages VFS handles
type HandleManager struct {
	mu         sync.RWMutex
	handles    map[HandleID]*openHandle
	nextHandle HandleID
}

// NewHandleManager creates a new handle manager
func NewHandleManager() *HandleManager {
	return &HandleManager{
		handles:    make(map[HandleID]*openHandle),
		nextHandle: 1,
	}
}

// Allocate registers an open file under a new handle
func (hm *HandleManager) Allocate(f *os.File, path string, isDir bool, flags int) HandleID {
	return hm.AllocateWithHints(f, path, isDir, flags, CreateHints{})
}

// AllocateWithHints is Allocate for opens that carried create options
func (hm *HandleManager) AllocateWithHints(f *os.File, path string, isDir bool, flags int, hints CreateHints) HandleID {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	handle := hm.nextHandle
	hm.nextHandle++

	hm.handles[handle] = &openHandle{
		file:  f,
		path:  path,
		isDir: isDir,
		flags: flags,
		hints: hints,
	}

	return handle
}

// Get retrieves a handle's info
func (hm *HandleManager) Get(h HandleID) (*openHandle, bool) {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	info, ok := hm.handles[h]
	return info, ok
}

// Release frees a handle and returns what it referred to so the caller can
// close the file.
func (hm *HandleManager) Release(h HandleID) (*openHandle, bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	info, ok := hm.handles[h]
	delete(hm.handles, h)
	return info, ok
}

// Rename updates the path of every handle at or below oldPath
func (hm *HandleManager) Rename(oldPath, newPath string) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	for _, info := range hm.handles {
		if info.path == oldPath {
			info.path = newPath
		} else if len(info.path) > len(oldPath) && info.path[:len(oldPath)] == oldPath && info.path[len(oldPath)] == '/' {
			info.path = newPath + info.path[len(oldPath):]
		}
	}
}

// UpdateDirPos updates the directory position for ReadDir
func (hm *HandleManager) UpdateDirPos(h HandleID, pos int) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirPos = pos
	}
}

// GetDirPos gets the current directory position
func (hm *HandleManager) GetDirPos(h HandleID) int {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirPos
	}
	return 0
}

// SetDirEnumDone marks directory enumeration as complete
func (hm *HandleManager) SetDirEnumDone(h HandleID, done bool) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	if info, ok := hm.handles[h]; ok {
		info.dirEnumDone = done
	}
}

// IsDirEnumDone checks if directory enumeration is complete
func (hm *HandleManager) IsDirEnumDone(h HandleID) bool {
	hm.mu.RLock()
	defer hm.mu.RUnlock()
	if info, ok := hm.handles[h]; ok {
		return info.dirEnumDone
	}
	return false
}

// Drain removes all handles and returns them, used on shutdown.
// nextHandle is not reset so IDs are never reused.
func (hm *HandleManager) Drain() []*openHandle {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	out := make([]*openHandle, 0, len(hm.handles))
	for _, info := range hm.handles {
		out = append(out, info)
	}
	hm.handles = make(map[HandleID]*openHandle)
	return out
}
