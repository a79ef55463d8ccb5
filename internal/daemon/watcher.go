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

package daemon

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
	"ntvfs/internal/notify"
)

const (
	// DefaultCoalesce is how long a watch collects changes after the first one
	DefaultCoalesce = 100 * time.Millisecond

	// DefaultMaxRecords bounds the records held per watch; beyond it the watch
	// completes with StatusNotifyEnumDir and no records.
	DefaultMaxRecords = 512
)

// WatchResult completes one watch
type WatchResult struct {
	Status uint32
	Buffer []byte // AppendChangeRecord encoding
}

type watch struct {
	handle    uint32
	root      string
	recursive bool
	filter    uint32
	dirs      []string

	records  []notify.ChangeRecord
	overflow bool
	timer    *time.Timer
	result   chan WatchResult
}

// NotifyService turns fsnotify events into one-shot watch completions.
// fsnotify watches are shared between watches and reference counted per
// directory.
type NotifyService struct {
	coalesce   time.Duration
	maxRecords int
	exclude    ChangeFilter

	mu         sync.Mutex
	fsw        *fsnotify.Watcher
	nextHandle uint32
	watches    map[uint32]*watch
	dirRefs    map[string]int
	closed     bool

	done chan struct{}
}

// NewNotifyService creates the service and starts its event loop
func NewNotifyService(coalesce time.Duration) (*NotifyService, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if coalesce <= 0 {
		coalesce = DefaultCoalesce
	}
	s := &NotifyService{
		coalesce:   coalesce,
		maxRecords: DefaultMaxRecords,
		fsw:        fsw,
		watches:    make(map[uint32]*watch),
		dirRefs:    make(map[string]int),
		done:       make(chan struct{}),
	}
	go s.loop()
	return s, nil
}

// SetCoalesce changes the batching window for watches registered afterwards
func (s *NotifyService) SetCoalesce(d time.Duration) {
	if d <= 0 {
		return
	}
	s.mu.Lock()
	s.coalesce = d
	s.mu.Unlock()
}

// SetIgnore replaces the gitignore-style patterns whose changes are never
// reported
func (s *NotifyService) SetIgnore(patterns []string) {
	f := BuildChangeFilter(patterns)
	s.mu.Lock()
	s.exclude = f
	s.mu.Unlock()
}

// Count returns the number of outstanding watches
func (s *NotifyService) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Register starts a watch on the directory path. The returned channel
// receives exactly one result.
func (s *NotifyService) Register(path string, recursive bool, filter uint32) (uint32, <-chan WatchResult, error) {
	root := filepath.Clean(path)
	info, err := os.Stat(root)
	if err != nil {
		return 0, nil, fmt.Errorf("watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return 0, nil, fmt.Errorf("watch %s: %w", path, common.ErrNotDir)
	}

	dirs := []string{root}
	if recursive {
		dirs = collectDirs(root)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, nil, fmt.Errorf("watch %s: service stopped", path)
	}

	s.nextHandle++
	if s.nextHandle == 0 {
		s.nextHandle = 1
	}
	w := &watch{
		handle:    s.nextHandle,
		root:      root,
		recursive: recursive,
		filter:    filter,
		result:    make(chan WatchResult, 1),
	}
	for _, dir := range dirs {
		if err := s.addDirLocked(w, dir); err != nil {
			s.releaseDirsLocked(w)
			return 0, nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	s.watches[w.handle] = w

	log.Debugf("[Watch] register handle=%d path=%s recursive=%v filter=0x%08x dirs=%d",
		w.handle, root, recursive, filter, len(w.dirs))
	return w.handle, w.result, nil
}

// Cancel completes the watch with StatusCancelled. It reports whether the
// handle was outstanding.
func (s *NotifyService) Cancel(handle uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[handle]
	if !ok {
		return false
	}
	log.Debugf("[Watch] cancel handle=%d", handle)
	s.completeLocked(w, WatchResult{Status: notify.StatusCancelled})
	return true
}

// Drop forgets a watch whose requester went away
func (s *NotifyService) Drop(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if w, ok := s.watches[handle]; ok {
		log.Debugf("[Watch] drop handle=%d", handle)
		s.completeLocked(w, WatchResult{Status: notify.StatusNotifyCleanup})
	}
}

// Close completes every watch with StatusNotifyCleanup and stops the loop
func (s *NotifyService) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	for _, w := range s.watches {
		s.completeLocked(w, WatchResult{Status: notify.StatusNotifyCleanup})
	}
	s.mu.Unlock()

	err := s.fsw.Close()
	<-s.done
	return err
}

func (s *NotifyService) loop() {
	defer close(s.done)
	for {
		select {
		case ev, ok := <-s.fsw.Events:
			if !ok {
				return
			}
			s.handleEvent(ev)
		case err, ok := <-s.fsw.Errors:
			if !ok {
				return
			}
			log.Errorf("[Watch] fsnotify: %v", err)
		}
	}
}

func (s *NotifyService) handleEvent(ev fsnotify.Event) {
	action, ok := eventAction(ev.Op)
	if !ok {
		return
	}
	isDir := false
	if action == notify.FileActionAdded {
		if info, err := os.Lstat(ev.Name); err == nil {
			isDir = info.IsDir()
		}
	}

	if log.IsLevelEnabled(log.TraceLevel) {
		log.Tracef("[Watch] event %s → %s", ev, notify.ActionString(action))
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.watches {
		rel, ok := common.RelativeTo(w.root, ev.Name)
		if !ok || rel == "" {
			continue
		}
		if !w.recursive && strings.Contains(rel, "/") {
			continue
		}
		if s.exclude != nil && !s.exclude(rel, isDir) {
			continue
		}
		if isDir && w.recursive {
			for _, dir := range collectDirs(ev.Name) {
				if err := s.addDirLocked(w, dir); err != nil {
					log.Debugf("[Watch] handle=%d add %s: %v", w.handle, dir, err)
				}
			}
		}
		if !eventMatches(action, isDir, w.filter) {
			continue
		}
		s.appendLocked(w, notify.ChangeRecord{Action: action, Name: rel})
	}
}

// appendLocked queues a record and arms the coalescing timer. Caller holds s.mu.
func (s *NotifyService) appendLocked(w *watch, rec notify.ChangeRecord) {
	if !w.overflow {
		w.records = append(w.records, rec)
		if len(w.records) > s.maxRecords {
			w.overflow = true
			w.records = nil
		}
	}
	if w.timer == nil {
		handle := w.handle
		w.timer = time.AfterFunc(s.coalesce, func() { s.flush(handle) })
	}
}

func (s *NotifyService) flush(handle uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watches[handle]
	if !ok {
		return
	}
	if w.overflow {
		s.completeLocked(w, WatchResult{Status: notify.StatusNotifyEnumDir})
		return
	}
	var buf []byte
	for _, r := range w.records {
		buf = notify.AppendChangeRecord(buf, r.Action, r.Name)
	}
	log.Debugf("[Watch] complete handle=%d records=%d", handle, len(w.records))
	s.completeLocked(w, WatchResult{Status: notify.StatusSuccess, Buffer: buf})
}

// completeLocked delivers the result and releases the watch. Caller holds s.mu.
func (s *NotifyService) completeLocked(w *watch, res WatchResult) {
	delete(s.watches, w.handle)
	if w.timer != nil {
		w.timer.Stop()
	}
	s.releaseDirsLocked(w)
	w.result <- res
}

func (s *NotifyService) addDirLocked(w *watch, dir string) error {
	for _, d := range w.dirs {
		if d == dir {
			return nil
		}
	}
	if s.dirRefs[dir] == 0 {
		if err := s.fsw.Add(dir); err != nil {
			return err
		}
	}
	s.dirRefs[dir]++
	w.dirs = append(w.dirs, dir)
	return nil
}

func (s *NotifyService) releaseDirsLocked(w *watch) {
	for _, dir := range w.dirs {
		s.dirRefs[dir]--
		if s.dirRefs[dir] <= 0 {
			delete(s.dirRefs, dir)
			if !s.closed {
				_ = s.fsw.Remove(dir)
			}
		}
	}
	w.dirs = nil
}

// collectDirs returns root and every directory below it
func collectDirs(root string) []string {
	var dirs []string
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	return dirs
}

func eventAction(op fsnotify.Op) (uint32, bool) {
	switch {
	case op.Has(fsnotify.Create):
		return notify.FileActionAdded, true
	case op.Has(fsnotify.Remove):
		return notify.FileActionRemoved, true
	case op.Has(fsnotify.Rename):
		return notify.FileActionRenamedOldName, true
	case op.Has(fsnotify.Write), op.Has(fsnotify.Chmod):
		return notify.FileActionModified, true
	}
	return 0, false
}

// eventMatches narrows MatchesFilter for additions, where the entry type is
// known.
func eventMatches(action uint32, isDir bool, filter uint32) bool {
	if action == notify.FileActionAdded {
		if isDir {
			return filter&notify.FileNotifyChangeDirName != 0
		}
		return filter&notify.FileNotifyChangeFileName != 0
	}
	return notify.MatchesFilter(action, filter)
}
