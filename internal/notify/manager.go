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
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"ntvfs/internal/common"
	"ntvfs/internal/metrics"
)

// DefaultCapacity is the number of concurrent watch subscriptions
const DefaultCapacity = 16

// Request asks the notification service to watch Path and report the next
// batch of changes matching Filter.
type Request struct {
	ID        int
	Path      string
	Recursive bool
	Filter    uint32
}

// Response completes a Request. Buffer holds change records in the
// AppendChangeRecord encoding.
type Response struct {
	Handle uint32
	Status uint32
	Buffer []byte
}

// Channel is the transport to the notification service.
//
// Notify blocks until the watch completes. onRegistered must be called once
// the service has assigned a handle and before the watch can complete;
// implementations must allow CancelNotify to be called from inside it.
type Channel interface {
	Notify(ctx context.Context, req Request, onRegistered func(handle uint32)) (*Response, error)
	CancelNotify(ctx context.Context, handle uint32) error
}

// NotifyResult is what a completed wait hands back. The caller owns Buffer.
type NotifyResult struct {
	Status uint32
	Buffer []byte
}

// Subscription is a snapshot of one slot
type Subscription struct {
	ID          int
	Path        string
	Recursive   bool
	IsDir       bool
	Filter      uint32
	Handle      uint32
	Status      uint32
	Outstanding bool
	Generation  uint64
}

type slot struct {
	path      string
	recursive bool
	isDir     bool
	filter    uint32

	handle     uint32
	registered bool
	status     uint32

	// generation identifies the current wait; completions of older waits
	// leave the slot alone
	generation      uint64
	outstanding     bool
	cancelRequested bool
}

// Manager owns a fixed set of subscription slots addressed by ids
// 1..capacity. Every access is range checked.
type Manager struct {
	ch      Channel
	metrics *metrics.Metrics

	mu    sync.Mutex
	slots []slot
}

// Option configures a Manager
type Option func(*Manager)

// WithCapacity overrides DefaultCapacity
func WithCapacity(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.slots = make([]slot, n)
		}
	}
}

// WithMetrics enables instrumentation
func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// NewManager creates a manager that talks to the service over ch
func NewManager(ch Channel, opts ...Option) *Manager {
	m := &Manager{ch: ch, slots: make([]slot, DefaultCapacity)}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Capacity returns the number of slots
func (m *Manager) Capacity() int {
	return len(m.slots)
}

// slot returns the slot for id. Caller holds m.mu.
func (m *Manager) slot(id int) (*slot, error) {
	if id < 1 || id > len(m.slots) {
		return nil, fmt.Errorf("subscription id %d outside [1, %d]: %w", id, len(m.slots), common.ErrProgramming)
	}
	return &m.slots[id-1], nil
}

// Wait registers a watch on path in slot id and blocks until the service
// reports changes, the watch is cancelled, or the channel fails. A channel
// failure returns ErrIPCFailure and leaves the slot in its last known state.
// Waiting on a slot that already has a wait outstanding overwrites the slot;
// the earlier wait still returns its own result but no longer updates the
// slot, and Cancel only reaches the newest wait.
func (m *Manager) Wait(ctx context.Context, id int, path string, recursive bool, filter uint32) (*NotifyResult, error) {
	m.mu.Lock()
	s, err := m.slot(id)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if s.outstanding {
		// the earlier wait keeps running but no longer owns the slot
		log.Debugf("[Notify] id=%d overwriting outstanding wait (generation %d)", id, s.generation)
	}
	s.path = path
	s.recursive = recursive
	s.filter = filter
	s.isDir = filter&FileNotifyChangeDirName != 0
	s.handle = 0
	s.registered = false
	s.cancelRequested = false
	s.outstanding = true
	s.generation++
	gen := s.generation
	m.mu.Unlock()

	log.Debugf("[Notify] wait id=%d path=%q recursive=%v filter=0x%08x", id, path, recursive, filter)

	onRegistered := func(handle uint32) {
		m.mu.Lock()
		if s.generation != gen {
			m.mu.Unlock()
			return
		}
		s.handle = handle
		s.registered = true
		deferred := s.cancelRequested
		m.mu.Unlock()

		if deferred {
			log.Debugf("[Notify] id=%d issuing deferred cancel for handle %d", id, handle)
			if err := m.ch.CancelNotify(ctx, handle); err != nil {
				log.Debugf("[Notify] deferred cancel of handle %d: %v", handle, err)
			}
		}
	}

	resp, err := m.ch.Notify(ctx, Request{ID: id, Path: path, Recursive: recursive, Filter: filter}, onRegistered)

	m.mu.Lock()
	if s.generation == gen {
		s.outstanding = false
		if err == nil {
			s.status = resp.Status
			if !s.registered {
				s.handle = resp.Handle
				s.registered = true
			}
		}
	}
	m.mu.Unlock()

	if err != nil {
		m.metrics.RecordNotifyWait("ipc_error")
		log.Debugf("[Notify] wait id=%d failed: %v", id, err)
		return nil, fmt.Errorf("notify wait %d: %w: %w", id, common.ErrIPCFailure, err)
	}
	m.metrics.RecordNotifyWait(statusLabel(resp.Status))
	log.Debugf("[Notify] wait id=%d → status=0x%08x len=%d", id, resp.Status, len(resp.Buffer))
	return &NotifyResult{Status: resp.Status, Buffer: resp.Buffer}, nil
}

// Cancel aborts the outstanding wait of slot id. With no wait outstanding it
// does nothing. A cancel that arrives before the service assigned a handle
// is sent as soon as the handle is known.
func (m *Manager) Cancel(ctx context.Context, id int) error {
	m.mu.Lock()
	s, err := m.slot(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if !s.outstanding || s.cancelRequested {
		m.mu.Unlock()
		return nil
	}
	s.cancelRequested = true
	if !s.registered {
		m.mu.Unlock()
		log.Debugf("[Notify] cancel id=%d deferred until registration", id)
		return nil
	}
	handle := s.handle
	m.mu.Unlock()

	m.metrics.RecordNotifyCancel()
	log.Debugf("[Notify] cancel id=%d handle=%d", id, handle)
	if err := m.ch.CancelNotify(ctx, handle); err != nil {
		return fmt.Errorf("notify cancel %d: %w: %w", id, common.ErrIPCFailure, err)
	}
	return nil
}

// Close cancels every outstanding wait
func (m *Manager) Close(ctx context.Context) error {
	var errs []error
	for id := 1; id <= len(m.slots); id++ {
		if err := m.Cancel(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Subscription returns a snapshot of slot id
func (m *Manager) Subscription(id int) (Subscription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, err := m.slot(id)
	if err != nil {
		return Subscription{}, err
	}
	return Subscription{
		ID:          id,
		Path:        s.path,
		Recursive:   s.recursive,
		IsDir:       s.isDir,
		Filter:      s.filter,
		Handle:      s.handle,
		Status:      s.status,
		Outstanding: s.outstanding,
		Generation:  s.generation,
	}, nil
}

func statusLabel(status uint32) string {
	switch status {
	case StatusSuccess:
		return "success"
	case StatusCancelled:
		return "cancelled"
	case StatusNotifyEnumDir:
		return "enum_dir"
	}
	return "other"
}
