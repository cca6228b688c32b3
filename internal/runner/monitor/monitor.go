// Copyright 2025 Tom Barlow
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

// Package monitor keeps the runner's table of in-flight executions.
package monitor

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/tombee/relay/internal/jobs/execution"
)

// Key identifies one in-flight execution. Seq is assigned by the monitor so
// two requests for the same sync never share a key.
type Key struct {
	EnvironmentID int64
	ConnectionID  string
	SyncID        string
	TaskID        string
	Seq           uint64
}

func (k Key) String() string {
	return fmt.Sprintf("%d:%s:%s:%s#%d", k.EnvironmentID, k.ConnectionID, k.SyncID, k.TaskID, k.Seq)
}

// Entry describes a tracked execution.
type Entry struct {
	Key        Key                  `json:"key"`
	ScriptType execution.ScriptType `json:"scriptType"`
	StartedAt  time.Time            `json:"startedAt"`
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithIdleHook sets a func called every time an untrack leaves the table
// empty. The hook runs outside the table lock.
func WithIdleHook(fn func()) Option {
	return func(m *Monitor) { m.onIdle = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) { m.now = now }
}

// Monitor is the in-flight table.
type Monitor struct {
	mu      sync.Mutex
	entries map[Key]Entry
	seq     uint64

	onIdle func()
	now    func() time.Time
}

// New creates an empty monitor.
func New(opts ...Option) *Monitor {
	m := &Monitor{
		entries: make(map[Key]Entry),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Track records req as in flight and returns the func that removes it.
// The returned func is safe to call more than once.
func (m *Monitor) Track(req execution.Request) (untrack func()) {
	m.mu.Lock()
	m.seq++
	key := Key{
		EnvironmentID: req.Connection.EnvironmentID,
		ConnectionID:  req.Connection.ConnectionID,
		SyncID:        req.SyncID,
		TaskID:        req.TaskID,
		Seq:           m.seq,
	}
	m.entries[key] = Entry{Key: key, ScriptType: req.ScriptType(), StartedAt: m.now()}
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { m.remove(key) })
	}
}

func (m *Monitor) remove(key Key) {
	m.mu.Lock()
	delete(m.entries, key)
	idle := len(m.entries) == 0
	m.mu.Unlock()

	if idle && m.onIdle != nil {
		m.onIdle()
	}
}

// Len returns the number of in-flight executions.
func (m *Monitor) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Snapshot returns the tracked entries, oldest first.
func (m *Monitor) Snapshot() []Entry {
	m.mu.Lock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e)
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key.Seq < out[j].Key.Seq })
	return out
}
