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

package api

import (
	"sort"
	"sync"
	"time"
)

// RunnerStatus is what the jobs service knows about a runner.
type RunnerStatus struct {
	ID         string    `json:"id"`
	LastIdleAt time.Time `json:"lastIdleAt"`
	IdleCount  int       `json:"idleCount"`
}

// RunnerRegistry records runner idle notifications.
type RunnerRegistry struct {
	mu      sync.RWMutex
	runners map[string]RunnerStatus
}

// NewRunnerRegistry creates an empty registry.
func NewRunnerRegistry() *RunnerRegistry {
	return &RunnerRegistry{runners: make(map[string]RunnerStatus)}
}

// MarkIdle records that runner id reported idle at t.
func (r *RunnerRegistry) MarkIdle(id string, t time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.runners[id]
	s.ID = id
	s.LastIdleAt = t
	s.IdleCount++
	r.runners[id] = s
}

// Get returns the status of runner id.
func (r *RunnerRegistry) Get(id string) (RunnerStatus, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.runners[id]
	return s, ok
}

// List returns every known runner ordered by id.
func (r *RunnerRegistry) List() []RunnerStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RunnerStatus, 0, len(r.runners))
	for _, s := range r.runners {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
