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

package execution

import (
	"errors"
	"fmt"
	"sync"
)

// ErrUnknownTask is returned when a completion arrives for a task nobody
// is waiting on.
var ErrUnknownTask = errors.New("unknown task")

// Completions routes runner completion reports to the executor call
// waiting for them.
type Completions struct {
	mu      sync.Mutex
	waiters map[string]chan Completion
}

// NewCompletions creates an empty registry.
func NewCompletions() *Completions {
	return &Completions{waiters: make(map[string]chan Completion)}
}

// Register reserves taskID. The returned func releases the reservation and
// must be called once the caller stops waiting.
func (c *Completions) Register(taskID string) (<-chan Completion, func(), error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.waiters[taskID]; exists {
		return nil, nil, fmt.Errorf("task %s already awaiting completion", taskID)
	}
	ch := make(chan Completion, 1)
	c.waiters[taskID] = ch

	release := func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.waiters[taskID] == ch {
			delete(c.waiters, taskID)
		}
	}
	return ch, release, nil
}

// Deliver hands comp to the waiter for taskID. Only the first delivery
// for a registration is accepted.
func (c *Completions) Deliver(taskID string, comp Completion) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ch, ok := c.waiters[taskID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, taskID)
	}
	delete(c.waiters, taskID)
	ch <- comp
	return nil
}

// Pending returns the number of registered waiters.
func (c *Completions) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waiters)
}
