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

package task

import "sync"

// CancelHandle is a one-shot cancellation signal. Cancel fires it at most
// once; the registered callback runs on its own goroutine.
type CancelHandle struct {
	mu     sync.Mutex
	fired  bool
	reason string
	done   chan struct{}
	fn     func(reason string)
	gen    uint64
}

// NewCancelHandle returns an unfired handle.
func NewCancelHandle() *CancelHandle {
	return &CancelHandle{done: make(chan struct{})}
}

// Cancel fires the signal. It reports whether this call fired it.
func (h *CancelHandle) Cancel(reason string) bool {
	h.mu.Lock()
	if h.fired {
		h.mu.Unlock()
		return false
	}
	h.fired = true
	h.reason = reason
	close(h.done)
	fn := h.fn
	h.fn = nil
	h.mu.Unlock()

	if fn != nil {
		go fn(reason)
	}
	return true
}

// OnCancel registers the single callback, replacing any earlier one. If the
// handle already fired, fn is scheduled immediately. The returned func
// deregisters fn if it has not run yet.
func (h *CancelHandle) OnCancel(fn func(reason string)) (deregister func()) {
	h.mu.Lock()
	if h.fired {
		reason := h.reason
		h.mu.Unlock()
		go fn(reason)
		return func() {}
	}
	h.gen++
	gen := h.gen
	h.fn = fn
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if h.gen == gen {
			h.fn = nil
		}
	}
}

// Done is closed when the handle fires.
func (h *CancelHandle) Done() <-chan struct{} {
	return h.done
}

// Cancelled reports whether the handle has fired.
func (h *CancelHandle) Cancelled() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.fired
}

// Reason returns the reason passed to the firing Cancel call.
func (h *CancelHandle) Reason() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.reason
}
