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

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCancelFiresOnce(t *testing.T) {
	h := NewCancelHandle()

	var calls atomic.Int32
	got := make(chan string, 2)
	h.OnCancel(func(reason string) {
		calls.Add(1)
		got <- reason
	})

	var wg sync.WaitGroup
	fired := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fired <- h.Cancel("stop")
		}()
	}
	wg.Wait()
	close(fired)

	wins := 0
	for f := range fired {
		if f {
			wins++
		}
	}
	assert.Equal(t, 1, wins)

	select {
	case reason := <-got:
		assert.Equal(t, "stop", reason)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}

	assert.True(t, h.Cancelled())
	assert.Equal(t, "stop", h.Reason())
	select {
	case <-h.Done():
	default:
		t.Fatal("done channel not closed")
	}

	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())
}

func TestOnCancelAfterFire(t *testing.T) {
	h := NewCancelHandle()
	require.True(t, h.Cancel("late"))

	got := make(chan string, 1)
	h.OnCancel(func(reason string) { got <- reason })

	select {
	case reason := <-got:
		assert.Equal(t, "late", reason)
	case <-time.After(time.Second):
		t.Fatal("callback not invoked")
	}
}

func TestOnCancelDeregister(t *testing.T) {
	h := NewCancelHandle()

	called := make(chan struct{}, 1)
	deregister := h.OnCancel(func(string) { called <- struct{}{} })
	deregister()

	h.Cancel("stop")

	select {
	case <-called:
		t.Fatal("deregistered callback invoked")
	case <-time.After(20 * time.Millisecond):
	}
}

func TestOnCancelReplaces(t *testing.T) {
	h := NewCancelHandle()

	first := make(chan struct{}, 1)
	second := make(chan struct{}, 1)
	stale := h.OnCancel(func(string) { first <- struct{}{} })
	h.OnCancel(func(string) { second <- struct{}{} })
	stale()

	h.Cancel("stop")

	select {
	case <-second:
	case <-time.After(time.Second):
		t.Fatal("replacement callback not invoked")
	}
	assert.Empty(t, first)
}
