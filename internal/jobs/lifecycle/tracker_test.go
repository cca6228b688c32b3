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

package lifecycle

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/memory"
	"github.com/tombee/relay/internal/log"
)

func newTracker(t *testing.T) (*Tracker, *memory.Backend) {
	t.Helper()
	mem := memory.New()
	require.NoError(t, mem.PutSync(context.Background(), &store.Sync{ID: "sync-1", Name: "issues", ConnectionID: 7}))
	return NewTracker(mem, log.Discard()), mem
}

func TestCreateAlwaysRunning(t *testing.T) {
	tr, mem := newTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, store.NewJob{
		SyncID: "sync-1",
		Type:   store.SyncTypeFull,
		Status: store.JobSuccess,
		Name:   "issues",
		TaskID: "task-1",
	})
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, job.Status)

	stored, err := mem.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobRunning, stored.Status)
}

func TestFinishSuccessStampsLastSyncDate(t *testing.T) {
	tr, mem := newTracker(t)
	ctx := context.Background()
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return fixed }

	job, err := tr.Create(ctx, store.NewJob{SyncID: "sync-1", Type: store.SyncTypeFull, Name: "issues"})
	require.NoError(t, err)
	require.NoError(t, tr.Finish(ctx, job, store.JobSuccess))
	assert.Equal(t, store.JobSuccess, job.Status)

	last, err := mem.GetLastSyncDate(ctx, "sync-1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, fixed.Equal(*last))
}

func TestFinishErrorLeavesLastSyncDate(t *testing.T) {
	tr, mem := newTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, store.NewJob{SyncID: "sync-1", Type: store.SyncTypeIncremental})
	require.NoError(t, err)
	require.NoError(t, tr.Finish(ctx, job, store.JobError))

	last, err := mem.GetLastSyncDate(ctx, "sync-1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestFinishWebhookDoesNotStamp(t *testing.T) {
	tr, mem := newTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, store.NewJob{SyncID: "sync-1", Type: store.SyncTypeWebhook})
	require.NoError(t, err)
	require.NoError(t, tr.Finish(ctx, job, store.JobSuccess))

	last, err := mem.GetLastSyncDate(ctx, "sync-1")
	require.NoError(t, err)
	assert.Nil(t, last)
}

func TestFinishTransitionsOnce(t *testing.T) {
	tr, _ := newTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, store.NewJob{SyncID: "sync-1", Type: store.SyncTypeFull})
	require.NoError(t, err)
	require.NoError(t, tr.Finish(ctx, job, store.JobError))

	err = tr.Finish(ctx, job, store.JobSuccess)
	assert.ErrorIs(t, err, store.ErrJobTerminal)
	assert.Equal(t, store.JobError, job.Status)
}

func TestFinishConcurrentSingleWinner(t *testing.T) {
	tr, mem := newTracker(t)
	ctx := context.Background()

	job, err := tr.Create(ctx, store.NewJob{SyncID: "sync-1", Type: store.SyncTypeFull})
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			status := store.JobSuccess
			if i%2 == 1 {
				status = store.JobError
			}
			j := *job
			if tr.Finish(ctx, &j, status) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	stored, err := mem.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Status.Terminal())
}

func TestFinishRejectsNonTerminalStatus(t *testing.T) {
	tr, _ := newTracker(t)
	err := tr.Finish(context.Background(), &store.Job{ID: "j"}, store.JobRunning)
	assert.Error(t, err)
}
