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

// Package storetest holds the behavior every store backend must share.
package storetest

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Run exercises a backend created fresh by newStore for each subtest.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("JobLifecycle", func(t *testing.T) { testJobLifecycle(t, newStore(t)) })
	t.Run("ConcurrentTerminalTransition", func(t *testing.T) { testConcurrentTransition(t, newStore(t)) })
	t.Run("LastSyncDate", func(t *testing.T) { testLastSyncDate(t, newStore(t)) })
	t.Run("Catalog", func(t *testing.T) { testCatalog(t, newStore(t)) })
	t.Run("Operations", func(t *testing.T) { testOperations(t, newStore(t)) })
}

func testJobLifecycle(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.CreateJob(ctx, store.NewJob{
		SyncID:       "S1",
		Type:         store.SyncTypeFull,
		Status:       store.JobRunning,
		Name:         "issues",
		TaskID:       "t1",
		ConnectionID: 7,
	})
	require.NoError(t, err)
	require.NotEmpty(t, job.ID)
	assert.Equal(t, store.JobRunning, job.Status)

	require.NoError(t, s.UpdateJobStatus(ctx, job.ID, store.JobSuccess))

	err = s.UpdateJobStatus(ctx, job.ID, store.JobError)
	assert.True(t, errors.Is(err, store.ErrJobTerminal))

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, store.JobSuccess, got.Status)
	assert.Equal(t, store.SyncTypeFull, got.Type)
	assert.Equal(t, "t1", got.TaskID)
	assert.Equal(t, int64(7), got.ConnectionID)

	_, err = s.GetJob(ctx, "missing")
	assert.True(t, relayerrors.IsNotFound(err))

	err = s.UpdateJobStatus(ctx, "missing", store.JobError)
	assert.True(t, relayerrors.IsNotFound(err))
}

func testConcurrentTransition(t *testing.T, s store.Store) {
	ctx := context.Background()

	job, err := s.CreateJob(ctx, store.NewJob{SyncID: "S1", Type: store.SyncTypeIncremental, Status: store.JobRunning})
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 8)
	for i := 0; i < 8; i++ {
		status := store.JobSuccess
		if i%2 == 1 {
			status = store.JobError
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- s.UpdateJobStatus(ctx, job.ID, status)
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.True(t, errors.Is(err, store.ErrJobTerminal), "unexpected error: %v", err)
	}
	assert.Equal(t, 1, wins)
}

func testLastSyncDate(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutSync(ctx, &store.Sync{ID: "S1", Name: "issues", ConnectionID: 7}))

	last, err := s.GetLastSyncDate(ctx, "S1")
	require.NoError(t, err)
	assert.Nil(t, last)

	last, err = s.GetLastSyncDate(ctx, "never-imported")
	require.NoError(t, err)
	assert.Nil(t, last)

	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SetLastSyncDate(ctx, "S1", at))

	last, err = s.GetLastSyncDate(ctx, "S1")
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.True(t, at.Equal(*last))

	// Re-importing the sync keeps its history.
	require.NoError(t, s.PutSync(ctx, &store.Sync{ID: "S1", Name: "issues", ConnectionID: 7}))
	last, err = s.GetLastSyncDate(ctx, "S1")
	require.NoError(t, err)
	assert.NotNil(t, last)

	got, err := s.GetSyncByConnectionAndName(ctx, 7, "issues")
	require.NoError(t, err)
	assert.Equal(t, "S1", got.ID)

	_, err = s.GetSyncByConnectionAndName(ctx, 7, "pulls")
	assert.True(t, relayerrors.IsNotFound(err))

	err = s.SetLastSyncDate(ctx, "missing", at)
	assert.True(t, relayerrors.IsNotFound(err))
}

func testCatalog(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.PutAccountEnvironment(ctx, store.AccountEnvironment{
		Account:     store.Account{ID: 1, Name: "acme"},
		Environment: store.Environment{ID: 3, AccountID: 1, Name: "prod"},
	}))
	require.NoError(t, s.PutProviderConfig(ctx, &store.ProviderConfig{ID: 10, EnvironmentID: 3, Provider: "github", UniqueKey: "gh"}))
	require.NoError(t, s.PutScriptConfig(ctx, &store.ScriptConfig{
		ID: 100, EnvironmentID: 3, ConfigID: 10, Name: "issues", FileLocation: "github/issues.js",
		Version: "1", Models: []string{"Issue"}, Endpoints: []string{"GET /issues"}, TrackDeletes: true, Enabled: true,
		OutputSchema: json.RawMessage(`{"type":"array"}`),
	}))
	require.NoError(t, s.PutScriptConfig(ctx, &store.ScriptConfig{
		ID: 101, EnvironmentID: 3, ConfigID: 10, Name: "create-issue", IsAction: true, Enabled: true,
	}))
	require.NoError(t, s.PutScriptConfig(ctx, &store.ScriptConfig{
		ID: 102, EnvironmentID: 3, ConfigID: 10, Name: "disabled", Enabled: false,
	}))

	pc, err := s.GetProviderConfig(ctx, "gh", 3)
	require.NoError(t, err)
	assert.Equal(t, int64(10), pc.ID)
	assert.Equal(t, "github", pc.Provider)

	_, err = s.GetProviderConfig(ctx, "gh", 4)
	assert.True(t, relayerrors.IsNotFound(err))

	sc, err := s.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 3, ConfigID: 10, Name: "issues"})
	require.NoError(t, err)
	assert.Equal(t, "github/issues.js", sc.FileLocation)
	assert.Equal(t, []string{"Issue"}, sc.Models)
	assert.Equal(t, []string{"GET /issues"}, sc.Endpoints)
	assert.True(t, sc.TrackDeletes)
	assert.JSONEq(t, `{"type":"array"}`, string(sc.OutputSchema))

	_, err = s.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 3, ConfigID: 10, Name: "issues", IsAction: true})
	assert.True(t, relayerrors.IsNotFound(err))

	action, err := s.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 3, ConfigID: 10, Name: "create-issue", IsAction: true})
	require.NoError(t, err)
	assert.True(t, action.IsAction)

	_, err = s.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 3, ConfigID: 10, Name: "disabled"})
	assert.True(t, relayerrors.IsNotFound(err))

	ae, err := s.GetAccountAndEnvironment(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, "acme", ae.Account.Name)
	assert.Equal(t, "prod", ae.Environment.Name)

	_, err = s.GetAccountAndEnvironment(ctx, 99)
	assert.True(t, relayerrors.IsNotFound(err))

	var verr *relayerrors.ValidationError
	assert.True(t, errors.As(s.PutProviderConfig(ctx, &store.ProviderConfig{UniqueKey: "x"}), &verr))
}

func testOperations(t *testing.T, s store.Store) {
	ctx := context.Background()

	op := &store.Operation{
		ID:       "op1",
		Type:     "sync",
		Action:   "run",
		Message:  "Sync",
		State:    store.OperationRunning,
		Identity: json.RawMessage(`{"connection":{"id":7}}`),
	}
	require.NoError(t, s.CreateOperation(ctx, op))

	require.NoError(t, s.AppendMessage(ctx, store.OperationMessage{OperationID: "op1", Level: "info", Message: "Starting sync"}))
	require.NoError(t, s.AppendMessage(ctx, store.OperationMessage{OperationID: "op1", Level: "error", Message: "boom", Meta: json.RawMessage(`{"error":"boom"}`)}))
	require.NoError(t, s.SetOperationState(ctx, "op1", store.OperationFailed))

	got, err := s.GetOperation(ctx, "op1")
	require.NoError(t, err)
	assert.Equal(t, store.OperationFailed, got.State)
	assert.Equal(t, "Sync", got.Message)
	assert.JSONEq(t, `{"connection":{"id":7}}`, string(got.Identity))

	msgs, err := s.ListMessages(ctx, "op1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "Starting sync", msgs[0].Message)
	assert.Equal(t, "error", msgs[1].Level)

	_, err = s.GetOperation(ctx, "missing")
	assert.True(t, relayerrors.IsNotFound(err))

	err = s.AppendMessage(ctx, store.OperationMessage{OperationID: "missing", Message: "x"})
	assert.True(t, relayerrors.IsNotFound(err))
}
