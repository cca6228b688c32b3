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

package logctx

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/memory"
	"github.com/tombee/relay/internal/log"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

func TestCreateAndAppend(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := NewStoreProvider(mem, log.Discard())

	lc, err := p.Create(ctx, Operation{Type: "sync", Action: "run", Message: "Sync"}, Identity{
		Account:     store.Account{ID: 1, Name: "acme"},
		Environment: store.Environment{ID: 2, AccountID: 1, Name: "prod"},
		Integration: Integration{ID: 3, Name: "github-prod", Provider: "github"},
		Connection:  ConnectionRef{ID: 4, Name: "conn-1"},
		SyncConfig:  &ScriptRef{ID: 5, Name: "issues"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, lc.ID())

	op, err := mem.GetOperation(ctx, lc.ID())
	require.NoError(t, err)
	assert.Equal(t, store.OperationRunning, op.State)
	assert.Equal(t, "sync", op.Type)

	var ident map[string]any
	require.NoError(t, json.Unmarshal(op.Identity, &ident))
	assert.Contains(t, ident, "integration")
	assert.Contains(t, ident, "syncConfig")

	require.NoError(t, lc.Info(ctx, "Starting sync", map[string]any{"syncType": "FULL"}))
	require.NoError(t, lc.Error(ctx, "The FULL sync failed to run: boom", nil))
	require.NoError(t, lc.Failed(ctx))

	msgs, err := mem.ListMessages(ctx, lc.ID())
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, LevelInfo, msgs[0].Level)
	assert.JSONEq(t, `{"syncType":"FULL"}`, string(msgs[0].Meta))
	assert.Equal(t, LevelError, msgs[1].Level)
	assert.Nil(t, msgs[1].Meta)

	op, err = mem.GetOperation(ctx, lc.ID())
	require.NoError(t, err)
	assert.Equal(t, store.OperationFailed, op.State)
}

func TestGet(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	p := NewStoreProvider(mem, nil)

	created, err := p.Create(ctx, Operation{Type: "action", Action: "run"}, Identity{})
	require.NoError(t, err)

	got, err := p.Get(ctx, created.ID())
	require.NoError(t, err)
	require.NoError(t, got.Success(ctx))

	op, err := mem.GetOperation(ctx, created.ID())
	require.NoError(t, err)
	assert.Equal(t, store.OperationSuccess, op.State)

	_, err = p.Get(ctx, "missing")
	assert.True(t, relayerrors.IsNotFound(err))
}
