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

package configresolver

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/memory"
)

type countingCatalog struct {
	store.CatalogStore
	providerCalls atomic.Int32
	scriptCalls   atomic.Int32
	fail          error
}

func (c *countingCatalog) GetProviderConfig(ctx context.Context, key string, envID int64) (*store.ProviderConfig, error) {
	c.providerCalls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.CatalogStore.GetProviderConfig(ctx, key, envID)
}

func (c *countingCatalog) GetScriptConfig(ctx context.Context, q store.ScriptQuery) (*store.ScriptConfig, error) {
	c.scriptCalls.Add(1)
	if c.fail != nil {
		return nil, c.fail
	}
	return c.CatalogStore.GetScriptConfig(ctx, q)
}

func seededCatalog(t *testing.T) *countingCatalog {
	t.Helper()
	ctx := context.Background()
	mem := memory.New()
	require.NoError(t, mem.PutProviderConfig(ctx, &store.ProviderConfig{
		ID: 3, EnvironmentID: 1, Provider: "github", UniqueKey: "github-prod",
	}))
	require.NoError(t, mem.PutScriptConfig(ctx, &store.ScriptConfig{
		ID: 10, EnvironmentID: 1, ConfigID: 3, Name: "issues",
		Models: []string{"Issue"}, Endpoints: []string{"GET /issues"}, Enabled: true,
	}))
	return &countingCatalog{CatalogStore: mem}
}

func TestGetProviderConfig(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	r := New(catalog, Config{TTL: time.Minute, Size: 16})

	pc, err := r.GetProviderConfig(ctx, "github-prod", 1)
	require.NoError(t, err)
	require.NotNil(t, pc)
	assert.Equal(t, "github", pc.Provider)

	pc.Provider = "mutated"
	again, err := r.GetProviderConfig(ctx, "github-prod", 1)
	require.NoError(t, err)
	assert.Equal(t, "github", again.Provider, "cached records are copies")
	assert.Equal(t, int32(1), catalog.providerCalls.Load())
}

func TestGetProviderConfigMissing(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	r := New(catalog, Config{TTL: time.Minute, Size: 16})

	pc, err := r.GetProviderConfig(ctx, "unknown", 1)
	require.NoError(t, err)
	assert.Nil(t, pc)

	pc, err = r.GetProviderConfig(ctx, "github-prod", 2)
	require.NoError(t, err)
	assert.Nil(t, pc, "environment is part of the lookup")

	_, _ = r.GetProviderConfig(ctx, "unknown", 1)
	assert.Equal(t, int32(3), catalog.providerCalls.Load(), "misses are not cached")
}

func TestGetScriptConfig(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	r := New(catalog, Config{TTL: time.Minute, Size: 16})
	q := store.ScriptQuery{EnvironmentID: 1, ConfigID: 3, Name: "issues"}

	sc, err := r.GetScriptConfig(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, sc)
	sc.Models[0] = "mutated"

	again, err := r.GetScriptConfig(ctx, q)
	require.NoError(t, err)
	assert.Equal(t, []string{"Issue"}, again.Models)
	assert.Equal(t, int32(1), catalog.scriptCalls.Load())

	missing, err := r.GetScriptConfig(ctx, store.ScriptQuery{EnvironmentID: 1, ConfigID: 3, Name: "issues", IsAction: true})
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestCacheDisabled(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	r := New(catalog, Config{})

	for i := 0; i < 3; i++ {
		_, err := r.GetProviderConfig(ctx, "github-prod", 1)
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), catalog.providerCalls.Load())
}

func TestPurge(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	r := New(catalog, Config{TTL: time.Minute, Size: 16})

	_, _ = r.GetProviderConfig(ctx, "github-prod", 1)
	r.Purge()
	_, _ = r.GetProviderConfig(ctx, "github-prod", 1)
	assert.Equal(t, int32(2), catalog.providerCalls.Load())
}

func TestStoreFaultsPropagate(t *testing.T) {
	ctx := context.Background()
	catalog := seededCatalog(t)
	catalog.fail = errors.New("connection refused")
	r := New(catalog, Config{TTL: time.Minute, Size: 16})

	_, err := r.GetProviderConfig(ctx, "github-prod", 1)
	assert.ErrorIs(t, err, catalog.fail)

	_, err = r.GetScriptConfig(ctx, store.ScriptQuery{Name: "issues"})
	assert.ErrorIs(t, err, catalog.fail)
}
