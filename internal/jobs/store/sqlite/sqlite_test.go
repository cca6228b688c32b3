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

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/storetest"
)

func createTestBackend(t *testing.T) *Backend {
	t.Helper()
	b, err := New(Config{Path: filepath.Join(t.TempDir(), "relay.db"), WAL: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

func TestBackend(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return createTestBackend(t) })
}

func TestMigrationsAreIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "relay.db")

	b, err := New(Config{Path: path})
	require.NoError(t, err)
	_, err = b.CreateJob(context.Background(), store.NewJob{SyncID: "S1", Type: store.SyncTypeFull, Status: store.JobRunning})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = New(Config{Path: path})
	require.NoError(t, err)
	defer b.Close()

	var count int
	require.NoError(t, b.db.QueryRow(`SELECT COUNT(*) FROM jobs`).Scan(&count))
	assert.Equal(t, 1, count)
}
