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

// Package memory provides an in-memory store for tests and single-process runs.
package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Compile-time interface assertions.
var (
	_ store.JobStore       = (*Backend)(nil)
	_ store.CatalogStore   = (*Backend)(nil)
	_ store.OperationStore = (*Backend)(nil)
	_ store.Store          = (*Backend)(nil)
)

type scriptKey struct {
	environmentID int64
	configID      int64
	name          string
	isAction      bool
}

type providerKey struct {
	uniqueKey     string
	environmentID int64
}

type syncKey struct {
	connectionID int64
	name         string
}

// Backend is an in-memory storage backend. Returned records are copies.
type Backend struct {
	mu         sync.RWMutex
	jobs       map[string]store.Job
	syncs      map[string]store.Sync
	syncByName map[syncKey]string
	providers  map[providerKey]store.ProviderConfig
	scripts    map[scriptKey]store.ScriptConfig
	envs       map[int64]store.AccountEnvironment
	operations map[string]store.Operation
	messages   map[string][]store.OperationMessage
	now        func() time.Time
}

// New creates a new in-memory backend.
func New() *Backend {
	return &Backend{
		jobs:       make(map[string]store.Job),
		syncs:      make(map[string]store.Sync),
		syncByName: make(map[syncKey]string),
		providers:  make(map[providerKey]store.ProviderConfig),
		scripts:    make(map[scriptKey]store.ScriptConfig),
		envs:       make(map[int64]store.AccountEnvironment),
		operations: make(map[string]store.Operation),
		messages:   make(map[string][]store.OperationMessage),
		now:        time.Now,
	}
}

// CreateJob inserts a job with a fresh id.
func (b *Backend) CreateJob(ctx context.Context, nj store.NewJob) (*store.Job, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UTC()
	job := store.Job{
		ID:           uuid.NewString(),
		SyncID:       nj.SyncID,
		Status:       nj.Status,
		Type:         nj.Type,
		Name:         nj.Name,
		TaskID:       nj.TaskID,
		ConnectionID: nj.ConnectionID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	b.jobs[job.ID] = job
	return &job, nil
}

// UpdateJobStatus transitions a RUNNING job.
func (b *Backend) UpdateJobStatus(ctx context.Context, jobID string, status store.JobStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return store.NotFound("job", jobID)
	}
	if job.Status.Terminal() {
		return fmt.Errorf("%w: %s is %s", store.ErrJobTerminal, jobID, job.Status)
	}
	job.Status = status
	job.UpdatedAt = b.now().UTC()
	b.jobs[jobID] = job
	return nil
}

// GetJob retrieves a job by id.
func (b *Backend) GetJob(ctx context.Context, jobID string) (*store.Job, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	job, ok := b.jobs[jobID]
	if !ok {
		return nil, store.NotFound("job", jobID)
	}
	return &job, nil
}

// GetLastSyncDate returns the last successful sync date, or nil.
func (b *Backend) GetLastSyncDate(ctx context.Context, syncID string) (*time.Time, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	s, ok := b.syncs[syncID]
	if !ok || s.LastSyncDate == nil {
		return nil, nil
	}
	t := *s.LastSyncDate
	return &t, nil
}

// SetLastSyncDate stamps a sync's last successful run.
func (b *Backend) SetLastSyncDate(ctx context.Context, syncID string, at time.Time) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.syncs[syncID]
	if !ok {
		return store.NotFound("sync", syncID)
	}
	at = at.UTC()
	s.LastSyncDate = &at
	b.syncs[syncID] = s
	return nil
}

// GetSyncByConnectionAndName looks up a sync by its connection and name.
func (b *Backend) GetSyncByConnectionAndName(ctx context.Context, connectionID int64, name string) (*store.Sync, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id, ok := b.syncByName[syncKey{connectionID, name}]
	if !ok {
		return nil, store.NotFound("sync", fmt.Sprintf("%d/%s", connectionID, name))
	}
	s := b.syncs[id]
	return &s, nil
}

// GetProviderConfig looks up a provider config by unique key and environment.
func (b *Backend) GetProviderConfig(ctx context.Context, uniqueKey string, environmentID int64) (*store.ProviderConfig, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	pc, ok := b.providers[providerKey{uniqueKey, environmentID}]
	if !ok {
		return nil, store.NotFound("provider config", uniqueKey)
	}
	return &pc, nil
}

// GetScriptConfig looks up an enabled script config.
func (b *Backend) GetScriptConfig(ctx context.Context, q store.ScriptQuery) (*store.ScriptConfig, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	sc, ok := b.scripts[scriptKey{q.EnvironmentID, q.ConfigID, q.Name, q.IsAction}]
	if !ok || !sc.Enabled {
		return nil, store.NotFound("script config", q.Name)
	}
	sc.Models = append([]string(nil), sc.Models...)
	sc.Endpoints = append([]string(nil), sc.Endpoints...)
	return &sc, nil
}

// GetAccountAndEnvironment looks up an environment and its account.
func (b *Backend) GetAccountAndEnvironment(ctx context.Context, environmentID int64) (*store.AccountEnvironment, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	ae, ok := b.envs[environmentID]
	if !ok {
		return nil, store.NotFound("environment", strconv.FormatInt(environmentID, 10))
	}
	return &ae, nil
}

// PutAccountEnvironment upserts an environment.
func (b *Backend) PutAccountEnvironment(ctx context.Context, ae store.AccountEnvironment) error {
	if ae.Environment.ID == 0 {
		return &relayerrors.ValidationError{Field: "environment.id", Message: "id is required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.envs[ae.Environment.ID] = ae
	return nil
}

// PutProviderConfig upserts a provider config.
func (b *Backend) PutProviderConfig(ctx context.Context, pc *store.ProviderConfig) error {
	if pc.ID == 0 || pc.UniqueKey == "" {
		return &relayerrors.ValidationError{Field: "provider_config", Message: "id and unique_key are required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.providers[providerKey{pc.UniqueKey, pc.EnvironmentID}] = *pc
	return nil
}

// PutScriptConfig upserts a script config.
func (b *Backend) PutScriptConfig(ctx context.Context, sc *store.ScriptConfig) error {
	if sc.ID == 0 || sc.Name == "" {
		return &relayerrors.ValidationError{Field: "script_config", Message: "id and name are required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.scripts[scriptKey{sc.EnvironmentID, sc.ConfigID, sc.Name, sc.IsAction}] = *sc
	return nil
}

// PutSync upserts a sync, keeping any recorded last sync date.
func (b *Backend) PutSync(ctx context.Context, s *store.Sync) error {
	if s.ID == "" || s.Name == "" {
		return &relayerrors.ValidationError{Field: "sync", Message: "id and name are required"}
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	next := *s
	if prev, ok := b.syncs[s.ID]; ok {
		delete(b.syncByName, syncKey{prev.ConnectionID, prev.Name})
		if next.LastSyncDate == nil {
			next.LastSyncDate = prev.LastSyncDate
		}
	}
	b.syncs[s.ID] = next
	b.syncByName[syncKey{s.ConnectionID, s.Name}] = s.ID
	return nil
}

// CreateOperation inserts an operation.
func (b *Backend) CreateOperation(ctx context.Context, op *store.Operation) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.operations[op.ID]; exists {
		return fmt.Errorf("operation already exists: %s", op.ID)
	}
	now := b.now().UTC()
	op.CreatedAt = now
	op.UpdatedAt = now
	b.operations[op.ID] = *op
	return nil
}

// GetOperation retrieves an operation by id.
func (b *Backend) GetOperation(ctx context.Context, id string) (*store.Operation, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	op, ok := b.operations[id]
	if !ok {
		return nil, store.NotFound("operation", id)
	}
	return &op, nil
}

// SetOperationState updates an operation's state.
func (b *Backend) SetOperationState(ctx context.Context, id, state string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	op, ok := b.operations[id]
	if !ok {
		return store.NotFound("operation", id)
	}
	op.State = state
	op.UpdatedAt = b.now().UTC()
	b.operations[id] = op
	return nil
}

// AppendMessage appends a log entry to an operation.
func (b *Backend) AppendMessage(ctx context.Context, msg store.OperationMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.operations[msg.OperationID]; !ok {
		return store.NotFound("operation", msg.OperationID)
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = b.now().UTC()
	}
	b.messages[msg.OperationID] = append(b.messages[msg.OperationID], msg)
	return nil
}

// ListMessages returns an operation's log entries in append order.
func (b *Backend) ListMessages(ctx context.Context, operationID string) ([]store.OperationMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return append([]store.OperationMessage(nil), b.messages[operationID]...), nil
}

// Close is a no-op.
func (b *Backend) Close() error {
	return nil
}
