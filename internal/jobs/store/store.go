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

// Package store defines the persistence contracts of the jobs service and the
// records they carry. Backends live in the memory, sqlite and postgres
// subpackages.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	relayerrors "github.com/tombee/relay/pkg/errors"
)

// ErrJobTerminal is returned when a job that already reached SUCCESS or
// ERROR is asked to transition again.
var ErrJobTerminal = errors.New("job already in a terminal state")

// JobStatus is the lifecycle state of a job.
type JobStatus string

const (
	JobRunning JobStatus = "RUNNING"
	JobSuccess JobStatus = "SUCCESS"
	JobError   JobStatus = "ERROR"
)

// Terminal reports whether s is SUCCESS or ERROR.
func (s JobStatus) Terminal() bool {
	return s == JobSuccess || s == JobError
}

// SyncType classifies an execution.
type SyncType string

const (
	SyncTypeFull           SyncType = "FULL"
	SyncTypeIncremental    SyncType = "INCREMENTAL"
	SyncTypeWebhook        SyncType = "WEBHOOK"
	SyncTypeAction         SyncType = "ACTION"
	SyncTypePostConnection SyncType = "POST_CONNECTION_SCRIPT"
)

// Job is one persisted execution attempt of a sync-family task.
type Job struct {
	ID           string    `json:"id" db:"id"`
	SyncID       string    `json:"syncId" db:"sync_id"`
	Status       JobStatus `json:"status" db:"status"`
	Type         SyncType  `json:"type" db:"type"`
	Name         string    `json:"name" db:"name"`
	TaskID       string    `json:"taskId" db:"task_id"`
	ConnectionID int64     `json:"connectionId" db:"connection_id"`
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt    time.Time `json:"updatedAt" db:"updated_at"`
}

// NewJob holds the fields supplied when creating a job.
type NewJob struct {
	SyncID       string
	Type         SyncType
	Status       JobStatus
	Name         string
	TaskID       string
	ConnectionID int64
}

// Sync is a declared sync bound to a connection.
type Sync struct {
	ID           string     `json:"id" yaml:"id" db:"id"`
	Name         string     `json:"name" yaml:"name" db:"name"`
	ConnectionID int64      `json:"connectionId" yaml:"connection_id" db:"connection_id"`
	LastSyncDate *time.Time `json:"lastSyncDate,omitempty" yaml:"-" db:"last_sync_date"`
}

// ProviderConfig is the resolved integration configuration.
type ProviderConfig struct {
	ID            int64  `json:"id" yaml:"id" db:"id"`
	EnvironmentID int64  `json:"environmentId" yaml:"environment_id" db:"environment_id"`
	Provider      string `json:"provider" yaml:"provider" db:"provider"`
	UniqueKey     string `json:"uniqueKey" yaml:"unique_key" db:"unique_key"`
}

// ScriptConfig is the validated definition of a script to run.
type ScriptConfig struct {
	ID            int64           `json:"id" yaml:"id" db:"id"`
	EnvironmentID int64           `json:"environmentId" yaml:"environment_id" db:"environment_id"`
	ConfigID      int64           `json:"configId" yaml:"config_id" db:"config_id"`
	Name          string          `json:"name" yaml:"name" db:"name"`
	FileLocation  string          `json:"fileLocation" yaml:"file_location" db:"file_location"`
	Version       string          `json:"version" yaml:"version" db:"version"`
	IsAction      bool            `json:"isAction" yaml:"is_action" db:"is_action"`
	Models        []string        `json:"models" yaml:"models" db:"-"`
	InputModel    string          `json:"inputModel,omitempty" yaml:"input_model" db:"input_model"`
	Endpoints     []string        `json:"endpoints" yaml:"endpoints" db:"-"`
	TrackDeletes  bool            `json:"trackDeletes" yaml:"track_deletes" db:"track_deletes"`
	Enabled       bool            `json:"enabled" yaml:"enabled" db:"enabled"`
	OutputSchema  json.RawMessage `json:"outputSchema,omitempty" yaml:"-" db:"-"`
}

// ScriptQuery selects a script config.
type ScriptQuery struct {
	EnvironmentID int64
	ConfigID      int64
	Name          string
	IsAction      bool
}

// Account is a tenant account.
type Account struct {
	ID   int64  `json:"id" yaml:"id"`
	Name string `json:"name" yaml:"name"`
}

// Environment is an account's environment.
type Environment struct {
	ID        int64  `json:"id" yaml:"id"`
	AccountID int64  `json:"accountId" yaml:"account_id"`
	Name      string `json:"name" yaml:"name"`
}

// AccountEnvironment pairs an environment with its owning account.
type AccountEnvironment struct {
	Account     Account     `json:"account"`
	Environment Environment `json:"environment"`
}

// Operation states.
const (
	OperationRunning = "running"
	OperationSuccess = "success"
	OperationFailed  = "failed"
)

// Operation is the persisted form of a log context.
type Operation struct {
	ID        string          `json:"id" db:"id"`
	Type      string          `json:"type" db:"type"`
	Action    string          `json:"action" db:"action"`
	Message   string          `json:"message" db:"message"`
	State     string          `json:"state" db:"state"`
	Identity  json.RawMessage `json:"identity,omitempty" db:"identity"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time       `json:"updatedAt" db:"updated_at"`
}

// OperationMessage is one log entry appended to an operation.
type OperationMessage struct {
	OperationID string          `json:"operationId" db:"operation_id"`
	Level       string          `json:"level" db:"level"`
	Message     string          `json:"message" db:"message"`
	Meta        json.RawMessage `json:"meta,omitempty" db:"meta"`
	CreatedAt   time.Time       `json:"createdAt" db:"created_at"`
}

// JobStore persists jobs and sync bookkeeping.
type JobStore interface {
	// CreateJob inserts a job and returns it with its assigned id.
	CreateJob(ctx context.Context, job NewJob) (*Job, error)

	// UpdateJobStatus moves a RUNNING job to status. It returns
	// ErrJobTerminal when the job already left RUNNING.
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus) error

	GetJob(ctx context.Context, jobID string) (*Job, error)

	// GetLastSyncDate returns nil when the sync never completed.
	GetLastSyncDate(ctx context.Context, syncID string) (*time.Time, error)
	SetLastSyncDate(ctx context.Context, syncID string, at time.Time) error

	GetSyncByConnectionAndName(ctx context.Context, connectionID int64, name string) (*Sync, error)
}

// CatalogStore holds the configuration the dispatcher resolves.
type CatalogStore interface {
	GetProviderConfig(ctx context.Context, uniqueKey string, environmentID int64) (*ProviderConfig, error)
	GetScriptConfig(ctx context.Context, q ScriptQuery) (*ScriptConfig, error)
	GetAccountAndEnvironment(ctx context.Context, environmentID int64) (*AccountEnvironment, error)

	PutAccountEnvironment(ctx context.Context, ae AccountEnvironment) error
	PutProviderConfig(ctx context.Context, pc *ProviderConfig) error
	PutScriptConfig(ctx context.Context, sc *ScriptConfig) error
	PutSync(ctx context.Context, s *Sync) error
}

// OperationStore persists log contexts.
type OperationStore interface {
	CreateOperation(ctx context.Context, op *Operation) error
	GetOperation(ctx context.Context, id string) (*Operation, error)
	SetOperationState(ctx context.Context, id, state string) error
	AppendMessage(ctx context.Context, msg OperationMessage) error
	ListMessages(ctx context.Context, operationID string) ([]OperationMessage, error)
}

// Store combines every contract a backend provides.
type Store interface {
	JobStore
	CatalogStore
	OperationStore
	Close() error
}

// NotFound returns the error backends use for a missing record.
func NotFound(resource, id string) error {
	return &relayerrors.NotFoundError{Resource: resource, ID: id}
}
