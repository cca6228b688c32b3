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

// Package task defines the unit of work dispatched by the jobs service.
//
// Task is a closed sum type: only the four variants in this package
// implement it, so a type switch over Sync, Action, Webhook and
// PostConnection is exhaustive up to its default branch.
package task

import (
	"encoding/json"
)

// Kind identifies a task variant.
type Kind string

const (
	KindSync           Kind = "sync"
	KindAction         Kind = "action"
	KindWebhook        Kind = "webhook"
	KindPostConnection Kind = "post_connection"
)

// Task is one unit of dispatched work.
type Task interface {
	// TaskID returns the task identifier.
	TaskID() string

	// Kind returns the variant tag.
	Kind() Kind

	// Cancellation returns the task's cancel handle. It may be nil for tasks
	// built without NewBase.
	Cancellation() *CancelHandle

	// Conn returns the connection the task runs against.
	Conn() Connection

	isTask()
}

// Connection identifies the tenant connection a task runs against.
type Connection struct {
	ID                int64  `json:"id"`
	ConnectionID      string `json:"connectionId"`
	ProviderConfigKey string `json:"providerConfigKey"`
	EnvironmentID     int64  `json:"environmentId"`
}

// Base carries the fields shared by every variant.
type Base struct {
	ID      string `json:"id"`
	Attempt int    `json:"attempt"`
	Debug   bool   `json:"debug,omitempty"`

	cancel *CancelHandle
}

// NewBase returns a Base with a fresh cancel handle.
func NewBase(id string, attempt int) Base {
	return Base{ID: id, Attempt: attempt, cancel: NewCancelHandle()}
}

// TaskID implements Task.
func (b *Base) TaskID() string { return b.ID }

// Cancellation implements Task.
func (b *Base) Cancellation() *CancelHandle { return b.cancel }

// Sync runs a sync script and is the only kind tracked by job records.
type Sync struct {
	Base
	SyncID      string     `json:"syncId"`
	Connection  Connection `json:"connection"`
	SyncName    string     `json:"syncName"`
	DisplayName string     `json:"displayName,omitempty"`
}

// Action runs a one-off action script.
type Action struct {
	Base
	Connection    Connection      `json:"connection"`
	ActionName    string          `json:"actionName"`
	ActivityLogID string          `json:"activityLogId"`
	Input         json.RawMessage `json:"input,omitempty"`
}

// Webhook runs the webhook script of a parent sync for an inbound payload.
type Webhook struct {
	Base
	Connection     Connection      `json:"connection"`
	ParentSyncName string          `json:"parentSyncName"`
	ActivityLogID  string          `json:"activityLogId"`
	Input          json.RawMessage `json:"input,omitempty"`
}

// PostConnection runs an ad hoc script after a connection is created.
type PostConnection struct {
	Base
	Connection    Connection `json:"connection"`
	ScriptName    string     `json:"scriptName"`
	FileLocation  string     `json:"fileLocation"`
	Version       string     `json:"version"`
	ActivityLogID string     `json:"activityLogId"`
}

func (*Sync) Kind() Kind           { return KindSync }
func (*Action) Kind() Kind         { return KindAction }
func (*Webhook) Kind() Kind        { return KindWebhook }
func (*PostConnection) Kind() Kind { return KindPostConnection }

func (t *Sync) Conn() Connection           { return t.Connection }
func (t *Action) Conn() Connection         { return t.Connection }
func (t *Webhook) Conn() Connection        { return t.Connection }
func (t *PostConnection) Conn() Connection { return t.Connection }

func (*Sync) isTask()           {}
func (*Action) isTask()         {}
func (*Webhook) isTask()        {}
func (*PostConnection) isTask() {}

var (
	_ Task = (*Sync)(nil)
	_ Task = (*Action)(nil)
	_ Task = (*Webhook)(nil)
	_ Task = (*PostConnection)(nil)
)
