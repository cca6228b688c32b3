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

// Package logctx provides log contexts: user-visible operation logs that a
// task appends to while it runs. Contexts are persisted as store operations.
package logctx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/log"
)

// Message levels.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Operation describes what a log context records.
type Operation struct {
	Type    string
	Action  string
	Message string
}

// Integration identifies the provider config.
type Integration struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Provider string `json:"provider"`
}

// ConnectionRef identifies the connection.
type ConnectionRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// ScriptRef identifies the script config.
type ScriptRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Identity ties a log context to the entities it concerns.
type Identity struct {
	Account     store.Account     `json:"account"`
	Environment store.Environment `json:"environment"`
	Integration Integration       `json:"integration"`
	Connection  ConnectionRef     `json:"connection"`
	SyncConfig  *ScriptRef        `json:"syncConfig,omitempty"`
}

// Provider creates and retrieves log contexts.
type Provider interface {
	Create(ctx context.Context, op Operation, identity Identity) (*Context, error)
	Get(ctx context.Context, id string) (*Context, error)
}

// Context is an open log context.
type Context struct {
	id     string
	ops    store.OperationStore
	logger *slog.Logger
	now    func() time.Time
}

// ID returns the context's id, which is also the activity log id.
func (c *Context) ID() string { return c.id }

// Info appends an informational entry.
func (c *Context) Info(ctx context.Context, msg string, meta map[string]any) error {
	return c.append(ctx, LevelInfo, msg, meta)
}

// Error appends an error entry.
func (c *Context) Error(ctx context.Context, msg string, meta map[string]any) error {
	return c.append(ctx, LevelError, msg, meta)
}

// Failed marks the context failed.
func (c *Context) Failed(ctx context.Context) error {
	return c.setState(ctx, store.OperationFailed)
}

// Success marks the context successful.
func (c *Context) Success(ctx context.Context) error {
	return c.setState(ctx, store.OperationSuccess)
}

func (c *Context) setState(ctx context.Context, state string) error {
	if err := c.ops.SetOperationState(ctx, c.id, state); err != nil {
		return fmt.Errorf("log context %s: %w", c.id, err)
	}
	return nil
}

func (c *Context) append(ctx context.Context, level, msg string, meta map[string]any) error {
	var raw json.RawMessage
	if len(meta) > 0 {
		b, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("log context %s: encoding meta: %w", c.id, err)
		}
		raw = b
	}

	c.logger.Debug("log context entry",
		slog.String("operation_id", c.id),
		slog.String("level", level),
		slog.String("message", msg))

	err := c.ops.AppendMessage(ctx, store.OperationMessage{
		OperationID: c.id,
		Level:       level,
		Message:     msg,
		Meta:        raw,
		CreatedAt:   c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("log context %s: %w", c.id, err)
	}
	return nil
}

// StoreProvider is a Provider backed by an OperationStore.
type StoreProvider struct {
	ops    store.OperationStore
	logger *slog.Logger
}

var _ Provider = (*StoreProvider)(nil)

// NewStoreProvider creates a provider over ops.
func NewStoreProvider(ops store.OperationStore, logger *slog.Logger) *StoreProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &StoreProvider{ops: ops, logger: log.WithComponent(logger, "logctx")}
}

// Create opens a new running log context.
func (p *StoreProvider) Create(ctx context.Context, op Operation, identity Identity) (*Context, error) {
	ident, err := json.Marshal(identity)
	if err != nil {
		return nil, fmt.Errorf("encoding log context identity: %w", err)
	}

	rec := &store.Operation{
		ID:       uuid.NewString(),
		Type:     op.Type,
		Action:   op.Action,
		Message:  op.Message,
		State:    store.OperationRunning,
		Identity: ident,
	}
	if err := p.ops.CreateOperation(ctx, rec); err != nil {
		return nil, fmt.Errorf("creating log context: %w", err)
	}
	return p.bind(rec.ID), nil
}

// Get reopens an existing log context. A missing context yields a
// *errors.NotFoundError.
func (p *StoreProvider) Get(ctx context.Context, id string) (*Context, error) {
	if _, err := p.ops.GetOperation(ctx, id); err != nil {
		return nil, fmt.Errorf("loading log context: %w", err)
	}
	return p.bind(id), nil
}

func (p *StoreProvider) bind(id string) *Context {
	return &Context{id: id, ops: p.ops, logger: p.logger, now: time.Now}
}
