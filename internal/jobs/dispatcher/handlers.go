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

package dispatcher

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/task"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

func (d *Dispatcher) handleAction(ctx context.Context, t *task.Action, logger *slog.Logger) (json.RawMessage, error) {
	conn := t.Connection
	providerConfig, err := d.providerConfig(ctx, t.ID, conn)
	if err != nil {
		return nil, err
	}

	scriptConfig, err := d.resolver.GetScriptConfig(ctx, store.ScriptQuery{
		EnvironmentID: providerConfig.EnvironmentID,
		ConfigID:      providerConfig.ID,
		Name:          t.ActionName,
		IsAction:      true,
	})
	if err != nil {
		return nil, taskError(Internal, t.ID, err.Error(), err)
	}
	if scriptConfig == nil {
		return nil, taskError(ScriptConfigNotFound, t.ID, "Action config not found: "+t.ActionName, nil)
	}

	d.reuseLogContext(ctx, t.Base, t.ActivityLogID, "action", logger)

	return d.execute(ctx, t.ID, "action", scriptConfig.OutputSchema, execution.Request{
		TaskID:        t.ID,
		Connection:    conn,
		ScriptConfig:  *scriptConfig,
		SyncType:      store.SyncTypeAction,
		ActivityLogID: t.ActivityLogID,
		Input:         t.Input,
		Provider:      providerConfig.Provider,
		IsAction:      true,
		RunnerFlags:   d.runnerFlags(ctx, logger),
	})
}

// handleWebhook creates a WEBHOOK job for the parent sync. The job is left
// RUNNING whatever the outcome; consumers rely on that.
func (d *Dispatcher) handleWebhook(ctx context.Context, t *task.Webhook, logger *slog.Logger) (json.RawMessage, error) {
	conn := t.Connection
	providerConfig, err := d.providerConfig(ctx, t.ID, conn)
	if err != nil {
		return nil, err
	}

	parent, err := d.jobs.GetSyncByConnectionAndName(ctx, conn.ID, t.ParentSyncName)
	if err != nil {
		if relayerrors.IsNotFound(err) {
			return nil, taskError(SyncNotFound, t.ID, "Sync not found for connection: "+conn.ConnectionID, err)
		}
		return nil, taskError(Internal, t.ID, err.Error(), err)
	}

	scriptConfig, err := d.resolver.GetScriptConfig(ctx, store.ScriptQuery{
		EnvironmentID: providerConfig.EnvironmentID,
		ConfigID:      providerConfig.ID,
		Name:          t.ParentSyncName,
		IsAction:      false,
	})
	if err != nil {
		return nil, taskError(Internal, t.ID, err.Error(), err)
	}
	if scriptConfig == nil {
		return nil, taskError(ScriptConfigNotFound, t.ID, "Webhook config not found: "+t.ParentSyncName, nil)
	}

	job, err := d.tracker.Create(ctx, store.NewJob{
		SyncID:       parent.ID,
		Type:         store.SyncTypeWebhook,
		Name:         t.ParentSyncName,
		TaskID:       t.ID,
		ConnectionID: conn.ID,
	})
	if err != nil {
		return nil, taskError(JobCreationFailed, t.ID, "Failed to create webhook job for sync: "+parent.ID, err)
	}

	d.reuseLogContext(ctx, t.Base, t.ActivityLogID, "webhook", logger)

	return d.execute(ctx, t.ID, "webhook", scriptConfig.OutputSchema, execution.Request{
		TaskID:        t.ID,
		Connection:    conn,
		ScriptConfig:  *scriptConfig,
		SyncType:      store.SyncTypeWebhook,
		SyncID:        parent.ID,
		SyncJobID:     job.ID,
		ActivityLogID: t.ActivityLogID,
		Input:         t.Input,
		Provider:      providerConfig.Provider,
		IsWebhook:     true,
		RunnerFlags:   d.runnerFlags(ctx, logger),
	})
}

func (d *Dispatcher) handlePostConnection(ctx context.Context, t *task.PostConnection, logger *slog.Logger) (json.RawMessage, error) {
	conn := t.Connection
	providerConfig, err := d.providerConfig(ctx, t.ID, conn)
	if err != nil {
		return nil, err
	}

	// Post-connection scripts are not declared in the catalog; the config
	// lives for this call only.
	scriptConfig := store.ScriptConfig{
		EnvironmentID: conn.EnvironmentID,
		ConfigID:      -1,
		Name:          t.ScriptName,
		FileLocation:  t.FileLocation,
		Version:       t.Version,
		Models:        []string{},
		Endpoints:     []string{},
		TrackDeletes:  false,
		Enabled:       true,
	}

	d.reuseLogContext(ctx, t.Base, t.ActivityLogID, "post connection script", logger)

	return d.execute(ctx, t.ID, "post connection script", nil, execution.Request{
		TaskID:           t.ID,
		Connection:       conn,
		ScriptConfig:     scriptConfig,
		SyncType:         store.SyncTypePostConnection,
		ActivityLogID:    t.ActivityLogID,
		Provider:         providerConfig.Provider,
		IsPostConnection: true,
		RunnerFlags:      d.runnerFlags(ctx, logger),
	})
}

func (d *Dispatcher) providerConfig(ctx context.Context, taskID string, conn task.Connection) (*store.ProviderConfig, error) {
	pc, err := d.resolver.GetProviderConfig(ctx, conn.ProviderConfigKey, conn.EnvironmentID)
	if err != nil {
		return nil, taskError(Internal, taskID, err.Error(), err)
	}
	if pc == nil {
		return nil, taskError(ProviderConfigNotFound, taskID, "Provider config not found for connection: "+conn.ConnectionID, nil)
	}
	return pc, nil
}

// execute runs req and validates its output. Script errors are returned
// verbatim.
func (d *Dispatcher) execute(ctx context.Context, taskID, label string, schema json.RawMessage, req execution.Request) (json.RawMessage, error) {
	out, err := d.executor.Execute(ctx, req)
	if err != nil {
		return nil, taskError(ScriptExecutionFailed, taskID, err.Error(), err)
	}
	if out.Error != nil || !out.Success {
		return nil, taskError(ScriptExecutionFailed, taskID, scriptErrorText(out), scriptCause(out))
	}

	result, err := d.validateOutput(out.Response, schema)
	if err != nil {
		return nil, taskError(InvalidResponseFormat, taskID,
			fmt.Sprintf("Invalid %s response format: %s", label, describeResponse(out.Response)), err)
	}
	return result, nil
}
