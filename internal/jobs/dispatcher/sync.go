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
	"runtime/debug"
	"time"

	"github.com/tombee/relay/internal/jobs/errorreport"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/logctx"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/task"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// syncRun is the state a sync accumulates as it moves through its steps.
// The failure path unwinds whatever exists.
type syncRun struct {
	task     *task.Sync
	syncType store.SyncType
	job      *store.Job
	logCtx   *logctx.Context
	start    time.Time
}

func (d *Dispatcher) handleSync(ctx context.Context, t *task.Sync, logger *slog.Logger) (result json.RawMessage, err error) {
	run := &syncRun{task: t, start: d.now()}
	conn := t.Connection
	logger = logger.With(slog.String(log.SyncIDKey, t.SyncID))

	// A panic past job creation still has to close the job.
	defer func() {
		if r := recover(); r != nil {
			logger.Error("sync handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			result = nil
			err = d.failSync(ctx, run, logger, Internal, fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	lastSyncDate, err := d.jobs.GetLastSyncDate(ctx, t.SyncID)
	if err != nil {
		return nil, d.failSync(ctx, run, logger, Internal, "failed to load last sync date: "+err.Error(), err)
	}
	run.syncType = store.SyncTypeFull
	if lastSyncDate != nil {
		run.syncType = store.SyncTypeIncremental
	}

	providerConfig, err := d.resolver.GetProviderConfig(ctx, conn.ProviderConfigKey, conn.EnvironmentID)
	if err != nil {
		return nil, d.failSync(ctx, run, logger, Internal, err.Error(), err)
	}
	if providerConfig == nil {
		d.syncMetrics.RecordFailure(ctx, string(run.syncType))
		return nil, taskError(ProviderConfigNotFound, t.ID,
			"Provider config not found for connection: "+conn.ConnectionID, nil)
	}

	name := t.DisplayName
	if name == "" {
		name = t.SyncName
	}
	run.job, err = d.tracker.Create(ctx, store.NewJob{
		SyncID:       t.SyncID,
		Type:         run.syncType,
		Name:         name,
		TaskID:       t.ID,
		ConnectionID: conn.ID,
	})
	if err != nil {
		return nil, d.failSync(ctx, run, logger, JobCreationFailed,
			"Failed to create sync job for sync: "+t.SyncID, err)
	}

	scriptConfig, err := d.resolver.GetScriptConfig(ctx, store.ScriptQuery{
		EnvironmentID: providerConfig.EnvironmentID,
		ConfigID:      providerConfig.ID,
		Name:          t.SyncName,
		IsAction:      false,
	})
	if err != nil {
		return nil, d.failSync(ctx, run, logger, Internal, err.Error(), err)
	}
	if scriptConfig == nil {
		return nil, d.failSync(ctx, run, logger, ScriptConfigNotFound, "Sync config not found", nil)
	}

	accountEnv, err := d.envs.GetAccountAndEnvironment(ctx, conn.EnvironmentID)
	if err != nil {
		if relayerrors.IsNotFound(err) {
			return nil, d.failSync(ctx, run, logger, AccountEnvironmentNotFound, "Account and environment not found", err)
		}
		return nil, d.failSync(ctx, run, logger, Internal, err.Error(), err)
	}

	run.logCtx, err = d.logs.Create(ctx,
		logctx.Operation{Type: "sync", Action: "run", Message: "Sync"},
		logctx.Identity{
			Account:     accountEnv.Account,
			Environment: accountEnv.Environment,
			Integration: logctx.Integration{ID: providerConfig.ID, Name: providerConfig.UniqueKey, Provider: providerConfig.Provider},
			Connection:  logctx.ConnectionRef{ID: conn.ID, Name: conn.ConnectionID},
			SyncConfig:  &logctx.ScriptRef{ID: scriptConfig.ID, Name: scriptConfig.Name},
		})
	if err != nil {
		return nil, d.failSync(ctx, run, logger, Internal, err.Error(), err)
	}

	if t.Debug {
		err := run.logCtx.Info(ctx, "Starting sync", map[string]any{
			"syncType":    run.syncType,
			"syncName":    t.SyncName,
			"syncId":      t.SyncID,
			"syncJobId":   run.job.ID,
			"attempt":     t.Attempt,
			"executionId": t.ID,
		})
		if err != nil {
			logger.Warn("failed to write log context entry", log.Error(err))
		}
	}

	out, err := d.executor.Execute(ctx, execution.Request{
		TaskID:        t.ID,
		Connection:    conn,
		ScriptConfig:  *scriptConfig,
		SyncType:      run.syncType,
		SyncID:        t.SyncID,
		SyncJobID:     run.job.ID,
		ActivityLogID: run.logCtx.ID(),
		LastSyncDate:  lastSyncDate,
		Provider:      providerConfig.Provider,
		Debug:         t.Debug,
		RunnerFlags:   d.runnerFlags(ctx, logger),
	})
	if err != nil {
		return nil, d.failSync(ctx, run, logger, ScriptExecutionFailed, "Sync failed with error "+err.Error(), err)
	}
	if !out.Success {
		return nil, d.failSync(ctx, run, logger, ScriptExecutionFailed, "Sync failed with error "+scriptErrorText(out), scriptCause(out))
	}

	result, err = d.validateOutput(out.Response, scriptConfig.OutputSchema)
	if err != nil {
		return nil, d.failSync(ctx, run, logger, InvalidResponseFormat,
			"Invalid sync response format: "+describeResponse(out.Response), err)
	}

	if err := d.tracker.Finish(ctx, run.job, store.JobSuccess); err != nil {
		return nil, d.failSync(ctx, run, logger, Internal, err.Error(), err)
	}
	if err := run.logCtx.Success(ctx); err != nil {
		logger.Warn("failed to mark log context successful", log.Error(err))
	}
	d.syncMetrics.RecordSuccess(ctx, string(run.syncType), d.now().Sub(run.start))
	return result, nil
}

// failSync records a sync failure on every surface that exists for the run:
// the log context, the error reporter and the job record.
func (d *Dispatcher) failSync(ctx context.Context, run *syncRun, logger *slog.Logger, kind ErrorKind, msg string, cause error) error {
	t := run.task
	content := fmt.Sprintf("The %s sync failed to run: %s", run.syncType, msg)

	// Bookkeeping outlives the caller's cancellation.
	ctx = context.WithoutCancel(ctx)

	if run.logCtx != nil {
		if err := run.logCtx.Error(ctx, content, map[string]any{"error": msg}); err != nil {
			logger.Warn("failed to write log context entry", log.Error(err))
		}
		if err := run.logCtx.Failed(ctx); err != nil {
			logger.Warn("failed to mark log context failed", log.Error(err))
		}
	}

	d.reporter.Report(ctx, content, errorreport.Options{
		EnvironmentID: t.Connection.EnvironmentID,
		Source:        errorreport.SourcePlatform,
		Operation:     string(run.syncType),
		Metadata: map[string]any{
			"connectionId":      t.Connection.ConnectionID,
			"providerConfigKey": t.Connection.ProviderConfigKey,
			"syncType":          string(run.syncType),
			"syncName":          t.SyncName,
		},
	})

	if run.job != nil {
		if err := d.tracker.Finish(ctx, run.job, store.JobError); err != nil {
			logger.Error("failed to mark job errored",
				slog.String(log.JobIDKey, run.job.ID),
				log.Error(err))
		}
	}

	d.syncMetrics.RecordFailure(ctx, string(run.syncType))
	return taskError(kind, t.ID, msg, cause)
}

func scriptCause(out *execution.Output) error {
	if out.Error == nil {
		return nil
	}
	return out.Error
}

func scriptErrorText(out *execution.Output) string {
	if out.Error == nil {
		return "unknown error"
	}
	return out.Error.Error()
}
