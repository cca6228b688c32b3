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

// Package dispatcher routes tasks to their kind handler and owns the job
// bookkeeping around a script execution.
package dispatcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/tombee/relay/internal/featureflags"
	"github.com/tombee/relay/internal/jobs/configresolver"
	"github.com/tombee/relay/internal/jobs/errorreport"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/lifecycle"
	"github.com/tombee/relay/internal/jobs/logctx"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/task"
	"github.com/tombee/relay/internal/tracing"
)

const abortTimeout = 30 * time.Second

// Environments resolves tenant account and environment context.
type Environments interface {
	GetAccountAndEnvironment(ctx context.Context, environmentID int64) (*store.AccountEnvironment, error)
}

// Deps are the collaborators a Dispatcher works against.
type Deps struct {
	Resolver     configresolver.Resolver
	Jobs         store.JobStore
	Environments Environments
	Tracker      *lifecycle.Tracker
	LogContexts  logctx.Provider
	Reporter     errorreport.Reporter
	Executor     execution.Executor
	Flags        featureflags.Provider

	// Tracer defaults to the global tracer provider.
	Tracer trace.Tracer

	// SyncMetrics is optional.
	SyncMetrics *tracing.SyncMetrics

	Logger *slog.Logger
}

// Dispatcher handles tasks. It is safe for concurrent use; each task runs
// on the caller's goroutine.
type Dispatcher struct {
	resolver    configresolver.Resolver
	jobs        store.JobStore
	envs        Environments
	tracker     *lifecycle.Tracker
	logs        logctx.Provider
	reporter    errorreport.Reporter
	executor    execution.Executor
	flags       featureflags.Provider
	tracer      trace.Tracer
	syncMetrics *tracing.SyncMetrics
	logger      *slog.Logger
	now         func() time.Time

	schemas sync.Map // string(schema) -> *jsonschema.Schema
}

// New creates a Dispatcher.
func New(deps Deps) (*Dispatcher, error) {
	switch {
	case deps.Resolver == nil:
		return nil, errors.New("dispatcher: resolver is required")
	case deps.Jobs == nil:
		return nil, errors.New("dispatcher: job store is required")
	case deps.Environments == nil:
		return nil, errors.New("dispatcher: environment lookup is required")
	case deps.LogContexts == nil:
		return nil, errors.New("dispatcher: log context provider is required")
	case deps.Reporter == nil:
		return nil, errors.New("dispatcher: error reporter is required")
	case deps.Executor == nil:
		return nil, errors.New("dispatcher: executor is required")
	case deps.Flags == nil:
		return nil, errors.New("dispatcher: feature flag provider is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	tracker := deps.Tracker
	if tracker == nil {
		tracker = lifecycle.NewTracker(deps.Jobs, logger)
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/tombee/relay/internal/jobs/dispatcher")
	}

	return &Dispatcher{
		resolver:    deps.Resolver,
		jobs:        deps.Jobs,
		envs:        deps.Environments,
		tracker:     tracker,
		logs:        deps.LogContexts,
		reporter:    deps.Reporter,
		executor:    deps.Executor,
		flags:       deps.Flags,
		tracer:      tracer,
		syncMetrics: deps.SyncMetrics,
		logger:      log.WithComponent(logger, "dispatcher"),
		now:         time.Now,
	}, nil
}

// Handle runs t to completion. On failure the error is always a *TaskError.
// The task's cancel handle is wired to Abort for the duration of the call.
func (d *Dispatcher) Handle(ctx context.Context, t task.Task) (json.RawMessage, error) {
	if t == nil {
		return nil, taskError(DispatchUnreachable, "", "no task to dispatch", nil)
	}
	logger := log.WithTaskContext(d.logger, t.TaskID(), string(t.Kind()))

	if h := t.Cancellation(); h != nil {
		deregister := h.OnCancel(func(reason string) {
			abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
			defer cancel()
			if err := d.Abort(abortCtx, t); err != nil {
				logger.Warn("abort failed", slog.String("reason", reason), log.Error(err))
				return
			}
			logger.Info("abort requested", slog.String("reason", reason))
		})
		defer deregister()
	}

	start := d.now()
	ctx, span := tracing.StartHandler(ctx, d.tracer, string(t.Kind()), t.TaskID())
	out, err := d.dispatch(ctx, t, logger)
	span.End(err)

	if err != nil {
		logger.Warn("task failed", log.Error(err), log.Duration(time.Since(start).Milliseconds()))
	} else {
		logger.Debug("task succeeded", log.Duration(time.Since(start).Milliseconds()))
	}
	return out, err
}

func (d *Dispatcher) dispatch(ctx context.Context, t task.Task, logger *slog.Logger) (out json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("task handler panicked",
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
			out = nil
			err = taskError(Internal, t.TaskID(), fmt.Sprintf("handler panicked: %v", r), nil)
		}
	}()

	switch v := t.(type) {
	case *task.Sync:
		return d.handleSync(ctx, v, logger)
	case *task.Action:
		return d.handleAction(ctx, v, logger)
	case *task.Webhook:
		return d.handleWebhook(ctx, v, logger)
	case *task.PostConnection:
		return d.handlePostConnection(ctx, v, logger)
	default:
		return nil, taskError(DispatchUnreachable, t.TaskID(), fmt.Sprintf("no handler for task kind %q", t.Kind()), nil)
	}
}

// Abort requests that the execution engine stop t. Only sync tasks can be
// aborted; the request is advisory and does not interrupt Handle.
func (d *Dispatcher) Abort(ctx context.Context, t task.Task) error {
	if t == nil {
		return taskError(DispatchUnreachable, "", "no task to abort", nil)
	}
	switch v := t.(type) {
	case *task.Sync:
		if err := d.executor.Cancel(ctx, v.SyncID); err != nil {
			return taskError(Internal, v.ID, "Failed to cancel: "+err.Error(), err)
		}
		return nil
	default:
		return taskError(CancellationUnsupported, t.TaskID(), "Failed to cancel. Task type not supported", nil)
	}
}

// runnerFlags fetches the flags for one execution.
func (d *Dispatcher) runnerFlags(ctx context.Context, logger *slog.Logger) featureflags.RunnerFlags {
	flags, err := d.flags.RunnerFlags(ctx)
	if err != nil {
		logger.Warn("failed to load runner flags, using defaults", log.Error(err))
		return featureflags.RunnerFlags{}
	}
	return flags
}

// reuseLogContext looks up the log context a task's originator opened and,
// for debug tasks, writes a starting entry to it. A missing context does not
// fail the task.
func (d *Dispatcher) reuseLogContext(ctx context.Context, b task.Base, activityLogID, label string, logger *slog.Logger) {
	if activityLogID == "" {
		return
	}
	lc, err := d.logs.Get(ctx, activityLogID)
	if err != nil {
		logger.Warn("log context unavailable", slog.String("activity_log_id", activityLogID), log.Error(err))
		return
	}
	if !b.Debug {
		return
	}
	err = lc.Info(ctx, "Starting "+label, map[string]any{
		"executionId": b.ID,
		"attempt":     b.Attempt,
	})
	if err != nil {
		logger.Warn("failed to write log context entry", log.Error(err))
	}
}
