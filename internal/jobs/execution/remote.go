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

package execution

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tombee/relay/internal/log"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Mode selects how the remote executor drives the runner.
type Mode string

const (
	// ModeBlocking calls the runner's run operation and waits on the response.
	ModeBlocking Mode = "blocking"
	// ModeAsync calls start and waits for the completion report.
	ModeAsync Mode = "async"
)

// Runner is the RPC surface of a runner service.
type Runner interface {
	Run(ctx context.Context, req Request) (*Output, error)
	Start(ctx context.Context, taskID string, req Request) (bool, error)
	Cancel(ctx context.Context, syncID string) (bool, error)
}

// RemoteConfig configures a RemoteExecutor.
type RemoteConfig struct {
	Mode Mode

	// CompletionTimeout bounds the wait for a completion report in async
	// mode. Zero waits until ctx is done.
	CompletionTimeout time.Duration

	Logger *slog.Logger
}

// RemoteExecutor executes scripts on a runner service.
type RemoteExecutor struct {
	runner      Runner
	completions *Completions
	cfg         RemoteConfig
	logger      *slog.Logger
}

var _ Executor = (*RemoteExecutor)(nil)

// NewRemoteExecutor creates an executor. completions may be nil in
// blocking mode.
func NewRemoteExecutor(runner Runner, completions *Completions, cfg RemoteConfig) *RemoteExecutor {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeBlocking
	}
	return &RemoteExecutor{
		runner:      runner,
		completions: completions,
		cfg:         cfg,
		logger:      log.WithComponent(logger, "executor"),
	}
}

// Execute runs req on the runner.
func (e *RemoteExecutor) Execute(ctx context.Context, req Request) (*Output, error) {
	if e.cfg.Mode == ModeAsync {
		return e.executeAsync(ctx, req)
	}

	out, err := e.runner.Run(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("runner run: %w", err)
	}
	return out, nil
}

func (e *RemoteExecutor) executeAsync(ctx context.Context, req Request) (*Output, error) {
	if req.TaskID == "" {
		return nil, &relayerrors.ValidationError{Field: "taskId", Message: "required in async mode"}
	}
	if e.completions == nil {
		return nil, errors.New("async execution requires a completion registry")
	}

	ch, release, err := e.completions.Register(req.TaskID)
	if err != nil {
		return nil, err
	}
	defer release()

	accepted, err := e.runner.Start(ctx, req.TaskID, req)
	if err != nil {
		return nil, fmt.Errorf("runner start: %w", err)
	}
	if !accepted {
		return nil, fmt.Errorf("runner refused task %s", req.TaskID)
	}

	e.logger.Debug("awaiting completion",
		slog.String(log.TaskIDKey, req.TaskID),
		slog.String("script_type", string(req.ScriptType())))

	var timeout <-chan time.Time
	if e.cfg.CompletionTimeout > 0 {
		timer := time.NewTimer(e.cfg.CompletionTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case comp := <-ch:
		return comp.Outcome(), nil
	case <-timeout:
		return nil, &relayerrors.TimeoutError{
			Operation: "awaiting completion of task " + req.TaskID,
			Duration:  e.cfg.CompletionTimeout,
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel asks the runner to stop the script running for syncID.
func (e *RemoteExecutor) Cancel(ctx context.Context, syncID string) error {
	accepted, err := e.runner.Cancel(ctx, syncID)
	if err != nil {
		return fmt.Errorf("runner cancel: %w", err)
	}
	if !accepted {
		e.logger.Debug("runner had nothing to cancel", slog.String(log.SyncIDKey, syncID))
	}
	return nil
}
