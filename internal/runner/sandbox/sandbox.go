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

// Package sandbox runs scripts for the runner. The process implementation
// is a minimal host for local deployments; it is not an isolation boundary.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Script error types reported by the process sandbox.
const (
	ErrorTypeCancelled     = "script_cancelled"
	ErrorTypeRuntime       = "script_runtime_error"
	ErrorTypeInvalidOutput = "script_invalid_output"
)

var errCancelled = errors.New("cancelled by request")

// Sandbox executes a script for an execution request.
type Sandbox interface {
	// Run executes req and returns the script outcome. Script failures are
	// reported in the output; the error is reserved for host faults.
	Run(ctx context.Context, req execution.Request) (*execution.Output, error)

	// Cancel stops every running execution for syncID and reports whether
	// any was found.
	Cancel(syncID string) bool
}

// Config configures a Process sandbox.
type Config struct {
	Command    string
	Args       []string
	ScriptsDir string

	// WaitDelay bounds how long Run waits for output pipes after the
	// process is killed. Default: 2s
	WaitDelay time.Duration

	Logger *slog.Logger
}

// Process runs each script as a child process: the request JSON is written
// to stdin and the outcome JSON is read from stdout.
type Process struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	seq     uint64
	running map[string]map[uint64]context.CancelCauseFunc
}

var _ Sandbox = (*Process)(nil)

// NewProcess creates a process sandbox.
func NewProcess(cfg Config) (*Process, error) {
	if cfg.Command == "" {
		return nil, &relayerrors.ConfigError{Key: "runner.sandbox.command", Reason: "command is required"}
	}
	if cfg.WaitDelay == 0 {
		cfg.WaitDelay = 2 * time.Second
	}
	// Scripts run with ScriptsDir as their working directory, so the script
	// path must not be relative to it.
	if cfg.ScriptsDir != "" {
		abs, err := filepath.Abs(cfg.ScriptsDir)
		if err != nil {
			return nil, &relayerrors.ConfigError{Key: "runner.sandbox.scripts_dir", Reason: "cannot resolve scripts directory", Cause: err}
		}
		cfg.ScriptsDir = abs
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Discard()
	}
	return &Process{
		cfg:     cfg,
		logger:  log.WithComponent(logger, "sandbox"),
		running: make(map[string]map[uint64]context.CancelCauseFunc),
	}, nil
}

// Run implements Sandbox.
func (p *Process) Run(ctx context.Context, req execution.Request) (*execution.Output, error) {
	path, err := p.scriptPath(req.ScriptConfig.FileLocation)
	if err != nil {
		return nil, err
	}

	stdin, err := json.Marshal(req)
	if err != nil {
		return nil, relayerrors.Wrap(err, "encoding execution request")
	}

	runCtx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)
	release := p.register(req.SyncID, cancel)
	defer release()

	args := append(append([]string{}, p.cfg.Args...), path)
	cmd := exec.CommandContext(runCtx, p.cfg.Command, args...)
	cmd.Dir = p.cfg.ScriptsDir
	cmd.WaitDelay = p.cfg.WaitDelay
	cmd.Stdin = bytes.NewReader(append(stdin, '\n'))

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	p.logger.Debug("script finished",
		slog.String(log.TaskIDKey, req.TaskID),
		slog.String(log.SyncIDKey, req.SyncID),
		slog.String("script", req.ScriptConfig.Name),
		log.Duration(time.Since(start).Milliseconds()),
		slog.Bool("failed", runErr != nil))

	if errors.Is(context.Cause(runCtx), errCancelled) {
		return &execution.Output{Error: &execution.ScriptError{
			Type:    ErrorTypeCancelled,
			Message: fmt.Sprintf("script %s was cancelled", req.ScriptConfig.Name),
		}}, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var out execution.Output
	if err := json.Unmarshal(bytes.TrimSpace(stdout.Bytes()), &out); err == nil {
		if runErr != nil && out.Error == nil {
			out.Success = false
			out.Error = &execution.ScriptError{Type: ErrorTypeRuntime, Message: failureMessage(runErr, &stderr)}
		}
		return &out, nil
	}

	if runErr != nil {
		return &execution.Output{Error: &execution.ScriptError{
			Type:    ErrorTypeRuntime,
			Message: failureMessage(runErr, &stderr),
		}}, nil
	}
	return &execution.Output{Error: &execution.ScriptError{
		Type:    ErrorTypeInvalidOutput,
		Message: "script output is not a valid result object",
	}}, nil
}

// Cancel implements Sandbox.
func (p *Process) Cancel(syncID string) bool {
	if syncID == "" {
		return false
	}
	p.mu.Lock()
	cancels := p.running[syncID]
	delete(p.running, syncID)
	p.mu.Unlock()

	for _, cancel := range cancels {
		cancel(errCancelled)
	}
	if len(cancels) > 0 {
		p.logger.Info("cancelled running scripts",
			slog.String(log.SyncIDKey, syncID),
			slog.Int("count", len(cancels)))
	}
	return len(cancels) > 0
}

func (p *Process) register(syncID string, cancel context.CancelCauseFunc) func() {
	if syncID == "" {
		return func() {}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.seq++
	id := p.seq
	if p.running[syncID] == nil {
		p.running[syncID] = make(map[uint64]context.CancelCauseFunc)
	}
	p.running[syncID][id] = cancel

	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		if set, ok := p.running[syncID]; ok {
			delete(set, id)
			if len(set) == 0 {
				delete(p.running, syncID)
			}
		}
	}
}

func (p *Process) scriptPath(location string) (string, error) {
	if location == "" {
		return "", &relayerrors.ValidationError{Field: "scriptConfig.fileLocation", Message: "file location is required"}
	}
	path := filepath.Join(p.cfg.ScriptsDir, location)
	rel, err := filepath.Rel(p.cfg.ScriptsDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", &relayerrors.ValidationError{Field: "scriptConfig.fileLocation", Message: "file location escapes the scripts directory"}
	}
	return path, nil
}

func failureMessage(err error, stderr *bytes.Buffer) string {
	if msg := strings.TrimSpace(stderr.String()); msg != "" {
		return msg
	}
	return err.Error()
}
