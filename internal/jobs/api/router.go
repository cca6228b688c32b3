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

// Package api exposes the jobs service over HTTP: task intake and
// cancellation, runner completion reports, job lookup and runner idle
// notifications.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/task"
)

// TaskHandler runs a task to completion.
type TaskHandler interface {
	Handle(ctx context.Context, t task.Task) (json.RawMessage, error)
}

// JobReader looks up job records.
type JobReader interface {
	GetJob(ctx context.Context, jobID string) (*store.Job, error)
}

// Config wires the router to its collaborators.
type Config struct {
	Tasks       TaskHandler
	Completions *execution.Completions
	Jobs        JobReader
	Runners     *RunnerRegistry

	// Auth guards every route except /health and /metrics.
	Auth auth.Config

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Version string
	Logger  *slog.Logger
}

// Router serves the jobs API.
type Router struct {
	mux         *http.ServeMux
	tasks       TaskHandler
	completions *execution.Completions
	jobs        JobReader
	runners     *RunnerRegistry
	auth        auth.Config
	version     string
	logger      *slog.Logger

	mu       sync.Mutex
	inflight map[string]task.Task
}

// NewRouter creates a router.
func NewRouter(cfg Config) *Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	runners := cfg.Runners
	if runners == nil {
		runners = NewRunnerRegistry()
	}
	completions := cfg.Completions
	if completions == nil {
		completions = execution.NewCompletions()
	}

	r := &Router{
		mux:         http.NewServeMux(),
		tasks:       cfg.Tasks,
		completions: completions,
		jobs:        cfg.Jobs,
		runners:     runners,
		auth:        cfg.Auth,
		version:     cfg.Version,
		logger:      log.WithComponent(logger, "jobs-api"),
		inflight:    make(map[string]task.Task),
	}

	r.mux.HandleFunc("GET /health", r.handleHealth)
	if cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", cfg.Metrics)
	}
	r.mux.HandleFunc("POST /v1/tasks", r.handleSubmitTask)
	r.mux.HandleFunc("POST /v1/tasks/{taskId}/cancel", r.handleCancelTask)
	r.mux.HandleFunc("PUT /v1/tasks/{taskId}/completion", r.handleCompletion)
	r.mux.HandleFunc("GET /v1/jobs/{jobId}", r.handleGetJob)
	r.mux.HandleFunc("POST /v1/runners/{runnerId}/idle", r.handleRunnerIdle)
	r.mux.HandleFunc("GET /v1/runners", r.handleListRunners)
	return r
}

// Handler returns the router wrapped in request logging and service auth.
func (r *Router) Handler() http.Handler {
	authed := auth.Middleware(r.auth, auth.ServiceJobs, r.logger, "/health", "/metrics")(r.mux)
	return log.NewMiddleware(r.logger).Handler(authed)
}

// ServeHTTP implements http.Handler without middleware.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// InFlight returns the number of tasks currently being handled.
func (r *Router) InFlight() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.inflight)
}

func (r *Router) track(t task.Task) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.inflight[t.TaskID()]; exists {
		return false
	}
	r.inflight[t.TaskID()] = t
	return true
}

func (r *Router) untrack(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inflight, id)
}

func (r *Router) lookup(id string) (task.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.inflight[id]
	return t, ok
}
