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

package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/tombee/relay/internal/httputil"
	"github.com/tombee/relay/internal/jobs/dispatcher"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/task"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

var startTime = time.Now()

// HealthResponse is the response format for /health.
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Uptime    string            `json:"uptime,omitempty"`
	Version   string            `json:"version,omitempty"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// TaskResponse is the tagged result of a submitted task.
type TaskResponse struct {
	OK     bool            `json:"ok"`
	TaskID string          `json:"taskId"`
	Output json.RawMessage `json:"output,omitempty"`
	Error  string          `json:"error,omitempty"`
	Kind   string          `json:"kind,omitempty"`
}

// CancelRequest is the optional body of a cancel call.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (r *Router) handleHealth(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Uptime:    time.Since(startTime).Round(time.Second).String(),
		Version:   r.version,
		Checks: map[string]string{
			"runtime": runtime.Version(),
		},
	})
}

// handleSubmitTask handles POST /v1/tasks. The call returns once the task
// finished; task failures are reported in the body with status 200.
func (r *Router) handleSubmitTask(w http.ResponseWriter, req *http.Request) {
	if r.tasks == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "task handling is not configured")
		return
	}

	var raw json.RawMessage
	if err := httputil.DecodeJSON(w, req, &raw); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	t, err := task.Decode(raw)
	if err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if !r.track(t) {
		httputil.WriteError(w, http.StatusConflict, "task already in flight: "+t.TaskID())
		return
	}
	defer r.untrack(t.TaskID())

	out, err := r.tasks.Handle(req.Context(), t)
	resp := TaskResponse{OK: err == nil, TaskID: t.TaskID(), Output: out}
	if err != nil {
		resp.Error = err.Error()
		var te *dispatcher.TaskError
		if errors.As(err, &te) {
			resp.Kind = string(te.Kind)
		}
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}

// handleCancelTask handles POST /v1/tasks/{taskId}/cancel.
func (r *Router) handleCancelTask(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("taskId")
	t, ok := r.lookup(id)
	if !ok || t.Cancellation() == nil {
		httputil.WriteError(w, http.StatusNotFound, "task not in flight: "+id)
		return
	}

	var body CancelRequest
	if req.ContentLength > 0 {
		if err := httputil.DecodeJSON(w, req, &body); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	if body.Reason == "" {
		body.Reason = "cancelled via api"
	}

	fired := t.Cancellation().Cancel(body.Reason)
	r.logger.Info("task cancel requested",
		slog.String(log.TaskIDKey, id),
		slog.String("reason", body.Reason),
		slog.Bool("fired", fired))
	httputil.WriteJSON(w, http.StatusAccepted, map[string]bool{"accepted": fired})
}

// handleCompletion handles PUT /v1/tasks/{taskId}/completion.
func (r *Router) handleCompletion(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("taskId")

	var comp execution.Completion
	if err := httputil.DecodeJSON(w, req, &comp); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := r.completions.Deliver(id, comp); err != nil {
		if errors.Is(err, execution.ErrUnknownTask) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetJob handles GET /v1/jobs/{jobId}.
func (r *Router) handleGetJob(w http.ResponseWriter, req *http.Request) {
	if r.jobs == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "job store is not configured")
		return
	}
	job, err := r.jobs.GetJob(req.Context(), req.PathValue("jobId"))
	if err != nil {
		if relayerrors.IsNotFound(err) {
			httputil.WriteError(w, http.StatusNotFound, err.Error())
			return
		}
		r.logger.Error("failed to load job", log.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, "failed to load job")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, job)
}

// handleRunnerIdle handles POST /v1/runners/{runnerId}/idle.
func (r *Router) handleRunnerIdle(w http.ResponseWriter, req *http.Request) {
	id := req.PathValue("runnerId")
	if id == "" {
		httputil.WriteError(w, http.StatusBadRequest, "runner id required")
		return
	}
	r.runners.MarkIdle(id, time.Now().UTC())
	r.logger.Debug("runner idle", slog.String(log.RunnerIDKey, id))
	w.WriteHeader(http.StatusNoContent)
}

// handleListRunners handles GET /v1/runners.
func (r *Router) handleListRunners(w http.ResponseWriter, req *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"runners": r.runners.List()})
}
