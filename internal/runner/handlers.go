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

package runner

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/tombee/relay/internal/httputil"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
)

var startTime = time.Now()

// HealthResponse is the response format for /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Uptime   string `json:"uptime,omitempty"`
	Version  string `json:"version,omitempty"`
	InFlight int    `json:"inFlight"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, HealthResponse{
		Status:   "ok",
		Uptime:   time.Since(startTime).Round(time.Second).String(),
		Version:  s.cfg.Version,
		InFlight: s.monitor.Len(),
	})
}

// handleRun executes a script and answers with its outcome.
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	var req execution.Request
	if err := httputil.DecodeJSON(w, r, &req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("script execution panicked",
				slog.String(log.TaskIDKey, req.TaskID),
				slog.Any("panic", rec))
			httputil.WriteError(w, http.StatusInternalServerError, fmt.Sprintf("execution panicked: %v", rec))
		}
	}()
	untrack := s.monitor.Track(req)
	defer untrack()

	out, err := s.sandbox.Run(r.Context(), req)
	if err != nil {
		s.logger.Warn("script execution failed",
			slog.String(log.TaskIDKey, req.TaskID),
			slog.String(log.SyncIDKey, req.SyncID),
			log.Error(err))
		httputil.WriteError(w, http.StatusInternalServerError, err.Error())
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// handleStart accepts a script for detached execution. The outcome is sent
// to the jobs service as exactly one completion report.
func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	var body StartRequest
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.TaskID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "taskId is required")
		return
	}
	if body.Request.TaskID == "" {
		body.Request.TaskID = body.TaskID
	}
	if body.ScriptType == "" {
		body.ScriptType = body.Request.ScriptType()
	}
	if s.reporter == nil {
		httputil.WriteError(w, http.StatusServiceUnavailable, "completion reporting is not configured")
		return
	}

	untrack := s.monitor.Track(body.Request)
	s.wg.Add(1)
	go s.runDetached(body, untrack)

	httputil.WriteJSON(w, http.StatusOK, AcceptedResponse{Accepted: true})
}

func (s *Server) runDetached(body StartRequest, untrack func()) {
	defer s.wg.Done()
	defer untrack()

	comp := execution.Completion{ScriptType: body.ScriptType}
	defer func() {
		if rec := recover(); rec != nil {
			s.logger.Error("detached execution panicked",
				slog.String(log.TaskIDKey, body.TaskID),
				slog.Any("panic", rec))
			comp.Error = &execution.ScriptError{Type: "script_internal_error", Message: fmt.Sprintf("execution panicked: %v", rec)}
			comp.Output = nil
		}
		s.report(body.TaskID, comp)
	}()

	out, err := s.sandbox.Run(s.ctx, body.Request)
	switch {
	case err != nil:
		comp.Error = &execution.ScriptError{Type: "script_internal_error", Message: err.Error()}
	case out.Error != nil || !out.Success:
		comp.Error = out.Error
		if comp.Error == nil {
			comp.Error = &execution.ScriptError{Type: "script_internal_error", Message: "script reported failure"}
		}
	default:
		comp.Output = out.Response
	}
}

func (s *Server) report(taskID string, comp execution.Completion) {
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ReportTimeout)
	defer cancel()

	if err := s.reporter.Report(ctx, taskID, comp); err != nil {
		s.logger.Error("failed to report completion",
			slog.String(log.TaskIDKey, taskID),
			log.Error(err))
		return
	}
	s.logger.Debug("completion reported",
		slog.String(log.TaskIDKey, taskID),
		slog.Bool("failed", comp.Error != nil))
}

// handleCancel forwards a best-effort stop signal to the sandbox.
func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body CancelRequest
	if err := httputil.DecodeJSON(w, r, &body); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.SyncID == "" {
		httputil.WriteError(w, http.StatusBadRequest, "syncId is required")
		return
	}

	accepted := s.sandbox.Cancel(body.SyncID)
	s.logger.Info("cancel requested",
		slog.String(log.SyncIDKey, body.SyncID),
		slog.Bool("accepted", accepted))
	httputil.WriteJSON(w, http.StatusOK, AcceptedResponse{Accepted: accepted})
}
