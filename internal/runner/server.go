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

// Package runner implements the runner service: the HTTP surface the jobs
// service calls to execute scripts, plus the reports it sends back.
package runner

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/runner/monitor"
	"github.com/tombee/relay/internal/runner/sandbox"
)

// DefaultRequestTimeout bounds every inbound request.
const DefaultRequestTimeout = 24 * time.Hour

// StartRequest is the body of POST /start.
type StartRequest struct {
	TaskID     string               `json:"taskId"`
	Request    execution.Request    `json:"request"`
	ScriptType execution.ScriptType `json:"scriptType"`
}

// CancelRequest is the body of POST /cancel.
type CancelRequest struct {
	SyncID string `json:"syncId"`
}

// AcceptedResponse answers start and cancel.
type AcceptedResponse struct {
	Accepted bool `json:"accepted"`
}

// Config wires a Server.
type Config struct {
	Sandbox  sandbox.Sandbox
	Monitor  *monitor.Monitor
	Reporter CompletionReporter

	// RequestTimeout bounds each inbound request. Default: 24h
	RequestTimeout time.Duration

	// ReportTimeout bounds a single completion report. Default: 30s
	ReportTimeout time.Duration

	Auth    auth.Config
	Version string
	Logger  *slog.Logger
}

// Server is the runner HTTP server.
type Server struct {
	mux      *http.ServeMux
	sandbox  sandbox.Sandbox
	monitor  *monitor.Monitor
	reporter CompletionReporter
	cfg      Config
	logger   *slog.Logger

	// Detached executions run under ctx so Close can stop them.
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	closed sync.Once
}

// NewServer creates a runner server.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	if cfg.ReportTimeout == 0 {
		cfg.ReportTimeout = 30 * time.Second
	}
	mon := cfg.Monitor
	if mon == nil {
		mon = monitor.New()
	}

	ctx, stop := context.WithCancel(context.Background())
	s := &Server{
		mux:      http.NewServeMux(),
		sandbox:  cfg.Sandbox,
		monitor:  mon,
		reporter: cfg.Reporter,
		cfg:      cfg,
		logger:   log.WithComponent(logger, "runner"),
		ctx:      ctx,
		stop:     stop,
	}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /run", s.handleRun)
	s.mux.HandleFunc("POST /start", s.handleStart)
	s.mux.HandleFunc("POST /cancel", s.handleCancel)
	return s
}

// Handler returns the server wrapped in the request timeout, service auth
// and request logging.
func (s *Server) Handler() http.Handler {
	timed := http.TimeoutHandler(s.mux, s.cfg.RequestTimeout, `{"error":"request timed out"}`)
	authed := auth.Middleware(s.cfg.Auth, auth.ServiceRunner, s.logger, "/health")(timed)
	return log.NewMiddleware(s.logger).Handler(authed)
}

// Monitor returns the in-flight table.
func (s *Server) Monitor() *monitor.Monitor {
	return s.monitor
}

// Close stops detached executions and waits for their reports.
func (s *Server) Close() {
	s.closed.Do(func() {
		s.stop()
		s.wg.Wait()
	})
}
