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

package log

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// RequestIDHeader carries the request id between the jobs and runner services.
const RequestIDHeader = "X-Request-Id"

// HTTPRequest represents an inbound RPC request for logging purposes.
type HTTPRequest struct {
	Method     string
	Path       string
	RequestID  string
	RemoteAddr string
}

// HTTPResponse represents the outcome of an RPC request for logging purposes.
type HTTPResponse struct {
	Status     int
	DurationMs int64
}

// LogRequest logs an incoming RPC request at debug level.
func LogRequest(logger *slog.Logger, req *HTTPRequest) {
	logger.Debug("rpc request received",
		"event", "rpc_request",
		"method", req.Method,
		"path", req.Path,
		"request_id", req.RequestID,
		"remote", req.RemoteAddr,
	)
}

// LogResponse logs a completed RPC request. Server errors are logged at error level.
func LogResponse(logger *slog.Logger, req *HTTPRequest, resp *HTTPResponse) {
	level := slog.LevelInfo
	message := "rpc request completed"
	if resp.Status >= http.StatusInternalServerError {
		level = slog.LevelError
		message = "rpc request failed"
	}

	logger.Log(context.Background(), level, message,
		"event", "rpc_response",
		"method", req.Method,
		"path", req.Path,
		"status", resp.Status,
		"request_id", req.RequestID,
		DurationKey, resp.DurationMs,
	)
}

// statusRecorder captures the status code written by the wrapped handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Middleware wraps an http.Handler with request/response logging.
type Middleware struct {
	logger *slog.Logger
}

// NewMiddleware creates a new logging middleware.
func NewMiddleware(logger *slog.Logger) *Middleware {
	if logger == nil {
		logger = Discard()
	}
	return &Middleware{logger: logger}
}

// Handler returns next wrapped with logging. A request id is assigned when the
// caller did not send one and echoed back in the response headers.
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(RequestIDHeader)
		if requestID == "" {
			requestID = uuid.NewString()
			r.Header.Set(RequestIDHeader, requestID)
		}
		w.Header().Set(RequestIDHeader, requestID)

		req := &HTTPRequest{
			Method:     r.Method,
			Path:       r.URL.Path,
			RequestID:  requestID,
			RemoteAddr: r.RemoteAddr,
		}
		LogRequest(m.logger, req)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		LogResponse(m.logger, req, &HTTPResponse{
			Status:     rec.status,
			DurationMs: time.Since(start).Milliseconds(),
		})
	})
}
