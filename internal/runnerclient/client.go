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

// Package runnerclient is the jobs service's client for the runner RPC.
package runnerclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sethvargo/go-retry"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/runner"
)

// Config configures a Client.
type Config struct {
	BaseURL string

	// Timeout bounds each call. Blocking runs last as long as the script,
	// so the default is generous. Default: 24h
	Timeout time.Duration

	Auth   auth.Config
	Logger *slog.Logger
}

// Client calls a runner service.
type Client struct {
	http   *resty.Client
	auth   auth.Config
	logger *slog.Logger
}

var _ execution.Runner = (*Client)(nil)

// New creates a client for the runner at cfg.BaseURL.
func New(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = runner.DefaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &Client{
		http:   client,
		auth:   cfg.Auth,
		logger: log.WithComponent(logger, "runner-client"),
	}
}

// APIError is a non-2xx answer from the runner.
type APIError struct {
	Operation  string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("runner %s: status %d: %s", e.Operation, e.StatusCode, e.Message)
}

type errorBody struct {
	Error string `json:"error"`
}

// Run executes req on the runner and waits for the outcome.
func (c *Client) Run(ctx context.Context, req execution.Request) (*execution.Output, error) {
	var out execution.Output
	if err := c.call(ctx, "run", "/run", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Start hands req to the runner for detached execution.
func (c *Client) Start(ctx context.Context, taskID string, req execution.Request) (bool, error) {
	body := runner.StartRequest{TaskID: taskID, Request: req, ScriptType: req.ScriptType()}
	var resp runner.AcceptedResponse
	if err := c.call(ctx, "start", "/start", body, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// Cancel asks the runner to stop the scripts running for syncID.
func (c *Client) Cancel(ctx context.Context, syncID string) (bool, error) {
	var resp runner.AcceptedResponse
	if err := c.call(ctx, "cancel", "/cancel", runner.CancelRequest{SyncID: syncID}, &resp); err != nil {
		return false, err
	}
	return resp.Accepted, nil
}

// Health checks the runner is serving.
func (c *Client) Health(ctx context.Context) (*runner.HealthResponse, error) {
	var health runner.HealthResponse
	resp, err := c.http.R().SetContext(ctx).SetResult(&health).Get("/health")
	if err != nil {
		return nil, fmt.Errorf("runner health: %w", err)
	}
	if resp.IsError() {
		return nil, &APIError{Operation: "health", StatusCode: resp.StatusCode(), Message: resp.String()}
	}
	return &health, nil
}

// WaitReady polls Health with exponential backoff until the runner answers
// or maxWait elapses.
func (c *Client) WaitReady(ctx context.Context, maxWait time.Duration) error {
	backoff := retry.WithMaxDuration(maxWait, retry.WithCappedDuration(2*time.Second, retry.NewExponential(100*time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if _, err := c.Health(ctx); err != nil {
			c.logger.Debug("runner not ready", log.Error(err))
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("runner not ready after %s: %w", maxWait, err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, op, path string, body, result any) error {
	req := c.http.R().SetContext(ctx).SetBody(body).SetResult(result).SetError(&errorBody{})
	if c.auth.Enabled() {
		token, err := auth.Generate(auth.ServiceJobs, auth.ServiceRunner, c.auth)
		if err != nil {
			return fmt.Errorf("sign service token: %w", err)
		}
		req.SetAuthToken(token)
	}

	resp, err := req.Post(path)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("runner %s: %w", op, err)
	}
	if resp.IsError() {
		msg := resp.String()
		if e, ok := resp.Error().(*errorBody); ok && e.Error != "" {
			msg = e.Error
		}
		return &APIError{Operation: op, StatusCode: resp.StatusCode(), Message: msg}
	}
	return nil
}
