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
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/log"
)

// CompletionReporter sends the outcome of a started script to the jobs
// service.
type CompletionReporter interface {
	Report(ctx context.Context, taskID string, comp execution.Completion) error
}

// IdleReporter tells the jobs service the runner has nothing in flight.
type IdleReporter interface {
	NotifyIdle(ctx context.Context, runnerID string) error
}

// JobsClientConfig configures a JobsClient.
type JobsClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Auth    auth.Config
}

// JobsClient calls back into the jobs service.
type JobsClient struct {
	http *resty.Client
	auth auth.Config
}

var (
	_ CompletionReporter = (*JobsClient)(nil)
	_ IdleReporter       = (*JobsClient)(nil)
)

// NewJobsClient creates a client for the jobs service at cfg.BaseURL.
func NewJobsClient(cfg JobsClientConfig) *JobsClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &JobsClient{http: client, auth: cfg.Auth}
}

// Report implements CompletionReporter. Reports are not retried.
func (c *JobsClient) Report(ctx context.Context, taskID string, comp execution.Completion) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetPathParam("taskId", taskID).
		SetBody(comp).
		Put("/v1/tasks/{taskId}/completion")
	if err != nil {
		return fmt.Errorf("report completion for task %s: %w", taskID, err)
	}
	if resp.IsError() {
		return fmt.Errorf("report completion for task %s: status %d: %s", taskID, resp.StatusCode(), resp.String())
	}
	return nil
}

// NotifyIdle implements IdleReporter.
func (c *JobsClient) NotifyIdle(ctx context.Context, runnerID string) error {
	req, err := c.request(ctx)
	if err != nil {
		return err
	}
	resp, err := req.
		SetPathParam("runnerId", runnerID).
		Post("/v1/runners/{runnerId}/idle")
	if err != nil {
		return fmt.Errorf("notify idle: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("notify idle: status %d", resp.StatusCode())
	}
	return nil
}

func (c *JobsClient) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if c.auth.Enabled() {
		token, err := auth.Generate(auth.ServiceRunner, auth.ServiceJobs, c.auth)
		if err != nil {
			return nil, fmt.Errorf("sign service token: %w", err)
		}
		req.SetAuthToken(token)
	}
	return req, nil
}

// IdleNotifier forwards monitor idle events to an IdleReporter at most once
// per interval.
type IdleNotifier struct {
	reporter IdleReporter
	runnerID string
	limiter  *rate.Limiter
	timeout  time.Duration
	logger   *slog.Logger
}

// NewIdleNotifier creates a notifier. An interval of zero notifies on every
// idle event.
func NewIdleNotifier(reporter IdleReporter, runnerID string, interval time.Duration, logger *slog.Logger) *IdleNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IdleNotifier{
		reporter: reporter,
		runnerID: runnerID,
		limiter:  rate.NewLimiter(limit, 1),
		timeout:  10 * time.Second,
		logger:   log.WithRunner(log.WithComponent(logger, "idle-notifier"), runnerID),
	}
}

// Notify sends an idle notification in the background unless one was sent
// within the interval. It is meant to be used as a monitor idle hook.
func (n *IdleNotifier) Notify() {
	if !n.limiter.Allow() {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()
		if err := n.reporter.NotifyIdle(ctx, n.runnerID); err != nil {
			n.logger.Warn("idle notification failed", log.Error(err))
		}
	}()
}
