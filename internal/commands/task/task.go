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

// Package task implements the "relay task" commands, which submit work to a
// running jobs service.
package task

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/jobs/api"
	"github.com/tombee/relay/internal/task"
	"github.com/tombee/relay/schemas"
)

// NewCommand creates the task command group.
func NewCommand() *cobra.Command {
	var jobsURL string

	cmd := &cobra.Command{
		Use:   "task",
		Short: "Submit and cancel tasks on a jobs service",
	}
	cmd.PersistentFlags().StringVar(&jobsURL, "jobs-url", "", "Jobs service URL (overrides runner.jobs_url)")
	cmd.AddCommand(newDispatchCommand(&jobsURL))
	cmd.AddCommand(newCancelCommand(&jobsURL))
	cmd.AddCommand(newSchemaCommand())
	return cmd
}

// Client submits tasks to the jobs service.
type Client struct {
	http *resty.Client
	auth auth.Config
}

// NewClient creates a client for the jobs service at baseURL.
func NewClient(baseURL string, authCfg auth.Config, timeout time.Duration) *Client {
	return &Client{
		http: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("Accept", "application/json"),
		auth: authCfg,
	}
}

// Dispatch submits an encoded task envelope and waits for its result.
func (c *Client) Dispatch(ctx context.Context, envelope []byte) (*api.TaskResponse, error) {
	req, err := c.request(ctx)
	if err != nil {
		return nil, err
	}
	var out api.TaskResponse
	resp, err := req.SetBody(envelope).SetResult(&out).Post("/v1/tasks")
	if err != nil {
		return nil, fmt.Errorf("submit task: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("submit task: status %d: %s", resp.StatusCode(), resp.String())
	}
	return &out, nil
}

// Cancel asks the jobs service to cancel an in-flight task.
func (c *Client) Cancel(ctx context.Context, taskID, reason string) (bool, error) {
	req, err := c.request(ctx)
	if err != nil {
		return false, err
	}
	var out struct {
		Accepted bool `json:"accepted"`
	}
	resp, err := req.
		SetPathParam("taskId", taskID).
		SetBody(api.CancelRequest{Reason: reason}).
		SetResult(&out).
		Post("/v1/tasks/{taskId}/cancel")
	if err != nil {
		return false, fmt.Errorf("cancel task: %w", err)
	}
	if resp.IsError() {
		return false, fmt.Errorf("cancel task %s: status %d: %s", taskID, resp.StatusCode(), resp.String())
	}
	return out.Accepted, nil
}

func (c *Client) request(ctx context.Context) (*resty.Request, error) {
	req := c.http.R().SetContext(ctx)
	if c.auth.Enabled() {
		token, err := auth.Generate("relay-cli", auth.ServiceJobs, c.auth)
		if err != nil {
			return nil, fmt.Errorf("sign service token: %w", err)
		}
		req.SetAuthToken(token)
	}
	return req, nil
}

func newClient(jobsURL string) (*Client, error) {
	cfg, err := shared.LoadConfig()
	if err != nil {
		return nil, err
	}
	if jobsURL == "" {
		jobsURL = cfg.Runner.JobsURL
	}
	return NewClient(jobsURL, shared.AuthConfig(cfg), cfg.Jobs.CompletionTimeout), nil
}

func newDispatchCommand(jobsURL *string) *cobra.Command {
	return &cobra.Command{
		Use:   "dispatch <task.json|->",
		Short: "Submit a task envelope and print its result",
		Long: `Reads a task envelope such as
  {"type":"sync","id":"t-1","syncId":"S1","syncName":"issues","connection":{...}}
from a file (or stdin when the argument is "-"), submits it and waits for
the result. Exits non-zero when the task fails.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			envelope, err := readEnvelope(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			client, err := newClient(*jobsURL)
			if err != nil {
				return err
			}

			resp, err := client.Dispatch(cmd.Context(), envelope)
			if err != nil {
				return shared.NewTaskFailedError("dispatch failed", err)
			}
			return printResult(cmd, resp)
		},
	}
}

func newCancelCommand(jobsURL *string) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <taskId>",
		Short: "Cancel an in-flight task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(*jobsURL)
			if err != nil {
				return err
			}
			accepted, err := client.Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return shared.NewTaskFailedError("cancel failed", err)
			}
			if shared.GetJSON() {
				return shared.EmitJSONTo(cmd.OutOrStdout(), map[string]any{"taskId": args[0], "accepted": accepted})
			}
			cmd.Printf("cancel %s: accepted=%t\n", args[0], accepted)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Reason recorded with the cancellation")
	return cmd
}

func newSchemaCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the task envelope JSON Schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := cmd.OutOrStdout().Write(schemas.GetTaskSchema())
			return err
		},
	}
}

// readEnvelope loads and validates a task envelope before it is sent.
func readEnvelope(stdin io.Reader, path string) ([]byte, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, shared.NewInvalidInputError("failed to read task", err)
	}
	if _, err := task.Decode(data); err != nil {
		return nil, shared.NewInvalidInputError("invalid task", err)
	}
	return data, nil
}

func printResult(cmd *cobra.Command, resp *api.TaskResponse) error {
	if shared.GetJSON() {
		if err := shared.EmitJSONTo(cmd.OutOrStdout(), resp); err != nil {
			return err
		}
	} else if resp.OK {
		cmd.Printf("task %s succeeded\n%s\n", resp.TaskID, string(resp.Output))
	}
	if !resp.OK {
		return shared.NewTaskFailedError(fmt.Sprintf("task %s failed (%s)", resp.TaskID, resp.Kind), fmt.Errorf("%s", resp.Error))
	}
	return nil
}
