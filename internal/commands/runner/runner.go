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

// Package runner implements the "relay runner" commands.
package runner

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/runner"
	"github.com/tombee/relay/internal/runner/monitor"
	"github.com/tombee/relay/internal/runner/sandbox"
)

// NewCommand creates the runner command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runner",
		Short: "Run the script runner service",
	}
	cmd.AddCommand(newServeCommand())
	return cmd
}

// NewServer builds a runner server from cfg.
func NewServer(cfg *config.Config, logger *slog.Logger) (*runner.Server, error) {
	sb, err := sandbox.NewProcess(sandbox.Config{
		Command:    cfg.Runner.Sandbox.Command,
		Args:       cfg.Runner.Sandbox.Args,
		ScriptsDir: cfg.Runner.Sandbox.ScriptsDir,
		Logger:     logger,
	})
	if err != nil {
		return nil, err
	}

	authCfg := shared.AuthConfig(cfg)
	jobs := runner.NewJobsClient(runner.JobsClientConfig{BaseURL: cfg.Runner.JobsURL, Auth: authCfg})
	idle := runner.NewIdleNotifier(jobs, cfg.Runner.ID, cfg.Runner.IdleNotifyInterval, logger)

	v, _, _ := shared.GetVersion()
	return runner.NewServer(runner.Config{
		Sandbox:        sb,
		Monitor:        monitor.New(monitor.WithIdleHook(idle.Notify)),
		Reporter:       jobs,
		RequestTimeout: cfg.Runner.RequestTimeout,
		Auth:           authCfg,
		Version:        v,
		Logger:         log.WithRunner(logger, cfg.Runner.ID),
	}), nil
}

func newServeCommand() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the runner service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Runner.Listen = listen
			}
			logger := log.WithComponent(shared.NewLogger(cfg), "runner")

			srv, err := NewServer(cfg, logger)
			if err != nil {
				return shared.NewConfigError("invalid runner configuration", err)
			}
			defer srv.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			httpSrv := &http.Server{
				Addr:              cfg.Runner.Listen,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return shared.Serve(ctx, logger, httpSrv, func(ctx context.Context) error {
				<-ctx.Done()
				if n := srv.Monitor().Len(); n > 0 {
					logger.Info("stopping with executions in flight", slog.Int("count", n))
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides runner.listen)")
	return cmd
}
