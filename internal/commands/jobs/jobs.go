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

package jobs

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/log"
)

// NewCommand creates the jobs command group.
func NewCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Run and manage the jobs service",
		Long: `The jobs service accepts tasks, resolves their configuration, tracks
job records and drives script execution on a runner.`,
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newImportCommand())
	return cmd
}

func newServeCommand() *cobra.Command {
	var (
		listen     string
		waitRunner time.Duration
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the jobs service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Jobs.Listen = listen
			}
			logger := log.WithComponent(shared.NewLogger(cfg), "jobs")

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			svc, err := NewService(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), shared.ShutdownTimeout)
				defer cancel()
				if err := svc.Close(closeCtx); err != nil {
					logger.Warn("shutdown incomplete", log.Error(err))
				}
			}()

			if waitRunner > 0 {
				if err := svc.Runner.WaitReady(ctx, waitRunner); err != nil {
					return fmt.Errorf("runner at %s: %w", cfg.Jobs.RunnerURL, err)
				}
			}

			srv := &http.Server{
				Addr:              cfg.Jobs.Listen,
				Handler:           svc.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}
			return shared.Serve(ctx, logger, srv)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides jobs.listen)")
	cmd.Flags().DurationVar(&waitRunner, "wait-runner", 0, "Wait up to this long for the runner to become healthy before serving")
	return cmd
}
