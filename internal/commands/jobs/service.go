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

// Package jobs implements the "relay jobs" commands.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/featureflags"
	"github.com/tombee/relay/internal/jobs/api"
	"github.com/tombee/relay/internal/jobs/configresolver"
	"github.com/tombee/relay/internal/jobs/dispatcher"
	"github.com/tombee/relay/internal/jobs/errorreport"
	"github.com/tombee/relay/internal/jobs/execution"
	"github.com/tombee/relay/internal/jobs/lifecycle"
	"github.com/tombee/relay/internal/jobs/logctx"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/runnerclient"
	"github.com/tombee/relay/internal/tracing"
)

// Service is a fully wired jobs service.
type Service struct {
	Store      store.Store
	Dispatcher *dispatcher.Dispatcher
	Router     *api.Router
	Runner     *runnerclient.Client

	tracing *tracing.Provider
	redis   *redis.Client
	logger  *slog.Logger
}

// NewService opens storage and wires the dispatcher and HTTP API from cfg.
func NewService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Service, error) {
	st, err := shared.OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	svc := &Service{Store: st, logger: logger}

	svc.tracing, err = shared.NewTracing(ctx, cfg, "jobs")
	if err != nil {
		svc.Close(ctx)
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	syncMetrics, err := tracing.NewSyncMetrics(svc.tracing.MeterProvider())
	if err != nil {
		svc.Close(ctx)
		return nil, fmt.Errorf("init sync metrics: %w", err)
	}

	var flags featureflags.Provider = featureflags.FromEnv()
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			svc.Close(ctx)
			return nil, shared.NewConfigError("invalid redis url", err)
		}
		svc.redis = redis.NewClient(opts)
		flags = featureflags.NewRedisProvider(svc.redis, featureflags.FromEnv(), logger)
	}

	authCfg := shared.AuthConfig(cfg)
	completions := execution.NewCompletions()
	svc.Runner = runnerclient.New(runnerclient.Config{
		BaseURL: cfg.Jobs.RunnerURL,
		Auth:    authCfg,
		Logger:  logger,
	})
	executor := execution.NewRemoteExecutor(svc.Runner, completions, execution.RemoteConfig{
		Mode:              execution.Mode(cfg.Jobs.ExecutionMode),
		CompletionTimeout: cfg.Jobs.CompletionTimeout,
		Logger:            logger,
	})

	svc.Dispatcher, err = dispatcher.New(dispatcher.Deps{
		Resolver: configresolver.New(st, configresolver.Config{
			TTL:    cfg.Cache.ConfigTTL,
			Size:   cfg.Cache.Size,
			Logger: logger,
		}),
		Jobs:         st,
		Environments: st,
		Tracker:      lifecycle.NewTracker(st, logger),
		LogContexts:  logctx.NewStoreProvider(st, logger),
		Reporter:     errorreport.NewLogReporter(logger),
		Executor:     executor,
		Flags:        flags,
		Tracer:       svc.tracing.Tracer("github.com/tombee/relay/internal/jobs/dispatcher"),
		SyncMetrics:  syncMetrics,
		Logger:       logger,
	})
	if err != nil {
		svc.Close(ctx)
		return nil, err
	}

	var metricsHandler http.Handler
	if cfg.Metrics.Enabled {
		metricsHandler = svc.tracing.MetricsHandler()
	}
	v, _, _ := shared.GetVersion()
	svc.Router = api.NewRouter(api.Config{
		Tasks:       svc.Dispatcher,
		Completions: completions,
		Jobs:        st,
		Auth:        authCfg,
		Metrics:     metricsHandler,
		Version:     v,
		Logger:      logger,
	})
	return svc, nil
}

// Handler returns the jobs HTTP handler.
func (s *Service) Handler() http.Handler {
	return s.Router.Handler()
}

// Close releases storage, Redis and the telemetry providers.
func (s *Service) Close(ctx context.Context) error {
	var errs []error
	if s.tracing != nil {
		errs = append(errs, s.tracing.Shutdown(ctx))
	}
	if s.redis != nil {
		errs = append(errs, s.redis.Close())
	}
	if s.Store != nil {
		errs = append(errs, s.Store.Close())
	}
	return errors.Join(errs...)
}
