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

package shared

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tombee/relay/internal/auth"
	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/jobs/store"
	"github.com/tombee/relay/internal/jobs/store/memory"
	"github.com/tombee/relay/internal/jobs/store/postgres"
	"github.com/tombee/relay/internal/jobs/store/sqlite"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/tracing"
)

// ShutdownTimeout bounds graceful HTTP shutdown.
const ShutdownTimeout = 30 * time.Second

// LoadConfig loads the config file named by --config plus environment
// overrides.
func LoadConfig() (*config.Config, error) {
	cfg, err := config.Load(GetConfigPath())
	if err != nil {
		return nil, NewConfigError("failed to load config", err)
	}
	return cfg, nil
}

// NewLogger builds the process logger from the log section.
func NewLogger(cfg *config.Config) *slog.Logger {
	return log.New(&log.Config{
		Level:     cfg.Log.Level,
		Format:    log.Format(cfg.Log.Format),
		Output:    os.Stderr,
		AddSource: cfg.Log.AddSource,
	})
}

// AuthConfig converts the auth section into service token settings.
func AuthConfig(cfg *config.Config) auth.Config {
	return auth.Config{
		Secret: []byte(cfg.Auth.Secret),
		Issuer: cfg.Auth.Issuer,
	}
}

// NewTracing creates the otel provider for service.
func NewTracing(ctx context.Context, cfg *config.Config, service string) (*tracing.Provider, error) {
	v, _, _ := GetVersion()
	name := cfg.Tracing.ServiceName
	if name == "" {
		name = "relay"
	}
	return tracing.NewProvider(ctx, tracing.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    name + "-" + service,
		ServiceVersion: v,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
		Insecure:       cfg.Tracing.Insecure,
	})
}

// OpenStore opens the configured storage backend.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Type {
	case config.StoreMemory, "":
		return memory.New(), nil
	case config.StoreSQLite:
		b, err := sqlite.New(sqlite.Config{Path: cfg.SQLite.Path, WAL: cfg.SQLite.WAL})
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return b, nil
	case config.StorePostgres:
		b, err := postgres.New(ctx, postgres.Config{
			ConnectionString: cfg.Postgres.URL,
			MaxConns:         cfg.Postgres.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("open postgres store: %w", err)
		}
		return b, nil
	default:
		return nil, fmt.Errorf("unknown store type %q", cfg.Type)
	}
}

// Serve runs srv until ctx is done, then shuts it down gracefully. Extra
// funcs run alongside the server in the same group.
func Serve(ctx context.Context, logger *slog.Logger, srv *http.Server, extra ...func(ctx context.Context) error) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve %s: %w", srv.Addr, err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
		defer cancel()
		logger.Info("shutting down", slog.String("addr", srv.Addr))
		return srv.Shutdown(shutdownCtx)
	})

	for _, fn := range extra {
		g.Go(func() error { return fn(gctx) })
	}

	return g.Wait()
}
