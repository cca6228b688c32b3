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

// Package configresolver resolves provider and script configuration for a
// task, with a short-lived cache in front of the catalog store.
package configresolver

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/tombee/relay/internal/jobs/store"
	relayerrors "github.com/tombee/relay/pkg/errors"
)

// Resolver looks up the configuration a task runs against. Both methods
// return nil, nil when the record does not exist.
type Resolver interface {
	GetProviderConfig(ctx context.Context, providerKey string, environmentID int64) (*store.ProviderConfig, error)
	GetScriptConfig(ctx context.Context, q store.ScriptQuery) (*store.ScriptConfig, error)
}

// Config controls the cache.
type Config struct {
	// TTL bounds how long a resolved record is served from cache.
	// Zero disables caching.
	TTL time.Duration

	// Size is the maximum number of cached records per kind.
	Size int

	Logger *slog.Logger
}

// Cached is a Resolver backed by a CatalogStore. Misses are never cached so
// newly imported configuration is visible on the next task.
type Cached struct {
	catalog   store.CatalogStore
	providers *expirable.LRU[string, store.ProviderConfig]
	scripts   *expirable.LRU[store.ScriptQuery, store.ScriptConfig]
	logger    *slog.Logger
}

var _ Resolver = (*Cached)(nil)

// New creates a resolver over catalog.
func New(catalog store.CatalogStore, cfg Config) *Cached {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	r := &Cached{catalog: catalog, logger: logger}
	if cfg.TTL > 0 && cfg.Size > 0 {
		r.providers = expirable.NewLRU[string, store.ProviderConfig](cfg.Size, nil, cfg.TTL)
		r.scripts = expirable.NewLRU[store.ScriptQuery, store.ScriptConfig](cfg.Size, nil, cfg.TTL)
	}
	return r
}

func providerKey(key string, environmentID int64) string {
	return fmt.Sprintf("%d/%s", environmentID, key)
}

// GetProviderConfig returns a copy of the provider config for key in the environment.
func (r *Cached) GetProviderConfig(ctx context.Context, key string, environmentID int64) (*store.ProviderConfig, error) {
	ck := providerKey(key, environmentID)
	if r.providers != nil {
		if pc, ok := r.providers.Get(ck); ok {
			return &pc, nil
		}
	}

	pc, err := r.catalog.GetProviderConfig(ctx, key, environmentID)
	if err != nil {
		if relayerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving provider config %s: %w", key, err)
	}

	out := *pc
	if r.providers != nil {
		r.providers.Add(ck, out)
	}
	return &out, nil
}

// GetScriptConfig returns a copy of the enabled script config matching q.
func (r *Cached) GetScriptConfig(ctx context.Context, q store.ScriptQuery) (*store.ScriptConfig, error) {
	if r.scripts != nil {
		if sc, ok := r.scripts.Get(q); ok {
			return cloneScript(sc), nil
		}
	}

	sc, err := r.catalog.GetScriptConfig(ctx, q)
	if err != nil {
		if relayerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("resolving script config %s: %w", q.Name, err)
	}

	if r.scripts != nil {
		r.scripts.Add(q, *cloneScript(*sc))
	}
	r.logger.Debug("resolved script config",
		slog.String("name", sc.Name),
		slog.Int64("config_id", sc.ConfigID),
		slog.Bool("is_action", sc.IsAction))
	return cloneScript(*sc), nil
}

// Purge drops every cached record.
func (r *Cached) Purge() {
	if r.providers != nil {
		r.providers.Purge()
	}
	if r.scripts != nil {
		r.scripts.Purge()
	}
}

func cloneScript(sc store.ScriptConfig) *store.ScriptConfig {
	sc.Models = append([]string(nil), sc.Models...)
	sc.Endpoints = append([]string(nil), sc.Endpoints...)
	if sc.OutputSchema != nil {
		sc.OutputSchema = append([]byte(nil), sc.OutputSchema...)
	}
	return &sc
}
