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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/jobs/store"
)

// Catalog is the YAML document loaded by "relay jobs import".
type Catalog struct {
	Environments    []store.AccountEnvironment `yaml:"environments"`
	ProviderConfigs []store.ProviderConfig     `yaml:"provider_configs"`
	Scripts         []CatalogScript            `yaml:"scripts"`
	Syncs           []store.Sync               `yaml:"syncs"`
}

// CatalogScript is a script config plus its optional output schema, written
// as YAML and stored as JSON.
type CatalogScript struct {
	store.ScriptConfig `yaml:",inline"`
	OutputSchema       map[string]any `yaml:"output_schema,omitempty"`
}

// ImportSummary counts imported records.
type ImportSummary struct {
	shared.JSONResponse
	Environments    int `json:"environments"`
	ProviderConfigs int `json:"providerConfigs"`
	Scripts         int `json:"scripts"`
	Syncs           int `json:"syncs"`
}

// ParseCatalog decodes a catalog document.
func ParseCatalog(data []byte) (*Catalog, error) {
	var c Catalog
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	return &c, nil
}

// Import writes every catalog record to st. Existing records with the same
// identity are replaced.
func Import(ctx context.Context, st store.CatalogStore, c *Catalog) (*ImportSummary, error) {
	sum := &ImportSummary{JSONResponse: shared.JSONResponse{Version: "1.0", Command: "jobs import", Success: true}}

	for _, ae := range c.Environments {
		if ae.Environment.AccountID == 0 {
			ae.Environment.AccountID = ae.Account.ID
		}
		if err := st.PutAccountEnvironment(ctx, ae); err != nil {
			return nil, fmt.Errorf("environment %d: %w", ae.Environment.ID, err)
		}
		sum.Environments++
	}
	for i := range c.ProviderConfigs {
		pc := c.ProviderConfigs[i]
		if err := st.PutProviderConfig(ctx, &pc); err != nil {
			return nil, fmt.Errorf("provider config %s: %w", pc.UniqueKey, err)
		}
		sum.ProviderConfigs++
	}
	for _, cs := range c.Scripts {
		sc := cs.ScriptConfig
		if cs.OutputSchema != nil {
			raw, err := json.Marshal(cs.OutputSchema)
			if err != nil {
				return nil, fmt.Errorf("script %s: output schema: %w", sc.Name, err)
			}
			sc.OutputSchema = raw
		}
		if err := st.PutScriptConfig(ctx, &sc); err != nil {
			return nil, fmt.Errorf("script %s: %w", sc.Name, err)
		}
		sum.Scripts++
	}
	for i := range c.Syncs {
		s := c.Syncs[i]
		if err := st.PutSync(ctx, &s); err != nil {
			return nil, fmt.Errorf("sync %s: %w", s.ID, err)
		}
		sum.Syncs++
	}
	return sum, nil
}

func newImportCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "import <catalog.yaml>",
		Short: "Load environments, provider configs, scripts and syncs into the store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return shared.NewInvalidInputError("failed to read catalog", err)
			}
			catalog, err := ParseCatalog(data)
			if err != nil {
				return shared.NewInvalidInputError("invalid catalog", err)
			}

			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			st, err := shared.OpenStore(cmd.Context(), cfg.Store)
			if err != nil {
				return shared.NewConfigError("failed to open store", err)
			}
			defer st.Close()

			sum, err := Import(cmd.Context(), st, catalog)
			if err != nil {
				return err
			}

			if shared.GetJSON() {
				return shared.EmitJSONTo(cmd.OutOrStdout(), sum)
			}
			cmd.Printf("imported %d environments, %d provider configs, %d scripts, %d syncs\n",
				sum.Environments, sum.ProviderConfigs, sum.Scripts, sum.Syncs)
			return nil
		},
	}
}
