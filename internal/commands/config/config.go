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

// Package config implements "relay config".
package config

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/tombee/relay/internal/commands/shared"
	"github.com/tombee/relay/internal/config"
)

const masked = "********"

// NewConfigCommand creates the config command with subcommands
func NewConfigCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and check configuration",
		Long: `View and check relay configuration.

Subcommands:
  show     - Display the effective configuration
  validate - Load and validate the configuration`,
	}

	cmd.AddCommand(newConfigShowCommand())
	cmd.AddCommand(newConfigValidateCommand())

	return cmd
}

func newConfigShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		Long: `Display the configuration after defaults and RELAY_* environment
overrides are applied. Secrets and connection credentials are masked.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := shared.LoadConfig()
			if err != nil {
				return err
			}
			safe := Mask(cfg)

			if shared.GetJSON() {
				return shared.EmitJSONTo(cmd.OutOrStdout(), safe)
			}
			data, err := yaml.Marshal(safe)
			if err != nil {
				return fmt.Errorf("failed to render config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}

func newConfigValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := shared.LoadConfig(); err != nil {
				return err
			}
			if shared.GetJSON() {
				return shared.EmitJSONTo(cmd.OutOrStdout(), shared.JSONResponse{Version: "1.0", Command: "config validate", Success: true})
			}
			cmd.Println("configuration is valid")
			return nil
		},
	}
}

// Mask returns a copy of cfg with secrets and URL credentials hidden.
func Mask(cfg *config.Config) *config.Config {
	out := *cfg
	if out.Auth.Secret != "" {
		out.Auth.Secret = masked
	}
	out.Redis.URL = maskURL(out.Redis.URL)
	out.Store.Postgres.URL = maskURL(out.Store.Postgres.URL)
	return &out
}

func maskURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return masked
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
