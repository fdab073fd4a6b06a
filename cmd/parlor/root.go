// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/parlor/parlor/internal/config"
	"github.com/parlor/parlor/internal/xdg"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the parlor CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "parlor",
		Short: "Parlor - real-time login and registration gateway",
		Long: `Parlor accepts persistent WebSocket connections from chat clients and
answers their login, registration and username availability events.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path (default: $XDG_CONFIG_HOME/parlor/config.yaml)")

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewConfigCmd())

	return cmd
}

// loadConfig resolves the effective configuration for cmd. Without --config
// the user's XDG config file is used when present.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := configFile
	if path == "" {
		path = xdg.DefaultConfigFile(os.Getenv)
	}
	return config.Load(path, cmd.Flags(), os.Getenv)
}

// NewConfigCmd creates the config subcommand.
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration that serve would use after applying defaults,
the config file, flags and DATABASE_URL. Passwords are redacted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out, err := cfg.YAML()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}
