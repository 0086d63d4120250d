// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var configPath string

// defaultConfigPath mirrors the teacher's "next to the user's config
// directory" convention: ~/.config/mlm/config.toml, falling back to
// ./config.toml if the OS gives us nothing usable.
func defaultConfigPath() string {
	if dir, err := os.UserConfigDir(); err == nil {
		return filepath.Join(dir, "mlm", "config.toml")
	}
	return "config.toml"
}

func Execute() error {
	return rootCmd().Execute()
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mlm",
		Short: "mlm reconciles a MaM audiobook/ebook search spec against qBittorrent and a local library",
		// Running mlm with no subcommand starts the daemon, same as `mlm serve`.
		RunE: runServe,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "path to config.toml")

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(dbCmd())
	cmd.AddCommand(versionCmd())
	cmd.AddCommand(authCmd())
	return cmd
}
