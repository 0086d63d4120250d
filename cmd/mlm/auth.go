// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/s0up/mlm/internal/auth"
	"github.com/s0up/mlm/internal/config"
)

func authCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Admin credential and qBittorrent secret management",
	}

	cmd.AddCommand(authSetPasswordCmd())
	cmd.AddCommand(authEncryptPasswordCmd())
	return cmd
}

// authSetPasswordCmd bcrypt-hashes a new admin password and prints the
// config.toml line to paste in; it never writes config.toml itself so an
// operator's hand edits and comments are never clobbered.
func authSetPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set-password <password>",
		Short: "Hash a new admin password for adminPasswordHash in config.toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := auth.HashPassword(args[0])
			if err != nil {
				return err
			}
			cmd.Printf("adminPasswordHash = %q\n", hash)
			return nil
		},
	}
	return cmd
}

// authEncryptPasswordCmd encrypts a qBittorrent instance password against
// the configured sessionSecret, for pasting into a [[qbittorrent]] block's
// password field.
func authEncryptPasswordCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "encrypt-password <password>",
		Short: "Encrypt a qBittorrent instance password for config.toml",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr, err := config.New(configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()

			cfg := mgr.Current()
			if cfg.SessionSecret == "" {
				return errors.New("sessionSecret is not set in config.toml; set it before encrypting any instance password")
			}

			ciphertext, err := config.EncryptQbitPassword(cfg.SessionSecret, args[0])
			if err != nil {
				return err
			}
			cmd.Printf("password = %q\n", ciphertext)
			return nil
		},
	}
	return cmd
}

// isTerminal reports whether fd is an interactive terminal, used by serve
// to decide on colored console log output vs. the plain writer a process
// supervisor or log file expects.
func isTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
