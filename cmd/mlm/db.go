// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"

	"github.com/s0up/mlm/internal/backups"
	"github.com/s0up/mlm/internal/config"
)

func dbCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance operations",
	}

	cmd.AddCommand(dbBackupCmd())
	cmd.AddCommand(dbStatsCmd())
	return cmd
}

func dbBackupCmd() *cobra.Command {
	var (
		dir      string
		keepLast int
	)

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Snapshot the database file into a timestamped .tar.zst archive",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := config.New(configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()

			svc := backups.NewService(mgr.GetDatabasePath(), dir, buildSchemaVersion, backups.Retention{KeepLast: keepLast})
			path, err := svc.Backup(cmd.Context())
			if err != nil {
				return err
			}
			cmd.Printf("wrote backup: %s\n", path)
			return nil
		},
	}

	cmd.Flags().StringVar(&dir, "dir", "backups", "directory to write backup archives into")
	cmd.Flags().IntVar(&keepLast, "keep", 7, "number of backup archives to retain (<=0 keeps all)")
	return cmd
}

func dbStatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print row counts and on-disk size for the configured database",
		RunE: func(cmd *cobra.Command, _ []string) error {
			mgr, err := config.New(configPath)
			if err != nil {
				return err
			}
			defer mgr.Close()

			db, err := openDatabase(mgr)
			if err != nil {
				return err
			}
			defer db.Close()

			stats, err := backups.CollectStats(cmd.Context(), db.Conn(), mgr.GetDatabasePath())
			if err != nil {
				return err
			}

			cmd.Printf("database:        %s\n", mgr.GetDatabasePath())
			cmd.Printf("size bytes:      %d\n", stats.DatabaseSizeBytes)
			cmd.Printf("tracked torrents: %d\n", stats.TrackedTorrents)
			cmd.Printf("events:          %d\n", stats.Events)
			cmd.Printf("selection_ledger: %d\n", stats.SelectionLedger)
			return nil
		},
	}
	return cmd
}
