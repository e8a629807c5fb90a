package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/lidmon/internal/db"
)

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Create or upgrade the database schema and print the applied versions",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		conn, err := db.OpenMigrated(ctx, db.Config{Path: cfg.DBPath})
		if err != nil {
			return fmt.Errorf("schema: %w", err)
		}
		defer conn.Close()

		versions, err := db.AppliedVersions(ctx, conn)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: schema versions %v\n", cfg.DBPath, versions)
		return nil
	},
}
