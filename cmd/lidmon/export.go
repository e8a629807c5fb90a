package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/BrandonDHaskell/lidmon/internal/export"
)

var (
	exportDir      string
	exportS3Bucket string
	exportS3Key    string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the event log as JSONL to the configured destinations once",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if exportDir != "" {
			cfg.Export.Dir = exportDir
		}
		if exportS3Bucket != "" {
			cfg.Export.S3Bucket = exportS3Bucket
		}
		if exportS3Key != "" {
			cfg.Export.S3Key = exportS3Key
		}
		if !cfg.Export.HasDestination() {
			return errors.New("no export destination: set --dir or --s3-bucket")
		}

		logger := newLogger(cfg, os.Stderr)
		st := openStores(cfg)
		defer st.Close()

		ctx := cmd.Context()
		if err := st.events.EnsureSchema(ctx); err != nil {
			return err
		}

		dests := exportDestinations(ctx, cfg.Export, logger)
		if len(dests) == 0 {
			return errors.New("no usable export destination")
		}

		stats, err := export.NewExporter(st.events, dests, logger).RunOnce(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "exported %d event(s), %d bytes\n", stats.Events, stats.Bytes)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportDir, "dir", "", "write the export into this directory")
	exportCmd.Flags().StringVar(&exportS3Bucket, "s3-bucket", "", "upload the export to this bucket")
	exportCmd.Flags().StringVar(&exportS3Key, "s3-key", "", "object key for the S3 upload")
}
