package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/storage"
)

func newRetentionCleanupCmd() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "retention-cleanup",
		Short: "Run one retention pass over query_runs and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				return err
			}

			db, err := storage.New(cmd.Context(), cfg.DatabaseURL, logger)
			if err != nil {
				return fmt.Errorf("storage: %w", err)
			}
			defer db.Close(context.Background())

			result, err := db.RunRetention(cmd.Context(), time.Now(), cfg.RetentionRedactDays, cfg.RetentionDeleteDays, dryRun)
			if err != nil {
				return fmt.Errorf("retention pass: %w", err)
			}

			logger.Info("retention pass complete",
				"dry_run", result.DryRun,
				"redacted", result.RedactedCount,
				"deleted", result.DeletedCount,
			)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report counts without modifying any rows")
	return cmd
}
