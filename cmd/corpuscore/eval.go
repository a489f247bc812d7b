package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/storage"
	"github.com/lexcite/corpuscore/internal/telemetry"
)

func newEvalCmd() *cobra.Command {
	var window time.Duration
	var limit int

	cmd := &cobra.Command{
		Use:   "eval",
		Short: "Aggregate recent query runs and report verification-rate alerts",
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

			since := time.Now().Add(-window)
			runs, err := db.RecentQueryRuns(cmd.Context(), since, limit)
			if err != nil {
				return fmt.Errorf("fetch recent query runs: %w", err)
			}

			agg := telemetry.ComputeAggregate(runs)
			alerts := telemetry.Alerts(agg)

			report := struct {
				Window  string             `json:"window"`
				Since   time.Time          `json:"since"`
				Summary telemetry.Aggregate `json:"summary"`
				Alerts  []telemetry.Alert  `json:"alerts"`
			}{
				Window:  window.String(),
				Since:   since,
				Summary: agg,
				Alerts:  alerts,
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}

			for _, a := range alerts {
				logger.Warn("eval threshold breached", "alert", a.Name, "threshold", a.Threshold, "observed", a.Observed)
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "how far back to pull query runs")
	cmd.Flags().IntVar(&limit, "limit", 10_000, "maximum number of query runs to aggregate")
	return cmd
}
