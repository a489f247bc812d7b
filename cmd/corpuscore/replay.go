package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/audit"
	"github.com/lexcite/corpuscore/internal/storage"
)

func newReplayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "replay <run-id>",
		Short: "Print the replay packet for a past query run",
		Args:  cobra.ExactArgs(1),
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

			recorder := audit.NewRecorder(db, logger)
			packet, err := recorder.ReplayPacket(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("replay packet: %w", err)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(packet)
		},
	}
}
