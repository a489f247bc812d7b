package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lexcite/corpuscore/internal/auth"
)

func newTokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token <service-name>",
		Short: "Issue a short-lived service token for calling the replay-packet endpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}

			mgr, err := auth.NewManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.ServiceTokenTTL)
			if err != nil {
				return fmt.Errorf("auth: %w", err)
			}

			token, expiresAt, err := mgr.IssueToken(args[0])
			if err != nil {
				return fmt.Errorf("issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires at %s\n", expiresAt.Format("2006-01-02T15:04:05Z07:00"))
			return nil
		},
	}
}
