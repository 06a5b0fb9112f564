package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"ingest/internal/shared/config"
)

func newConsentStatusCommand() *cobra.Command {
	var userIDs string

	cmd := &cobra.Command{
		Use:     "consent-status",
		Short:   "Report whether users have a usable bank consent",
		Example: "  admin consent-status --user-id=1,2",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if userIDs == "" {
				return errors.New("must specify --user-id")
			}
			ids, err := parseUserIDs(userIDs)
			if err != nil {
				return err
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}

			rt, err := newSyncRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx := cmd.Context()
			for _, id := range ids {
				status, err := rt.consent.GetConsentStatus(ctx, id)
				if err != nil {
					return fmt.Errorf("user %d: %w", id, err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "User %d: %s\n", id, status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&userIDs, "user-id", "", "User ID(s) to check (comma-separated for multiple)")

	return cmd
}
