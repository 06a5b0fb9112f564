package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCommand creates the admin CLI with all subcommands registered.
func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "admin",
		Short: "Management commands for the ingest API",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newMigrateCommand())
	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newConsentStatusCommand())

	return rootCmd
}

// parseUserIDs parses a comma-separated list of user ids.
func parseUserIDs(s string) ([]int64, error) {
	var userIDs []int64
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user ID '%s': %w", p, err)
		}
		if id <= 0 {
			return nil, fmt.Errorf("invalid user ID '%s': must be positive", p)
		}
		userIDs = append(userIDs, id)
	}
	return userIDs, nil
}
