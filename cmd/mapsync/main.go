// Package main provides the mapsync command line tool for local deployments.
package main

import (
	"errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// envAPIKey overrides the stored map API key.
const envAPIKey = "MAP_API_KEY"

// rootOptions holds the persistent flags.
type rootOptions struct {
	configPath string
	dryRun     bool
	logLevel   string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "mapsync",
		Short: "Publish approved Bitcoin-accepting establishments to the map",
		Long: `mapsync tracks merchant registrations through review and pushes approved
establishments to the map service, recording every run so failures can be retried.`,
		SilenceUsage: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "", "Path to the config file (default ~/.mapsync/config.yaml)")
	flags.BoolVar(&opts.dryRun, "dry-run", false, "Log map writes instead of executing them")
	flags.StringVar(&opts.logLevel, "log-level", "", "Override the configured log level (debug, info, warn, error)")

	cmd.AddCommand(
		newInitCmd(),
		newAuthCmd(opts),
		newSyncCmd(opts),
		newRetryCmd(opts),
		newStatusCmd(opts),
		newEligibleCmd(opts),
		newListCmd(opts),
		newSubmitCmd(opts),
		newApproveCmd(opts),
		newRejectCmd(opts),
		newRequestUpdateCmd(opts),
		newServeCmd(opts),
	)

	return cmd
}
