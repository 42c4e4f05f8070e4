package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/config"
)

const configTemplate = `# mapsync configuration

map_api:
  # Base URL of the map integration service.
  base_url: "http://localhost:5000"
  # Timeout of the health probe run before every sync.
  health_timeout: 5s
  # Timeout of each create or update call.
  timeout: 30s
  # Maximum requests per second. 0 disables limiting.
  rate_limit: 0
  # Value of the source tag on published establishments.
  source: "Aqui aceita Bitcoin?"

database:
  # SQLite database file. Defaults to mapsync.db next to this file.
  path: ""

server:
  # Listen address of the admin API started by 'mapsync serve'.
  addr: "127.0.0.1:8080"

sync:
  # Log map writes instead of executing them.
  dry_run: false
  # How long a run may stay in progress before another one may take over.
  stale_after: 1h

# Optional: share the run lock between processes.
redis:
  addr: ""
  password: ""

log_level: "info"
`

func newInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a sample configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.OutOrStdout())
		},
	}
}

// runInit creates a sample configuration file.
func runInit(w io.Writer) error {
	configDir, err := config.ConfigDir()
	if err != nil {
		return fmt.Errorf("getting config directory: %w", err)
	}

	configPath, err := config.ConfigFilePath()
	if err != nil {
		return fmt.Errorf("getting config path: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("config file already exists: %s", configPath)
	}

	if err := os.MkdirAll(configDir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(configPath, []byte(configTemplate), 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Fprintln(w, "Created config file:", configPath)
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Next steps:")
	fmt.Fprintln(w, "  1. Edit the config file with your map service URL")
	fmt.Fprintln(w, "  2. Run 'mapsync auth' to store the map API key")
	fmt.Fprintln(w, "  3. Run 'mapsync --dry-run sync' to test")

	keyPath, err := config.APIKeyFilePath()
	if err != nil {
		return fmt.Errorf("getting API key path: %w", err)
	}
	fmt.Fprintln(w)
	fmt.Fprintf(w, "API key will be stored at: %s\n", keyPath)

	return nil
}
