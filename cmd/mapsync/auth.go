package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/config"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/output"
	"github.com/dverschoor78/aqui-aceita-bitcoin/internal/storage"
)

func newAuthCmd(opts *rootOptions) *cobra.Command {
	var key string

	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Store the map API key and check the service",
		Long: `Store the map API key in ~/.mapsync/api-key (mode 0600). The key is read from
--key or, when omitted, from the first line of standard input. The MAP_API_KEY
environment variable takes precedence over the stored key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runAuth(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout(), key)
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "API key to store")

	return cmd
}

// runAuth saves the API key and probes the map service with it.
func runAuth(ctx context.Context, opts *rootOptions, in io.Reader, w io.Writer, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		fmt.Fprint(w, "Map API key: ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("reading API key: %w", err)
		}
		key = strings.TrimSpace(line)
		fmt.Fprintln(w)
	}
	if key == "" {
		return errors.New("API key cannot be empty")
	}

	path, err := config.APIKeyFilePath()
	if err != nil {
		return fmt.Errorf("getting API key path: %w", err)
	}
	file, err := storage.NewAPIKeyFile(path)
	if err != nil {
		return err
	}
	if err := file.SaveAPIKey(ctx, key); err != nil {
		return fmt.Errorf("saving API key: %w", err)
	}
	output.Success(w, "API key saved to %s", path)

	cfg, err := loadConfig(opts)
	if err != nil {
		output.Warning(w, "skipping service check: %v", err)
		return nil
	}

	client, err := newMapClient(cfg.MapAPI, key)
	if err != nil {
		return fmt.Errorf("creating map client: %w", err)
	}

	health, err := client.Health(ctx)
	if err != nil {
		output.Warning(w, "map service at %s is unreachable: %v", client.BaseURL(), err)
		return nil
	}
	if !health.APIKeyConfigured {
		output.Warning(w, "map service is up but reports no upstream API key: %s", health.Message)
		return nil
	}
	output.Success(w, "Map service at %s is healthy", client.BaseURL())
	return nil
}
