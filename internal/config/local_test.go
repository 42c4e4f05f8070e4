package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestConfigDir(t *testing.T) {
	t.Parallel()

	dir, err := ConfigDir()

	require.NoError(t, err)
	require.Contains(t, dir, ".mapsync")
}

func TestConfigFilePath(t *testing.T) {
	t.Parallel()

	path, err := ConfigFilePath()

	require.NoError(t, err)
	require.Contains(t, path, ".mapsync")
	require.Contains(t, path, "config.yaml")
}

func TestAPIKeyFilePath(t *testing.T) {
	t.Parallel()

	path, err := APIKeyFilePath()

	require.NoError(t, err)
	require.Contains(t, path, ".mapsync")
	require.Equal(t, "api-key", filepath.Base(path))
}

func TestLoadLocalFrom(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		content      string
		errFragments []string
		want         func(dir string) *LocalConfig
		wantErr      bool
	}{
		"empty file uses defaults": {
			content: "",
			want: func(dir string) *LocalConfig {
				return &LocalConfig{
					DatabasePath: filepath.Join(dir, "mapsync.db"),
					MapAPI: MapAPI{
						BaseURL:       "http://localhost:5000",
						HealthTimeout: 5 * time.Second,
						Timeout:       30 * time.Second,
					},
					ServerAddr: "127.0.0.1:8080",
					Sync:       Sync{StaleAfter: time.Hour},
				}
			},
		},
		"full file": {
			content: `
database:
  path: /var/lib/mapsync/data.db
log_level: debug
map_api:
  base_url: https://api.btcmap.example/
  health_timeout: 3s
  rate_limit: 1.5
  source: Test source
  timeout: 20s
redis:
  addr: localhost:6379
  password: secret
server:
  addr: ":9090"
sync:
  dry_run: true
  stale_after: 30m
`,
			want: func(string) *LocalConfig {
				return &LocalConfig{
					DatabasePath: "/var/lib/mapsync/data.db",
					LogLevel:     "debug",
					MapAPI: MapAPI{
						BaseURL:       "https://api.btcmap.example",
						HealthTimeout: 3 * time.Second,
						RateLimit:     1.5,
						Source:        "Test source",
						Timeout:       20 * time.Second,
					},
					Redis:      Redis{Addr: "localhost:6379", Password: "secret"},
					ServerAddr: ":9090",
					Sync:       Sync{DryRun: true, StaleAfter: 30 * time.Minute},
				}
			},
		},
		"invalid values": {
			content: `
log_level: shouty
map_api:
  base_url: localhost:5000
  rate_limit: -2
`,
			wantErr: true,
			errFragments: []string{
				"invalid config",
				"map_api.base_url must be an http or https URL",
				"map_api.rate_limit cannot be negative",
				"log_level",
			},
		},
		"malformed yaml": {
			content: "map_api: [unclosed",
			wantErr: true,
			errFragments: []string{
				"parsing config file",
			},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tc.content), 0o600))

			got, err := LoadLocalFrom(path)

			if tc.wantErr {
				require.Error(t, err)
				for _, fragment := range tc.errFragments {
					require.Contains(t, err.Error(), fragment)
				}
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.want(dir), got)
		})
	}
}

func TestLoadLocalFromMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadLocalFrom(filepath.Join(t.TempDir(), "missing.yaml"))

	require.Error(t, err)
	require.Contains(t, err.Error(), "config file not found")
	require.Contains(t, err.Error(), "mapsync init")
}

func TestLoadLocalExpandsHome(t *testing.T) {
	// Cannot use t.Parallel() with t.Setenv().
	home := t.TempDir()
	t.Setenv("HOME", home)

	require.False(t, LocalConfigExists())

	dir := filepath.Join(home, ".mapsync")
	require.NoError(t, os.MkdirAll(dir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("database:\n  path: ~/data/mapsync.db\n"), 0o600))

	require.True(t, LocalConfigExists())

	cfg, err := LoadLocal()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "data", "mapsync.db"), cfg.DatabasePath)
}
