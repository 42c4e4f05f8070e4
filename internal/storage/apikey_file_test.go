package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewAPIKeyFile(t *testing.T) {
	t.Parallel()

	_, err := NewAPIKeyFile("")
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key file path is required")

	f, err := NewAPIKeyFile("/path/to/key")
	require.NoError(t, err)
	require.NotNil(t, f)
}

func TestAPIKeyFile_APIKey(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		setup   func(t *testing.T, dir string) string
		wantKey string
	}{
		"valid key file": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				path := filepath.Join(dir, "api-key")
				require.NoError(t, os.WriteFile(path, []byte("secret-key\n"), 0o600))
				return path
			},
			wantKey: "secret-key",
		},
		"key with whitespace": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				path := filepath.Join(dir, "api-key")
				require.NoError(t, os.WriteFile(path, []byte("  spaced-key  \n"), 0o600))
				return path
			},
			wantKey: "spaced-key",
		},
		"missing file means no key": {
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				return filepath.Join(dir, "nonexistent")
			},
			wantKey: "",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			f, err := NewAPIKeyFile(tc.setup(t, t.TempDir()))
			require.NoError(t, err)

			key, err := f.APIKey(context.Background())

			require.NoError(t, err)
			require.Equal(t, tc.wantKey, key)
		})
	}
}

func TestAPIKeyFile_SaveAPIKey(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "subdir", "api-key")

	f, err := NewAPIKeyFile(path)
	require.NoError(t, err)

	require.Error(t, f.SaveAPIKey(ctx, "   "))
	require.Error(t, f.SaveAPIKey(ctx, "two words"))
	_, err = os.Stat(path)
	require.ErrorIs(t, err, os.ErrNotExist)

	require.NoError(t, f.SaveAPIKey(ctx, "first"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "first\n", string(data))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	require.NoError(t, f.SaveAPIKey(ctx, "second"))
	key, err := f.APIKey(ctx)
	require.NoError(t, err)
	require.Equal(t, "second", key)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}
