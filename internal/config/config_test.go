package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	require.Equal(t, 4096, cfg.PageSize)
	require.Equal(t, 1000, cfg.BufferPoolSize)
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "novasql.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer_pool_size: 64\nreplacer_k: 3\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 4096, cfg.PageSize) // untouched, falls back to default
	require.Equal(t, 64, cfg.BufferPoolSize)
	require.Equal(t, 3, cfg.ReplacerK)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
