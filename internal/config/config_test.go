package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/calvinalkan/kvserver/internal/config"
)

func Test_Load_AppliesFileThenFlagPrecedence(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "kvserver.jsonc")

	writeFile(t, path, `{
		// comments and trailing commas are fine, this is JSONC
		"port": 7000,
		"slotmigrate": true,
	}`)

	cfg, err := config.Load(path, []string{"--port=7001"})
	require.NoError(t, err)

	require.Equal(t, 7001, cfg.Port, "flag overrides file")
	require.True(t, cfg.SlotMigrate, "file overrides default")
	require.True(t, cfg.ClassicMode, "default survives when unset")
}

func Test_Load_MissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.jsonc"), nil)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
}

func Test_CacheModel_RejectsUnknownValue(t *testing.T) {
	t.Parallel()

	_, err := config.Load("", []string{"--cache-model=bogus"})
	require.Error(t, err)
}

func writeFile(t *testing.T, path, contents string) {
	t.Helper()

	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
}
