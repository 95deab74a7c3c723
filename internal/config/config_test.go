package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kbeng/kb/internal/config"
)

func Test_Load_UsesDefaultsWhenNoFilesExist(t *testing.T) {
	dir := t.TempDir()

	cfg, sources, err := config.Load(dir, "", config.Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, config.Default(), cfg)
	require.Empty(t, sources.Global)
	require.Empty(t, sources.Project)
}

func Test_Load_ProjectFileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName),
		[]byte(`{
			// project override
			"data_root": "/var/kb/data",
			"log_level": "debug",
		}`), 0o644))

	cfg, sources, err := config.Load(dir, "", config.Config{}, nil)
	require.NoError(t, err)
	require.Equal(t, "/var/kb/data", cfg.DataRoot)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, filepath.Join(dir, config.FileName), sources.Project)
}

func Test_Load_CLIOverrideWinsOverProjectFile(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, config.FileName),
		[]byte(`{"data_root": "/var/kb/data"}`), 0o644))

	cfg, _, err := config.Load(dir, "", config.Config{DataRoot: "/override"}, nil)
	require.NoError(t, err)
	require.Equal(t, "/override", cfg.DataRoot)
}

func Test_Load_ExplicitConfigPathMustExist(t *testing.T) {
	dir := t.TempDir()

	_, _, err := config.Load(dir, filepath.Join(dir, "missing.json"), config.Config{}, nil)
	require.Error(t, err)
}

func Test_Load_RejectsPoolMinAboveMax(t *testing.T) {
	dir := t.TempDir()

	_, _, err := config.Load(dir, "", config.Config{ConnectionPoolMin: 5, ConnectionPoolMax: 2}, nil)
	require.Error(t, err)
}
