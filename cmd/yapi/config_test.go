package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/mitchellh/go-homedir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frederic-klein/yapi/internal/index"
)

func writeConfig(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	cfg, err := loadConfig("")

	require.NoError(t, err)
	assert.Equal(t, index.DefaultIndexURL, cfg.IndexURL)
	assert.Equal(t, "python", cfg.Python)
	assert.Equal(t, 4, cfg.Workers)
	assert.True(t, cfg.UserEditable)
	assert.Empty(t, cfg.ExtraIndexURLs)
}

func TestLoadConfigFromXDG(t *testing.T) {
	// Arrange
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	writeConfig(t, filepath.Join(xdg, "yapi"), `
index_url: https://mirror.example/simple
extra_index_urls:
  - https://extra.example/simple
find_links:
  - /srv/wheels
default_vcs: git
workers: 8
user_editable: false
`)

	// Act
	cfg, err := loadConfig("")

	// Assert
	require.NoError(t, err)
	assert.Equal(t, "https://mirror.example/simple", cfg.IndexURL)
	assert.Equal(t, []string{"https://extra.example/simple"}, cfg.ExtraIndexURLs)
	assert.Equal(t, []string{"/srv/wheels"}, cfg.FindLinks)
	assert.Equal(t, "git", cfg.DefaultVCS)
	assert.Equal(t, 8, cfg.Workers)
	assert.False(t, cfg.UserEditable)
}

func TestLoadConfigEnvOverride(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("YAPI_PYTHON", "python3.12")
	t.Setenv("YAPI_WORKERS", "2")

	cfg, err := loadConfig("")

	require.NoError(t, err)
	assert.Equal(t, "python3.12", cfg.Python)
	assert.Equal(t, 2, cfg.Workers)
}

func TestLoadConfigExplicitPath(t *testing.T) {
	// Arrange
	home := t.TempDir()
	t.Setenv("HOME", home)
	homedir.DisableCache = true
	t.Cleanup(func() { homedir.DisableCache = false })
	path := writeConfig(t, t.TempDir(), "build_dir: ~/yapi-build\n")

	// Act
	cfg, err := loadConfig(path)

	// Assert
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "yapi-build"), cfg.BuildDir)
}

func TestLoadConfigMissingExplicitPath(t *testing.T) {
	_, err := loadConfig(filepath.Join(t.TempDir(), "nope.yaml"))

	require.Error(t, err)
	assert.Contains(t, err.Error(), "config file not found")
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "workers: [unterminated\n")

	_, err := loadConfig(path)

	require.Error(t, err)
}
