package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFromMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, 7420, cfg.Server.Port)
	assert.Equal(t, "docker", cfg.Container.Engine)
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.NotEmpty(t, cfg.Storage.DatabasePath)
	assert.NotContains(t, cfg.Storage.WorktreesPath, "~")
}

func TestLoadFromFillsUnsetFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[server]
port = 9000

[git]
repo_path = "/srv/repo"

[container]
engine = "podman"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFrom(path)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "podman", cfg.Container.Engine)
	assert.Equal(t, "/srv/repo", cfg.Git.RepoPath)

	// Unset fields fall back to defaults
	assert.Equal(t, "localhost", cfg.Server.Host)
	assert.Equal(t, "main", cfg.Git.DefaultBranch)
	assert.Equal(t, 30*time.Second, cfg.Container.AdapterTimeout)
	assert.Equal(t, 10*time.Minute, cfg.Container.BuildTimeout)
}

func TestLoadFromRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[server\nport="), 0644))

	_, err := LoadFrom(path)
	assert.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	cfg := Default()
	cfg.Server.Port = 8123
	cfg.Git.RepoPath = "/srv/repo"
	require.NoError(t, cfg.Save(path))

	loaded, err := LoadFrom(path)
	require.NoError(t, err)
	assert.Equal(t, 8123, loaded.Server.Port)
	assert.Equal(t, "/srv/repo", loaded.Git.RepoPath)
}

func TestValidate(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())

	cfg.Server.Port = 70000
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Storage.WorktreesPath = ""
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Container.Engine = ""
	assert.Error(t, cfg.Validate())
}
