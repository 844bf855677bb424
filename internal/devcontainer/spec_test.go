package devcontainer

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseImageManifest(t *testing.T) {
	spec, err := Parse([]byte(`
image: golang:1.24
workdir: /src
env:
  GOFLAGS: -mod=vendor
  CGO_ENABLED: "0"
mounts:
  - /var/cache/go:/root/.cache/go-build
`), "devcontainer.yaml")
	require.NoError(t, err)

	assert.Equal(t, "golang:1.24", spec.Image)
	assert.Equal(t, "/src", spec.WorkDir)
	assert.False(t, spec.NeedsBuild())
	assert.Equal(t, []string{"CGO_ENABLED=0", "GOFLAGS=-mod=vendor"}, spec.EnvList())
}

func TestParseBuildManifest(t *testing.T) {
	spec, err := Parse([]byte(`
build:
  dockerfile: Dockerfile.dev
  context: .devcontainer
`), "devcontainer.yaml")
	require.NoError(t, err)

	require.True(t, spec.NeedsBuild())
	assert.Equal(t, "Dockerfile.dev", spec.Build.Dockerfile)
	assert.Equal(t, ".devcontainer", spec.Build.Context)
}

func TestParseRejectsInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{name: "neither image nor build", data: "workdir: /src"},
		{name: "build without dockerfile", data: "build:\n  context: ."},
		{name: "malformed yaml", data: "image: [unclosed"},
		{name: "mount missing target", data: "image: x\nmounts:\n  - /only-source"},
		{name: "mount bad option", data: "image: x\nmounts:\n  - /a:/b:rw"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "devcontainer.yaml")
			assert.Error(t, err)
		})
	}
}

func TestLoadFallsBackToDefaultImage(t *testing.T) {
	spec, err := Load(t.TempDir(), "ubuntu:24.04")
	require.NoError(t, err)
	assert.Equal(t, "ubuntu:24.04", spec.Image)
	assert.False(t, spec.NeedsBuild())
}

func TestLoadFindsNestedManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".devcontainer"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".devcontainer", "devcontainer.yaml"),
		[]byte("image: node:22"), 0644))

	spec, err := Load(dir, "ubuntu:24.04")
	require.NoError(t, err)
	assert.Equal(t, "node:22", spec.Image)
}

func TestLoadPrefersRootManifest(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "devcontainer.yaml"), []byte("image: root-wins"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ".devcontainer"), 0755))
	require.NoError(t, os.WriteFile(
		filepath.Join(dir, ".devcontainer", "devcontainer.yaml"),
		[]byte("image: nested"), 0644))

	spec, err := Load(dir, "ubuntu:24.04")
	require.NoError(t, err)
	assert.Equal(t, "root-wins", spec.Image)
}
