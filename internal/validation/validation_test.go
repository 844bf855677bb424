package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jehrhardt/makedev/internal/errors"
)

func TestEnvironmentName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple name", input: "feature-auth", wantErr: false},
		{name: "alphanumeric with dots", input: "env.v2", wantErr: false},
		{name: "underscores", input: "my_env_1", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "leading dash", input: "-env", wantErr: true},
		{name: "path traversal", input: "..", wantErr: true},
		{name: "embedded traversal", input: "a..b", wantErr: true},
		{name: "slash", input: "feature/auth", wantErr: true},
		{name: "spaces", input: "my env", wantErr: true},
		{name: "shell metacharacters", input: "env;rm", wantErr: true},
		{name: "lock suffix", input: "env.lock", wantErr: true},
		{name: "trailing dot", input: "env.", wantErr: true},
		{name: "too long", input: string(make([]byte, 101)), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := EnvironmentName(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestBranchName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{name: "simple branch", input: "main", wantErr: false},
		{name: "slash separated", input: "feature/auth", wantErr: false},
		{name: "deep hierarchy", input: "user/feature/auth-v2", wantErr: false},
		{name: "empty", input: "", wantErr: true},
		{name: "leading slash", input: "/main", wantErr: true},
		{name: "trailing slash", input: "main/", wantErr: true},
		{name: "double slash", input: "a//b", wantErr: true},
		{name: "traversal", input: "a/../b", wantErr: true},
		{name: "spaces", input: "my branch", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := BranchName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPath(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{name: "absolute path", input: "/workspace/main.go", want: "/workspace/main.go"},
		{name: "cleans redundant separators", input: "/workspace//src/./main.go", want: "/workspace/src/main.go"},
		{name: "empty", input: "", wantErr: true},
		{name: "relative traversal", input: "../etc/passwd", wantErr: true},
		{name: "embedded traversal", input: "/workspace/../etc/passwd", wantErr: true},
		{name: "bare dotdot", input: "..", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Path(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainerPath(t *testing.T) {
	_, err := ContainerPath("workspace/main.go")
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrInvalidInput))

	got, err := ContainerPath("/workspace/main.go")
	require.NoError(t, err)
	assert.Equal(t, "/workspace/main.go", got)
}

func TestContainerID(t *testing.T) {
	assert.NoError(t, ContainerID("makedev-feature-auth"))
	assert.NoError(t, ContainerID("a1b2c3d4e5f6"))
	assert.Error(t, ContainerID(""))
	assert.Error(t, ContainerID("bad id"))
	assert.Error(t, ContainerID("$(rm -rf /)"))
}
