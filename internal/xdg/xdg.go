// Package xdg provides XDG Base Directory Specification compliant paths
package xdg

import (
	"fmt"
	"os"
	"path/filepath"
)

// ConfigDir returns the XDG config directory for makedev
// Priority: XDG_CONFIG_HOME > ~/.config/makedev
func ConfigDir() (string, error) {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "makedev"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".config", "makedev"), nil
}

// DataDir returns the XDG data directory for makedev
// Priority: XDG_DATA_HOME > ~/.local/share/makedev
func DataDir() (string, error) {
	if xdgData := os.Getenv("XDG_DATA_HOME"); xdgData != "" {
		return filepath.Join(xdgData, "makedev"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "share", "makedev"), nil
}

// StateDir returns the XDG state directory for makedev
// Priority: XDG_STATE_HOME > ~/.local/state/makedev
func StateDir() (string, error) {
	if xdgState := os.Getenv("XDG_STATE_HOME"); xdgState != "" {
		return filepath.Join(xdgState, "makedev"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(homeDir, ".local", "state", "makedev"), nil
}

// RuntimeDir returns the XDG runtime directory for makedev
// Priority: XDG_RUNTIME_DIR > /tmp/makedev-$UID
func RuntimeDir() (string, error) {
	if xdgRuntime := os.Getenv("XDG_RUNTIME_DIR"); xdgRuntime != "" {
		return filepath.Join(xdgRuntime, "makedev"), nil
	}

	uid := os.Getuid()
	return filepath.Join("/tmp", fmt.Sprintf("makedev-%d", uid)), nil
}
