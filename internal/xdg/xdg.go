// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parlor Contributors

// Package xdg locates parlor files under the XDG Base Directory layout.
package xdg

import (
	"os"
	"path/filepath"
)

const appName = "parlor"

// ConfigFileName is the config file looked up in ConfigDir.
const ConfigFileName = "config.yaml"

// ConfigDir returns the XDG config directory for parlor.
// Checks XDG_CONFIG_HOME first, falls back to $HOME/.config.
func ConfigDir(getenv func(string) string) string {
	base := getenv("XDG_CONFIG_HOME")
	if base == "" {
		base = filepath.Join(getenv("HOME"), ".config")
	}
	return filepath.Join(base, appName)
}

// DefaultConfigFile returns the path of the user config file when it exists
// as a regular file, or "" otherwise.
func DefaultConfigFile(getenv func(string) string) string {
	path := filepath.Join(ConfigDir(getenv), ConfigFileName)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return ""
	}
	return path
}
