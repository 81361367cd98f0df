// Package env resolves the user directories and path variables zenbuild
// writes into.
package env

import (
	"os"
	"path/filepath"
	"strings"

	"mvdan.cc/sh/v3/shell"
)

// Vars holds variables that take precedence over the process environment
// when expanding paths.
type Vars map[string]string

// Lookup resolves name from v, then HOME from the user's home directory,
// then the process environment.
func (v Vars) Lookup(name string) string {
	if val, ok := v[name]; ok {
		return val
	}
	if name == "HOME" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return os.Getenv(name)
}

// Expand replaces $VAR and ${VAR} references in s.
func (v Vars) Expand(s string) (string, error) {
	return shell.Expand(s, v.Lookup)
}

// Path expands s and resolves it against root. A leading "~/" means the
// user's home directory.
func (v Vars) Path(root, s string) (string, error) {
	if s == "~" || strings.HasPrefix(s, "~/") {
		s = "${HOME}" + strings.TrimPrefix(s, "~")
	}
	p, err := v.Expand(s)
	if err != nil {
		return "", err
	}
	if p == "" {
		return "", nil
	}
	if filepath.IsAbs(p) {
		return filepath.Clean(p), nil
	}
	return filepath.Join(root, p), nil
}

// BinDir returns ~/.local/bin.
func BinDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".local", "bin"), nil
}

// ConfigDir returns the user configuration directory, honoring
// XDG_CONFIG_HOME.
func ConfigDir() (string, error) {
	return os.UserConfigDir()
}
