// Package paths resolves where crewchat keeps its config and database.
package paths

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	appName        = "crewchat"
	configFileName = "config.yaml"
	// DatabaseFileName is used when a database path names a directory.
	DatabaseFileName = "crewchat.db"
)

// ConfigDir returns $XDG_CONFIG_HOME/crewchat, falling back to ~/.config/crewchat.
func ConfigDir() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(homeDir(), ".config", appName)
}

// DataDir returns $XDG_DATA_HOME/crewchat, falling back to ~/.local/share/crewchat.
func DataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, appName)
	}
	return filepath.Join(homeDir(), ".local", "share", appName)
}

// DefaultConfigPath returns the config file location.
func DefaultConfigPath() string {
	return filepath.Join(ConfigDir(), configFileName)
}

// DefaultDatabasePath returns the database file location.
func DefaultDatabasePath() string {
	return filepath.Join(DataDir(), DatabaseFileName)
}

// ResolveDatabasePath normalizes a configured database path:
//   - "" resolves to DefaultDatabasePath
//   - ":memory:" is returned unchanged
//   - a leading "~/" expands to the home directory
//   - an existing directory, or a path ending in a separator, gets DatabaseFileName appended
func ResolveDatabasePath(p string) string {
	switch {
	case p == "":
		return DefaultDatabasePath()
	case p == ":memory:":
		return p
	}

	trailing := strings.HasSuffix(p, "/") || strings.HasSuffix(p, string(filepath.Separator))
	if p == "~" || strings.HasPrefix(p, "~/") {
		p = filepath.Join(homeDir(), strings.TrimPrefix(p, "~"))
	}
	p = filepath.Clean(p)

	if trailing {
		return filepath.Join(p, DatabaseFileName)
	}
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		return filepath.Join(p, DatabaseFileName)
	}
	return p
}

func homeDir() string {
	if home, err := os.UserHomeDir(); err == nil {
		return home
	}
	return "."
}
