package paths

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigDir_XDG(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", filepath.FromSlash("/xdg/config"))
	require.Equal(t, filepath.FromSlash("/xdg/config/crewchat"), ConfigDir())
	require.Equal(t, filepath.FromSlash("/xdg/config/crewchat/config.yaml"), DefaultConfigPath())
}

func TestConfigDir_HomeFallback(t *testing.T) {
	home := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("HOME", home)
	require.Equal(t, filepath.Join(home, ".config", "crewchat"), ConfigDir())
}

func TestDataDir_XDG(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", filepath.FromSlash("/xdg/data"))
	require.Equal(t, filepath.FromSlash("/xdg/data/crewchat/crewchat.db"), DefaultDatabasePath())
}

func TestResolveDatabasePath_TableDriven(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_DATA_HOME", filepath.FromSlash("/xdg/data"))

	existing := t.TempDir()

	testCases := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty uses default", "", filepath.FromSlash("/xdg/data/crewchat/crewchat.db")},
		{"memory", ":memory:", ":memory:"},
		{"plain file", filepath.FromSlash("/srv/chat.db"), filepath.FromSlash("/srv/chat.db")},
		{"relative file", filepath.FromSlash("./data/chat.db"), filepath.FromSlash("data/chat.db")},
		{"trailing slash", "/srv/chat/", filepath.FromSlash("/srv/chat/crewchat.db")},
		{"existing directory", existing, filepath.Join(existing, "crewchat.db")},
		{"home expansion", "~/chat.db", filepath.Join(home, "chat.db")},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, ResolveDatabasePath(tc.input))
		})
	}
}

func TestResolveDatabasePath_MissingParentIsKept(t *testing.T) {
	p := filepath.Join(t.TempDir(), "not", "yet", "chat.db")
	require.Equal(t, p, ResolveDatabasePath(p))
	_, err := os.Stat(filepath.Dir(p))
	require.True(t, os.IsNotExist(err), "resolving does not create directories")
}
