package configstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	require.NoError(t, err)

	cfg := s.Get()
	assert.Equal(t, 18470, cfg.HookServerPort)
	assert.Equal(t, "discord", cfg.MessagingPlatform)
	assert.Equal(t, "tmux", cfg.RuntimeMode)
}

func TestSave_PersistsAtomicallyWithRestrictedMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	require.NoError(t, err)

	cfg := s.Get()
	cfg.Token = "xoxb-demo"
	cfg.DefaultAgentCli = "claude"
	require.NoError(t, s.Save(cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "xoxb-demo", s2.Get().Token)
	assert.Equal(t, "claude", s2.Get().DefaultAgentCli)
}

func TestLoad_EnvOverlayOverridesPersistedValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	require.NoError(t, err)
	cfg := s.Get()
	cfg.DefaultAgentCli = "claude"
	require.NoError(t, s.Save(cfg))

	t.Setenv("DISCODE_DEFAULT_AGENT_CLI", "gemini")
	s2, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", s2.Get().DefaultAgentCli)
}

func TestReload_PicksUpExternalWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	s, err := Load(path)
	require.NoError(t, err)

	cfg := s.Get()
	cfg.ChannelID = "ch-1"
	require.NoError(t, s.Save(cfg))

	other, err := Load(path)
	require.NoError(t, err)
	otherCfg := other.Get()
	otherCfg.ChannelID = "ch-2"
	require.NoError(t, other.Save(otherCfg))

	require.NoError(t, s.Reload())
	assert.Equal(t, "ch-2", s.Get().ChannelID)
}
