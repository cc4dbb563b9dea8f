package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTempStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state.json")
	s, err := New(path)
	require.NoError(t, err)
	return s, path
}

func TestNew_MissingFileStartsEmpty(t *testing.T) {
	s, _ := newTempStore(t)
	assert.Empty(t, s.ListProjects())
}

func TestSetProject_RoundTrip(t *testing.T) {
	s, path := newTempStore(t)

	p := &Project{
		ProjectName: "myproj",
		ProjectPath: "/work/myproj",
		SessionName: "bridge",
		Instances: map[string]*Instance{
			"claude": {InstanceID: "claude", AgentType: "claude", WindowName: "claude", ChannelID: "chan-1"},
		},
	}
	require.NoError(t, s.SetProject(p))

	// File exists and is valid JSON with mode 0600.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc BridgeState
	require.NoError(t, json.Unmarshal(raw, &doc))
	assert.Contains(t, doc.Projects, "myproj")

	// A fresh store loads it back with the derived channels map populated.
	s2, err := New(path)
	require.NoError(t, err)
	got, ok := s2.GetProject("myproj")
	require.True(t, ok)
	assert.Equal(t, "chan-1", got.Channels["claude"])
}

func TestNormalizeProject_MigratesLegacyChannelID(t *testing.T) {
	s, path := newTempStore(t)

	legacy := BridgeState{
		GuildID: "g1",
		Projects: map[string]*Project{
			"legacyproj": {
				ProjectPath:     "/work/legacyproj",
				LegacyChannelID: "chan-old",
			},
		},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))

	require.NoError(t, s.Reload())

	p, ok := s.GetProject("legacyproj")
	require.True(t, ok)
	assert.Empty(t, p.LegacyChannelID)
	require.Contains(t, p.Instances, "legacyproj")
	assert.Equal(t, "chan-old", p.Instances["legacyproj"].ChannelID)
	assert.Equal(t, "chan-old", p.Channels["legacyproj"])
}

func TestNormalizeProject_MigratesLegacyChannelMap(t *testing.T) {
	s, path := newTempStore(t)

	legacy := BridgeState{
		Projects: map[string]*Project{
			"proj": {
				ProjectPath: "/work/proj",
				LegacyChannelMap: map[string]string{
					"claude": "chan-a",
					"gemini": "chan-b",
				},
			},
		},
	}
	raw, err := json.Marshal(legacy)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, raw, 0o600))
	require.NoError(t, s.Reload())

	p, ok := s.GetProject("proj")
	require.True(t, ok)
	assert.Nil(t, p.LegacyChannelMap)
	assert.Equal(t, "chan-a", p.Channels["claude"])
	assert.Equal(t, "chan-b", p.Channels["gemini"])
}

func TestBuildNextInstanceID(t *testing.T) {
	s, _ := newTempStore(t)
	p := &Project{
		ProjectName: "proj",
		Instances: map[string]*Instance{
			"claude":   {InstanceID: "claude", AgentType: "claude"},
			"claude-2": {InstanceID: "claude-2", AgentType: "claude"},
		},
	}
	require.NoError(t, s.SetProject(p))

	assert.Equal(t, "claude-3", s.BuildNextInstanceID("proj", "claude"))
	assert.Equal(t, "gemini", s.BuildNextInstanceID("proj", "gemini"))
	assert.Equal(t, "newproj", s.BuildNextInstanceID("newproj", "newproj"))
}

func TestGetPrimaryInstanceForAgent(t *testing.T) {
	s, _ := newTempStore(t)
	p := &Project{
		ProjectName: "proj",
		Instances: map[string]*Instance{
			"claude-2": {InstanceID: "claude-2", AgentType: "claude", ChannelID: "chan-2"},
			"claude":   {InstanceID: "claude", AgentType: "claude", ChannelID: "chan-1"},
		},
	}
	require.NoError(t, s.SetProject(p))

	inst, ok := s.GetPrimaryInstanceForAgent("proj", "claude")
	require.True(t, ok)
	assert.Equal(t, "claude", inst.InstanceID)
	assert.Equal(t, "chan-1", inst.ChannelID)
}

func TestFindProjectByChannel(t *testing.T) {
	s, _ := newTempStore(t)
	p := &Project{
		ProjectName: "proj",
		Instances: map[string]*Instance{
			"claude": {InstanceID: "claude", AgentType: "claude", ChannelID: "chan-1"},
		},
	}
	require.NoError(t, s.SetProject(p))

	found, inst, ok := s.FindProjectByChannel("chan-1")
	require.True(t, ok)
	assert.Equal(t, "proj", found.ProjectName)
	assert.Equal(t, "claude", inst.AgentType)

	_, _, ok = s.FindProjectByChannel("nope")
	assert.False(t, ok)

	agentType, ok := s.GetAgentTypeByChannel("chan-1")
	require.True(t, ok)
	assert.Equal(t, "claude", agentType)
}

func TestRemoveProject(t *testing.T) {
	s, _ := newTempStore(t)
	require.NoError(t, s.SetProject(&Project{ProjectName: "proj", Instances: map[string]*Instance{}}))
	require.NoError(t, s.RemoveProject("proj"))
	_, ok := s.GetProject("proj")
	assert.False(t, ok)
}

func TestGuildAndWorkspaceID(t *testing.T) {
	s, _ := newTempStore(t)
	require.NoError(t, s.SetGuildID("g1"))
	assert.Equal(t, "g1", s.GetGuildID())

	require.NoError(t, s.SetWorkspaceID("w1"))
	assert.Equal(t, "w1", s.GetWorkspaceID())
}

func TestUpdateLastActive(t *testing.T) {
	s, _ := newTempStore(t)
	require.NoError(t, s.SetProject(&Project{ProjectName: "proj", Instances: map[string]*Instance{}}))
	require.NoError(t, s.UpdateLastActive("proj"))
	p, ok := s.GetProject("proj")
	require.True(t, ok)
	assert.False(t, p.LastActive.IsZero())

	err := s.UpdateLastActive("nope")
	assert.Error(t, err)
}
