package agents

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet_KnownAgent(t *testing.T) {
	a := Get("claude")
	cmd := a.StartCommand("/work/proj", false)
	assert.Contains(t, cmd, "claude")
	assert.Contains(t, cmd, "/work/proj")
	assert.NotContains(t, cmd, "--dangerously-skip-permissions")

	cmd = a.StartCommand("/work/proj", true)
	assert.Contains(t, cmd, "--dangerously-skip-permissions")
}

func TestGet_UnknownAgentFallsBackToItsOwnName(t *testing.T) {
	a := Get("mycli")
	cmd := a.StartCommand("/work/proj", false)
	assert.Contains(t, cmd, "mycli")
}

func TestSubmitDelayMillis_OpenCodeDefault(t *testing.T) {
	assert.Equal(t, 75, SubmitDelayMillis("opencode"))
	assert.Equal(t, 300, SubmitDelayMillis("claude"))
}
