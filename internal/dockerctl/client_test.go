package dockerctl

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/common/logger"
)

func TestNewClient_Constructs(t *testing.T) {
	c, err := NewClient(config.DockerConfig{}, logger.Default())
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()
}

func TestValidateContainer_MissingContainerIsRuntimeMissing(t *testing.T) {
	c, err := NewClient(config.DockerConfig{Host: "unix:///nonexistent.sock"}, logger.Default())
	require.NoError(t, err)
	defer c.Close()

	err = c.ValidateContainer(context.Background(), "does-not-exist")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.RuntimeMissing))
}
