// Package dockerctl validates container-mode instances before the project
// service hands a `docker start -ai <id>` command to the runtime, so a
// missing container fails fast with a typed error instead of handing tmux
// or the PTY a command that immediately exits.
//
// Grounded on kdlbs-kandev's internal/agent/docker/client.go: the same
// client.WithAPIVersionNegotiation() construction and ContainerInspect
// call, trimmed to exactly the read-only subset this spec needs — no
// image build, create, start/stop, or credential injection, all of which
// §1 explicitly places outside the daemon core.
package dockerctl

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/common/logger"
)

// Client wraps the Docker SDK client for container-mode validation.
type Client struct {
	cli *client.Client
	log *logger.Logger
}

// NewClient builds a Docker client from cfg. A nil *Client (not an error) is
// intentionally not returned here — callers that run with no Docker
// connectivity should skip container-mode instances upstream instead.
func NewClient(cfg config.DockerConfig, log *logger.Logger) (*Client, error) {
	opts := []client.Opt{client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	if cfg.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.APIVersion))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Client{cli: cli, log: log.WithFields(zap.String("component", "dockerctl"))}, nil
}

// Close releases the underlying Docker client connection.
func (c *Client) Close() error { return c.cli.Close() }

// ValidateContainer inspects containerID and returns a RuntimeMissing
// apperr if it doesn't exist or isn't running, so §4.8's resume path can
// fail before ever invoking `docker start -ai`.
func (c *Client) ValidateContainer(ctx context.Context, containerID string) error {
	inspect, err := c.cli.ContainerInspect(ctx, containerID)
	if err != nil {
		return apperr.Wrap(apperr.RuntimeMissing, err, fmt.Sprintf("container %s not found", containerID))
	}
	status := "unknown"
	running := false
	if inspect.State != nil {
		status = inspect.State.Status
		running = inspect.State.Running
	}
	if !running && status != "paused" {
		return apperr.New(apperr.RuntimeMissing, fmt.Sprintf("container %s is not running (status %s)", containerID, status))
	}
	return nil
}
