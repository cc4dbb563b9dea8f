// Package project orchestrates the three instance-lifecycle operations
// named in §4.8: set up a new instance, resume an existing one, and remove
// one. Grounded on kdlbs-kandev's cmd/kandev/main.go service-construction
// sequencing (config -> logger -> event bus -> docker client with graceful
// degradation -> services), generalized from "wire the whole daemon" to
// "wire one project instance".
package project

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/agents"
	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/dockerctl"
	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/state"
)

// Service implements C9.
type Service struct {
	state   *state.Store
	msg     messaging.Capability
	rt      runtime.Runtime
	docker  *dockerctl.Client
	log     *logger.Logger
	httpCli *http.Client
}

// New builds a project service. docker may be nil — container-mode resume
// then skips container validation and still issues `docker start -ai`.
func New(store *state.Store, msg messaging.Capability, rt runtime.Runtime, docker *dockerctl.Client) *Service {
	return &Service{
		state:   store,
		msg:     msg,
		rt:      rt,
		docker:  docker,
		log:     logger.Default().WithFields(zap.String("component", "project")),
		httpCli: &http.Client{Timeout: 10 * time.Second},
	}
}

// SetupProjectInstance implements §4.8's setupProjectInstance: reuse or
// create the project, ensure a chat channel, persist the instance, and
// best-effort notify a running daemon to reload.
func (s *Service) SetupProjectInstance(ctx context.Context, projectName, projectPath, agentType, instanceID string, hookServerPort int) (*state.Instance, error) {
	if instanceID == "" {
		instanceID = s.state.BuildNextInstanceID(projectName, agentType)
	}

	project, ok := s.state.GetProject(projectName)
	if !ok {
		project = &state.Project{
			ProjectName: projectName,
			ProjectPath: projectPath,
			SessionName: "bridge",
			Instances:   make(map[string]*state.Instance),
			CreatedAt:   time.Now().UTC(),
		}
	} else {
		projectPath = project.ProjectPath
	}

	channelName := fmt.Sprintf("%s-%s", projectName, instanceID)
	channelID, err := s.msg.EnsureChannel(ctx, channelName)
	if err != nil {
		return nil, apperr.Wrap(apperr.MessagingFailure, err, "ensure channel")
	}

	inst := &state.Instance{
		InstanceID: instanceID,
		AgentType:  agentType,
		WindowName: instanceID,
		ChannelID:  channelID,
	}
	project.Instances[instanceID] = inst
	project.LastActive = time.Now().UTC()
	if err := s.state.SetProject(project); err != nil {
		return nil, fmt.Errorf("persist project: %w", err)
	}

	s.notifyReload(hookServerPort)
	return inst, nil
}

// ResumeProjectInstance implements §4.8's resumeProjectInstance: ensure the
// session exists, set session env, and start the window if it isn't
// already running.
func (s *Service) ResumeProjectInstance(ctx context.Context, project *state.Project, inst *state.Instance, hookServerPort int, permissionAllow bool) error {
	session, err := s.rt.GetOrCreateSession(ctx, project.ProjectName, inst.WindowName)
	if err != nil {
		return apperr.Wrap(apperr.TransientIO, err, "get or create session")
	}

	envVars := map[string]string{
		"AGENT_DISCORD_PROJECT":  project.ProjectName,
		"AGENT_DISCORD_PORT":     fmt.Sprintf("%d", hookServerPort),
		"AGENT_DISCORD_AGENT":    inst.AgentType,
		"AGENT_DISCORD_INSTANCE": inst.InstanceID,
	}
	if inst.ContainerMode {
		envVars["AGENT_DISCORD_HOSTNAME"] = "host.docker.internal"
	}
	for k, v := range envVars {
		if err := s.rt.SetSessionEnv(ctx, session, k, v); err != nil {
			s.log.WithError(err).Warn("set session env failed")
		}
	}

	if s.rt.WindowExists(ctx, session, inst.WindowName) {
		return nil
	}

	var shellCommand string
	if inst.ContainerMode {
		if s.docker != nil {
			if err := s.docker.ValidateContainer(ctx, inst.ContainerID); err != nil {
				return err
			}
		}
		shellCommand = fmt.Sprintf("docker start -ai %s", inst.ContainerID)
	} else {
		adapter := agents.Get(inst.AgentType)
		cmd := adapter.StartCommand(project.ProjectPath, permissionAllow)
		shellCommand = buildEnvPrefix(envVars) + cmd
	}

	if err := s.rt.StartAgentInWindow(ctx, session, inst.WindowName, shellCommand); err != nil {
		return apperr.Wrap(apperr.TransientIO, err, "start agent window")
	}

	// Best-effort agent-side hook reinstall is out of scope (§1); flipping
	// EventHook here documents intent for when an installer exists.
	inst.EventHook = true
	project.Instances[inst.InstanceID] = inst
	if err := s.state.SetProject(project); err != nil {
		s.log.WithError(err).Warn("persist eventHook flag failed")
	}
	return nil
}

// RemoveInstanceFromProjectState implements §4.8's
// removeInstanceFromProjectState: delete the instance, and the whole
// project if it was the last one.
func (s *Service) RemoveInstanceFromProjectState(projectName, instanceID string) error {
	project, ok := s.state.GetProject(projectName)
	if !ok {
		return apperr.New(apperr.UnknownReference, "unknown project "+projectName)
	}
	delete(project.Instances, instanceID)
	if len(project.Instances) == 0 {
		return s.state.RemoveProject(projectName)
	}
	return s.state.SetProject(project)
}

func buildEnvPrefix(env map[string]string) string {
	prefix := ""
	for k, v := range env {
		prefix += fmt.Sprintf("export %s=%q; ", k, v)
	}
	return prefix
}

// notifyReload best-effort POSTs /reload to a locally running daemon, per
// §4.8 step 4. Failure is not reported to the caller — the daemon might
// simply not be running yet.
func (s *Service) notifyReload(port int) {
	if port == 0 {
		return
	}
	url := fmt.Sprintf("http://127.0.0.1:%d/reload", port)
	req, err := http.NewRequest(http.MethodPost, url, nil)
	if err != nil {
		return
	}
	resp, err := s.httpCli.Do(req)
	if err != nil {
		s.log.Debug("reload notification failed (daemon likely not running yet)")
		return
	}
	_ = resp.Body.Close()
}
