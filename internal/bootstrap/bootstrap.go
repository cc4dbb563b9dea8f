// Package bootstrap implements C12: the three-step wiring builder §9
// describes (construct state/messaging/runtime -> construct
// router+tracker+fallback -> register inbound callback), plus daemon
// startup's hook-install and channel-map steps (§4.9). Grounded on
// kdlbs-kandev's cmd/kandev/main.go DI sequencing, adapted to this spec's
// explicit three-step note rather than the teacher's single linear main.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/common/logger"
	"github.com/discode/bridge/internal/configstore"
	"github.com/discode/bridge/internal/dockerctl"
	"github.com/discode/bridge/internal/events"
	"github.com/discode/bridge/internal/events/bus"
	"github.com/discode/bridge/internal/fallback"
	"github.com/discode/bridge/internal/hookserver"
	"github.com/discode/bridge/internal/messaging"
	"github.com/discode/bridge/internal/messaging/slack"
	"github.com/discode/bridge/internal/pending"
	"github.com/discode/bridge/internal/project"
	"github.com/discode/bridge/internal/router"
	"github.com/discode/bridge/internal/runtime"
	"github.com/discode/bridge/internal/runtime/multiplexer"
	"github.com/discode/bridge/internal/runtime/pty"
	"github.com/discode/bridge/internal/state"
	"github.com/discode/bridge/internal/stream"
)

// Paths collects every on-disk location bootstrap needs, all rooted under
// ~/.discode per §6.
type Paths struct {
	StateFile  string
	ConfigFile string
	StreamSock string
	DaemonPID  string
	DaemonLog  string
}

// DefaultPaths derives the standard ~/.discode layout from the user's home
// directory.
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, fmt.Errorf("resolve home directory: %w", err)
	}
	root := filepath.Join(home, ".discode")
	return Paths{
		StateFile:  filepath.Join(root, "state.json"),
		ConfigFile: filepath.Join(root, "config.json"),
		StreamSock: filepath.Join(root, "runtime.sock"),
		DaemonPID:  filepath.Join(root, "daemon.pid"),
		DaemonLog:  filepath.Join(root, "daemon.log"),
	}, nil
}

// Daemon owns every constructed component and the goroutines that run
// them, torn down together when Shutdown is called.
type Daemon struct {
	log *logger.Logger

	state       *state.Store
	configStore *configstore.Store
	svcCfg      *config.Config
	msg         messaging.Capability
	rt          runtime.Runtime
	docker      *dockerctl.Client

	tracker  *pending.Tracker
	fb       *fallback.Scheduler
	router   *router.Router
	hooks    *hookserver.Server
	streamSv *stream.Server
	projects *project.Service

	bus        bus.EventBus
	busCleanup func() error

	paths Paths

	mu     sync.Mutex
	cancel context.CancelFunc
}

// Build performs the three-step wiring §9 describes and returns a Daemon
// ready for Run. It does not start goroutines or listeners.
func Build(svcCfg *config.Config, cfgStore *configstore.Store, paths Paths) (*Daemon, error) {
	log := logger.Default().WithFields(zap.String("component", "bootstrap"))

	st, err := state.New(paths.StateFile)
	if err != nil {
		return nil, apperr.Wrap(apperr.FatalStartup, err, "open state store")
	}

	cfg := cfgStore.Get()

	// Step 1: construct the messaging capability and the runtime.
	msg, err := buildMessaging(cfg)
	if err != nil {
		return nil, err
	}

	rt, err := buildRuntime(cfg, log)
	if err != nil {
		return nil, err
	}

	var docker *dockerctl.Client
	if d, err := dockerctl.NewClient(svcCfg.Docker, log); err == nil {
		docker = d
	} else {
		log.WithError(err).Warn("docker client unavailable, container-mode instances will resume without container validation")
	}

	provided, busCleanup, err := events.Provide(svcCfg, log)
	if err != nil {
		return nil, apperr.Wrap(apperr.FatalStartup, err, "provide event bus")
	}
	if _, err := provided.Bus.Subscribe("discode.>", func(_ context.Context, ev *bus.Event) error {
		log.Debug("daemon lifecycle event", zap.String("type", ev.Type), zap.String("source", ev.Source))
		return nil
	}); err != nil {
		return nil, apperr.Wrap(apperr.FatalStartup, err, "subscribe lifecycle events")
	}

	// Step 2: construct router + tracker + fallback, wired to each other
	// through narrow interfaces so none of these packages import each
	// other's concrete types.
	tracker := pending.New(msg)
	fb := fallback.New(fallback.Config{
		InitialDelay:  svcCfg.Fallback.InitialDelay,
		StableCheck:   svcCfg.Fallback.StableCheck,
		MaxChecks:     svcCfg.Fallback.MaxChecks,
		PromptPattern: svcCfg.Fallback.PromptPattern,
	}, rt, tracker, msg)

	rtr := router.New(st, msg, rt, tracker, fb, svcCfg.Timeouts.DownloadTimeout)

	hookAddr := fmt.Sprintf("%s:%d", svcCfg.HookServer.BindAddr, svcCfg.HookServer.Port)
	d := &Daemon{
		log:         log,
		state:       st,
		configStore: cfgStore,
		svcCfg:      svcCfg,
		msg:         msg,
		rt:          rt,
		docker:      docker,
		tracker:     tracker,
		fb:          fb,
		router:      rtr,
		projects:    project.New(st, msg, rt, docker),
		bus:         provided.Bus,
		busCleanup:  busCleanup,
		paths:       paths,
	}
	d.hooks = hookserver.New(hookAddr, st, msg, rt, tracker, fb, d.Reload)
	d.streamSv = stream.New(paths.StreamSock, rt, svcCfg.Stream.TickInterval, svcCfg.Stream.ClientEmitFloor, svcCfg.Stream.PatchThreshold)

	// Step 3: register the inbound callback.
	msg.RegisterInboundHandler(rtr.HandleInbound)

	return d, nil
}

func buildMessaging(cfg configstore.Config) (messaging.Capability, error) {
	switch cfg.MessagingPlatform {
	case "", "discord":
		// See DESIGN.md's C2 entry: no repo in the retrieved pack wires a
		// real Discord client dependency, so there is nothing to ground a
		// concrete adapter on. Fail fast rather than ship one unbacked.
		return nil, apperr.New(apperr.FatalStartup, "messagingPlatform=discord has no concrete adapter in this build; configure messagingPlatform=slack")
	case "slack":
		if cfg.SlackBotToken == "" || cfg.SlackAppToken == "" {
			return nil, apperr.New(apperr.FatalStartup, "slackBotToken and slackAppToken are required when messagingPlatform=slack")
		}
		return slack.New(cfg.SlackBotToken, cfg.SlackAppToken), nil
	default:
		return nil, apperr.New(apperr.FatalStartup, "unknown messagingPlatform: "+cfg.MessagingPlatform)
	}
}

func buildRuntime(cfg configstore.Config, log *logger.Logger) (runtime.Runtime, error) {
	switch cfg.RuntimeMode {
	case "", "tmux":
		return multiplexer.New(log), nil
	case "pty":
		return pty.New(log), nil
	default:
		return nil, apperr.New(apperr.FatalStartup, "unknown runtimeMode: "+cfg.RuntimeMode)
	}
}

// Run starts every long-running component (C3 is already running inside
// the runtime backend; this starts C5, C6's subscription, and C8) and
// blocks until ctx is cancelled.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.mu.Lock()
	d.cancel = cancel
	d.mu.Unlock()

	if err := d.installHooks(); err != nil {
		d.log.WithError(err).Warn("hook install step failed")
	}
	if err := d.installSendHelpers(); err != nil {
		d.log.WithError(err).Warn("discode-send helper install failed")
	}

	d.publish(ctx, "discode.daemon.started", nil)

	errCh := make(chan error, 3)

	go func() {
		if err := d.msg.Connect(ctx); err != nil {
			errCh <- fmt.Errorf("messaging connect: %w", err)
		}
	}()
	go func() {
		if err := d.hooks.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("hook server: %w", err)
		}
	}()
	go func() {
		if err := d.streamSv.ListenAndServe(ctx); err != nil {
			errCh <- fmt.Errorf("stream server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		cancel()
		return err
	}
}

// Shutdown cancels every component's context and disposes the runtime.
func (d *Daemon) Shutdown(ctx context.Context, sig runtime.Signal) error {
	d.publish(ctx, "discode.daemon.stopping", nil)

	d.mu.Lock()
	if d.cancel != nil {
		d.cancel()
	}
	d.mu.Unlock()

	if d.docker != nil {
		_ = d.docker.Close()
	}
	_ = d.msg.Close()
	if d.busCleanup != nil {
		_ = d.busCleanup()
	}
	return d.rt.Dispose(ctx, sig)
}

// publish emits a lifecycle event on the internal bus, swallowing errors:
// the bus is a decoupling aid for lifecycle visibility, never load-bearing
// for daemon behavior.
func (d *Daemon) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if d.bus == nil {
		return
	}
	_ = d.bus.Publish(ctx, eventType, bus.NewEvent(eventType, "discoded", data))
}

// Reload re-reads the state file from disk, implementing the /reload
// endpoint's effect (§4.9 step 5: reapply the channel map after a CLI
// write to the state file).
func (d *Daemon) Reload() error {
	return d.state.Reload()
}

// installHooks best-effort invokes the out-of-scope agent-side hook
// installer for every existing instance (§4.9 step 1). There is no
// installer wired in this build (§1 places it out of scope), so this is a
// log-only placeholder that keeps the startup sequence's shape intact for
// when one exists.
func (d *Daemon) installHooks() error {
	for _, p := range d.state.ListProjects() {
		for _, inst := range p.Instances {
			if inst.EventHook {
				continue
			}
			d.log.Debug("no hook installer available for instance",
				zap.String("project", p.ProjectName), zap.String("instance", inst.InstanceID))
		}
	}
	return nil
}

// installSendHelpers installs `.discode/bin/discode-send` for every known
// project (§4.9 step 2): a tiny Node script with (projectName, port) baked
// in, so an agent-side hook (Claude's stop hook, Gemini's AfterAgent hook,
// the OpenCode plugin) can forward its own JSON payload to the loopback
// hook server without knowing either value itself. `bin/package.json`
// marks the directory commonjs so the script runs under a plain `node`
// invocation regardless of the project's own package.json type.
func (d *Daemon) installSendHelpers() error {
	for _, p := range d.state.ListProjects() {
		if err := writeSendHelper(p.ProjectName, p.ProjectPath, d.svcCfg.HookServer.Port); err != nil {
			d.log.WithError(err).Warn("install discode-send helper failed", zap.String("project", p.ProjectName))
		}
	}
	return nil
}

func writeSendHelper(projectName, projectPath string, port int) error {
	dir := filepath.Join(projectPath, ".discode", "bin")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	script := fmt.Sprintf(`#!/usr/bin/env node
// generated by discoded, do not edit
const http = require('http');

let raw = '';
process.stdin.on('data', (chunk) => { raw += chunk; });
process.stdin.on('end', () => {
  let payload = {};
  if (raw.trim().length > 0) {
    try { payload = JSON.parse(raw); } catch (e) { payload = { text: raw }; }
  }
  payload.projectName = %q;

  const body = JSON.stringify(payload);
  const req = http.request({
    host: '127.0.0.1',
    port: %d,
    path: '/opencode-event',
    method: 'POST',
    headers: { 'Content-Type': 'application/json', 'Content-Length': Buffer.byteLength(body) },
  }, (res) => { res.resume(); });
  req.on('error', () => {});
  req.write(body);
  req.end();
});
`, projectName, port)

	if err := os.WriteFile(filepath.Join(dir, "discode-send"), []byte(script), 0o755); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"type":"commonjs"}`+"\n"), 0o644)
}
