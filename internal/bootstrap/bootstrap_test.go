package bootstrap

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/discode/bridge/internal/common/apperr"
	"github.com/discode/bridge/internal/common/config"
	"github.com/discode/bridge/internal/configstore"
	"github.com/discode/bridge/internal/events/bus"
	"github.com/discode/bridge/internal/runtime"
)

func testSvcConfig() *config.Config {
	return &config.Config{
		HookServer: config.HookServerConfig{BindAddr: "127.0.0.1", Port: 0},
		Timeouts:   config.TimeoutsConfig{DownloadTimeout: 5 * time.Second, RPCTimeout: 2 * time.Second},
		Stream:     config.StreamConfig{TickInterval: 33 * time.Millisecond, ClientEmitFloor: 50 * time.Millisecond, PatchThreshold: 0.55},
		Fallback:   config.FallbackConfig{InitialDelay: time.Second, StableCheck: time.Second, MaxChecks: 3, PromptPattern: ""},
	}
}

func testPaths(t *testing.T) Paths {
	dir := t.TempDir()
	return Paths{
		StateFile:  filepath.Join(dir, "state.json"),
		ConfigFile: filepath.Join(dir, "config.json"),
		StreamSock: filepath.Join(dir, "runtime.sock"),
		DaemonPID:  filepath.Join(dir, "daemon.pid"),
		DaemonLog:  filepath.Join(dir, "daemon.log"),
	}
}

func newStoreWith(t *testing.T, cfg configstore.Config) *configstore.Store {
	t.Helper()
	store, err := configstore.Load(filepath.Join(t.TempDir(), "config.json"))
	require.NoError(t, err)
	require.NoError(t, store.Save(cfg))
	return store
}

func TestBuild_DiscordPlatformReturnsFatalStartup(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{MessagingPlatform: "discord", RuntimeMode: "pty"})

	_, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.FatalStartup))
}

func TestBuild_SlackMissingTokensReturnsFatalStartup(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{MessagingPlatform: "slack", RuntimeMode: "pty"})

	_, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.FatalStartup))
}

func TestBuild_SlackWithTokensWiresEveryComponent(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{
		MessagingPlatform: "slack",
		RuntimeMode:       "pty",
		SlackBotToken:     "xoxb-test",
		SlackAppToken:     "xapp-test",
	})

	d, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.NotNil(t, d.msg)
	assert.NotNil(t, d.rt)
	assert.NotNil(t, d.router)
	assert.NotNil(t, d.hooks)
	assert.NotNil(t, d.streamSv)
	assert.NotNil(t, d.tracker)
	assert.NotNil(t, d.fb)
}

func TestBuild_UnknownRuntimeModeReturnsFatalStartup(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{
		MessagingPlatform: "slack",
		RuntimeMode:       "bogus",
		SlackBotToken:     "xoxb-test",
		SlackAppToken:     "xapp-test",
	})

	_, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.FatalStartup))
}

func TestRun_PublishesLifecycleEventsOnBus(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{
		MessagingPlatform: "slack",
		RuntimeMode:       "pty",
		SlackBotToken:     "xoxb-test",
		SlackAppToken:     "xapp-test",
	})

	d, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.NoError(t, err)

	var mu sync.Mutex
	var seen []string
	_, err = d.bus.Subscribe("discode.>", func(_ context.Context, ev *bus.Event) error {
		mu.Lock()
		seen = append(seen, ev.Type)
		mu.Unlock()
		return nil
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) >= 1
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), time.Second)
	defer shutdownCancel()
	require.NoError(t, d.Shutdown(shutdownCtx, runtime.SignalTerm))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, seen, "discode.daemon.started")
	assert.Contains(t, seen, "discode.daemon.stopping")
}

func TestReload_DelegatesToStateStore(t *testing.T) {
	cfgStore := newStoreWith(t, configstore.Config{
		MessagingPlatform: "slack",
		RuntimeMode:       "pty",
		SlackBotToken:     "xoxb-test",
		SlackAppToken:     "xapp-test",
	})

	d, err := Build(testSvcConfig(), cfgStore, testPaths(t))
	require.NoError(t, err)

	assert.NoError(t, d.Reload())
}
