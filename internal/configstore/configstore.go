// Package configstore persists the small user-facing config file C11 names
// in §3 — auth tokens, the default agent CLI, permission mode, messaging
// platform choice — distinct from internal/common/config's ambient,
// env-only ServiceConfig. Grounded on internal/state's atomic
// write-to-temp-and-rename primitive, with a viper env-var overlay layered
// on top the way internal/common/config.Load does it.
package configstore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"
)

// Config is the persisted document, mode 0600, recognized keys per §3.
type Config struct {
	Token                  string `json:"token,omitempty"`
	ServerID               string `json:"serverId,omitempty"`
	ChannelID              string `json:"channelId,omitempty"`
	HookServerPort         int    `json:"hookServerPort,omitempty"`
	DefaultAgentCli        string `json:"defaultAgentCli,omitempty"`
	OpencodePermissionMode string `json:"opencodePermissionMode,omitempty"` // allow | default
	KeepChannelOnStop      bool   `json:"keepChannelOnStop,omitempty"`
	SlackBotToken          string `json:"slackBotToken,omitempty"`
	SlackAppToken          string `json:"slackAppToken,omitempty"`
	MessagingPlatform      string `json:"messagingPlatform,omitempty"` // discord | slack
	RuntimeMode            string `json:"runtimeMode,omitempty"`       // tmux | pty
	TelemetryEnabled       bool   `json:"telemetryEnabled,omitempty"`
	TelemetryEndpoint      string `json:"telemetryEndpoint,omitempty"`
	TelemetryInstallID     string `json:"telemetryInstallId,omitempty"`
}

func defaultConfig() *Config {
	return &Config{
		HookServerPort:    18470,
		MessagingPlatform: "discord",
		RuntimeMode:       "tmux",
	}
}

// Store owns the on-disk Config and a viper instance used only to layer
// environment overrides onto whatever was loaded from disk.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  *Config
	v    *viper.Viper
}

// Load reads path (if present), applies defaults for any zero-value
// recognized keys, then overlays DISCODE_-prefixed env vars on top.
func Load(path string) (*Store, error) {
	s := &Store{path: path, v: newOverlay()}
	if err := s.reloadLocked(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return s, nil
}

func newOverlay() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("DISCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("token", "DISCODE_TOKEN")
	_ = v.BindEnv("serverId", "DISCODE_SERVER_ID")
	_ = v.BindEnv("channelId", "DISCODE_CHANNEL_ID")
	_ = v.BindEnv("hookServerPort", "DISCODE_HOOK_SERVER_PORT")
	_ = v.BindEnv("defaultAgentCli", "DISCODE_DEFAULT_AGENT_CLI")
	_ = v.BindEnv("opencodePermissionMode", "DISCODE_OPENCODE_PERMISSION_MODE")
	_ = v.BindEnv("slackBotToken", "DISCODE_SLACK_BOT_TOKEN")
	_ = v.BindEnv("slackAppToken", "DISCODE_SLACK_APP_TOKEN")
	_ = v.BindEnv("messagingPlatform", "DISCODE_MESSAGING_PLATFORM")
	_ = v.BindEnv("runtimeMode", "DISCODE_RUNTIME_MODE")
	return v
}

func (s *Store) reloadLocked() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := defaultConfig()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.cfg = cfg
			s.applyOverlayLocked()
			return err
		}
		return err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("unmarshal config: %w", err)
	}
	s.cfg = cfg
	s.applyOverlayLocked()
	return nil
}

// applyOverlayLocked overrides any field for which the corresponding env
// var is explicitly set. Caller must hold s.mu.
func (s *Store) applyOverlayLocked() {
	if v := s.v.GetString("token"); v != "" {
		s.cfg.Token = v
	}
	if v := s.v.GetString("serverId"); v != "" {
		s.cfg.ServerID = v
	}
	if v := s.v.GetString("channelId"); v != "" {
		s.cfg.ChannelID = v
	}
	if s.v.IsSet("hookServerPort") {
		s.cfg.HookServerPort = s.v.GetInt("hookServerPort")
	}
	if v := s.v.GetString("defaultAgentCli"); v != "" {
		s.cfg.DefaultAgentCli = v
	}
	if v := s.v.GetString("opencodePermissionMode"); v != "" {
		s.cfg.OpencodePermissionMode = v
	}
	if v := s.v.GetString("slackBotToken"); v != "" {
		s.cfg.SlackBotToken = v
	}
	if v := s.v.GetString("slackAppToken"); v != "" {
		s.cfg.SlackAppToken = v
	}
	if v := s.v.GetString("messagingPlatform"); v != "" {
		s.cfg.MessagingPlatform = v
	}
	if v := s.v.GetString("runtimeMode"); v != "" {
		s.cfg.RuntimeMode = v
	}
}

// Reload re-reads the file from disk, re-applying the env overlay. Used by
// the CLI-writes-then-POST-/reload flow (§3 ownership note).
func (s *Store) Reload() error { return s.reloadLocked() }

// Get returns a copy of the current config.
func (s *Store) Get() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.cfg
}

// Save persists cfg atomically (write-to-temp-and-rename, mode 0600) and
// adopts it as the in-memory config.
func (s *Store) Save(cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(&cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write config tmp: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename config: %w", err)
	}

	s.cfg = &cfg
	s.applyOverlayLocked()
	return nil
}
