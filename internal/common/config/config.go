// Package config loads the ambient, env-only service configuration: logging,
// event-bus backend selection, Docker connectivity, hook-server bind address,
// and the timing constants the runtime/stream/fallback components use.
//
// This is distinct from internal/configstore, which owns the small persisted
// user-facing config file (token, port, default agent, ...).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/discode/bridge/internal/common/logger"
)

// NATSConfig configures the optional NATS-backed event bus.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"client_id"`
	MaxReconnects int    `mapstructure:"max_reconnects"`
}

// EventsConfig selects and configures the event bus backend.
type EventsConfig struct {
	Backend string     `mapstructure:"backend"` // memory | nats
	NATS    NATSConfig `mapstructure:"nats"`
}

// DockerConfig configures the Docker client used to validate container-mode instances.
type DockerConfig struct {
	Host       string `mapstructure:"host"`
	APIVersion string `mapstructure:"api_version"`
}

// HookServerConfig configures the loopback hook HTTP server (C5).
type HookServerConfig struct {
	BindAddr string `mapstructure:"bind_addr"`
	Port     int    `mapstructure:"port"`
}

// TimeoutsConfig holds the bounded-blocking-call defaults from §5.
type TimeoutsConfig struct {
	DownloadTimeout time.Duration `mapstructure:"download_timeout"`
	RPCTimeout      time.Duration `mapstructure:"rpc_timeout"`
}

// StreamConfig holds the stream server's (C8) timing knobs.
type StreamConfig struct {
	TickInterval    time.Duration `mapstructure:"tick_interval"`
	ClientEmitFloor time.Duration `mapstructure:"client_emit_floor"`
	PatchThreshold  float64       `mapstructure:"patch_threshold"`
}

// FallbackConfig holds the buffer-fallback (C7) timing knobs and the
// configurable prompt-marker pattern from §9's open question.
type FallbackConfig struct {
	InitialDelay  time.Duration `mapstructure:"initial_delay"`
	StableCheck   time.Duration `mapstructure:"stable_check"`
	MaxChecks     int           `mapstructure:"max_checks"`
	PromptPattern string        `mapstructure:"prompt_pattern"`
}

// Config aggregates every ambient setting.
type Config struct {
	Logging    logger.LoggingConfig `mapstructure:"logging"`
	Events     EventsConfig         `mapstructure:"events"`
	Docker     DockerConfig         `mapstructure:"docker"`
	HookServer HookServerConfig     `mapstructure:"hook_server"`
	Timeouts   TimeoutsConfig       `mapstructure:"timeouts"`
	Stream     StreamConfig         `mapstructure:"stream"`
	Fallback   FallbackConfig       `mapstructure:"fallback"`
}

// Load reads ambient configuration from the environment only (DISCODE_ prefix).
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("DISCODE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Explicit binds for fields whose flattened env name wouldn't be derived
	// automatically from the nested mapstructure key.
	_ = v.BindEnv("events.backend", "DISCODE_EVENTS_BACKEND")
	_ = v.BindEnv("events.nats.url", "DISCODE_NATS_URL")
	_ = v.BindEnv("docker.host", "DISCODE_DOCKER_HOST")
	_ = v.BindEnv("hook_server.port", "DISCODE_HOOK_SERVER_PORT")
	_ = v.BindEnv("fallback.prompt_pattern", "DISCODE_FALLBACK_PROMPT_PATTERN")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal service config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "")
	v.SetDefault("logging.output_path", "stdout")

	v.SetDefault("events.backend", "memory")
	v.SetDefault("events.nats.client_id", "discode-bridge")
	v.SetDefault("events.nats.max_reconnects", 10)

	v.SetDefault("docker.api_version", "")

	v.SetDefault("hook_server.bind_addr", "127.0.0.1")
	v.SetDefault("hook_server.port", 18470)

	v.SetDefault("timeouts.download_timeout", 30*time.Second)
	v.SetDefault("timeouts.rpc_timeout", 10*time.Second)

	v.SetDefault("stream.tick_interval", 33*time.Millisecond)
	v.SetDefault("stream.client_emit_floor", 50*time.Millisecond)
	v.SetDefault("stream.patch_threshold", 0.55)

	v.SetDefault("fallback.initial_delay", 3*time.Second)
	v.SetDefault("fallback.stable_check", 2*time.Second)
	v.SetDefault("fallback.max_checks", 3)
	v.SetDefault("fallback.prompt_pattern", `^❯\s`)
}

func validate(cfg *Config) error {
	var errs []string
	if cfg.Events.Backend != "memory" && cfg.Events.Backend != "nats" {
		errs = append(errs, fmt.Sprintf("events.backend must be 'memory' or 'nats', got %q", cfg.Events.Backend))
	}
	if cfg.Events.Backend == "nats" && strings.TrimSpace(cfg.Events.NATS.URL) == "" {
		errs = append(errs, "events.nats.url is required when events.backend=nats")
	}
	if cfg.HookServer.Port <= 0 || cfg.HookServer.Port > 65535 {
		errs = append(errs, fmt.Sprintf("hook_server.port out of range: %d", cfg.HookServer.Port))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid service config: %s", strings.Join(errs, "; "))
	}
	return nil
}
