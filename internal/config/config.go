package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"beacon/internal/activity"
	"beacon/internal/alerts"
	"beacon/internal/hermes"
	"beacon/internal/presence"
	"beacon/internal/tailer"
	"beacon/internal/throttle"
)

type Config struct {
	Listen      string `yaml:"listen"`
	AdminListen string `yaml:"admin_listen"`
	AdminToken  string `yaml:"admin_token"`
	Project     string `yaml:"project"`
	// ShowTargetHost publishes the most common host alongside the status.
	ShowTargetHost bool `yaml:"show_target_host"`
	// DefaultTool is credited for proxied requests that don't name a tool.
	DefaultTool string `yaml:"default_tool"`

	Activity    Activity      `yaml:"activity"`
	Throttle    Throttle      `yaml:"throttle"`
	Presence    Presence      `yaml:"presence"`
	ActivityLog ActivityLog   `yaml:"activity_log"`
	Hermes      hermes.Config `yaml:"hermes"`

	Webhooks []alerts.WebhookConfig `yaml:"webhooks"`
}

type Activity struct {
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
	HostHistory   int           `yaml:"host_history"`
	HostCacheTTL  time.Duration `yaml:"host_cache_ttl"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

type Throttle struct {
	Window   time.Duration   `yaml:"window"`
	Baseline time.Duration   `yaml:"baseline"`
	Tiers    []throttle.Tier `yaml:"tiers"`
}

// ActivityLog is an optional JSONL file of activity recorded outside the
// proxy. Empty Path disables it.
type ActivityLog struct {
	Path         string        `yaml:"path"`
	PollInterval time.Duration `yaml:"poll_interval"`
	FromStart    bool          `yaml:"from_start"`
}

type Presence struct {
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	// SinkRate and SinkBurst bound updates reaching the sink.
	SinkRate  float64 `yaml:"sink_rate"`
	SinkBurst int     `yaml:"sink_burst"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{Hermes: hermes.DefaultConfig()}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	applyDefaults(cfg)

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Save writes cfg back to path as YAML.
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("BEACON_ADMIN_TOKEN"); v != "" {
		cfg.AdminToken = v
	}
	if v := os.Getenv("BEACON_NATS_URL"); v != "" {
		cfg.Hermes.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}
	if cfg.AdminListen == "" {
		cfg.AdminListen = "127.0.0.1:9090"
	}
	if cfg.Project == "" {
		cfg.Project = presence.DefaultProject
	}
	if cfg.DefaultTool == "" {
		cfg.DefaultTool = "Proxy"
	}

	if cfg.Activity.IdleTimeout == 0 {
		cfg.Activity.IdleTimeout = activity.DefaultIdleTimeout
	}
	if cfg.Activity.HostHistory == 0 {
		cfg.Activity.HostHistory = activity.DefaultHistorySize
	}
	if cfg.Activity.HostCacheTTL == 0 {
		cfg.Activity.HostCacheTTL = activity.DefaultHostCacheTTL
	}
	if cfg.Activity.ShutdownGrace == 0 {
		cfg.Activity.ShutdownGrace = activity.DefaultShutdownGrace
	}

	if cfg.Throttle.Window == 0 {
		cfg.Throttle.Window = throttle.DefaultWindow
	}
	if cfg.Throttle.Baseline == 0 {
		cfg.Throttle.Baseline = throttle.DefaultBaseline
	}
	if cfg.Throttle.Tiers == nil {
		cfg.Throttle.Tiers = throttle.DefaultTiers()
	}

	if cfg.Presence.RefreshInterval == 0 {
		cfg.Presence.RefreshInterval = presence.DefaultRefreshInterval
	}
	if cfg.Presence.SinkRate == 0 {
		cfg.Presence.SinkRate = 1
	}
	if cfg.Presence.SinkBurst == 0 {
		cfg.Presence.SinkBurst = 5
	}

	if cfg.ActivityLog.PollInterval == 0 {
		cfg.ActivityLog.PollInterval = tailer.DefaultPollInterval
	}

	if cfg.Hermes.Source == "" {
		cfg.Hermes.Source = "beacon"
	}
}

// TrackerConfig converts the activity section.
func (c *Config) TrackerConfig() activity.Config {
	return activity.Config{
		IdleTimeout:   c.Activity.IdleTimeout,
		HistorySize:   c.Activity.HostHistory,
		HostCacheTTL:  c.Activity.HostCacheTTL,
		ShutdownGrace: c.Activity.ShutdownGrace,
	}
}

// ThrottleConfig converts the throttle section.
func (c *Config) ThrottleConfig() throttle.Config {
	return throttle.Config{
		Window:   c.Throttle.Window,
		Baseline: c.Throttle.Baseline,
		Tiers:    c.Throttle.Tiers,
	}
}
