package config

import (
	"fmt"
	"net"
	"net/url"
	"regexp"

	"beacon/internal/tools"
)

// sourcePattern matches names usable as both a NATS subject token and a KV key.
var sourcePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

func validate(cfg *Config) error {
	if _, _, err := net.SplitHostPort(cfg.Listen); err != nil {
		return fmt.Errorf("config: invalid listen address %q: %w", cfg.Listen, err)
	}
	if _, _, err := net.SplitHostPort(cfg.AdminListen); err != nil {
		return fmt.Errorf("config: invalid admin_listen address %q: %w", cfg.AdminListen, err)
	}
	if cfg.Listen == cfg.AdminListen {
		return fmt.Errorf("config: listen and admin_listen must differ")
	}

	tool, err := tools.Parse(cfg.DefaultTool)
	if err != nil {
		return fmt.Errorf("config: default_tool: %w", err)
	}
	if tool == tools.Idle {
		return fmt.Errorf("config: default_tool cannot be Idle")
	}

	if cfg.Activity.IdleTimeout < 0 {
		return fmt.Errorf("config: activity.idle_timeout must be positive")
	}
	if cfg.Activity.HostHistory < 0 || cfg.Activity.HostHistory > 50 {
		return fmt.Errorf("config: activity.host_history must be between 1 and 50")
	}
	if cfg.Activity.HostCacheTTL < 0 {
		return fmt.Errorf("config: activity.host_cache_ttl must be positive")
	}

	if cfg.Throttle.Window < 0 || cfg.Throttle.Baseline < 0 {
		return fmt.Errorf("config: throttle window and baseline must be positive")
	}
	seen := make(map[int]bool)
	for i, tier := range cfg.Throttle.Tiers {
		if tier.Above < 0 {
			return fmt.Errorf("config: throttle.tiers[%d].above must be >= 0", i)
		}
		if tier.Interval <= 0 {
			return fmt.Errorf("config: throttle.tiers[%d].interval must be > 0", i)
		}
		if seen[tier.Above] {
			return fmt.Errorf("config: throttle.tiers: duplicate threshold %d", tier.Above)
		}
		seen[tier.Above] = true
	}

	if cfg.Presence.SinkRate < 0 || cfg.Presence.SinkBurst < 0 {
		return fmt.Errorf("config: presence sink_rate and sink_burst must be positive")
	}

	if cfg.ActivityLog.PollInterval < 0 {
		return fmt.Errorf("config: activity_log.poll_interval must be positive")
	}

	if cfg.Hermes.Enabled {
		if cfg.Hermes.URL == "" {
			return fmt.Errorf("config: hermes.url required when hermes is enabled")
		}
		if !sourcePattern.MatchString(cfg.Hermes.Source) {
			return fmt.Errorf("config: hermes.source %q must match %s", cfg.Hermes.Source, sourcePattern)
		}
	}

	for i, wh := range cfg.Webhooks {
		u, err := url.Parse(wh.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("config: webhooks[%d]: invalid url %q", i, wh.URL)
		}
	}

	return nil
}
