package config

import (
	"strings"
	"testing"
	"time"

	"beacon/internal/alerts"
	"beacon/internal/throttle"
)

func validConfig() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "bad listen",
			mutate:  func(c *Config) { c.Listen = "8080" },
			wantErr: "invalid listen address",
		},
		{
			name:    "bad admin listen",
			mutate:  func(c *Config) { c.AdminListen = "localhost" },
			wantErr: "invalid admin_listen address",
		},
		{
			name:    "same listeners",
			mutate:  func(c *Config) { c.AdminListen = c.Listen },
			wantErr: "must differ",
		},
		{
			name:    "unknown default tool",
			mutate:  func(c *Config) { c.DefaultTool = "spider" },
			wantErr: "unknown tool",
		},
		{
			name:    "idle default tool",
			mutate:  func(c *Config) { c.DefaultTool = "Idle" },
			wantErr: "cannot be Idle",
		},
		{
			name:    "history too large",
			mutate:  func(c *Config) { c.Activity.HostHistory = 500 },
			wantErr: "host_history",
		},
		{
			name:    "negative idle timeout",
			mutate:  func(c *Config) { c.Activity.IdleTimeout = -time.Second },
			wantErr: "idle_timeout",
		},
		{
			name: "zero tier interval",
			mutate: func(c *Config) {
				c.Throttle.Tiers = []throttle.Tier{{Above: 10}}
			},
			wantErr: "interval must be > 0",
		},
		{
			name: "duplicate tier",
			mutate: func(c *Config) {
				c.Throttle.Tiers = []throttle.Tier{
					{Above: 10, Interval: time.Second},
					{Above: 10, Interval: 2 * time.Second},
				}
			},
			wantErr: "duplicate threshold",
		},
		{
			name: "hermes without url",
			mutate: func(c *Config) {
				c.Hermes.Enabled = true
				c.Hermes.URL = ""
			},
			wantErr: "hermes.url required",
		},
		{
			name: "hermes bad source",
			mutate: func(c *Config) {
				c.Hermes.Enabled = true
				c.Hermes.URL = "nats://localhost:4222"
				c.Hermes.Source = "burp.suite"
			},
			wantErr: "hermes.source",
		},
		{
			name: "webhook without scheme",
			mutate: func(c *Config) {
				c.Webhooks = []alerts.WebhookConfig{{URL: "hooks.example.com/beacon"}}
			},
			wantErr: "webhooks[0]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := validate(cfg)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateSuccess(t *testing.T) {
	if err := validate(validConfig()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
