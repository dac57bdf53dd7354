package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"beacon/internal/activity"
	"beacon/internal/admin"
	"beacon/internal/alerts"
	"beacon/internal/config"
	"beacon/internal/events"
	"beacon/internal/hermes"
	"beacon/internal/metrics"
	"beacon/internal/presence"
	"beacon/internal/proxy"
	"beacon/internal/tailer"
	"beacon/internal/throttle"
	"beacon/internal/tools"
)

func main() {
	configPath := flag.String("config", "./beacon.yaml", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	sessionID := uuid.NewString()
	sessionStart := time.Now()
	logger.Info("config loaded",
		"listen", cfg.Listen,
		"admin_listen", cfg.AdminListen,
		"project", cfg.Project,
		"hermes", cfg.Hermes.Enabled,
		"session_id", sessionID,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	emitter := events.NewEmitter(logger)
	metrics.RegisterEventHandler(emitter)
	alerts.NewWebhookAlerter(cfg.Webhooks, logger).RegisterEventHandler(emitter)

	sink, closeSink, err := buildSink(ctx, cfg, sessionID, logger)
	if err != nil {
		logger.Error("failed to set up presence sink", "error", err)
		os.Exit(1)
	}
	defer closeSink()
	pub := presence.NewDedupe(presence.NewLimited(sink, cfg.Presence.SinkRate, cfg.Presence.SinkBurst))

	th := throttle.New(cfg.ThrottleConfig())

	// The idle callback runs under the tracker lock and only signals the
	// reporter. Idle cannot fire before the first activity, which needs the
	// reporter, so the late assignment is safe.
	var reporter *presence.Reporter
	tracker := activity.New(cfg.TrackerConfig(), func() { reporter.OnIdle() }, logger)
	reporter = presence.NewReporter(tracker, th, pub, emitter, presence.ReporterConfig{
		Project:      cfg.Project,
		SessionStart: sessionStart,
		ShowHost:     cfg.ShowTargetHost,
	}, logger)

	defaultTool, _ := tools.Parse(cfg.DefaultTool)
	prx := proxy.New(reporter, defaultTool, logger)
	adminSrv := admin.NewServer(tracker, reporter, th, prx.Hosts(), emitter, cfg.AdminToken, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return prx.ListenAndServe(gctx, cfg.Listen)
	})
	g.Go(func() error {
		return adminSrv.ListenAndServe(gctx, cfg.AdminListen)
	})
	g.Go(func() error {
		reporter.Run(gctx, cfg.Presence.RefreshInterval)
		return nil
	})
	if cfg.ActivityLog.Path != "" {
		tl := tailer.New(tailer.Config{
			Path:         cfg.ActivityLog.Path,
			PollInterval: cfg.ActivityLog.PollInterval,
			DefaultTool:  defaultTool,
			FromStart:    cfg.ActivityLog.FromStart,
		}, reporter, logger)
		g.Go(func() error {
			tl.Run(gctx)
			return nil
		})
	}

	// Wait for shutdown signal or SIGHUP for reload.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	var sig os.Signal
loop:
	for {
		select {
		case sig = <-sigCh:
			if sig != syscall.SIGHUP {
				break loop
			}
			logger.Info("SIGHUP received, reloading config")
			newCfg, err := config.Load(*configPath)
			if err != nil {
				logger.Error("failed to reload config", "error", err)
				continue
			}
			reloadConfig(logger, cfg, newCfg, th, reporter)
			cfg = newCfg
		case <-gctx.Done():
			break loop
		}
	}

	logger.Info("shutting down", "signal", sig, "status", tracker.FormattedToolNames())
	cancel()

	if err := g.Wait(); err != nil {
		logger.Error("server failed", "error", err)
	}
	tracker.Shutdown()

	fmt.Println("beacon stopped")
}

// buildSink returns the NATS publisher when Hermes is enabled, otherwise a
// log-only sink. The returned func releases the connection.
func buildSink(ctx context.Context, cfg *config.Config, sessionID string, logger *slog.Logger) (presence.Publisher, func(), error) {
	if !cfg.Hermes.Enabled {
		return presence.NewLogPublisher(logger), func() {}, nil
	}

	client, err := hermes.Connect(cfg.Hermes, logger)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if err := client.Close(); err != nil {
			logger.Warn("hermes close failed", "error", err)
		}
	}

	if cfg.Hermes.JetStream {
		if err := client.Provision(ctx); err != nil {
			closeFn()
			return nil, nil, fmt.Errorf("provision jetstream: %w", err)
		}
	}

	logger.Info("hermes connected", "url", cfg.Hermes.URL, "source", client.Source(), "jetstream", cfg.Hermes.JetStream)
	return hermes.NewPublisher(client, sessionID), closeFn, nil
}

func reloadConfig(logger *slog.Logger, old, new_ *config.Config, th *throttle.Throttle, reporter *presence.Reporter) {
	// Warn about structural changes that require restart.
	if old.Listen != new_.Listen || old.AdminListen != new_.AdminListen {
		logger.Warn("config reload: listen address change requires restart")
	}
	if old.Hermes != new_.Hermes {
		logger.Warn("config reload: hermes change requires restart")
	}
	if old.Activity != new_.Activity || old.Presence != new_.Presence || old.ActivityLog != new_.ActivityLog {
		logger.Warn("config reload: activity, presence and activity_log changes require restart")
	}
	if old.Project != new_.Project || old.AdminToken != new_.AdminToken || old.DefaultTool != new_.DefaultTool {
		logger.Warn("config reload: project, admin token and default tool changes require restart")
	}

	// Apply runtime-safe changes.
	th.Reconfigure(new_.ThrottleConfig())
	reporter.SetShowHost(new_.ShowTargetHost)
	logger.Info("config reload complete", "show_target_host", new_.ShowTargetHost, "tiers", len(new_.Throttle.Tiers))
}
