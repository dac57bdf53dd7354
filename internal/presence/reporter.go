package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"beacon/internal/activity"
	"beacon/internal/events"
	"beacon/internal/throttle"
	"beacon/internal/tools"
)

// DefaultRefreshInterval is how often Run republishes without new traffic.
const DefaultRefreshInterval = 30 * time.Second

// Tracker is the subset of activity.Tracker the reporter drives.
type Tracker interface {
	ActivateTool(tools.Tool)
	DeactivateTool(tools.Tool)
	RecordHost(host string)
	Snapshot() activity.Snapshot
}

type ReporterConfig struct {
	Project      string
	SessionStart time.Time
	// ShowHost includes the most common host in published statuses.
	ShowHost bool
}

// Reporter feeds observed activity into the tracker and publishes summaries,
// gated by the adaptive throttle on the request path.
type Reporter struct {
	tracker  Tracker
	throttle *throttle.Throttle
	pub      Publisher
	emitter  *events.Emitter

	mu           sync.RWMutex
	project      string
	showHost     bool
	sessionStart time.Time

	// pubMu keeps at most one Publish call in flight.
	pubMu  sync.Mutex
	idleCh chan struct{}
	now    func() time.Time
	logger *slog.Logger
}

func NewReporter(tracker Tracker, th *throttle.Throttle, pub Publisher, emitter *events.Emitter, cfg ReporterConfig, logger *slog.Logger) *Reporter {
	if cfg.Project == "" {
		cfg.Project = DefaultProject
	}
	if cfg.SessionStart.IsZero() {
		cfg.SessionStart = time.Now()
	}
	emitter.Quiet(events.HostRecorded, events.PresenceThrottled)
	return &Reporter{
		tracker:      tracker,
		throttle:     th,
		pub:          pub,
		emitter:      emitter,
		project:      cfg.Project,
		showHost:     cfg.ShowHost,
		sessionStart: cfg.SessionStart,
		idleCh:       make(chan struct{}, 1),
		now:          time.Now,
		logger:       logger.With("component", "reporter"),
	}
}

// SetShowHost toggles whether the host label is published.
func (r *Reporter) SetShowHost(show bool) {
	r.mu.Lock()
	r.showHost = show
	r.mu.Unlock()
}

// Status builds the summary that would be published now. Label and host
// come from one tracker snapshot.
func (r *Reporter) Status() Status {
	r.mu.RLock()
	project, showHost, start := r.project, r.showHost, r.sessionStart
	r.mu.RUnlock()

	snap := r.tracker.Snapshot()
	s := Status{
		State:        snap.Status,
		Project:      project,
		SessionStart: start,
	}
	if showHost {
		s.Host = snap.MostCommonHost
	}
	return s
}

// Observe records one unit of work by tool against host and publishes a
// fresh summary if the throttle allows. Reports whether a publish was
// attempted.
func (r *Reporter) Observe(ctx context.Context, tool tools.Tool, host string) bool {
	r.tracker.ActivateTool(tool)
	r.tracker.RecordHost(host)
	r.emitter.Emit(events.Event{Type: events.HostRecorded, Tool: tool.String(), Fields: map[string]string{"host": host}})

	now := r.now()
	if !r.throttle.Allow(now) {
		r.emitter.Emit(events.Event{Type: events.PresenceThrottled, Fields: map[string]string{
			"interval": r.throttle.Stats().Interval.String(),
		}})
		return false
	}
	r.publish(ctx, "activity")
	return true
}

// Activate marks tool as engaged outside the request path and publishes.
func (r *Reporter) Activate(ctx context.Context, tool tools.Tool) {
	r.tracker.ActivateTool(tool)
	r.emitter.Emit(events.Event{Type: events.ToolActivated, Tool: tool.String()})
	_ = r.Refresh(ctx)
}

// Deactivate marks tool as no longer engaged and publishes.
func (r *Reporter) Deactivate(ctx context.Context, tool tools.Tool) {
	r.tracker.DeactivateTool(tool)
	r.emitter.Emit(events.Event{Type: events.ToolDeactivated, Tool: tool.String()})
	_ = r.Refresh(ctx)
}

// Refresh publishes the current summary regardless of the throttle.
func (r *Reporter) Refresh(ctx context.Context) error {
	r.throttle.MarkPublished(r.now())
	return r.publish(ctx, "refresh")
}

// OnIdle is the tracker's idle callback. It runs under the tracker lock, so
// it only signals Run.
func (r *Reporter) OnIdle() {
	select {
	case r.idleCh <- struct{}{}:
	default:
	}
}

// Run publishes once immediately, then every interval, and whenever the
// tracker reports idle. It blocks until ctx is cancelled. Publish errors are
// already logged and emitted by publish, so they are not returned here.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultRefreshInterval
	}
	_ = r.Refresh(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Refresh(ctx)
		case <-r.idleCh:
			r.emitter.Emit(events.Event{Type: events.SessionIdle})
			_ = r.Refresh(ctx)
		}
	}
}

func (r *Reporter) publish(ctx context.Context, reason string) error {
	r.pubMu.Lock()
	defer r.pubMu.Unlock()

	s := r.Status()
	err := r.pub.Publish(ctx, s)
	switch {
	case err == nil:
		r.emitter.Emit(events.Event{Type: events.PresencePublished, Fields: map[string]string{
			"status":   s.State,
			"host":     s.Host,
			"reason":   reason,
			"interval": r.throttle.Stats().Interval.String(),
		}})
	case errors.Is(err, ErrRateLimited):
		r.emitter.Emit(events.Event{Type: events.PresenceThrottled, Fields: map[string]string{
			"interval": r.throttle.Stats().Interval.String(),
		}})
	default:
		r.logger.Warn("presence publish failed", "status", s.State, "reason", reason, "error", err)
		r.emitter.Emit(events.Event{Type: events.PresenceFailed, Fields: map[string]string{"error": err.Error()}})
	}
	return err
}
