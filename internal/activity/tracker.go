// Package activity tracks which tools are engaged, which hosts were contacted
// recently, and whether the session has gone idle.
package activity

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"beacon/internal/tools"
)

const (
	DefaultIdleTimeout   = 5 * time.Minute
	DefaultHistorySize   = 20
	DefaultHostCacheTTL  = 30 * time.Second
	DefaultShutdownGrace = 5 * time.Second
)

// Config holds the tracker's tunables. Zero fields take the defaults above.
type Config struct {
	IdleTimeout   time.Duration
	HistorySize   int
	HostCacheTTL  time.Duration
	ShutdownGrace time.Duration
}

func (c Config) withDefaults() Config {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.HistorySize <= 0 {
		c.HistorySize = DefaultHistorySize
	}
	if c.HostCacheTTL <= 0 {
		c.HostCacheTTL = DefaultHostCacheTTL
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = DefaultShutdownGrace
	}
	return c
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithClock overrides the time source used for host cache expiry.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// Snapshot is a consistent view of the tracker taken under one lock.
type Snapshot struct {
	Tools          []tools.Tool `json:"tools"`
	Status         string       `json:"status"`
	MostCommonHost string       `json:"most_common_host"`
	Hosts          []string     `json:"hosts"`
	Active         bool         `json:"active"`
	IdleState      string       `json:"idle_state"`
	IdleFirings    int          `json:"idle_firings"`
}

// Tracker owns the active tool set, the host history with its most-common
// cache, and the idle timer. Every method is atomic with respect to every
// other and to the idle firing.
type Tracker struct {
	mu      sync.Mutex
	active  map[tools.Tool]struct{}
	history *HostHistory
	cache   hostCache
	idle    *IdleTimer
	firings int

	// recomputes counts MostCommon recalculations.
	recomputes int

	onIdle func()
	sched  *Scheduler
	grace  time.Duration
	now    func() time.Time
	logger *slog.Logger
}

// New creates a Tracker. onIdle, if non-nil, runs with the tracker lock held
// each time the idle timer fires, so it must not call back into the Tracker.
func New(cfg Config, onIdle func(), logger *slog.Logger, opts ...Option) *Tracker {
	cfg = cfg.withDefaults()
	l := logger.With("component", "activity")

	t := &Tracker{
		active:  make(map[tools.Tool]struct{}),
		history: NewHostHistory(cfg.HistorySize),
		cache:   hostCache{ttl: cfg.HostCacheTTL},
		onIdle:  onIdle,
		sched:   NewScheduler(l),
		grace:   cfg.ShutdownGrace,
		now:     time.Now,
		logger:  l,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.idle = NewIdleTimer(&t.mu, t.sched, cfg.IdleTimeout, t.wentIdle)
	return t
}

// ActivateTool marks tool as engaged and restarts the idle countdown.
// Activating Idle does nothing.
func (t *Tracker) ActivateTool(tool tools.Tool) {
	if tool == tools.Idle {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active[tool] = struct{}{}
	t.idle.Rearm()
}

// DeactivateTool marks tool as no longer engaged. When the last tool goes
// away the idle countdown restarts.
func (t *Tracker) DeactivateTool(tool tools.Tool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.active, tool)
	if len(t.active) == 0 {
		t.idle.Rearm()
	}
}

// RecordHost appends host to the history and restarts the idle countdown.
// Empty hosts are ignored.
func (t *Tracker) RecordHost(host string) {
	if host == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache.invalidate()
	t.history.Push(host)
	t.idle.Rearm()
}

// MostCommonHost returns the most frequent host in the recent history, or
// NoHost when the history is empty. The result is cached until the next
// RecordHost or until the cache TTL passes.
func (t *Tracker) MostCommonHost() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.mostCommonHost()
}

func (t *Tracker) mostCommonHost() string {
	now := t.now()
	if v, ok := t.cache.get(now); ok {
		return v
	}
	v := t.history.MostCommon()
	t.cache.put(v, now)
	t.recomputes++
	return v
}

// FormattedToolNames joins the active tools' display names in rank order,
// or returns the Idle display name when nothing is active.
func (t *Tracker) FormattedToolNames() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return formatTools(t.activeTools())
}

// HasActiveTools reports whether any tool is engaged.
func (t *Tracker) HasActiveTools() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.active) > 0
}

// Snapshot returns the tracker state in one consistent read.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	active := t.activeTools()
	return Snapshot{
		Tools:          active,
		Status:         formatTools(active),
		MostCommonHost: t.mostCommonHost(),
		Hosts:          t.history.Snapshot(),
		Active:         len(active) > 0,
		IdleState:      t.idle.State().String(),
		IdleFirings:    t.firings,
	}
}

// Shutdown cancels the pending idle firing and stops the scheduler, waiting
// up to the configured grace period before abandoning it.
func (t *Tracker) Shutdown() {
	t.mu.Lock()
	t.idle.Cancel()
	t.mu.Unlock()

	if err := t.sched.Shutdown(t.grace); err != nil {
		t.logger.Warn("forced scheduler termination", "error", err)
		return
	}
	t.logger.Info("activity tracker stopped")
}

// wentIdle runs on the scheduler goroutine with t.mu held.
func (t *Tracker) wentIdle() {
	cleared := len(t.active)
	clear(t.active)
	t.firings++
	t.logger.Info("session idle", "cleared_tools", cleared)
	if t.onIdle != nil {
		t.onIdle()
	}
}

func (t *Tracker) activeTools() []tools.Tool {
	out := make([]tools.Tool, 0, len(t.active))
	for tool := range t.active {
		out = append(out, tool)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Rank() < out[j].Rank() })
	return out
}

func formatTools(active []tools.Tool) string {
	if len(active) == 0 {
		return tools.Idle.String()
	}
	names := make([]string, len(active))
	for i, tool := range active {
		names[i] = tool.String()
	}
	return strings.Join(names, ", ")
}
