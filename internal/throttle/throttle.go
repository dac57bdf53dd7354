// Package throttle decides when a presence update may be published, backing
// off as request volume in a rolling window grows.
package throttle

import (
	"sort"
	"sync"
	"time"
)

const (
	DefaultWindow   = 10 * time.Second
	DefaultBaseline = time.Second
)

// Tier raises the minimum publish interval once the window's event count is
// strictly greater than Above.
type Tier struct {
	Above    int           `yaml:"above" json:"above"`
	Interval time.Duration `yaml:"interval" json:"interval"`
}

// DefaultTiers: >50 events → 2s, >100 events → 3s.
func DefaultTiers() []Tier {
	return []Tier{
		{Above: 50, Interval: 2 * time.Second},
		{Above: 100, Interval: 3 * time.Second},
	}
}

// Config holds the throttle policy. Zero fields take the defaults.
type Config struct {
	Window   time.Duration
	Baseline time.Duration
	Tiers    []Tier
}

// Stats is a point-in-time view of the throttle.
type Stats struct {
	Count       int           `json:"count"`
	WindowStart time.Time     `json:"window_start"`
	LastPublish time.Time     `json:"last_publish"`
	Interval    time.Duration `json:"interval"`
	Allowed     uint64        `json:"allowed"`
	Suppressed  uint64        `json:"suppressed"`
}

// Throttle is safe for concurrent use.
type Throttle struct {
	mu       sync.Mutex
	window   time.Duration
	baseline time.Duration
	tiers    []Tier // sorted by Above, descending

	count       int
	windowStart time.Time
	lastPublish time.Time
	allowed     uint64
	suppressed  uint64
}

// New returns a throttle whose first Allow call always succeeds.
func New(cfg Config) *Throttle {
	t := &Throttle{}
	t.apply(cfg)
	return t
}

// Reconfigure swaps the policy while keeping the counters.
func (t *Throttle) Reconfigure(cfg Config) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.apply(cfg)
}

func (t *Throttle) apply(cfg Config) {
	t.window = cfg.Window
	if t.window <= 0 {
		t.window = DefaultWindow
	}
	t.baseline = cfg.Baseline
	if t.baseline <= 0 {
		t.baseline = DefaultBaseline
	}
	tiers := cfg.Tiers
	if tiers == nil {
		tiers = DefaultTiers()
	}
	t.tiers = append([]Tier(nil), tiers...)
	sort.Slice(t.tiers, func(i, j int) bool { return t.tiers[i].Above > t.tiers[j].Above })
}

// Interval returns the minimum publish interval for count events in the
// current window.
func (t *Throttle) Interval(count int) time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.interval(count)
}

func (t *Throttle) interval(count int) time.Duration {
	for _, tier := range t.tiers {
		if count > tier.Above {
			return tier.Interval
		}
	}
	return t.baseline
}

// Allow records one event at now and reports whether a publish may happen.
// On true the last-publish time moves to now.
func (t *Throttle) Allow(now time.Time) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.windowStart.IsZero() || now.Sub(t.windowStart) > t.window {
		t.count = 0
		t.windowStart = now
	}
	t.count++

	if !t.lastPublish.IsZero() && now.Sub(t.lastPublish) < t.interval(t.count) {
		t.suppressed++
		return false
	}
	t.lastPublish = now
	t.allowed++
	return true
}

// MarkPublished records a publish that bypassed Allow, such as a periodic
// refresh, so the next request-driven publish is spaced from it.
func (t *Throttle) MarkPublished(now time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.lastPublish = now
}

// Stats returns the current counters.
func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		Count:       t.count,
		WindowStart: t.windowStart,
		LastPublish: t.lastPublish,
		Interval:    t.interval(t.count),
		Allowed:     t.allowed,
		Suppressed:  t.suppressed,
	}
}
