// Package presence defines the boundary to the presence sink and the
// reporter that decides what to publish and when.
package presence

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// DefaultProject is used when no project label is configured.
const DefaultProject = "Untitled Project"

// ErrRateLimited is returned by Limited when the sink budget is spent.
var ErrRateLimited = errors.New("presence: sink rate limit exceeded")

// Status is one presence update.
type Status struct {
	State        string    `json:"state"`
	Host         string    `json:"host,omitempty"`
	Project      string    `json:"project"`
	SessionStart time.Time `json:"session_start"`
}

// Publisher pushes a status to a presence sink.
type Publisher interface {
	Publish(ctx context.Context, s Status) error
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(ctx context.Context, s Status) error

func (f PublisherFunc) Publish(ctx context.Context, s Status) error { return f(ctx, s) }

// Dedupe drops a status identical to the last one successfully published.
type Dedupe struct {
	mu   sync.Mutex
	next Publisher
	last Status
	has  bool
}

func NewDedupe(next Publisher) *Dedupe {
	return &Dedupe{next: next}
}

func (d *Dedupe) Publish(ctx context.Context, s Status) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.has && d.last == s {
		return nil
	}
	if err := d.next.Publish(ctx, s); err != nil {
		return err
	}
	d.last = s
	d.has = true
	return nil
}

// Limited caps how often the wrapped sink is called. Updates over budget are
// dropped with ErrRateLimited rather than queued.
type Limited struct {
	next    Publisher
	limiter *rate.Limiter
}

func NewLimited(next Publisher, perSecond float64, burst int) *Limited {
	return &Limited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (l *Limited) Publish(ctx context.Context, s Status) error {
	if !l.limiter.Allow() {
		return ErrRateLimited
	}
	return l.next.Publish(ctx, s)
}

// LogPublisher writes each status to the log. Used when no external sink is
// configured.
type LogPublisher struct {
	logger *slog.Logger
}

func NewLogPublisher(logger *slog.Logger) *LogPublisher {
	return &LogPublisher{logger: logger.With("component", "presence-log")}
}

func (p *LogPublisher) Publish(_ context.Context, s Status) error {
	p.logger.Info("presence update",
		"state", s.State,
		"host", s.Host,
		"project", s.Project,
		"session_start", s.SessionStart,
	)
	return nil
}
