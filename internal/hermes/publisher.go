package hermes

import (
	"context"
	"fmt"

	"beacon/internal/presence"
)

// conn is the part of Client the publisher uses.
type conn interface {
	Source() string
	Publish(subject string, ev Event) error
	StoreLatest(ctx context.Context, ev Event) error
}

// Publisher sends presence statuses over NATS. It implements
// presence.Publisher.
type Publisher struct {
	conn      conn
	sessionID string
}

func NewPublisher(c *Client, sessionID string) *Publisher {
	return &Publisher{conn: c, sessionID: sessionID}
}

// Publish sends s on the status subject, or the idle subject when nothing is
// active, then records it as the latest presence.
func (p *Publisher) Publish(ctx context.Context, s presence.Status) error {
	ev, err := NewPresenceEvent(p.conn.Source(), p.sessionID, s)
	if err != nil {
		return fmt.Errorf("build presence event: %w", err)
	}
	if err := p.conn.Publish(ev.Subject(), ev); err != nil {
		return fmt.Errorf("publish presence: %w", err)
	}
	return p.conn.StoreLatest(ctx, ev)
}
