package hermes

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Config holds the Hermes client configuration.
type Config struct {
	Enabled        bool          `yaml:"enabled"`
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Source         string        `yaml:"source"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	ReconnectWait  time.Duration `yaml:"reconnect_wait"`
	MaxReconnects  int           `yaml:"max_reconnects"`
	// JetStream provisions the PRESENCE stream and latest-status bucket.
	JetStream bool `yaml:"jetstream"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		URL:            "nats://localhost:4222",
		Source:         "beacon",
		ConnectTimeout: 5 * time.Second,
		ReconnectWait:  2 * time.Second,
		MaxReconnects:  -1, // infinite
	}
}

// ErrNoLatest is returned by Latest when the bucket has no entry for a source.
var ErrNoLatest = errors.New("hermes: no latest presence for source")

// Client publishes presence over NATS. With JetStream, statuses are also
// captured by the PRESENCE stream and the latest one per source is kept in
// a KeyValue bucket.
type Client struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	latest jetstream.KeyValue // nil until Provision or OpenLatest
	source string
	logger *slog.Logger
}

// Connect dials NATS. It does not touch JetStream state.
func Connect(cfg Config, logger *slog.Logger) (*Client, error) {
	l := logger.With("component", "hermes", "source", cfg.Source)
	opts := []nats.Option{
		nats.Name(cfg.Source),
		nats.Timeout(cfg.ConnectTimeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				l.Warn("hermes disconnected, presence updates will fail until reconnect", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("hermes reconnected", "url", nc.ConnectedUrl())
		}),
	}
	if cfg.Token != "" {
		opts = append(opts, nats.Token(cfg.Token))
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("hermes connect %s: %w", cfg.URL, err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("hermes jetstream: %w", err)
	}
	return &Client{nc: nc, js: js, source: cfg.Source, logger: l}, nil
}

// Source returns the name this client publishes under.
func (c *Client) Source() string {
	return c.source
}

// Connected reports whether the NATS connection is currently up.
func (c *Client) Connected() bool {
	return c.nc != nil && c.nc.IsConnected()
}

// Publish sends ev on subject. The event ID doubles as the JetStream
// message ID so a retried publish is stored once.
func (c *Client) Publish(subject string, ev Event) error {
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(nats.MsgIdHdr, ev.ID)
	return c.nc.PublishMsg(msg)
}

// Subscribe calls handler for every event on subject. Undecodable messages
// are logged and skipped.
func (c *Client) Subscribe(subject string, handler func(Event)) (*nats.Subscription, error) {
	return c.nc.Subscribe(subject, func(msg *nats.Msg) {
		ev, err := UnmarshalEvent(msg.Data)
		if err != nil {
			c.logger.Error("failed to unmarshal event", "subject", msg.Subject, "error", err)
			return
		}
		handler(ev)
	})
}

// Provision creates or updates the PRESENCE stream and the latest-status
// bucket, and keeps the bucket open for StoreLatest.
func (c *Client) Provision(ctx context.Context) error {
	for _, cfg := range StreamConfigs {
		if _, err := c.js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("provision stream %s: %w", cfg.Name, err)
		}
	}
	for _, cfg := range KVBucketConfigs {
		kv, err := c.js.CreateOrUpdateKeyValue(ctx, cfg)
		if err != nil {
			return fmt.Errorf("provision KV bucket %s: %w", cfg.Bucket, err)
		}
		if cfg.Bucket == BucketLatest {
			c.latest = kv
		}
	}
	c.logger.Info("jetstream provisioned", "stream", StreamPresence, "bucket", BucketLatest)
	return nil
}

// OpenLatest binds an existing latest-status bucket without creating it.
func (c *Client) OpenLatest(ctx context.Context) error {
	kv, err := c.js.KeyValue(ctx, BucketLatest)
	if err != nil {
		return fmt.Errorf("open KV bucket %s: %w", BucketLatest, err)
	}
	c.latest = kv
	return nil
}

// StoreLatest records ev as this source's latest presence. It is a no-op
// when no bucket is bound.
func (c *Client) StoreLatest(ctx context.Context, ev Event) error {
	if c.latest == nil {
		return nil
	}
	data, err := ev.Marshal()
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if _, err := c.latest.Put(ctx, c.source, data); err != nil {
		return fmt.Errorf("store latest presence: %w", err)
	}
	return nil
}

// Sources lists every source with a stored latest presence.
func (c *Client) Sources(ctx context.Context) ([]string, error) {
	if c.latest == nil {
		return nil, nil
	}
	keys, err := c.latest.Keys(ctx)
	if errors.Is(err, jetstream.ErrNoKeysFound) {
		return nil, nil
	}
	return keys, err
}

// Latest returns the stored latest presence for source.
func (c *Client) Latest(ctx context.Context, source string) (Event, error) {
	if c.latest == nil {
		return Event{}, ErrNoLatest
	}
	entry, err := c.latest.Get(ctx, source)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return Event{}, ErrNoLatest
	}
	if err != nil {
		return Event{}, fmt.Errorf("get latest presence %s: %w", source, err)
	}
	return UnmarshalEvent(entry.Value())
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	if c.nc != nil {
		return c.nc.Drain()
	}
	return nil
}
