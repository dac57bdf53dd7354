// Package alerts posts selected events to HTTP webhooks.
package alerts

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"beacon/internal/events"
)

// WebhookConfig is one webhook target. An empty Events list matches every
// event type.
type WebhookConfig struct {
	URL     string            `yaml:"url"`
	Events  []string          `yaml:"events"`
	Headers map[string]string `yaml:"headers"`
}

type webhook struct {
	url     string
	events  map[string]bool
	headers map[string]string
}

func (w webhook) matches(eventType string) bool {
	return len(w.events) == 0 || w.events[eventType]
}

// WebhookAlerter delivers events asynchronously; delivery failures are
// logged and not retried.
type WebhookAlerter struct {
	hooks  []webhook
	client *http.Client
	logger *slog.Logger
}

func NewWebhookAlerter(cfgs []WebhookConfig, logger *slog.Logger) *WebhookAlerter {
	hooks := make([]webhook, 0, len(cfgs))
	for _, c := range cfgs {
		h := webhook{url: c.URL, headers: c.Headers}
		if len(c.Events) > 0 {
			h.events = make(map[string]bool, len(c.Events))
			for _, e := range c.Events {
				h.events[e] = true
			}
		}
		hooks = append(hooks, h)
	}
	return &WebhookAlerter{
		hooks:  hooks,
		client: &http.Client{Timeout: 5 * time.Second},
		logger: logger.With("component", "alerts"),
	}
}

// RegisterEventHandler subscribes the alerter to the emitter.
func (a *WebhookAlerter) RegisterEventHandler(emitter *events.Emitter) {
	if len(a.hooks) == 0 {
		return
	}
	emitter.OnEvent(func(ev events.Event) {
		for _, h := range a.hooks {
			if h.matches(ev.Type) {
				go a.send(h, ev)
			}
		}
	})
}

func (a *WebhookAlerter) send(h webhook, ev events.Event) {
	if err := a.post(h, ev); err != nil {
		a.logger.Warn("webhook delivery failed", "url", h.url, "event", ev.Type, "error", err)
	}
}

func (a *WebhookAlerter) post(h webhook, ev events.Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	req, err := http.NewRequest(http.MethodPost, h.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
