// Package events fans out in-process activity and presence events to
// metrics, webhooks and the admin event stream.
package events

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

const (
	ToolActivated     = "tool.activated"
	ToolDeactivated   = "tool.deactivated"
	HostRecorded      = "host.recorded"
	SessionIdle       = "session.idle"
	PresencePublished = "presence.published"
	PresenceFailed    = "presence.failed"
	PresenceThrottled = "presence.throttled"
)

type Event struct {
	Type      string            `json:"type"`
	Tool      string            `json:"tool,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Emitter calls handlers synchronously in registration order. Types marked
// Quiet still reach handlers but are not logged.
type Emitter struct {
	logger *slog.Logger

	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(Event)
	order    []int
	quiet    map[string]bool
}

func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		logger:   logger.With("component", "events"),
		handlers: make(map[int]func(Event)),
		quiet:    make(map[string]bool),
	}
}

func (e *Emitter) Quiet(types ...string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, t := range types {
		e.quiet[t] = true
	}
}

func (e *Emitter) Emit(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	e.mu.RLock()
	quiet := e.quiet[ev.Type]
	fns := make([]func(Event), 0, len(e.order))
	for _, id := range e.order {
		fns = append(fns, e.handlers[id])
	}
	e.mu.RUnlock()

	if !quiet {
		e.logger.Info("event emitted", ev.logAttrs()...)
	}
	for _, fn := range fns {
		fn(ev)
	}
}

// logAttrs flattens the event for slog with fields in stable key order.
func (ev Event) logAttrs() []any {
	attrs := []any{"event", ev.Type}
	if ev.Tool != "" {
		attrs = append(attrs, "tool", ev.Tool)
	}
	keys := make([]string, 0, len(ev.Fields))
	for k := range ev.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, ev.Fields[k])
	}
	return attrs
}

// OnEvent registers fn and returns an ID for RemoveHandler.
func (e *Emitter) OnEvent(fn func(Event)) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = fn
	e.order = append(e.order, id)
	return id
}

func (e *Emitter) RemoveHandler(id int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.handlers[id]; !ok {
		return
	}
	delete(e.handlers, id)
	for i, v := range e.order {
		if v == id {
			e.order = append(e.order[:i:i], e.order[i+1:]...)
			break
		}
	}
}
