package hermes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"beacon/internal/presence"
	"beacon/internal/tools"
)

// Envelope types. An all-idle status travels as TypePresenceIdle.
const (
	TypePresenceStatus = "presence.status"
	TypePresenceIdle   = "presence.idle"
)

var errMalformedEvent = errors.New("hermes: malformed event")

// Event is the envelope every presence message travels in. CorrelationID
// carries the daemon session so consumers can group updates.
type Event struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Data          json.RawMessage `json:"data"`
}

// PresenceData is the payload of both presence event types.
type PresenceData struct {
	SessionID    string    `json:"session_id"`
	State        string    `json:"state"`
	Host         string    `json:"host,omitempty"`
	Project      string    `json:"project"`
	SessionStart time.Time `json:"session_start"`
}

// NewEvent wraps data in a fresh envelope.
func NewEvent(eventType, source string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      raw,
	}, nil
}

// NewPresenceEvent builds the envelope for s, picking the idle type when no
// tool is active.
func NewPresenceEvent(source, sessionID string, s presence.Status) (Event, error) {
	typ := TypePresenceStatus
	if s.State == tools.Idle.String() {
		typ = TypePresenceIdle
	}
	ev, err := NewEvent(typ, source, PresenceData{
		SessionID:    sessionID,
		State:        s.State,
		Host:         s.Host,
		Project:      s.Project,
		SessionStart: s.SessionStart,
	})
	if err != nil {
		return Event{}, err
	}
	return ev.WithCorrelation(sessionID), nil
}

// WithCorrelation returns a copy of the event with the given correlation ID.
func (e Event) WithCorrelation(correlationID string) Event {
	e.CorrelationID = correlationID
	return e
}

// Subject is the NATS subject the event is published on.
func (e Event) Subject() string {
	if e.Type == TypePresenceIdle {
		return IdleSubject(e.Source)
	}
	return StatusSubject(e.Source)
}

// Presence decodes the payload of a presence event.
func (e Event) Presence() (PresenceData, error) {
	var d PresenceData
	if e.Type != TypePresenceStatus && e.Type != TypePresenceIdle {
		return d, fmt.Errorf("%w: %q is not a presence event", errMalformedEvent, e.Type)
	}
	if err := json.Unmarshal(e.Data, &d); err != nil {
		return d, fmt.Errorf("%w: presence payload: %v", errMalformedEvent, err)
	}
	return d, nil
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// UnmarshalEvent decodes an envelope and rejects one without ID or type.
func UnmarshalEvent(data []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", errMalformedEvent, err)
	}
	if ev.ID == "" || ev.Type == "" {
		return Event{}, fmt.Errorf("%w: missing id or type", errMalformedEvent)
	}
	return ev, nil
}
