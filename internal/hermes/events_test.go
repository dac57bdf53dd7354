package hermes

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"beacon/internal/presence"
)

func TestNewPresenceEvent(t *testing.T) {
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	ev, err := NewPresenceEvent("desk", "s-1", presence.Status{
		State: "Proxy, Repeater", Host: "a.example.com", Project: "acme", SessionStart: start,
	})
	if err != nil {
		t.Fatalf("NewPresenceEvent: %v", err)
	}
	if ev.ID == "" || ev.Timestamp.IsZero() {
		t.Errorf("envelope missing id or timestamp: %+v", ev)
	}
	if ev.Type != TypePresenceStatus || ev.Source != "desk" || ev.CorrelationID != "s-1" {
		t.Errorf("unexpected envelope: %+v", ev)
	}

	d, err := ev.Presence()
	if err != nil {
		t.Fatalf("Presence: %v", err)
	}
	if d.State != "Proxy, Repeater" || d.SessionID != "s-1" || !d.SessionStart.Equal(start) {
		t.Errorf("unexpected payload: %+v", d)
	}
}

func TestNewPresenceEventIdle(t *testing.T) {
	ev, err := NewPresenceEvent("desk", "s-1", presence.Status{State: "Idle", Project: "p"})
	if err != nil {
		t.Fatalf("NewPresenceEvent: %v", err)
	}
	if ev.Type != TypePresenceIdle {
		t.Errorf("type = %q, want %q", ev.Type, TypePresenceIdle)
	}

	var obj map[string]any
	if err := json.Unmarshal(ev.Data, &obj); err != nil {
		t.Fatal(err)
	}
	if _, ok := obj["host"]; ok {
		t.Error("expected host to be omitted when empty")
	}
}

func TestUnmarshalEvent(t *testing.T) {
	ev, _ := NewPresenceEvent("desk", "corr-123", presence.Status{State: "Scanner"})
	data, err := ev.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	got, err := UnmarshalEvent(data)
	if err != nil {
		t.Fatalf("UnmarshalEvent: %v", err)
	}
	if got.ID != ev.ID || got.CorrelationID != "corr-123" {
		t.Errorf("decoded %+v, want %+v", got, ev)
	}

	for _, bad := range []string{`not json`, `{"type":"presence.status"}`, `{"id":"x"}`} {
		if _, err := UnmarshalEvent([]byte(bad)); !errors.Is(err, errMalformedEvent) {
			t.Errorf("UnmarshalEvent(%s) = %v, want malformed", bad, err)
		}
	}
}

func TestPresenceRejectsOtherTypes(t *testing.T) {
	ev := Event{ID: "x", Type: "task.created", Data: json.RawMessage(`{}`)}
	if _, err := ev.Presence(); !errors.Is(err, errMalformedEvent) {
		t.Errorf("Presence() = %v, want malformed", err)
	}
}

func TestStreamAndBucketConfigs(t *testing.T) {
	if len(StreamConfigs) != 1 || StreamConfigs[0].Name != StreamPresence {
		t.Fatalf("unexpected stream configs: %+v", StreamConfigs)
	}
	if got := StreamConfigs[0].Subjects; len(got) != 1 || got[0] != "presence.>" {
		t.Errorf("PRESENCE subjects = %v, want [presence.>]", got)
	}
	if len(KVBucketConfigs) != 1 || KVBucketConfigs[0].Bucket != BucketLatest {
		t.Errorf("unexpected bucket configs: %+v", KVBucketConfigs)
	}
	if KVBucketConfigs[0].History != 1 {
		t.Errorf("latest bucket keeps %d revisions, want 1", KVBucketConfigs[0].History)
	}
}
