package events

import (
	"bytes"
	"log/slog"
	"os"
	"strings"
	"testing"
)

func testEmitter() *Emitter {
	return NewEmitter(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

func TestEmitCallsAllHandlers(t *testing.T) {
	e := testEmitter()
	var calls [2]int
	e.OnEvent(func(Event) { calls[0]++ })
	e.OnEvent(func(Event) { calls[1]++ })
	e.Emit(Event{Type: "test", Tool: "Proxy"})
	if calls[0] != 1 || calls[1] != 1 {
		t.Errorf("expected both handlers called once, got %v", calls)
	}
}

func TestEmitCorrectFields(t *testing.T) {
	e := testEmitter()
	var got Event
	e.OnEvent(func(ev Event) { got = ev })
	e.Emit(Event{Type: ToolActivated, Tool: "Repeater", Fields: map[string]string{"host": "a.com"}})
	if got.Type != ToolActivated || got.Tool != "Repeater" {
		t.Errorf("unexpected event: %+v", got)
	}
	if got.Fields["host"] != "a.com" {
		t.Errorf("fields mismatch: %v", got.Fields)
	}
	if got.Timestamp.IsZero() {
		t.Error("timestamp should be set")
	}
}

func TestRemoveHandler(t *testing.T) {
	e := testEmitter()
	calls := 0
	id := e.OnEvent(func(Event) { calls++ })
	e.RemoveHandler(id)
	e.RemoveHandler(42) // out of range is ignored
	e.Emit(Event{Type: "test"})
	if calls != 0 {
		t.Errorf("removed handler called %d times", calls)
	}
}

func TestQuietSkipsLogButDispatches(t *testing.T) {
	var buf bytes.Buffer
	e := NewEmitter(slog.New(slog.NewJSONHandler(&buf, nil)))
	e.Quiet(HostRecorded)

	calls := 0
	e.OnEvent(func(Event) { calls++ })
	e.Emit(Event{Type: HostRecorded})
	e.Emit(Event{Type: SessionIdle})

	if calls != 2 {
		t.Errorf("handler calls = %d, want 2", calls)
	}
	out := buf.String()
	if strings.Contains(out, HostRecorded) {
		t.Errorf("quiet event was logged: %s", out)
	}
	if !strings.Contains(out, SessionIdle) {
		t.Errorf("expected %s in log output: %s", SessionIdle, out)
	}
}

func TestHandlersRunInRegistrationOrder(t *testing.T) {
	e := testEmitter()
	var seen []string
	e.OnEvent(func(Event) { seen = append(seen, "metrics") })
	mid := e.OnEvent(func(Event) { seen = append(seen, "sse") })
	e.OnEvent(func(Event) { seen = append(seen, "webhooks") })

	e.RemoveHandler(mid)
	e.Emit(Event{Type: SessionIdle})

	if strings.Join(seen, ",") != "metrics,webhooks" {
		t.Errorf("handler order = %v", seen)
	}
	if id := e.OnEvent(func(Event) {}); id != 3 {
		t.Errorf("ids must not be reused, got %d", id)
	}
}
