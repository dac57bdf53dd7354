package metrics

import (
	"log/slog"
	"os"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"beacon/internal/events"
)

func TestNewMetricsNoPanic(t *testing.T) {
	// Handler() should return without panic (metrics already registered in init)
	h := Handler()
	if h == nil {
		t.Error("expected non-nil handler")
	}
}

func TestRegisterEventHandlerUpdatesCounters(t *testing.T) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	emitter := events.NewEmitter(logger)
	RegisterEventHandler(emitter)

	before := testutil.ToFloat64(RequestsTotal.WithLabelValues("Repeater"))
	emitter.Emit(events.Event{Type: events.HostRecorded, Tool: "Repeater"})
	if got := testutil.ToFloat64(RequestsTotal.WithLabelValues("Repeater")); got != before+1 {
		t.Errorf("requests_total{Repeater} = %v, want %v", got, before+1)
	}

	emitter.Emit(events.Event{Type: events.PresencePublished, Fields: map[string]string{
		"status":   "Proxy, Scanner",
		"interval": "2s",
	}})
	if got := testutil.ToFloat64(ToolActive.WithLabelValues("Proxy")); got != 1 {
		t.Errorf("tool_active{Proxy} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(ToolActive.WithLabelValues("Repeater")); got != 0 {
		t.Errorf("tool_active{Repeater} = %v, want 0", got)
	}
	if got := testutil.ToFloat64(ThrottleInterval); got != 2 {
		t.Errorf("throttle_interval_seconds = %v, want 2", got)
	}

	idleBefore := testutil.ToFloat64(IdleTotal)
	emitter.Emit(events.Event{Type: events.SessionIdle})
	if got := testutil.ToFloat64(IdleTotal); got != idleBefore+1 {
		t.Errorf("idle_total = %v, want %v", got, idleBefore+1)
	}
	if got := testutil.ToFloat64(ToolActive.WithLabelValues("Proxy")); got != 0 {
		t.Errorf("tool_active{Proxy} after idle = %v, want 0", got)
	}

	// These should not panic.
	emitter.Emit(events.Event{Type: events.PresenceThrottled, Fields: map[string]string{"interval": "bogus"}})
	emitter.Emit(events.Event{Type: events.PresenceFailed})
}
