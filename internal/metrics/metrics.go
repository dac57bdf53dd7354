package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"beacon/internal/events"
	"beacon/internal/tools"
)

var (
	ToolActive = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "beacon_tool_active",
		Help: "1 if the tool was active in the last published presence",
	}, []string{"tool"})

	RequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_requests_total",
		Help: "Observed proxy requests per tool",
	}, []string{"tool"})

	PresenceUpdatesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "beacon_presence_updates_total",
		Help: "Presence update attempts by result",
	}, []string{"result"})

	IdleTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "beacon_idle_total",
		Help: "Number of times the session went idle",
	})

	ThrottleInterval = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "beacon_throttle_interval_seconds",
		Help: "Current minimum interval between request-driven presence updates",
	})
)

func init() {
	prometheus.MustRegister(
		ToolActive,
		RequestsTotal,
		PresenceUpdatesTotal,
		IdleTotal,
		ThrottleInterval,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// setActiveTools marks every tool named in status as active and the rest
// inactive. status is the comma-joined display list from the tracker.
func setActiveTools(status string) {
	active := make(map[string]bool)
	for _, name := range strings.Split(status, ", ") {
		active[name] = true
	}
	for _, t := range tools.All() {
		v := float64(0)
		if active[t.String()] {
			v = 1
		}
		ToolActive.WithLabelValues(t.String()).Set(v)
	}
}

func setInterval(raw string) {
	if d, err := time.ParseDuration(raw); err == nil {
		ThrottleInterval.Set(d.Seconds())
	}
}

// RegisterEventHandler wires metric updates to the event emitter.
func RegisterEventHandler(emitter *events.Emitter) {
	emitter.OnEvent(func(ev events.Event) {
		switch ev.Type {
		case events.HostRecorded:
			if ev.Tool != "" {
				RequestsTotal.WithLabelValues(ev.Tool).Inc()
			}
		case events.SessionIdle:
			IdleTotal.Inc()
			setActiveTools("")
		case events.PresencePublished:
			PresenceUpdatesTotal.WithLabelValues("published").Inc()
			setActiveTools(ev.Fields["status"])
			setInterval(ev.Fields["interval"])
		case events.PresenceThrottled:
			PresenceUpdatesTotal.WithLabelValues("throttled").Inc()
			setInterval(ev.Fields["interval"])
		case events.PresenceFailed:
			PresenceUpdatesTotal.WithLabelValues("failed").Inc()
		}
	})
}
