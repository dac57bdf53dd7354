package activity

import "time"

// NoHost is reported by MostCommonHost when no host has been recorded.
const NoHost = "None"

// HostHistory is a fixed-capacity FIFO of host names. Pushing onto a full
// history evicts the oldest entry.
type HostHistory struct {
	buf   []string
	start int
	n     int
}

// NewHostHistory returns an empty history holding at most capacity hosts.
func NewHostHistory(capacity int) *HostHistory {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &HostHistory{buf: make([]string, capacity)}
}

// Push appends host, returning the evicted entry if the history was full.
func (h *HostHistory) Push(host string) (evicted string, ok bool) {
	if h.n < len(h.buf) {
		h.buf[(h.start+h.n)%len(h.buf)] = host
		h.n++
		return "", false
	}
	evicted = h.buf[h.start]
	h.buf[h.start] = host
	h.start = (h.start + 1) % len(h.buf)
	return evicted, true
}

func (h *HostHistory) Len() int { return h.n }
func (h *HostHistory) Cap() int { return len(h.buf) }

// Snapshot returns the hosts oldest first.
func (h *HostHistory) Snapshot() []string {
	out := make([]string, h.n)
	for i := range out {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// MostCommon returns the host with the highest count. Among hosts with equal
// counts the one seen first (oldest) wins. Returns NoHost when empty.
func (h *HostHistory) MostCommon() string {
	if h.n == 0 {
		return NoHost
	}
	hosts := h.Snapshot()
	counts := make(map[string]int, len(hosts))
	for _, host := range hosts {
		counts[host]++
	}

	best, bestCount := NoHost, 0
	for _, host := range hosts {
		if c := counts[host]; c > bestCount {
			best, bestCount = host, c
		}
	}
	return best
}

// hostCache holds the last MostCommon result for up to ttl.
type hostCache struct {
	ttl   time.Duration
	value string
	at    time.Time
	valid bool
}

func (c *hostCache) get(now time.Time) (string, bool) {
	if !c.valid || now.Sub(c.at) >= c.ttl {
		return "", false
	}
	return c.value, true
}

func (c *hostCache) put(value string, now time.Time) {
	c.value = value
	c.at = now
	c.valid = true
}

func (c *hostCache) invalidate() {
	c.valid = false
}
