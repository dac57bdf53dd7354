package proxy

import (
	"sort"
	"sync"
	"time"
)

// HostStat is the request count and last request time for one host.
type HostStat struct {
	Host     string    `json:"host"`
	Requests uint64    `json:"requests"`
	LastSeen time.Time `json:"last_seen"`
}

// HostActivity counts proxied requests per host over the process lifetime.
type HostActivity struct {
	mu    sync.RWMutex
	hosts map[string]*HostStat
}

func NewHostActivity() *HostActivity {
	return &HostActivity{
		hosts: make(map[string]*HostStat),
	}
}

func (a *HostActivity) Touch(host string, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	st, ok := a.hosts[host]
	if !ok {
		st = &HostStat{Host: host}
		a.hosts[host] = st
	}
	st.Requests++
	st.LastSeen = at
}

func (a *HostActivity) Get(host string) (HostStat, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	st, ok := a.hosts[host]
	if !ok {
		return HostStat{}, false
	}
	return *st, true
}

// List returns every host, most recently seen first.
func (a *HostActivity) List() []HostStat {
	a.mu.RLock()
	out := make([]HostStat, 0, len(a.hosts))
	for _, st := range a.hosts {
		out = append(out, *st)
	}
	a.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].LastSeen.Equal(out[j].LastSeen) {
			return out[i].Host < out[j].Host
		}
		return out[i].LastSeen.After(out[j].LastSeen)
	})
	return out
}
