package proxy

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"beacon/internal/tools"
)

type observation struct {
	tool tools.Tool
	host string
}

type fakeObserver struct {
	mu  sync.Mutex
	got []observation
}

func (f *fakeObserver) Observe(_ context.Context, tool tools.Tool, host string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, observation{tool: tool, host: host})
	return true
}

func (f *fakeObserver) observations() []observation {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]observation(nil), f.got...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func proxyClient(t *testing.T, p *Proxy) (*http.Client, *http.Transport) {
	t.Helper()
	srv := httptest.NewServer(p.Handler())
	t.Cleanup(srv.Close)

	proxyURL, err := url.Parse(srv.URL)
	require.NoError(t, err)
	tr := &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	t.Cleanup(tr.CloseIdleConnections)
	return &http.Client{Transport: tr, Timeout: 5 * time.Second}, tr
}

func TestPlainHTTPDefaultsToProxyTool(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer backend.Close()

	obs := &fakeObserver{}
	p := New(obs, tools.Proxy, testLogger())
	client, _ := proxyClient(t, p)

	resp, err := client.Get(backend.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", string(body))

	got := obs.observations()
	require.Len(t, got, 1)
	assert.Equal(t, tools.Proxy, got[0].tool)
	assert.Equal(t, "127.0.0.1", got[0].host, "port stripped")

	st, ok := p.Hosts().Get("127.0.0.1")
	require.True(t, ok)
	assert.Equal(t, uint64(1), st.Requests)
}

func TestToolHeaderResolvedAndStripped(t *testing.T) {
	var seenHeader string
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seenHeader = r.Header.Get(ToolHeader)
	}))
	defer backend.Close()

	obs := &fakeObserver{}
	p := New(obs, tools.Proxy, testLogger())
	client, _ := proxyClient(t, p)

	req, _ := http.NewRequest(http.MethodGet, backend.URL+"/attack", nil)
	req.Header.Set(ToolHeader, "intruder")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Empty(t, seenHeader, "tool header must not reach the target")
	got := obs.observations()
	require.Len(t, got, 1)
	assert.Equal(t, tools.Intruder, got[0].tool)
}

func TestUnknownToolHeaderFallsBack(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer backend.Close()

	obs := &fakeObserver{}
	p := New(obs, tools.Repeater, testLogger())
	client, _ := proxyClient(t, p)

	for _, v := range []string{"spider", "Idle"} {
		req, _ := http.NewRequest(http.MethodGet, backend.URL, nil)
		req.Header.Set(ToolHeader, v)
		resp, err := client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
	}

	for _, o := range obs.observations() {
		assert.Equal(t, tools.Repeater, o.tool)
	}
}

func TestConnectTunnelObserved(t *testing.T) {
	backend := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("secure"))
	}))
	defer backend.Close()

	obs := &fakeObserver{}
	p := New(obs, tools.Proxy, testLogger())
	client, tr := proxyClient(t, p)
	tr.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	tr.ProxyConnectHeader = http.Header{ToolHeader: []string{"Scanner"}}

	resp, err := client.Get(backend.URL + "/")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, "secure", string(body))

	got := obs.observations()
	require.Len(t, got, 1, "one observation per tunnel, not per inner request")
	assert.Equal(t, tools.Scanner, got[0].tool)
	assert.Equal(t, "127.0.0.1", got[0].host)
}

func TestNewRejectsIdleDefault(t *testing.T) {
	p := New(&fakeObserver{}, tools.Idle, testLogger())
	assert.Equal(t, tools.Proxy, p.defaultTool)
}

func TestSplitHostPort(t *testing.T) {
	tests := []struct {
		in, def, host, port string
	}{
		{"Example.COM:8443", "443", "example.com", "8443"},
		{"example.com", "80", "example.com", "80"},
		{"[::1]:443", "443", "::1", "443"},
	}
	for _, tt := range tests {
		host, port := splitHostPort(tt.in, tt.def)
		assert.Equal(t, tt.host, host, tt.in)
		assert.Equal(t, tt.port, port, tt.in)
	}
}

func TestHostActivityList(t *testing.T) {
	a := NewHostActivity()
	t0 := time.Unix(100, 0)
	a.Touch("a.example.com", t0)
	a.Touch("b.example.com", t0.Add(time.Second))
	a.Touch("a.example.com", t0.Add(2*time.Second))

	list := a.List()
	require.Len(t, list, 2)
	assert.Equal(t, "a.example.com", list[0].Host)
	assert.Equal(t, uint64(2), list[0].Requests)
	assert.Equal(t, "b.example.com", list[1].Host)

	_, ok := a.Get("c.example.com")
	assert.False(t, ok)
}
