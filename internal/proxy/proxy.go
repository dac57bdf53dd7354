// Package proxy is a forward HTTP/HTTPS proxy that reports every request it
// carries as tool activity against the target host.
package proxy

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/elazarl/goproxy"

	"beacon/internal/tools"
)

// ToolHeader names the tool a request came from. It is removed before the
// request leaves the proxy.
const ToolHeader = "X-Beacon-Tool"

// Observer receives one call per proxied request.
type Observer interface {
	Observe(ctx context.Context, tool tools.Tool, host string) bool
}

type Proxy struct {
	observer    Observer
	defaultTool tools.Tool
	hosts       *HostActivity
	proxy       *goproxy.ProxyHttpServer
	logger      *slog.Logger
}

func New(observer Observer, defaultTool tools.Tool, logger *slog.Logger) *Proxy {
	if defaultTool == tools.Idle || !defaultTool.Valid() {
		defaultTool = tools.Proxy
	}
	p := &Proxy{
		observer:    observer,
		defaultTool: defaultTool,
		hosts:       NewHostActivity(),
		proxy:       goproxy.NewProxyHttpServer(),
		logger:      logger.With("component", "proxy"),
	}

	p.proxy.OnRequest().HandleConnect(goproxy.FuncHttpsHandler(
		func(host string, ctx *goproxy.ProxyCtx) (*goproxy.ConnectAction, string) {
			hostname, _ := splitHostPort(host, "443")
			reqCtx := context.Background()
			tool := p.defaultTool
			if ctx.Req != nil {
				reqCtx = ctx.Req.Context()
				tool = p.toolFor(ctx.Req)
			}
			p.observe(reqCtx, tool, hostname)
			return goproxy.OkConnect, host
		}))

	p.proxy.OnRequest().DoFunc(
		func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
			hostport := req.Host
			if hostport == "" && req.URL != nil {
				hostport = req.URL.Host
			}
			hostname, _ := splitHostPort(hostport, "80")
			p.observe(req.Context(), p.toolFor(req), hostname)
			return req, nil
		})

	return p
}

// Handler returns the proxy as an http.Handler.
func (p *Proxy) Handler() http.Handler {
	return p.proxy
}

// Hosts returns the per-host request counters.
func (p *Proxy) Hosts() *HostActivity {
	return p.hosts
}

// toolFor resolves and strips the tool header. Unknown names fall back to
// the default tool.
func (p *Proxy) toolFor(req *http.Request) tools.Tool {
	name := req.Header.Get(ToolHeader)
	req.Header.Del(ToolHeader)
	if name == "" {
		return p.defaultTool
	}
	tool, err := tools.Parse(name)
	if err != nil || tool == tools.Idle {
		p.logger.Debug("ignoring tool header", "value", name)
		return p.defaultTool
	}
	return tool
}

func (p *Proxy) observe(ctx context.Context, tool tools.Tool, hostname string) {
	if hostname != "" {
		p.hosts.Touch(hostname, time.Now())
	}
	p.observer.Observe(ctx, tool, hostname)
}

// ListenAndServe serves the proxy on addr until ctx is cancelled.
func (p *Proxy) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: p.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	p.logger.Info("proxy listening", "addr", addr, "default_tool", p.defaultTool.String())
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func splitHostPort(hostport, defaultPort string) (string, string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		// No port in the string.
		return strings.ToLower(hostport), defaultPort
	}
	return strings.ToLower(host), port
}
