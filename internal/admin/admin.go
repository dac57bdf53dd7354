package admin

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"beacon/internal/activity"
	"beacon/internal/events"
	"beacon/internal/metrics"
	"beacon/internal/presence"
	"beacon/internal/proxy"
	"beacon/internal/throttle"
	"beacon/internal/tools"
)

// Tracker is the read side of the activity tracker plus direct host recording.
type Tracker interface {
	Snapshot() activity.Snapshot
	RecordHost(host string)
}

// Reporter publishes presence on behalf of admin actions.
type Reporter interface {
	Status() presence.Status
	Observe(ctx context.Context, tool tools.Tool, host string) bool
	Activate(ctx context.Context, tool tools.Tool)
	Deactivate(ctx context.Context, tool tools.Tool)
	Refresh(ctx context.Context) error
}

// StatusResponse is the body of GET /admin/status.
type StatusResponse struct {
	Presence      presence.Status   `json:"presence"`
	Tracker       activity.Snapshot `json:"tracker"`
	Throttle      throttle.Stats    `json:"throttle"`
	UptimeSeconds float64           `json:"uptime_seconds"`
}

// ToolInfo is one entry of GET /admin/tools.
type ToolInfo struct {
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// RecordHostRequest is the JSON body for POST /admin/hosts. With a tool the
// host counts as activity by that tool; without one only the history changes.
type RecordHostRequest struct {
	Host string `json:"host"`
	Tool string `json:"tool,omitempty"`
}

// Server is the admin API server.
type Server struct {
	tracker   Tracker
	reporter  Reporter
	throttle  *throttle.Throttle
	hosts     *proxy.HostActivity
	events    *events.Emitter
	authToken string
	logger    *slog.Logger
	startAt   time.Time
}

// NewServer creates a new admin server. hosts may be nil when no proxy runs.
func NewServer(
	tracker Tracker,
	reporter Reporter,
	th *throttle.Throttle,
	hosts *proxy.HostActivity,
	emitter *events.Emitter,
	authToken string,
	logger *slog.Logger,
) *Server {
	l := logger.With("component", "admin")
	if authToken == "" {
		l.Warn("admin API has no auth token configured, all requests will be allowed")
	}
	return &Server{
		tracker:   tracker,
		reporter:  reporter,
		throttle:  th,
		hosts:     hosts,
		events:    emitter,
		authToken: authToken,
		logger:    l,
		startAt:   time.Now(),
	}
}

// Handler returns an http.Handler for the admin API. /metrics is served
// without auth for scrapers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/admin/status", s.handleStatus)
	mux.HandleFunc("/admin/tools", s.handleTools)
	mux.HandleFunc("/admin/tools/", s.handleTool)
	mux.HandleFunc("/admin/hosts", s.handleHosts)
	mux.HandleFunc("/admin/refresh", s.handleRefresh)
	mux.HandleFunc("/admin/health", s.handleHealth)
	mux.HandleFunc("/admin/events", s.handleSSE)

	root := http.NewServeMux()
	root.Handle("/metrics", metrics.Handler())
	root.Handle("/", s.authMiddleware(mux))
	return root
}

// authMiddleware requires "Authorization: Bearer <token>" when a token is
// configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	if s.authToken == "" {
		return next
	}
	want := []byte("Bearer " + s.authToken)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := []byte(r.Header.Get("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.logger.Debug("admin request rejected", "path", r.URL.Path, "remote", r.RemoteAddr)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, StatusResponse{
		Presence:      s.reporter.Status(),
		Tracker:       s.tracker.Snapshot(),
		Throttle:      s.throttle.Stats(),
		UptimeSeconds: time.Since(s.startAt).Seconds(),
	})
}

func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	active := make(map[tools.Tool]bool)
	for _, t := range s.tracker.Snapshot().Tools {
		active[t] = true
	}
	var out []ToolInfo
	for _, t := range tools.All() {
		out = append(out, ToolInfo{Name: t.String(), Active: active[t]})
	}
	writeJSON(w, http.StatusOK, out)
}

// handleTool serves POST /admin/tools/{tool}/activate and .../deactivate.
func (s *Server) handleTool(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/admin/tools/"), "/")
	if len(parts) != 2 {
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	tool, err := tools.Parse(parts[0])
	if err != nil || tool == tools.Idle {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown tool %q", parts[0])})
		return
	}

	switch parts[1] {
	case "activate":
		s.reporter.Activate(r.Context(), tool)
	case "deactivate":
		s.reporter.Deactivate(r.Context(), tool)
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
		return
	}

	s.logger.Info("tool state changed via admin", "tool", tool.String(), "action", parts[1])
	writeJSON(w, http.StatusOK, map[string]string{
		"tool":   tool.String(),
		"action": parts[1],
		"status": s.reporter.Status().State,
	})
}

func (s *Server) handleHosts(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		snap := s.tracker.Snapshot()
		resp := map[string]any{
			"history":          snap.Hosts,
			"most_common_host": snap.MostCommonHost,
		}
		if s.hosts != nil {
			resp["proxied"] = s.hosts.List()
		}
		writeJSON(w, http.StatusOK, resp)
	case http.MethodPost:
		s.recordHost(w, r)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *Server) recordHost(w http.ResponseWriter, r *http.Request) {
	var req RecordHostRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON: " + err.Error()})
		return
	}
	host := strings.ToLower(strings.TrimSpace(req.Host))
	if host == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "host is required"})
		return
	}

	if req.Tool == "" {
		s.tracker.RecordHost(host)
		writeJSON(w, http.StatusOK, map[string]any{"host": host, "published": false})
		return
	}

	tool, err := tools.Parse(req.Tool)
	if err != nil || tool == tools.Idle {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("unknown tool %q", req.Tool)})
		return
	}
	published := s.reporter.Observe(r.Context(), tool, host)
	writeJSON(w, http.StatusOK, map[string]any{"host": host, "tool": tool.String(), "published": published})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	if err := s.reporter.Refresh(r.Context()); err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.reporter.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	snap := s.tracker.Snapshot()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         "ok",
		"uptime_seconds": time.Since(s.startAt).Seconds(),
		"active_tools":   len(snap.Tools),
		"idle_state":     snap.IdleState,
		"idle_firings":   snap.IdleFirings,
	})
}

func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := make(chan events.Event, 64)
	id := s.events.OnEvent(func(ev events.Event) {
		select {
		case ch <- ev:
		default: // drop if client is slow
		}
	})
	defer s.events.RemoveHandler(id)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, _ := json.Marshal(ev)
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// ListenAndServe starts the admin server on the given address.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	s.logger.Info("admin server starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
