package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"beacon/internal/hermes"
)

// executeCommand builds a fresh root command and runs it against serverURL.
func executeCommand(t *testing.T, serverURL string, args ...string) (string, error) {
	t.Helper()

	adminURL, adminToken, format = "", "", "table"
	root := newRootCmd()

	buf := new(bytes.Buffer)
	root.SetOut(buf)
	root.SetErr(buf)

	old := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	root.SetArgs(append([]string{"--admin", serverURL}, args...))
	err := root.Execute()

	w.Close()
	os.Stdout = old
	captured, _ := io.ReadAll(r)
	buf.Write(captured)

	return buf.String(), err
}

func mockAdminServer(t *testing.T, routes map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := routes[r.Method+" "+r.URL.Path]
		if !ok {
			http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
			return
		}
		h(w, r)
	}))
}

func TestStatus(t *testing.T) {
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"GET /admin/status": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode(map[string]any{
				"presence": map[string]any{"state": "Proxy, Repeater", "project": "acme"},
				"tracker":  map[string]any{"most_common_host": "api.example.com", "hosts": []string{"api.example.com"}, "idle_state": "armed"},
				"throttle": map[string]any{"count": 12, "interval": 1000000000, "allowed": 3, "suppressed": 9},
			})
		},
	})
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "status")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"acme", "Proxy, Repeater", "api.example.com", "armed", "1s interval"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestToolActivateSendsToken(t *testing.T) {
	t.Setenv("BEACON_ADMIN_TOKEN", "s3cret")
	var gotAuth string
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"POST /admin/tools/intruder/activate": func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			json.NewEncoder(w).Encode(map[string]string{"tool": "Intruder", "action": "activate", "status": "Intruder"})
		},
	})
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "tool", "activate", "intruder")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer s3cret" {
		t.Errorf("Authorization = %q, want bearer token", gotAuth)
	}
	if !strings.Contains(out, `status now "Intruder"`) {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestToolList(t *testing.T) {
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"GET /admin/tools": func(w http.ResponseWriter, r *http.Request) {
			json.NewEncoder(w).Encode([]map[string]any{
				{"name": "Proxy", "active": true},
				{"name": "Repeater", "active": false},
			})
		},
	})
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "tool", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"TOOL", "ACTIVE", "Proxy", "true", "Repeater"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestHostRecord(t *testing.T) {
	var got map[string]string
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"POST /admin/hosts": func(w http.ResponseWriter, r *http.Request) {
			json.NewDecoder(r.Body).Decode(&got)
			json.NewEncoder(w).Encode(map[string]any{"host": got["host"], "published": true})
		},
	})
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "host", "record", "target.example.com", "--tool", "scanner")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["host"] != "target.example.com" || got["tool"] != "scanner" {
		t.Errorf("request body = %v", got)
	}
	if !strings.Contains(out, "Recorded target.example.com (published: true)") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestAPIErrorSurfaced(t *testing.T) {
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"POST /admin/refresh": func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			w.Write([]byte(`{"error":"sink offline"}`))
		},
	})
	defer srv.Close()

	_, err := executeCommand(t, srv.URL, "refresh")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "HTTP 502") || !strings.Contains(err.Error(), "sink offline") {
		t.Errorf("error = %v", err)
	}
}

func TestJSONFormatPassesThrough(t *testing.T) {
	srv := mockAdminServer(t, map[string]http.HandlerFunc{
		"POST /admin/refresh": func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"state":"Idle"}`))
		},
	})
	defer srv.Close()

	out, err := executeCommand(t, srv.URL, "refresh", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.TrimSpace(out) != `{"state":"Idle"}` {
		t.Errorf("output = %q", out)
	}
}

func TestConfigValidate(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.yaml")
	os.WriteFile(good, []byte(beaconYAML), 0644)
	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("default_tool: spider\n"), 0644)

	out, err := executeCommand(t, "http://unused", "config", "validate", good)
	if err != nil {
		t.Fatalf("template should validate: %v", err)
	}
	if !strings.Contains(out, "OK") {
		t.Errorf("output = %q", out)
	}

	if _, err := executeCommand(t, "http://unused", "config", "validate", bad); err == nil {
		t.Error("expected validation error")
	}
}

func TestFormatPresence(t *testing.T) {
	ev, err := hermes.NewEvent(hermes.TypePresenceStatus, "desk", hermes.PresenceData{
		State:   "Proxy, Repeater",
		Host:    "api.example.com",
		Project: "acme",
	})
	if err != nil {
		t.Fatal(err)
	}
	ev.Timestamp = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	line := formatPresence(ev)
	for _, want := range []string{"2026-03-01T12:00:00Z", "desk", "Proxy, Repeater", `project="acme"`, "host=api.example.com"} {
		if !strings.Contains(line, want) {
			t.Errorf("missing %q in %q", want, line)
		}
	}

	ev.Data = []byte("not json")
	if !strings.Contains(formatPresence(ev), "unreadable payload") {
		t.Error("expected unreadable payload marker")
	}
}
