package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"beacon/internal/config"
	"beacon/internal/hermes"
)

var (
	adminURL   string
	adminToken string
	format     string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "beacon",
		Short: "beacon CLI: inspect and drive the activity tracker",
	}

	root.PersistentFlags().StringVar(&adminURL, "admin", "", "admin API URL (default http://127.0.0.1:9090)")
	root.PersistentFlags().StringVar(&adminToken, "token", "", "admin bearer token (default $BEACON_ADMIN_TOKEN)")
	root.PersistentFlags().StringVar(&format, "format", "table", "output format: table or json")

	toolCmd := &cobra.Command{Use: "tool", Short: "Inspect and toggle tools"}
	toolCmd.AddCommand(
		toolListCmd(),
		toolSetCmd("activate", "Mark a tool as active and publish"),
		toolSetCmd("deactivate", "Mark a tool as inactive and publish"),
	)

	hostCmd := &cobra.Command{Use: "host", Short: "Inspect and record target hosts"}
	hostCmd.AddCommand(
		hostListCmd(),
		hostRecordCmd(),
	)

	configCmd := &cobra.Command{Use: "config", Short: "Config file helpers"}
	configCmd.AddCommand(configValidateCmd())

	root.AddCommand(
		statusCmd(),
		toolCmd,
		hostCmd,
		refreshCmd(),
		eventsCmd(),
		watchCmd(),
		reloadCmd(),
		configCmd,
		initCmd(),
	)
	return root
}

func getAdminURL() string {
	if adminURL != "" {
		return adminURL
	}
	if v := os.Getenv("BEACON_ADMIN"); v != "" {
		return v
	}
	// Try config file.
	if cfg, ok := cliConfig(); ok && cfg.Admin != "" {
		return cfg.Admin
	}
	return "http://127.0.0.1:9090"
}

func getAdminToken() string {
	if adminToken != "" {
		return adminToken
	}
	if v := os.Getenv("BEACON_ADMIN_TOKEN"); v != "" {
		return v
	}
	if cfg, ok := cliConfig(); ok {
		return cfg.Token
	}
	return ""
}

type cliSettings struct {
	Admin string `yaml:"admin"`
	Token string `yaml:"token"`
}

// cliConfig reads ~/.beacon/config.yaml.
func cliConfig() (cliSettings, bool) {
	var cfg cliSettings
	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, false
	}
	data, err := os.ReadFile(home + "/.beacon/config.yaml")
	if err != nil {
		return cfg, false
	}
	if yaml.Unmarshal(data, &cfg) != nil {
		return cfg, false
	}
	return cfg, true
}

func apiDo(method, path string, payload any) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		data, _ := json.Marshal(payload)
		body = strings.NewReader(string(data))
	}
	req, err := http.NewRequest(method, getAdminURL()+path, body)
	if err != nil {
		return nil, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok := getAdminToken(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	return b, nil
}

func apiGet(path string) ([]byte, error) {
	return apiDo(http.MethodGet, path, nil)
}

func apiPost(path string, payload any) ([]byte, error) {
	return apiDo(http.MethodPost, path, payload)
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the current activity summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/admin/status")
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var st struct {
				Presence struct {
					State        string    `json:"state"`
					Host         string    `json:"host"`
					Project      string    `json:"project"`
					SessionStart time.Time `json:"session_start"`
				} `json:"presence"`
				Tracker struct {
					MostCommonHost string   `json:"most_common_host"`
					Hosts          []string `json:"hosts"`
					IdleState      string   `json:"idle_state"`
					IdleFirings    int      `json:"idle_firings"`
				} `json:"tracker"`
				Throttle struct {
					Count      int    `json:"count"`
					Interval   int64  `json:"interval"`
					Allowed    uint64 `json:"allowed"`
					Suppressed uint64 `json:"suppressed"`
				} `json:"throttle"`
				UptimeSeconds float64 `json:"uptime_seconds"`
			}
			_ = json.Unmarshal(data, &st)

			uptime := time.Duration(st.UptimeSeconds) * time.Second
			hours := int(uptime.Hours())
			mins := int(uptime.Minutes()) % 60

			fmt.Println("beacon")
			fmt.Printf("  Project:   %s\n", st.Presence.Project)
			fmt.Printf("  Status:    %s\n", st.Presence.State)
			fmt.Printf("  Top host:  %s (%d in history)\n", st.Tracker.MostCommonHost, len(st.Tracker.Hosts))
			fmt.Printf("  Idle:      %s (%d firings)\n", st.Tracker.IdleState, st.Tracker.IdleFirings)
			fmt.Printf("  Throttle:  %d events in window, %s interval, %d published, %d suppressed\n",
				st.Throttle.Count, time.Duration(st.Throttle.Interval), st.Throttle.Allowed, st.Throttle.Suppressed)
			fmt.Printf("  Uptime:    %dh %dm\n", hours, mins)
			return nil
		},
	}
}

func toolListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List tools and whether they are active",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/admin/tools")
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var list []struct {
				Name   string `json:"name"`
				Active bool   `json:"active"`
			}
			_ = json.Unmarshal(data, &list) //nolint:errcheck // non-JSON → empty table is fine
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TOOL\tACTIVE")
			for _, t := range list {
				fmt.Fprintf(w, "%s\t%v\n", t.Name, t.Active)
			}
			return w.Flush()
		},
	}
}

func toolSetCmd(action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " <tool>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiPost("/admin/tools/"+args[0]+"/"+action, nil)
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var resp struct {
				Tool   string `json:"tool"`
				Status string `json:"status"`
			}
			_ = json.Unmarshal(data, &resp)
			fmt.Printf("%s %sd, status now %q\n", resp.Tool, action, resp.Status)
			return nil
		},
	}
}

func hostListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List hosts seen by the proxy",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiGet("/admin/hosts")
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var resp struct {
				MostCommon string `json:"most_common_host"`
				Proxied    []struct {
					Host     string    `json:"host"`
					Requests uint64    `json:"requests"`
					LastSeen time.Time `json:"last_seen"`
				} `json:"proxied"`
			}
			_ = json.Unmarshal(data, &resp)
			fmt.Printf("Most common: %s\n\n", resp.MostCommon)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "HOST\tREQUESTS\tLAST SEEN")
			for _, h := range resp.Proxied {
				fmt.Fprintf(w, "%s\t%d\t%s\n", h.Host, h.Requests, h.LastSeen.Format(time.RFC3339))
			}
			return w.Flush()
		},
	}
}

func hostRecordCmd() *cobra.Command {
	var tool string
	cmd := &cobra.Command{
		Use:   "record <host>",
		Short: "Record a host contacted outside the proxy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiPost("/admin/hosts", map[string]string{"host": args[0], "tool": tool})
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var resp struct {
				Host      string `json:"host"`
				Published bool   `json:"published"`
			}
			_ = json.Unmarshal(data, &resp)
			fmt.Printf("Recorded %s (published: %v)\n", resp.Host, resp.Published)
			return nil
		},
	}
	cmd.Flags().StringVar(&tool, "tool", "", "credit the host to this tool")
	return cmd
}

func refreshCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Publish the current status now, bypassing the throttle",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := apiPost("/admin/refresh", nil)
			if err != nil {
				return err
			}
			if format == "json" {
				fmt.Println(string(data))
				return nil
			}
			var st struct {
				State string `json:"state"`
			}
			_ = json.Unmarshal(data, &st)
			fmt.Printf("Published %q\n", st.State)
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Stream events from the daemon (SSE)",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := http.NewRequest(http.MethodGet, getAdminURL()+"/admin/events", nil)
			if err != nil {
				return err
			}
			if tok := getAdminToken(); tok != "" {
				req.Header.Set("Authorization", "Bearer "+tok)
			}
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()
			if resp.StatusCode >= 400 {
				return fmt.Errorf("HTTP %d", resp.StatusCode)
			}

			scanner := bufio.NewScanner(resp.Body)
			for scanner.Scan() {
				line := scanner.Text()
				if strings.HasPrefix(line, "data: ") {
					fmt.Println(line[6:])
				}
			}
			return scanner.Err()
		},
	}
}

func watchCmd() *cobra.Command {
	var natsURL, natsToken string
	var latest bool
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print presence updates from every source on the NATS bus",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
			hcfg := hermes.DefaultConfig()
			hcfg.Source = "beacon-watch"
			if natsURL != "" {
				hcfg.URL = natsURL
			} else if v := os.Getenv("BEACON_NATS_URL"); v != "" {
				hcfg.URL = v
			}
			hcfg.Token = natsToken

			client, err := hermes.Connect(hcfg, logger)
			if err != nil {
				return err
			}
			defer client.Close()

			emit := func(ev hermes.Event) {
				if format == "json" {
					data, _ := ev.Marshal()
					fmt.Println(string(data))
					return
				}
				fmt.Println(formatPresence(ev))
			}

			if latest {
				printLatest(cmd.Context(), client, emit)
			}

			sub, err := client.Subscribe(hermes.SubjectAllPresence, emit)
			if err != nil {
				return fmt.Errorf("subscribe: %w", err)
			}
			defer sub.Unsubscribe()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			<-sigCh
			return nil
		},
	}
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL (default $BEACON_NATS_URL or nats://localhost:4222)")
	cmd.Flags().StringVar(&natsToken, "nats-token", "", "NATS auth token")
	cmd.Flags().BoolVar(&latest, "latest", true, "print the stored latest presence of each source first")
	return cmd
}

// printLatest replays the latest-status bucket. A missing bucket just means
// no daemon runs with JetStream enabled.
func printLatest(ctx context.Context, client *hermes.Client, emit func(hermes.Event)) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := client.OpenLatest(ctx); err != nil {
		return
	}
	sources, err := client.Sources(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "list sources: %v\n", err)
		return
	}
	sort.Strings(sources)
	for _, src := range sources {
		ev, err := client.Latest(ctx, src)
		if err != nil {
			continue
		}
		emit(ev)
	}
}

// formatPresence renders one presence event as a single line.
func formatPresence(ev hermes.Event) string {
	d, err := ev.Presence()
	if err != nil {
		return fmt.Sprintf("%s %s %s (unreadable payload)", ev.Timestamp.Format(time.RFC3339), ev.Source, ev.Type)
	}
	line := fmt.Sprintf("%s %-12s %-28s project=%q", ev.Timestamp.Format(time.RFC3339), ev.Source, d.State, d.Project)
	if d.Host != "" {
		line += " host=" + d.Host
	}
	return line
}

func reloadCmd() *cobra.Command {
	var pid int
	cmd := &cobra.Command{
		Use:   "reload",
		Short: "Send SIGHUP to beacond to reload config",
		RunE: func(cmd *cobra.Command, args []string) error {
			if pid == 0 {
				var err error
				if pid, err = findDaemon(); err != nil {
					return err
				}
			}
			proc, err := os.FindProcess(pid)
			if err != nil {
				return fmt.Errorf("find process %d: %w", pid, err)
			}
			if err := proc.Signal(syscall.SIGHUP); err != nil {
				return fmt.Errorf("send SIGHUP to %d: %w", pid, err)
			}
			fmt.Printf("SIGHUP sent to PID %d\n", pid)
			return nil
		},
	}
	cmd.Flags().IntVar(&pid, "pid", 0, "daemon PID (default: first beacond found by pgrep)")
	return cmd
}

func findDaemon() (int, error) {
	out, err := exec.Command("pgrep", "-x", "beacond").Output()
	if err != nil {
		return 0, fmt.Errorf("beacond is not running: %w", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) == 0 {
		return 0, fmt.Errorf("beacond is not running")
	}
	return strconv.Atoi(fields[0])
}

func configValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <file>",
		Short: "Validate a config file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(args[0])
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}
}

const beaconYAML = `listen: ":8080"
admin_listen: "127.0.0.1:9090"
project: "Untitled Project"
show_target_host: false
default_tool: Proxy

activity:
  idle_timeout: 5m
  host_history: 20
  host_cache_ttl: 30s
  shutdown_grace: 5s

throttle:
  window: 10s
  baseline: 1s
  tiers:
    - above: 50
      interval: 2s
    - above: 100
      interval: 3s

presence:
  refresh_interval: 30s
  sink_rate: 1
  sink_burst: 5

# JSONL activity written by tools that bypass the proxy.
activity_log:
  path: ""
  poll_interval: 1s

hermes:
  enabled: false
  url: nats://localhost:4222
  source: beacon
  jetstream: true

# Notified when the session goes idle or the sink rejects an update.
webhooks: []
#  - url: https://hooks.example.com/beacon
#    events: [session.idle, presence.failed]
`

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a beacon.yaml template",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := os.Stat("beacon.yaml"); err == nil && !force {
				return fmt.Errorf("beacon.yaml already exists (use --force to overwrite)")
			}
			if err := os.WriteFile("beacon.yaml", []byte(beaconYAML), 0644); err != nil {
				return err
			}
			fmt.Println("Created beacon.yaml")
			fmt.Println("\nNext steps:")
			fmt.Println("  1. Set project and admin_token in beacon.yaml")
			fmt.Println("  2. Run: beacond -config beacon.yaml")
			fmt.Println("  3. Point your tools' upstream proxy at the listen address")
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing beacon.yaml")
	return cmd
}
