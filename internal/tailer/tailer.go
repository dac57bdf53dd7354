// Package tailer follows a JSONL activity log written by an external tool and
// reports each entry as activity, for traffic that never crosses the proxy.
package tailer

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"beacon/internal/tools"
)

// DefaultPollInterval is how often the file is checked for new lines.
const DefaultPollInterval = time.Second

// entry is one line of the log. Either host or url names the target. Other
// keys, such as a writer's own timestamp, are ignored.
type entry struct {
	Tool string `json:"tool"`
	Host string `json:"host"`
	URL  string `json:"url"`
}

// Observer receives one call per log entry.
type Observer interface {
	Observe(ctx context.Context, tool tools.Tool, host string) bool
}

type Config struct {
	Path         string
	PollInterval time.Duration
	// DefaultTool is credited when an entry names no known tool.
	DefaultTool tools.Tool
	// FromStart replays lines already in the file on the first read. By
	// default the tailer starts at the end.
	FromStart bool
}

// Tailer reads the log incrementally. Offsets are kept in memory only.
type Tailer struct {
	cfg      Config
	observer Observer
	logger   *slog.Logger

	offset  int64
	started bool
}

// New creates a new Tailer.
func New(cfg Config, observer Observer, logger *slog.Logger) *Tailer {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.DefaultTool == tools.Idle || !cfg.DefaultTool.Valid() {
		cfg.DefaultTool = tools.Proxy
	}
	return &Tailer{
		cfg:      cfg,
		observer: observer,
		logger:   logger.With("component", "tailer", "path", cfg.Path),
	}
}

// Run polls the file until ctx is cancelled.
func (t *Tailer) Run(ctx context.Context) {
	pollTicker := time.NewTicker(t.cfg.PollInterval)
	defer pollTicker.Stop()

	// Initial read.
	t.readNewEntries(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			t.readNewEntries(ctx)
		}
	}
}

// readNewEntries reads lines appended since the last call.
func (t *Tailer) readNewEntries(ctx context.Context) {
	f, err := os.Open(t.cfg.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.logger.Error("failed to open activity log", "error", err)
		}
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		t.logger.Error("failed to stat activity log", "error", err)
		return
	}
	if !t.started {
		t.started = true
		if !t.cfg.FromStart {
			t.offset = info.Size()
			t.logger.Info("following activity log", "offset", t.offset)
			return
		}
	}
	// Detect truncation/rotation.
	if info.Size() < t.offset {
		t.logger.Warn("activity log truncated, resetting offset", "old_offset", t.offset, "new_size", info.Size())
		t.offset = 0
	}

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		t.logger.Error("failed to seek", "error", err)
		return
	}

	reader := bufio.NewReaderSize(f, 64*1024)
	read := 0
	for {
		line, err := reader.ReadBytes('\n')
		if err != nil {
			// A partial last line is picked up again on the next poll.
			break
		}
		t.offset += int64(len(line))
		read++

		var e entry
		if err := json.Unmarshal(line, &e); err != nil {
			continue // skip malformed lines
		}
		host := entryHost(e)
		if host == "" {
			continue
		}
		t.observer.Observe(ctx, t.toolFor(e.Tool), host)
	}

	if read > 0 {
		t.logger.Debug("read new entries", "lines", read)
	}
}

func (t *Tailer) toolFor(name string) tools.Tool {
	if name == "" {
		return t.cfg.DefaultTool
	}
	tool, err := tools.Parse(name)
	if err != nil || tool == tools.Idle {
		return t.cfg.DefaultTool
	}
	return tool
}

// entryHost returns the lower-cased host without port, preferring the host
// field over the URL.
func entryHost(e entry) string {
	raw := strings.TrimSpace(e.Host)
	if raw == "" && e.URL != "" {
		u, err := url.Parse(e.URL)
		if err != nil {
			return ""
		}
		raw = u.Host
	}
	if h, _, err := net.SplitHostPort(raw); err == nil {
		raw = h
	}
	return strings.ToLower(raw)
}
