package tools

import (
	"fmt"
	"strings"
)

// Tool identifies one of the proxy suite's tools. The zero value is Idle,
// which marks "no tool engaged" and is never tracked as active.
type Tool int

const (
	Idle Tool = iota
	Proxy
	Repeater
	Intruder
	Scanner
	Sequencer
	Decoder
	Comparer
	Extensions
)

var names = [...]string{
	Idle:       "Idle",
	Proxy:      "Proxy",
	Repeater:   "Repeater",
	Intruder:   "Intruder",
	Scanner:    "Scanner",
	Sequencer:  "Sequencer",
	Decoder:    "Decoder",
	Comparer:   "Comparer",
	Extensions: "Extensions",
}

// String returns the display name.
func (t Tool) String() string {
	if !t.Valid() {
		return fmt.Sprintf("Tool(%d)", int(t))
	}
	return names[t]
}

// Rank is the fixed ordering used when formatting several active tools.
func (t Tool) Rank() int {
	return int(t)
}

// Valid reports whether t is a known tool, including Idle.
func (t Tool) Valid() bool {
	return t >= Idle && int(t) < len(names)
}

// All returns every non-idle tool in rank order.
func All() []Tool {
	out := make([]Tool, 0, len(names)-1)
	for t := Proxy; int(t) < len(names); t++ {
		out = append(out, t)
	}
	return out
}

// Parse looks up a tool by display name, ignoring case and surrounding space.
func Parse(name string) (Tool, error) {
	n := strings.TrimSpace(name)
	for i, s := range names {
		if strings.EqualFold(s, n) {
			return Tool(i), nil
		}
	}
	return Idle, fmt.Errorf("unknown tool %q", name)
}

// MarshalText encodes the display name so tools read naturally in JSON.
func (t Tool) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("invalid tool %d", int(t))
	}
	return []byte(t.String()), nil
}

func (t *Tool) UnmarshalText(b []byte) error {
	parsed, err := Parse(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
