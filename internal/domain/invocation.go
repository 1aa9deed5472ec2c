package domain

import (
	"encoding/json"
	"strings"
	"time"
)

// Message is one structured-output object emitted by the agent CLI in
// JSON mode. Fields beyond type/text stay available through Raw.
type Message struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Invocation is the immutable outcome of a single agent CLI invocation.
// Failures are carried as data: a missing binary, spawn error, timeout
// or non-zero exit all yield Success=false with Error populated.
type Invocation struct {
	ID       string        `json:"invocation_id"`
	ExitCode int           `json:"exit_code"`
	Stdout   string        `json:"-"`
	Stderr   string        `json:"-"`
	Messages []Message     `json:"-"`
	Success  bool          `json:"success"`
	Duration time.Duration `json:"duration"`
	Error    string        `json:"error,omitempty"`
}

// TextOutput extracts human-readable content from "say"-kind structured
// messages, falling back to raw stdout when no structured output exists.
func (inv *Invocation) TextOutput() string {
	if len(inv.Messages) == 0 {
		return inv.Stdout
	}
	var parts []string
	for _, m := range inv.Messages {
		if m.Type == "say" && m.Text != "" {
			parts = append(parts, m.Text)
		}
	}
	if len(parts) == 0 {
		return inv.Stdout
	}
	return strings.Join(parts, "\n")
}

// ParseMessages parses agent stdout as one JSON object per line,
// silently discarding lines that are not valid JSON objects.
func ParseMessages(stdout string) []Message {
	var msgs []Message
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || !strings.HasPrefix(line, "{") {
			continue
		}
		var m Message
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			continue
		}
		m.Raw = json.RawMessage(line)
		msgs = append(msgs, m)
	}
	return msgs
}
