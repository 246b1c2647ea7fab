// Package gemini implements the bridge.Backend contract for the Gemini
// CLI.
//
// The CLI runs in interactive JSONL mode: one prompt per stdin line, one
// JSON event per stdout line tagged by an "event" field, each turn ending
// with a done event. Gemini sessions carry no resume token; a lost
// process cannot be reattached, so the backend deliberately does not
// implement bridge.Resumer.
package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
	"github.com/cellpilot/cellpilot/bridge/internal/jsonutil"
)

const defaultBinary = "gemini"

// Backend is the Gemini CLI backend. It implements bridge.Backend only:
// no resume capability.
type Backend struct {
	binary string
}

var _ bridge.Backend = (*Backend)(nil)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithBinary overrides the Gemini CLI binary path.
// Empty values are ignored; the default is "gemini".
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// New creates a Gemini backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind returns cellpilot.KindGemini.
func (b *Backend) Kind() cellpilot.AgentKind { return cellpilot.KindGemini }

// SpawnArgs returns the arguments for an interactive JSONL process.
func (b *Backend) SpawnArgs(_ cellpilot.ModeConfig) (string, []string) {
	return b.binary, []string{"--interactive", "--jsonl"}
}

// FormatInput frames one prompt as a single stdin line.
// Literal newlines are folded to spaces; the CLI reads one line per turn.
func (b *Backend) FormatInput(prompt string) ([]byte, error) {
	folded := strings.ReplaceAll(prompt, "\n", " ")
	return []byte(folded + "\n"), nil
}

// ParseLine parses a single JSONL line into an Event.
// Returns bridge.ErrSkipLine for blank lines and stream deltas.
func (b *Backend) ParseLine(line string) (cellpilot.Event, error) {
	if strings.TrimSpace(line) == "" {
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return cellpilot.Event{}, fmt.Errorf("gemini: invalid JSON: %w", err)
	}

	eventStr := jsonutil.GetString(raw, "event")
	if eventStr == "" {
		return cellpilot.Event{}, fmt.Errorf("gemini: missing or empty event field")
	}

	ev := cellpilot.Event{Raw: json.RawMessage(line)}

	switch eventStr {
	case "ready":
		ev.Type = cellpilot.EventInit
		return ev, nil

	case "content":
		ev.Type = cellpilot.EventText
		ev.Content = jsonutil.GetString(raw, "text")
		return ev, nil

	case "action":
		ev.Type = cellpilot.EventAction
		ev.Action = &cellpilot.Action{
			Kind:     cellpilot.ActionKind(jsonutil.GetString(raw, "action")),
			CellType: jsonutil.GetString(raw, "cell_type"),
			Code:     jsonutil.GetString(raw, "code"),
		}
		return ev, nil

	case "done":
		ev.Type = cellpilot.EventCompleted
		return ev, nil

	case "error":
		ev.Type = cellpilot.EventError
		ev.Content = jsonutil.GetString(raw, "message")
		return ev, nil

	case "delta", "thought":
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	return cellpilot.Event{}, bridge.ErrSkipLine
}
