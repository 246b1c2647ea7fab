// Package codex implements the bridge.Backend contract for the Codex CLI
// session runner.
//
// The runner is spawned once per session with --json-events --json-result
// and held open for multi-turn use: prompts are written to stdin one line
// at a time, events arrive as JSON lines on stdout, and each turn ends
// with a turn.result envelope. Sessions are resumable via --resume with
// the thread UUID reported in the thread.started event.
package codex

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
)

const defaultBinary = "codex"

// Backend is the Codex CLI backend. It implements bridge.Backend and
// bridge.Resumer.
//
// One Backend instance per session: the thread id dedupe state in the
// parser is per-run.
type Backend struct {
	binary   string
	initSeen atomic.Bool // first thread.started wins; later ones are noise
}

// Compile-time interface satisfaction checks.
var (
	_ bridge.Backend = (*Backend)(nil)
	_ bridge.Resumer = (*Backend)(nil)
)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithBinary overrides the Codex runner binary path.
// Empty values are ignored; the default is "codex".
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// New creates a Codex backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind returns cellpilot.KindCodex.
func (b *Backend) Kind() cellpilot.AgentKind { return cellpilot.KindCodex }

// SpawnArgs returns the arguments for a fresh interactive runner.
func (b *Backend) SpawnArgs(_ cellpilot.ModeConfig) (string, []string) {
	return b.binary, []string{"--json-events", "--json-result"}
}

// ResumeArgs returns the arguments to reattach to a previous thread.
func (b *Backend) ResumeArgs(_ cellpilot.ModeConfig, token string) (string, []string, error) {
	if !validUUID.MatchString(token) {
		return "", nil, errors.New("codex: resume token is not a thread id")
	}
	return b.binary, []string{"--resume", token, "--json-events", "--json-result"}, nil
}

// newlineMark replaces literal newlines in prompts. The runner's
// interactive loop reads one line per prompt; the marker survives the
// round trip and is restored provider-side.
const newlineMark = " ⏎ "

// FormatInput frames one prompt as a single stdin line.
func (b *Backend) FormatInput(prompt string) ([]byte, error) {
	folded := strings.ReplaceAll(prompt, "\n", newlineMark)
	return []byte(folded + "\n"), nil
}
