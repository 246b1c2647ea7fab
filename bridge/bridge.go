// Package bridge implements cellpilot.Engine over CLI subprocesses.
//
// A Backend supplies the provider-specific pieces: spawn arguments, stream
// parsing, and input framing. The engine owns everything provider-agnostic:
// process lifecycle, the stdout read loop, prompt delivery, the in-flight
// guard, and graceful termination.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"

	"github.com/cellpilot/cellpilot"
)

// ErrSkipLine signals that ParseLine produced no event for a line
// (blank lines, provider noise). The read loop drops the line silently.
var ErrSkipLine = errors.New("bridge: skip line")

// Backend supplies provider-specific behavior for one agent kind.
type Backend interface {
	// Kind identifies the provider.
	Kind() cellpilot.AgentKind

	// SpawnArgs returns the binary and arguments for a fresh process.
	// The mode is available for providers that map configuration onto
	// flags; the system-prompt payload itself is delivered by the engine
	// through FormatInput after spawn.
	SpawnArgs(mode cellpilot.ModeConfig) (binary string, args []string)

	// ParseLine parses one raw stdout line into an event.
	// Returns ErrSkipLine for lines that produce no event. Any other
	// error marks the line malformed; the read loop logs and skips it, so
	// a single corrupt line never aborts a session.
	ParseLine(line string) (cellpilot.Event, error)

	// FormatInput frames one prompt for the process stdin.
	FormatInput(prompt string) ([]byte, error)
}

// Resumer is an optional Backend capability: resuming a previous provider
// session from a stored token. Discovered by type assertion, mirroring how
// the engine resolves capabilities at Start.
type Resumer interface {
	// ResumeArgs returns the binary and arguments to reattach to the
	// session identified by token.
	ResumeArgs(mode cellpilot.ModeConfig, token string) (binary string, args []string, err error)
}

// Engine is the CLI subprocess engine. One Engine serves every registered
// provider; each Start call produces an independent process handle.
type Engine struct {
	backends map[cellpilot.AgentKind]Backend
	opts     EngineOptions
}

// Compile-time interface satisfaction check.
var _ cellpilot.Engine = (*Engine)(nil)

// NewEngine creates an engine serving the given backends.
func NewEngine(backends []Backend, opts ...EngineOption) *Engine {
	table := make(map[cellpilot.AgentKind]Backend, len(backends))
	for _, b := range backends {
		table[b.Kind()] = b
	}
	return &Engine{backends: table, opts: resolveEngineOptions(opts...)}
}

// Resumable reports whether kind's backend implements Resumer.
func (e *Engine) Resumable(kind cellpilot.AgentKind) bool {
	b, ok := e.backends[kind]
	if !ok {
		return false
	}
	_, ok = b.(Resumer)
	return ok
}

// Validate checks that kind is registered and its binary is on PATH.
func (e *Engine) Validate(kind cellpilot.AgentKind) error {
	b, ok := e.backends[kind]
	if !ok {
		return fmt.Errorf("%w: no backend for kind %q", cellpilot.ErrStartFailed, kind)
	}
	binary, _ := b.SpawnArgs(cellpilot.ModeConfig{})
	if _, err := exec.LookPath(binary); err != nil {
		return fmt.Errorf("%w: %s: %w", cellpilot.ErrStartFailed, binary, err)
	}
	return nil
}

// Start spawns a process for spec and returns its handle.
//
// When spec.ResumeToken is set the backend must implement Resumer; the
// process reattaches to the provider session instead of starting fresh.
// The mode's system-prompt payload is written to stdin exactly once,
// before any user prompt, on fresh starts only; a resumed provider
// session already carries its configuration.
func (e *Engine) Start(_ context.Context, spec cellpilot.StartSpec) (cellpilot.Process, error) {
	backend, ok := e.backends[spec.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no backend for kind %q", cellpilot.ErrStartFailed, spec.Kind)
	}

	var binary string
	var args []string
	fresh := spec.ResumeToken == ""
	if fresh {
		binary, args = backend.SpawnArgs(spec.Mode)
	} else {
		resumer, ok := backend.(Resumer)
		if !ok {
			return nil, fmt.Errorf("%w: kind %q", cellpilot.ErrResumeUnsupported, spec.Kind)
		}
		var err error
		binary, args, err = resumer.ResumeArgs(spec.Mode, spec.ResumeToken)
		if err != nil {
			return nil, fmt.Errorf("%w: resume args: %w", cellpilot.ErrStartFailed, err)
		}
	}

	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", cellpilot.ErrStartFailed, binary, err)
	}

	cmd, stdin, stdout, err := spawnCmd(resolved, args)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", cellpilot.ErrStartFailed, err)
	}

	p := newProcess(backend, e.opts, cmd, stdin, stdout)

	if fresh && spec.Mode.Prompt != "" {
		if err := p.writeSystemPrompt(spec.Mode.Prompt); err != nil {
			_ = p.Terminate(context.Background())
			return nil, fmt.Errorf("%w: system prompt: %v", cellpilot.ErrStartFailed, err)
		}
	}
	return p, nil
}

// spawnCmd builds, configures, and starts an exec.Cmd with stdin and
// stdout pipes.
func spawnCmd(binary string, args []string) (*exec.Cmd, io.WriteCloser, io.ReadCloser, error) {
	cmd := exec.Command(binary, args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, nil, err
	}
	return cmd, stdin, stdout, nil
}

// loggerOrDefault returns l, or slog.Default when l is nil.
func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l != nil {
		return l
	}
	return slog.Default()
}
