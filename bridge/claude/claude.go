// Package claude implements the bridge.Backend contract for the Claude
// Code CLI.
//
// The CLI runs in stream-json mode on both directions: prompts are
// written to stdin as user-message JSON lines, output arrives as
// stream-json events, and each turn ends with a result event. Sessions
// are resumable via --resume with the session id reported in the init
// event.
package claude

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
)

const defaultBinary = "claude"

// validSessionID matches Claude conversation ids.
var validSessionID = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,128}$`)

// Backend is the Claude Code CLI backend. It implements bridge.Backend
// and bridge.Resumer.
type Backend struct {
	binary string
}

// Compile-time interface satisfaction checks.
var (
	_ bridge.Backend = (*Backend)(nil)
	_ bridge.Resumer = (*Backend)(nil)
)

// Option configures a Backend at construction time.
type Option func(*Backend)

// WithBinary overrides the Claude CLI binary path.
// Empty values are ignored; the default is "claude".
func WithBinary(path string) Option {
	return func(b *Backend) {
		if path != "" {
			b.binary = path
		}
	}
}

// New creates a Claude Code backend with the given options.
func New(opts ...Option) *Backend {
	b := &Backend{binary: defaultBinary}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Kind returns cellpilot.KindClaude.
func (b *Backend) Kind() cellpilot.AgentKind { return cellpilot.KindClaude }

// baseArgs are shared by fresh and resumed spawns.
func baseArgs() []string {
	return []string{
		"--input-format", "stream-json",
		"--output-format", "stream-json",
		"--verbose",
	}
}

// SpawnArgs returns the arguments for a fresh interactive process.
func (b *Backend) SpawnArgs(_ cellpilot.ModeConfig) (string, []string) {
	return b.binary, baseArgs()
}

// ResumeArgs returns the arguments to reattach to a previous conversation.
func (b *Backend) ResumeArgs(_ cellpilot.ModeConfig, token string) (string, []string, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", nil, errors.New("claude: empty resume token")
	}
	if !validSessionID.MatchString(token) {
		return "", nil, fmt.Errorf("claude: invalid resume token %q", token)
	}
	return b.binary, append(baseArgs(), "--resume", token), nil
}

// userMessage is the stream-json input frame for one prompt.
type userMessage struct {
	Type    string `json:"type"`
	Message struct {
		Role    string `json:"role"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"message"`
}

// FormatInput frames one prompt as a stream-json user message line.
func (b *Backend) FormatInput(prompt string) ([]byte, error) {
	var m userMessage
	m.Type = "user"
	m.Message.Role = "user"
	m.Message.Content = []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{{Type: "text", Text: prompt}}

	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("claude: marshal input: %w", err)
	}
	return append(data, '\n'), nil
}
