package cellpilot

import "slices"

// DefaultModeName names the built-in mode with no system prompt.
const DefaultModeName = "default"

// ModeConfig is a named system-prompt configuration.
//
// A session captures its own copy of the active ModeConfig at creation, so
// later mode changes never affect a session that is already starting or
// running.
type ModeConfig struct {
	// Name identifies the mode ("default", "teaching", ...).
	Name string `json:"name"`

	// Prompt is the opaque system-prompt text delivered once at session
	// start. The orchestrator never interprets it.
	Prompt string `json:"prompt,omitempty"`

	// Agents restricts the mode to specific kinds. Empty means all.
	Agents []AgentKind `json:"agents,omitempty"`
}

// AppliesTo reports whether the mode is applicable to kind.
func (m ModeConfig) AppliesTo(kind AgentKind) bool {
	return len(m.Agents) == 0 || slices.Contains(m.Agents, kind)
}
