// Package router maps submitted cell text to agent kinds via configured
// trigger prefixes.
//
// Matching is exact: the first non-whitespace token must equal a configured
// prefix literal, optionally followed by whitespace and the payload. A
// prefix on the trailing line of a larger block is routed to the same kind
// but classified as a self-invocation (an agent asking to be re-invoked
// after its own output runs). No partial or case-varied matches.
package router

import (
	"fmt"
	"strings"

	"github.com/cellpilot/cellpilot"
)

// Match is the result of routing one cell submission.
type Match struct {
	// Kind is the resolved agent kind.
	Kind cellpilot.AgentKind

	// Payload is the submitted text with the prefix and separating
	// whitespace stripped.
	Payload string

	// SelfInvocation is set when the prefix appeared on the trailing line
	// of a larger block rather than as the leading token. A content-level
	// signal only; routing is identical either way.
	SelfInvocation bool
}

// Router holds a fixed mapping from trigger literals to agent kinds.
type Router struct {
	prefixes map[string]cellpilot.AgentKind
}

// New builds a Router from a prefix→kind table.
// Rejects empty literals, literals containing whitespace, and unknown kinds.
// Duplicate literals cannot occur (map keys), but two literals may target
// the same kind.
func New(prefixes map[string]cellpilot.AgentKind) (*Router, error) {
	if len(prefixes) == 0 {
		return nil, fmt.Errorf("router: no prefixes configured")
	}
	table := make(map[string]cellpilot.AgentKind, len(prefixes))
	for literal, kind := range prefixes {
		if literal == "" {
			return nil, fmt.Errorf("router: empty prefix literal")
		}
		if strings.ContainsAny(literal, " \t\r\n") {
			return nil, fmt.Errorf("router: prefix %q contains whitespace", literal)
		}
		if !kind.Valid() {
			return nil, fmt.Errorf("router: prefix %q targets unknown kind %q", literal, kind)
		}
		table[literal] = kind
	}
	return &Router{prefixes: table}, nil
}

// Default returns a Router with the standard prefix table:
// "@" → codex, "!" → claude, "~" → gemini.
func Default() *Router {
	r, err := New(map[string]cellpilot.AgentKind{
		"@": cellpilot.KindCodex,
		"!": cellpilot.KindClaude,
		"~": cellpilot.KindGemini,
	})
	if err != nil {
		panic(err) // static table, cannot fail
	}
	return r
}

// Prefixes returns a copy of the configured prefix table.
func (r *Router) Prefixes() map[string]cellpilot.AgentKind {
	out := make(map[string]cellpilot.AgentKind, len(r.prefixes))
	for literal, kind := range r.prefixes {
		out[literal] = kind
	}
	return out
}

// Match routes text to an agent kind, or returns cellpilot.ErrNoRoute
// when no configured prefix matches. The error carries no side effects;
// the caller rejects the submission outright.
func (r *Router) Match(text string) (Match, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return Match{}, cellpilot.ErrNoRoute
	}

	// Direct prompt: the first token is a prefix literal.
	token, rest := splitToken(trimmed)
	if kind, ok := r.prefixes[token]; ok {
		return Match{Kind: kind, Payload: rest}, nil
	}

	// Self-invocation: the trailing line of a multi-line block starts
	// with a prefix literal.
	if idx := strings.LastIndexByte(trimmed, '\n'); idx >= 0 {
		last := strings.TrimSpace(trimmed[idx+1:])
		token, rest := splitToken(last)
		if kind, ok := r.prefixes[token]; ok {
			payload := strings.TrimSpace(trimmed[:idx])
			if rest != "" {
				payload = payload + "\n" + rest
			}
			return Match{Kind: kind, Payload: payload, SelfInvocation: true}, nil
		}
	}

	return Match{}, cellpilot.ErrNoRoute
}

// splitToken splits s into its first whitespace-delimited token and the
// remainder with leading whitespace stripped.
func splitToken(s string) (token, rest string) {
	if i := strings.IndexAny(s, " \t\r\n"); i >= 0 {
		return s[:i], strings.TrimLeft(s[i+1:], " \t\r\n")
	}
	return s, ""
}
