package codex

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
	"github.com/cellpilot/cellpilot/bridge/internal/jsonutil"
)

// validUUID matches UUID format (any version, case-insensitive).
var validUUID = regexp.MustCompile(
	`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`,
)

// ParseLine parses a single JSONL runner event into an Event.
// Returns bridge.ErrSkipLine for blank lines and no-op events
// (turn.started, item.started, token deltas).
func (b *Backend) ParseLine(line string) (cellpilot.Event, error) {
	if strings.TrimSpace(line) == "" {
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return cellpilot.Event{}, fmt.Errorf("codex: invalid JSON: %w", err)
	}

	typeStr := jsonutil.GetString(raw, "type")
	if typeStr == "" {
		return cellpilot.Event{}, fmt.Errorf("codex: missing or empty type field")
	}

	ev := cellpilot.Event{Raw: json.RawMessage(line)}

	switch typeStr {
	case "thread.started":
		return b.parseThreadStarted(raw, ev)

	case "item.completed":
		return parseItemCompleted(raw, ev)

	case "action.request":
		ev.Type = cellpilot.EventAction
		ev.Action = &cellpilot.Action{
			// Kind is deliberately not validated here; the comm bridge
			// owns the unknown-action error path.
			Kind:     cellpilot.ActionKind(jsonutil.GetString(raw, "action")),
			CellType: jsonutil.GetString(raw, "cell_type"),
			Code:     jsonutil.GetString(raw, "code"),
		}
		return ev, nil

	case "approval.request":
		// The runner holds the turn open until a decision line is written
		// back on stdin.
		ev.Type = cellpilot.EventApproval
		ev.Approval = &cellpilot.Approval{
			ID:      jsonutil.GetString(raw, "id"),
			Kind:    jsonutil.GetString(raw, "kind"),
			Command: approvalCommand(raw),
			Reason:  jsonutil.GetString(raw, "reason"),
		}
		ev.Content = summarizeApproval(ev.Approval)
		return ev, nil

	case "turn.completed", "turn.result":
		ev.Type = cellpilot.EventCompleted
		return ev, nil

	case "turn.failed":
		ev.Type = cellpilot.EventError
		ev.Content = failureMessage(raw)
		return ev, nil

	case "error":
		ev.Type = cellpilot.EventError
		ev.Content = jsonutil.GetString(raw, "message")
		return ev, nil

	case "turn.started", "item.started", "token", "session.resume":
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	// Unknown event types are provider noise, not errors.
	return cellpilot.Event{}, bridge.ErrSkipLine
}

// parseThreadStarted handles the handshake event. The first thread.started
// with a valid UUID becomes the init event carrying the resume token;
// later ones (resume echoes) are dropped.
func (b *Backend) parseThreadStarted(raw map[string]any, ev cellpilot.Event) (cellpilot.Event, error) {
	if !b.initSeen.CompareAndSwap(false, true) {
		return cellpilot.Event{}, bridge.ErrSkipLine
	}
	ev.Type = cellpilot.EventInit
	if tid := jsonutil.GetString(raw, "thread_id"); validUUID.MatchString(tid) {
		ev.ResumeToken = tid
	}
	return ev, nil
}

// parseItemCompleted extracts text from completed items. Only
// agent_message items produce transcript text; reasoning and command
// execution are runner-internal detail.
func parseItemCompleted(raw map[string]any, ev cellpilot.Event) (cellpilot.Event, error) {
	item := jsonutil.GetMap(raw, "item")
	switch jsonutil.GetString(item, "type") {
	case "agent_message":
		ev.Type = cellpilot.EventText
		ev.Content = jsonutil.GetString(item, "text")
		return ev, nil
	case "error":
		ev.Type = cellpilot.EventError
		ev.Content = jsonutil.GetString(item, "message")
		return ev, nil
	}
	return cellpilot.Event{}, bridge.ErrSkipLine
}

// failureMessage pulls the error detail out of a turn.failed event.
func failureMessage(raw map[string]any) string {
	if errMap := jsonutil.GetMap(raw, "error"); errMap != nil {
		if msg := jsonutil.GetString(errMap, "message"); msg != "" {
			return msg
		}
	}
	if msg := jsonutil.GetString(raw, "message"); msg != "" {
		return msg
	}
	return "turn failed"
}

// approvalCommand extracts the gated command line. Exec requests carry the
// command as an argv array; older runners emit a plain string.
func approvalCommand(raw map[string]any) string {
	if cmd := jsonutil.GetString(raw, "command"); cmd != "" {
		return cmd
	}
	parts := jsonutil.GetSlice(raw, "command")
	words := make([]string, 0, len(parts))
	for _, p := range parts {
		if s, ok := p.(string); ok {
			words = append(words, s)
		}
	}
	return strings.Join(words, " ")
}

// summarizeApproval renders a provider approval request for the transcript.
func summarizeApproval(a *cellpilot.Approval) string {
	var b strings.Builder
	b.WriteString("approval requested")
	if a.Kind != "" {
		b.WriteString(" (" + a.Kind + ")")
	}
	if a.Command != "" {
		b.WriteString(": " + a.Command)
	}
	if a.Reason != "" {
		b.WriteString(" [" + a.Reason + "]")
	}
	return b.String()
}
