package claude

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
	"github.com/cellpilot/cellpilot/bridge/internal/jsonutil"
)

// ParseLine parses a single line of Claude's stream-json output into an
// Event. Returns bridge.ErrSkipLine for blank lines, user echoes, and
// token-level deltas.
func (b *Backend) ParseLine(line string) (cellpilot.Event, error) {
	if strings.TrimSpace(line) == "" {
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return cellpilot.Event{}, fmt.Errorf("claude: invalid JSON: %w", err)
	}

	typeStr := jsonutil.GetString(raw, "type")
	if typeStr == "" {
		return cellpilot.Event{}, fmt.Errorf("claude: missing or empty type field")
	}

	ev := cellpilot.Event{Raw: json.RawMessage(line)}

	switch typeStr {
	case "system":
		return parseSystem(raw, ev)

	case "assistant":
		ev.Type = cellpilot.EventText
		ev.Content = assistantText(raw)
		if ev.Content == "" {
			return cellpilot.Event{}, bridge.ErrSkipLine
		}
		return ev, nil

	case "action_request":
		ev.Type = cellpilot.EventAction
		ev.Action = &cellpilot.Action{
			Kind:     cellpilot.ActionKind(jsonutil.GetString(raw, "action")),
			CellType: jsonutil.GetString(raw, "cell_type"),
			Code:     jsonutil.GetString(raw, "code"),
		}
		return ev, nil

	case "result":
		if jsonutil.GetString(raw, "subtype") == "error" || jsonutil.GetBool(raw, "is_error") {
			ev.Type = cellpilot.EventError
			ev.Content = jsonutil.GetString(raw, "result")
			return ev, nil
		}
		ev.Type = cellpilot.EventCompleted
		return ev, nil

	case "error":
		ev.Type = cellpilot.EventError
		ev.Content = jsonutil.GetString(raw, "message")
		return ev, nil

	case "user", "stream_event", "tool":
		return cellpilot.Event{}, bridge.ErrSkipLine
	}

	return cellpilot.Event{}, bridge.ErrSkipLine
}

// parseSystem handles system events, extracting the handshake with its
// session id on the init subtype.
func parseSystem(raw map[string]any, ev cellpilot.Event) (cellpilot.Event, error) {
	if jsonutil.GetString(raw, "subtype") != "init" {
		return cellpilot.Event{}, bridge.ErrSkipLine
	}
	ev.Type = cellpilot.EventInit
	if sid := jsonutil.GetString(raw, "session_id"); validSessionID.MatchString(sid) {
		ev.ResumeToken = sid
	}
	return ev, nil
}

// assistantText concatenates the text blocks of an assistant message's
// content array, with flat-field fallbacks for older output shapes.
func assistantText(raw map[string]any) string {
	if message := jsonutil.GetMap(raw, "message"); message != nil {
		var b strings.Builder
		for _, c := range jsonutil.GetSlice(message, "content") {
			cm, ok := c.(map[string]any)
			if !ok {
				continue
			}
			if t := jsonutil.GetString(cm, "text"); t != "" {
				b.WriteString(t)
			}
		}
		if b.Len() > 0 {
			return b.String()
		}
	}
	if t := jsonutil.GetString(raw, "text"); t != "" {
		return t
	}
	return jsonutil.GetString(raw, "content")
}
