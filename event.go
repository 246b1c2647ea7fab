package cellpilot

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of event produced by an agent process.
type EventType string

const (
	// EventInit is the handshake event emitted once at process start.
	// Providers that support resume report their resume token here.
	EventInit EventType = "init"

	// EventText is assistant text output.
	EventText EventType = "text"

	// EventAction is an agent-requested notebook cell mutation.
	EventAction EventType = "action"

	// EventApproval is a provider-side request to authorize a gated
	// operation. The turn blocks until a decision is written back.
	EventApproval EventType = "approval"

	// EventCompleted terminates a per-prompt event sequence successfully.
	EventCompleted EventType = "completed"

	// EventError terminates a per-prompt event sequence with a
	// provider-reported failure. Loss of the process itself is not an
	// EventError; it surfaces through Process.Err.
	EventError EventType = "error"
)

// Event is a structured output event from an agent process.
//
// Each dispatched prompt produces an ordered, finite sequence of events
// ending with exactly one EventCompleted or EventError.
type Event struct {
	// Type identifies the kind of event.
	Type EventType `json:"type"`

	// Content is the text content (for Text, Error events).
	Content string `json:"content,omitempty"`

	// Action holds the requested cell mutation (for Action events).
	Action *Action `json:"action,omitempty"`

	// Approval holds the authorization request (for Approval events).
	Approval *Approval `json:"approval,omitempty"`

	// ResumeToken is the provider-issued token reported on Init events
	// by resumable providers. Opaque; stored and replayed uninterpreted.
	ResumeToken string `json:"resume_token,omitempty"`

	// Raw is the original unparsed JSON line from the provider.
	Raw json.RawMessage `json:"raw,omitempty"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Terminal reports whether e ends a per-prompt event sequence.
func (e Event) Terminal() bool {
	return e.Type == EventCompleted || e.Type == EventError
}

// ActionKind identifies a notebook cell mutation requested by an agent.
type ActionKind string

const (
	ActionInsertBelow  ActionKind = "insert_below"
	ActionInsertAbove  ActionKind = "insert_above"
	ActionReplace      ActionKind = "replace"
	ActionExecute      ActionKind = "execute"
	ActionInsertAndRun ActionKind = "insert_and_run"
)

// ParseActionKind maps a wire string to an ActionKind.
// Unknown strings return ("", false); callers must produce a structured
// error for those, never a silent no-op.
func ParseActionKind(s string) (ActionKind, bool) {
	switch k := ActionKind(s); k {
	case ActionInsertBelow, ActionInsertAbove, ActionReplace, ActionExecute, ActionInsertAndRun:
		return k, true
	}
	return "", false
}

// Approval is a provider-side request to authorize a gated operation.
// The provider holds the turn open until a decision line is written back
// on stdin; see Process.Respond.
type Approval struct {
	// ID correlates the decision with the provider's pending request.
	ID string `json:"id,omitempty"`

	// Kind is the operation class, "exec" or "patch".
	Kind string `json:"kind,omitempty"`

	// Command is the gated command line (exec requests).
	Command string `json:"command,omitempty"`

	// Reason is the provider's stated justification, when given.
	Reason string `json:"reason,omitempty"`
}

// ApprovalDecision is the answer written back for a pending approval.
type ApprovalDecision string

const (
	DecisionApprove        ApprovalDecision = "approve"
	DecisionApproveSession ApprovalDecision = "approve_session"
	DecisionDeny           ApprovalDecision = "deny"
	DecisionAbort          ApprovalDecision = "abort"
)

// Valid reports whether d is one of the decisions the provider accepts.
func (d ApprovalDecision) Valid() bool {
	switch d {
	case DecisionApprove, DecisionApproveSession, DecisionDeny, DecisionAbort:
		return true
	}
	return false
}

// CellTypeCode is the default cell type for actions that omit one.
const CellTypeCode = "code"

// Action is an agent-requested notebook cell mutation.
type Action struct {
	// Kind selects the mutation.
	Kind ActionKind `json:"action"`

	// CellType is the target cell kind; defaults to "code" when empty.
	CellType string `json:"cell_type,omitempty"`

	// Code is the text payload for insert/replace kinds.
	Code string `json:"code,omitempty"`
}

// RequiresAck reports whether the dispatch loop must hold Completion
// handling until the frontend acknowledges this action.
func (a Action) RequiresAck() bool {
	return a.Kind == ActionExecute || a.Kind == ActionInsertAndRun
}

// ResultStatus is the outcome of a comm action as reported by the frontend.
type ResultStatus string

const (
	StatusOK    ResultStatus = "ok"
	StatusError ResultStatus = "error"
)

// CommResult is the frontend's acknowledgment of one comm action effect.
type CommResult struct {
	// Status is ok or error.
	Status ResultStatus `json:"status"`

	// CellID identifies the cell affected, when applicable.
	CellID string `json:"cell_id,omitempty"`

	// Message is human-readable detail on error.
	Message string `json:"message,omitempty"`
}

// OKResult builds a success result for the given cell.
func OKResult(cellID string) CommResult {
	return CommResult{Status: StatusOK, CellID: cellID}
}

// ErrorResult builds an error result with the given detail.
func ErrorResult(message string) CommResult {
	return CommResult{Status: StatusError, Message: message}
}
