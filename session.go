package cellpilot

import "time"

// AgentKind identifies one of the supported agent providers.
type AgentKind string

const (
	KindCodex  AgentKind = "codex"
	KindClaude AgentKind = "claude"
	KindGemini AgentKind = "gemini"
)

// Valid reports whether k is one of the supported providers.
func (k AgentKind) Valid() bool {
	switch k {
	case KindCodex, KindClaude, KindGemini:
		return true
	}
	return false
}

// SessionState is a session's position in its lifecycle state machine.
//
// Normal cycle: idle → starting → running → idle. An action awaiting
// user approval parks the session in waiting_approval. Explicit stop
// moves any non-terminal state to stopped. Process loss moves
// running/starting to crashed (resumable kinds) or failed (terminal).
type SessionState string

const (
	StateIdle            SessionState = "idle"
	StateStarting        SessionState = "starting"
	StateRunning         SessionState = "running"
	StateWaitingApproval SessionState = "waiting_approval"
	StateStopped         SessionState = "stopped"
	StateCrashed         SessionState = "crashed"
	StateFailed          SessionState = "failed"
)

// Terminal reports whether no further transitions are possible from s.
// Stopped and crashed sessions of resumable kinds can still be resumed,
// so only failed is terminal for every kind.
func (s SessionState) Terminal() bool { return s == StateFailed }

// RequestStatus is the lifecycle status of a PromptRequest.
type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestInFlight  RequestStatus = "in_flight"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
	RequestFailed    RequestStatus = "failed"
)

// PromptRequest is one submitted prompt and its tracking state.
type PromptRequest struct {
	// ID is the tracking id returned to the submitter.
	ID string `json:"id"`

	// SessionID is the owning session.
	SessionID string `json:"session_id"`

	// Text is the payload extracted by the prefix router.
	Text string `json:"text"`

	// SelfInvocation marks a prompt routed from a trailing-line prefix
	// inside a larger code block (an agent asking to be re-invoked).
	SelfInvocation bool `json:"self_invocation,omitempty"`

	// SubmittedAt is the submission timestamp.
	SubmittedAt time.Time `json:"submitted_at"`

	// Status is the current lifecycle status.
	Status RequestStatus `json:"status"`
}

// EntryKind tags a transcript entry.
type EntryKind string

const (
	EntryText   EntryKind = "text"
	EntryAction EntryKind = "action"
	EntryError  EntryKind = "error"
)

// TranscriptEntry is one recorded session event. Entries are append-only
// and immutable once recorded.
type TranscriptEntry struct {
	Kind      EntryKind `json:"kind"`
	Content   string    `json:"content,omitempty"`
	Action    *Action   `json:"action,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionSnapshot is a read-only view of a session's current state.
type SessionSnapshot struct {
	ID         string            `json:"id"`
	Kind       AgentKind         `json:"kind"`
	State      SessionState      `json:"state"`
	Mode       string            `json:"mode"`
	QueueDepth int               `json:"queue_depth"`
	InFlight   *PromptRequest    `json:"in_flight,omitempty"`
	Transcript []TranscriptEntry `json:"transcript,omitempty"`
	LastActive time.Time         `json:"last_active"`
}
