package cellpilot

import "context"

// StartSpec describes one process launch.
type StartSpec struct {
	// Kind selects the provider backend.
	Kind AgentKind

	// Mode is the system-prompt configuration captured by the session at
	// creation. The engine delivers Mode.Prompt once, before any user
	// prompt.
	Mode ModeConfig

	// ResumeToken, when non-empty, resumes a previous provider session.
	// Opaque; only meaningful to resumable kinds.
	ResumeToken string
}

// Engine spawns and resumes agent processes.
//
// The bridge package implements Engine over CLI subprocesses. The manager
// depends only on this interface, which keeps session logic testable with
// in-memory fakes.
type Engine interface {
	// Start launches a process for spec and returns its handle.
	// Failures to spawn are reported wrapped in ErrStartFailed.
	Start(ctx context.Context, spec StartSpec) (Process, error)

	// Resumable reports whether kind supports resuming a prior session
	// from a stored resume token.
	Resumable(kind AgentKind) bool

	// Validate checks that the provider's prerequisites are met
	// (binary on PATH for CLI backends).
	Validate(kind AgentKind) error
}

// Process is an active agent process handle.
//
// Events flow through the Events channel in the exact order emitted by the
// process. The channel is closed when the process ends, normally or not;
// callers distinguish the two via Err after close.
type Process interface {
	// Events returns the channel of parsed events. Each dispatched prompt
	// produces a finite subsequence terminated by exactly one
	// EventCompleted or EventError.
	Events() <-chan Event

	// Send writes one prompt to the process. At most one prompt may be in
	// flight; a second concurrent Send fails fast with
	// ErrProtocolViolation.
	Send(ctx context.Context, prompt string) error

	// Respond writes an approval decision back to the process. Approvals
	// arrive mid-turn while a prompt is still outstanding, so Respond
	// bypasses the in-flight guard.
	Respond(ctx context.Context, decision ApprovalDecision) error

	// Terminate requests graceful shutdown, escalating to a forceful kill
	// after a bounded grace period. Always returns.
	Terminate(ctx context.Context) error

	// Done is closed when the process has ended and Events is closed.
	Done() <-chan struct{}

	// Err returns the terminal error after Done: ErrTerminated when
	// Terminate was requested, *CrashError for unexpected process loss.
	// Returns nil while the process is still running.
	Err() error
}
