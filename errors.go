package cellpilot

import (
	"errors"
	"strconv"
)

// Sentinel errors for session and protocol operations.
var (
	// ErrNoRoute indicates the submitted text matched no configured prefix.
	// The request is rejected with no side effects.
	ErrNoRoute = errors.New("cellpilot: no prefix matched")

	// ErrStartFailed indicates the agent process could not be spawned.
	// The session remains idle.
	ErrStartFailed = errors.New("cellpilot: process start failed")

	// ErrProtocolViolation indicates an internal invariant was broken
	// (for example two prompts in flight on one handle). Fatal for the
	// session; a programming error, not a recoverable condition.
	ErrProtocolViolation = errors.New("cellpilot: protocol violation")

	// ErrResumeUnsupported indicates the agent kind cannot resume sessions.
	ErrResumeUnsupported = errors.New("cellpilot: resume not supported")

	// ErrAlreadyRunning indicates resume was called on a session that is
	// not in a resumable state.
	ErrAlreadyRunning = errors.New("cellpilot: session already running")

	// ErrUnknownMode indicates the named mode does not exist. No fallback.
	ErrUnknownMode = errors.New("cellpilot: unknown mode")

	// ErrSessionNotFound indicates the requested session does not exist.
	ErrSessionNotFound = errors.New("cellpilot: session not found")

	// ErrTerminated indicates the session's process was terminated
	// (explicit stop or connection closed).
	ErrTerminated = errors.New("cellpilot: session terminated")

	// ErrNoFrontend indicates no notebook frontend is registered on the
	// comm bridge.
	ErrNoFrontend = errors.New("cellpilot: no active notebook")
)

// CrashError represents an agent process that exited unexpectedly with a
// non-zero status. Wraps the underlying error, so consumers can errors.As
// to *exec.ExitError for OS-level detail.
//
// Code semantics: positive = exit status, negative (-1) = signal-killed.
//
// User-initiated stops produce ErrTerminated instead; CrashError is
// reserved for process loss the orchestrator did not request.
type CrashError struct {
	Code int
	Err  error
}

func (e *CrashError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return "cellpilot: exit status " + strconv.Itoa(e.Code)
}

func (e *CrashError) Unwrap() error { return e.Err }

// CrashCode extracts the exit code from an error chain containing
// *CrashError. Returns (0, false) if the chain has none.
func CrashCode(err error) (int, bool) {
	var crashErr *CrashError
	if errors.As(err, &crashErr) {
		return crashErr.Code, true
	}
	return 0, false
}
