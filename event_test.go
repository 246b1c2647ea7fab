package cellpilot

import (
	"errors"
	"os/exec"
	"testing"
)

func TestParseActionKind(t *testing.T) {
	for _, s := range []string{"insert_below", "insert_above", "replace", "execute", "insert_and_run"} {
		kind, ok := ParseActionKind(s)
		if !ok {
			t.Errorf("ParseActionKind(%q) not recognized", s)
		}
		if string(kind) != s {
			t.Errorf("ParseActionKind(%q) = %q", s, kind)
		}
	}

	for _, s := range []string{"", "frobnicate", "INSERT_BELOW", "insert-below"} {
		if _, ok := ParseActionKind(s); ok {
			t.Errorf("ParseActionKind(%q) unexpectedly recognized", s)
		}
	}
}

func TestActionRequiresAck(t *testing.T) {
	tests := []struct {
		kind ActionKind
		want bool
	}{
		{ActionInsertBelow, false},
		{ActionInsertAbove, false},
		{ActionReplace, false},
		{ActionExecute, true},
		{ActionInsertAndRun, true},
	}
	for _, tt := range tests {
		if got := (Action{Kind: tt.kind}).RequiresAck(); got != tt.want {
			t.Errorf("RequiresAck(%s) = %v, want %v", tt.kind, got, tt.want)
		}
	}
}

func TestEventTerminal(t *testing.T) {
	if !(Event{Type: EventCompleted}).Terminal() {
		t.Error("completed must be terminal")
	}
	if !(Event{Type: EventError}).Terminal() {
		t.Error("error must be terminal")
	}
	for _, typ := range []EventType{EventInit, EventText, EventAction, EventApproval} {
		if (Event{Type: typ}).Terminal() {
			t.Errorf("%s must not be terminal", typ)
		}
	}
}

func TestSessionStateTerminal(t *testing.T) {
	if !StateFailed.Terminal() {
		t.Error("failed must be terminal")
	}
	for _, s := range []SessionState{StateIdle, StateStarting, StateRunning, StateWaitingApproval, StateStopped, StateCrashed} {
		if s.Terminal() {
			t.Errorf("%s must not be terminal", s)
		}
	}
}

func TestAgentKindValid(t *testing.T) {
	for _, k := range []AgentKind{KindCodex, KindClaude, KindGemini} {
		if !k.Valid() {
			t.Errorf("%s must be valid", k)
		}
	}
	if AgentKind("cursor").Valid() {
		t.Error("unknown kind must not be valid")
	}
}

func TestCrashCode(t *testing.T) {
	err := error(&CrashError{Code: 7, Err: errors.New("boom")})
	code, ok := CrashCode(err)
	if !ok || code != 7 {
		t.Fatalf("CrashCode = (%d, %v), want (7, true)", code, ok)
	}

	if _, ok := CrashCode(errors.New("plain")); ok {
		t.Fatal("plain error must not carry a crash code")
	}
	if _, ok := CrashCode(nil); ok {
		t.Fatal("nil error must not carry a crash code")
	}

	// The chain stays intact through the wrapper.
	wrapped := &CrashError{Code: 1, Err: &exec.ExitError{}}
	var ee *exec.ExitError
	if !errors.As(wrapped, &ee) {
		t.Fatal("CrashError must unwrap to the underlying exec.ExitError")
	}
}

func TestModeAppliesTo(t *testing.T) {
	all := ModeConfig{Name: "default"}
	if !all.AppliesTo(KindCodex) || !all.AppliesTo(KindGemini) {
		t.Error("empty agent list must apply to every kind")
	}

	scoped := ModeConfig{Name: "terse", Agents: []AgentKind{KindClaude}}
	if scoped.AppliesTo(KindCodex) {
		t.Error("scoped mode must not apply to excluded kinds")
	}
	if !scoped.AppliesTo(KindClaude) {
		t.Error("scoped mode must apply to its listed kind")
	}
}

func TestApprovalDecisionValid(t *testing.T) {
	for _, d := range []ApprovalDecision{DecisionApprove, DecisionApproveSession, DecisionDeny, DecisionAbort} {
		if !d.Valid() {
			t.Errorf("%s must be valid", d)
		}
	}
	for _, d := range []ApprovalDecision{"", "maybe", "APPROVE"} {
		if d.Valid() {
			t.Errorf("%q must not be valid", d)
		}
	}
}
