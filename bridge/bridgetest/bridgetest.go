// Package bridgetest provides reusable compliance suites for bridge.Backend
// implementations. Backend authors call RunBackendTests from their own test
// package; the suite exercises the behavioral contract every backend must
// honor regardless of its wire format.
package bridgetest

import (
	"errors"
	"strings"
	"testing"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
)

// universalResumeToken passes every current backend validator:
//   - codex: RFC 4122 UUID
//   - claude: ^[a-zA-Z0-9_-]{1,128}$
const universalResumeToken = "3f2504e0-4f89-41d3-9a0c-0305e82c3301"

// RunBackendTests runs every applicable compliance suite for a
// bridge.Backend. The optional Resumer capability is discovered via type
// assertion, mirroring how the engine resolves capabilities at Start.
func RunBackendTests(t *testing.T, factory func() bridge.Backend) {
	t.Helper()

	t.Run("Spawner", func(t *testing.T) {
		RunSpawnerTests(t, factory)
	})
	t.Run("Parser", func(t *testing.T) {
		RunParserTests(t, factory)
	})
	t.Run("Input", func(t *testing.T) {
		RunInputTests(t, factory)
	})

	if _, ok := factory().(bridge.Resumer); ok {
		t.Run("Resumer", func(t *testing.T) {
			RunResumerTests(t, func() bridge.Resumer { return factory().(bridge.Resumer) })
		})
	}
}

// RunSpawnerTests tests the spawn-argument contract. The factory is called
// once per subtest to ensure fresh backend state.
func RunSpawnerTests(t *testing.T, factory func() bridge.Backend) {
	t.Helper()

	t.Run("KindValid", func(t *testing.T) {
		b := factory()
		if !b.Kind().Valid() {
			t.Errorf("Kind() = %q, want a supported agent kind", b.Kind())
		}
	})

	t.Run("ZeroMode", func(t *testing.T) {
		b := factory()
		binary, args := b.SpawnArgs(cellpilot.ModeConfig{})
		if binary == "" {
			t.Error("binary must be non-empty")
		}
		if args == nil {
			t.Error("args must be non-nil")
		}
	})

	t.Run("BinaryNoNullBytes", func(t *testing.T) {
		b := factory()
		binary, _ := b.SpawnArgs(cellpilot.ModeConfig{Name: "default"})
		if strings.Contains(binary, "\x00") {
			t.Error("binary must not contain null bytes")
		}
	})

	t.Run("PromptNotInArgs", func(t *testing.T) {
		// The system prompt travels over stdin, never argv.
		b := factory()
		_, args := b.SpawnArgs(cellpilot.ModeConfig{Name: "teaching", Prompt: "be gentle"})
		if containsArg(args, "be gentle") {
			t.Error("mode prompt must not appear in args")
		}
	})
}

// RunParserTests tests error-path semantics and no-panic guarantees of
// ParseLine. Assertions use errors.Is to match how the read loop checks
// parser results.
func RunParserTests(t *testing.T, factory func() bridge.Backend) {
	t.Helper()

	t.Run("EmptyLineReturnsErrSkipLine", func(t *testing.T) {
		b := factory()
		_, err := b.ParseLine("")
		if !errors.Is(err, bridge.ErrSkipLine) {
			t.Errorf("ParseLine(\"\") error = %v, want ErrSkipLine", err)
		}
	})

	t.Run("WhitespaceOnlyReturnsErrSkipLine", func(t *testing.T) {
		b := factory()
		_, err := b.ParseLine("   ")
		if !errors.Is(err, bridge.ErrSkipLine) {
			t.Errorf("ParseLine(\"   \") error = %v, want ErrSkipLine", err)
		}
	})

	t.Run("InvalidJSONReturnsNonSkipError", func(t *testing.T) {
		b := factory()
		_, err := b.ParseLine("not json")
		if err == nil {
			t.Error("ParseLine(\"not json\") should return an error")
		}
		if errors.Is(err, bridge.ErrSkipLine) {
			t.Error("ParseLine(\"not json\") should return a non-skip error, got ErrSkipLine")
		}
	})

	t.Run("GarbageNoPanic", func(t *testing.T) { //nolint:revive // no assertions, panics are the failure signal
		_ = t
		b := factory()
		for _, input := range garbageCorpus {
			_, _ = b.ParseLine(input)
		}
	})

	t.Run("ValidEventHasType", func(t *testing.T) {
		// Guard invariant: anything that parses without error must carry
		// a non-empty event type.
		b := factory()
		corpus := append(append([]string(nil), garbageCorpus...),
			`{"type":99}`, `{"type":"unknown"}`, `{"event":true}`)
		for _, input := range corpus {
			ev, err := b.ParseLine(input)
			if err == nil && ev.Type == "" {
				t.Errorf("ParseLine(%q) returned event with empty Type and nil error", input)
			}
		}
	})
}

// garbageCorpus is a fixed set of adversarial inputs used by robustness
// tests.
var garbageCorpus = []string{
	"\x00",
	strings.Repeat("x", 65536),
	"{{{",
	"\xff\xfe",
	`{"":null}`,
	"null",
	"[]",
}

// RunInputTests tests the stdin framing contract.
func RunInputTests(t *testing.T, factory func() bridge.Backend) {
	t.Helper()

	t.Run("NewlineTerminated", func(t *testing.T) {
		b := factory()
		data, err := b.FormatInput("hello")
		if err != nil {
			t.Fatalf("FormatInput(\"hello\") error = %v", err)
		}
		if len(data) == 0 || data[len(data)-1] != '\n' {
			t.Error("framed input must end with a newline")
		}
	})

	t.Run("SingleLine", func(t *testing.T) {
		// Line-oriented stdin protocols cannot carry interior newlines;
		// each prompt must frame to exactly one line.
		b := factory()
		data, err := b.FormatInput("first\nsecond\nthird")
		if err != nil {
			t.Fatalf("FormatInput error = %v", err)
		}
		body := strings.TrimSuffix(string(data), "\n")
		if strings.Contains(body, "\n") {
			t.Errorf("framed input spans multiple lines: %q", body)
		}
	})
}

// RunResumerTests tests the Resumer capability contract.
func RunResumerTests(t *testing.T, factory func() bridge.Resumer) {
	t.Helper()

	t.Run("EmptyToken", func(t *testing.T) {
		r := factory()
		_, _, err := r.ResumeArgs(cellpilot.ModeConfig{}, "")
		if err == nil {
			t.Error("ResumeArgs with empty token should return an error")
		}
	})

	t.Run("NullByteToken", func(t *testing.T) {
		r := factory()
		_, _, err := r.ResumeArgs(cellpilot.ModeConfig{}, "tok\x00en")
		if err == nil {
			t.Error("ResumeArgs with null-byte token should return an error")
		}
	})

	t.Run("ValidResume", func(t *testing.T) {
		r := factory()
		binary, args, err := r.ResumeArgs(cellpilot.ModeConfig{}, universalResumeToken)
		if err != nil {
			t.Fatalf("ResumeArgs with valid token should not error: %v", err)
		}
		if binary == "" {
			t.Error("binary must be non-empty")
		}
		if !containsArg(args, universalResumeToken) {
			t.Errorf("args %v must contain resume token %q", args, universalResumeToken)
		}
	})
}

// containsArg reports whether args contains s as an exact element.
func containsArg(args []string, s string) bool {
	for _, a := range args {
		if a == s {
			return true
		}
	}
	return false
}
