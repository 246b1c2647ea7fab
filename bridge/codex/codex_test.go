package codex_test

import (
	"testing"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/bridge"
	"github.com/cellpilot/cellpilot/bridge/bridgetest"
	"github.com/cellpilot/cellpilot/bridge/codex"
)

func TestCompliance(t *testing.T) {
	bridgetest.RunBackendTests(t, func() bridge.Backend { return codex.New() })
}

func TestWithBinary(t *testing.T) {
	b := codex.New(codex.WithBinary("/opt/codex/bin/codex"))
	binary, _ := b.SpawnArgs(cellpilot.ModeConfig{})
	if binary != "/opt/codex/bin/codex" {
		t.Fatalf("binary = %q, want override", binary)
	}
}
