// Package cellpilot orchestrates long-running AI agent CLI processes driven
// from interactive notebook cells.
//
// A notebook cell whose text starts with a configured prefix (for example
// "@ hello") is routed to an agent kind, queued on that agent's session, and
// dispatched to the external process one prompt at a time. The process's
// streaming output is parsed into typed events; text events land in the
// session transcript, action events become notebook cell mutations delivered
// to the frontend over the comm protocol.
//
// # Core Types
//
//   - [Engine]: spawns and resumes agent processes
//   - [Process]: an active process handle with a typed event channel
//   - [Event]: structured output from an agent process
//   - [Action]: an agent-requested notebook cell mutation
//   - [PromptRequest]: one queued prompt and its lifecycle status
//   - [ModeConfig]: a named system-prompt configuration
//
// # Vocabulary
//
// The root package defines the shared vocabulary for all components. The
// bridge package implements [Engine] over CLI subprocesses with one backend
// per provider; the manager package owns sessions and their dispatch loops;
// the comm package realizes the action protocol toward notebook frontends.
//
// # Quick Start
//
//	engine := bridge.NewEngine([]bridge.Backend{codex.New(), claude.New()})
//	mgr := manager.New(engine, router.Default(), modes)
//	requestID, err := mgr.Submit(ctx, "@ explain this dataframe")
package cellpilot
