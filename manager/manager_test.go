package manager_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/manager"
	"github.com/cellpilot/cellpilot/router"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

// fakeProcess is an in-memory Process driven by a per-prompt script.
type fakeProcess struct {
	script    func(p *fakeProcess, prompt string)
	onRespond func(p *fakeProcess, d cellpilot.ApprovalDecision)

	events chan cellpilot.Event
	done   chan struct{}
	once   sync.Once

	mu        sync.Mutex
	termErr   error
	sent      []string
	decisions []cellpilot.ApprovalDecision
}

func newFakeProcess(script func(*fakeProcess, string)) *fakeProcess {
	return &fakeProcess{
		script: script,
		events: make(chan cellpilot.Event, 16),
		done:   make(chan struct{}),
	}
}

func (p *fakeProcess) Events() <-chan cellpilot.Event { return p.events }

func (p *fakeProcess) Send(_ context.Context, prompt string) error {
	p.mu.Lock()
	p.sent = append(p.sent, prompt)
	p.mu.Unlock()
	if p.script != nil {
		p.script(p, prompt)
	}
	return nil
}

func (p *fakeProcess) Respond(_ context.Context, d cellpilot.ApprovalDecision) error {
	p.mu.Lock()
	p.decisions = append(p.decisions, d)
	p.mu.Unlock()
	if p.onRespond != nil {
		p.onRespond(p, d)
	}
	return nil
}

func (p *fakeProcess) Terminate(context.Context) error {
	p.close(cellpilot.ErrTerminated)
	return nil
}

func (p *fakeProcess) Done() <-chan struct{} { return p.done }

func (p *fakeProcess) Err() error {
	select {
	case <-p.done:
		return p.termErr
	default:
		return nil
	}
}

func (p *fakeProcess) emit(ev cellpilot.Event) { p.events <- ev }

// crash simulates unexpected process loss.
func (p *fakeProcess) crash(err error) { p.close(err) }

func (p *fakeProcess) close(err error) {
	p.once.Do(func() {
		p.termErr = err
		close(p.events)
		close(p.done)
	})
}

func (p *fakeProcess) sentPrompts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.sent...)
}

func (p *fakeProcess) respondedWith() []cellpilot.ApprovalDecision {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]cellpilot.ApprovalDecision(nil), p.decisions...)
}

// fakeEngine hands out fakeProcesses and records every StartSpec.
type fakeEngine struct {
	script    func(*fakeProcess, string)
	onRespond func(*fakeProcess, cellpilot.ApprovalDecision)
	resumable bool
	startErr  error

	mu    sync.Mutex
	specs []cellpilot.StartSpec
	procs []*fakeProcess
}

func (e *fakeEngine) Start(_ context.Context, spec cellpilot.StartSpec) (cellpilot.Process, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.specs = append(e.specs, spec)
	if e.startErr != nil {
		return nil, e.startErr
	}
	p := newFakeProcess(e.script)
	p.onRespond = e.onRespond
	e.procs = append(e.procs, p)
	return p, nil
}

func (e *fakeEngine) Resumable(cellpilot.AgentKind) bool { return e.resumable }

func (e *fakeEngine) Validate(cellpilot.AgentKind) error { return nil }

func (e *fakeEngine) proc(i int) *fakeProcess {
	e.mu.Lock()
	defer e.mu.Unlock()
	if i >= len(e.procs) {
		return nil
	}
	return e.procs[i]
}

func (e *fakeEngine) startSpecs() []cellpilot.StartSpec {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]cellpilot.StartSpec(nil), e.specs...)
}

// echoScript completes each turn with an echo of the prompt.
func echoScript(p *fakeProcess, prompt string) {
	p.emit(cellpilot.Event{Type: cellpilot.EventText, Content: prompt})
	p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
}

// hangScript never terminates the turn.
func hangScript(*fakeProcess, string) {}

// fakeModes serves a fixed mode.
type fakeModes struct{ cfg cellpilot.ModeConfig }

func (m fakeModes) Current() cellpilot.ModeConfig { return m.cfg }

func defaultModes() fakeModes {
	return fakeModes{cfg: cellpilot.ModeConfig{Name: cellpilot.DefaultModeName}}
}

// recordingDispatcher records dispatched actions and replays canned results.
type recordingDispatcher struct {
	mu       sync.Mutex
	actions  []cellpilot.Action
	sessions []string
	results  []cellpilot.CommResult
}

func (d *recordingDispatcher) Dispatch(_ context.Context, sessionID string, action cellpilot.Action) ([]cellpilot.CommResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actions = append(d.actions, action)
	d.sessions = append(d.sessions, sessionID)
	return append([]cellpilot.CommResult(nil), d.results...), nil
}

func newManager(t *testing.T, eng *fakeEngine, opts ...manager.Option) *manager.Manager {
	t.Helper()
	return manager.New(eng, router.Default(), defaultModes(), opts...)
}

func requestStatus(t *testing.T, m *manager.Manager, id string) cellpilot.RequestStatus {
	t.Helper()
	req, err := m.Request(id)
	require.NoError(t, err)
	return req.Status
}

// ---------------------------------------------------------------------------
// Submit
// ---------------------------------------------------------------------------

func TestSubmit_NoRoute(t *testing.T) {
	m := newManager(t, &fakeEngine{script: echoScript})
	_, err := m.Submit(context.Background(), "plain cell with no prefix")
	assert.ErrorIs(t, err, cellpilot.ErrNoRoute)
	assert.Empty(t, m.ListSessions())
}

func TestSubmit_DispatchesAndCompletes(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	reqID, err := m.Submit(context.Background(), "@ explain this")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return requestStatus(t, m, reqID) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, err := m.Request(reqID)
	require.NoError(t, err)
	assert.Equal(t, "explain this", req.Text)
	assert.False(t, req.SelfInvocation)

	snap, err := m.Status(req.SessionID)
	require.NoError(t, err)
	assert.Equal(t, cellpilot.KindCodex, snap.Kind)
	assert.Equal(t, cellpilot.StateIdle, snap.State)
	assert.Equal(t, 0, snap.QueueDepth)
	require.NotEmpty(t, snap.Transcript)
	assert.Equal(t, "explain this", snap.Transcript[0].Content)

	specs := eng.startSpecs()
	require.Len(t, specs, 1)
	assert.Equal(t, cellpilot.KindCodex, specs[0].Kind)
	assert.Empty(t, specs[0].ResumeToken)
}

func TestSubmit_FIFOOrder(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	var ids []string
	for _, text := range []string{"@ one", "@ two", "@ three"} {
		id, err := m.Submit(context.Background(), text)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	require.Eventually(t, func() bool {
		return requestStatus(t, m, ids[2]) == cellpilot.RequestCompleted
	}, waitFor, tick)

	assert.Equal(t, []string{"one", "two", "three"}, eng.proc(0).sentPrompts())
}

func TestSubmit_ReusesLiveSession(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	a, err := m.Submit(context.Background(), "@ first")
	require.NoError(t, err)
	b, err := m.Submit(context.Background(), "@ second")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return requestStatus(t, m, b) == cellpilot.RequestCompleted
	}, waitFor, tick)

	ra, _ := m.Request(a)
	rb, _ := m.Request(b)
	assert.Equal(t, ra.SessionID, rb.SessionID)
	assert.Len(t, eng.startSpecs(), 1, "one process serves both prompts")
}

func TestSubmit_DistinctKindsDistinctSessions(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	a, err := m.Submit(context.Background(), "@ codex prompt")
	require.NoError(t, err)
	b, err := m.Submit(context.Background(), "! claude prompt")
	require.NoError(t, err)

	ra, _ := m.Request(a)
	rb, _ := m.Request(b)
	assert.NotEqual(t, ra.SessionID, rb.SessionID)
	assert.Len(t, m.ListSessions(), 2)
}

func TestSubmit_SelfInvocation(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "print(x)\n@ describe the output")
	require.NoError(t, err)
	req, err := m.Request(id)
	require.NoError(t, err)
	assert.True(t, req.SelfInvocation)
	assert.Equal(t, "print(x)\ndescribe the output", req.Text)
}

func TestSubmit_ModeSnapshot(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	teaching := cellpilot.ModeConfig{
		Name:   "teaching",
		Prompt: "explain everything",
		Agents: []cellpilot.AgentKind{cellpilot.KindClaude},
	}
	m := manager.New(eng, router.Default(), fakeModes{cfg: teaching})

	// The mode excludes codex, so a codex session falls back to default.
	codexReq, err := m.Submit(context.Background(), "@ hi")
	require.NoError(t, err)
	claudeReq, err := m.Submit(context.Background(), "! hi")
	require.NoError(t, err)

	rc, _ := m.Request(codexReq)
	rl, _ := m.Request(claudeReq)

	codexSnap, _ := m.Status(rc.SessionID)
	claudeSnap, _ := m.Status(rl.SessionID)
	assert.Equal(t, cellpilot.DefaultModeName, codexSnap.Mode)
	assert.Equal(t, "teaching", claudeSnap.Mode)

	require.Eventually(t, func() bool {
		return len(eng.startSpecs()) == 2
	}, waitFor, tick)
	for _, spec := range eng.startSpecs() {
		if spec.Kind == cellpilot.KindClaude {
			assert.Equal(t, "explain everything", spec.Mode.Prompt)
		} else {
			assert.Empty(t, spec.Mode.Prompt)
		}
	}
}

func TestSubmit_StartFailure(t *testing.T) {
	eng := &fakeEngine{startErr: cellpilot.ErrStartFailed}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ doomed")
	require.NoError(t, err, "Submit is asynchronous; spawn failure surfaces on the request")

	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestFailed
	}, waitFor, tick)

	req, _ := m.Request(id)
	snap, err := m.Status(req.SessionID)
	require.NoError(t, err)
	assert.Equal(t, cellpilot.StateIdle, snap.State, "failed spawn leaves the session idle")
	require.NotEmpty(t, snap.Transcript)
	assert.Equal(t, cellpilot.EntryError, snap.Transcript[len(snap.Transcript)-1].Kind)
}

// ---------------------------------------------------------------------------
// Stop and resume
// ---------------------------------------------------------------------------

func TestStop_CancelsInFlightAndQueue(t *testing.T) {
	eng := &fakeEngine{script: hangScript}
	m := newManager(t, eng)

	first, err := m.Submit(context.Background(), "@ long running")
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), "@ waiting behind")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.proc(0) != nil && len(eng.proc(0).sentPrompts()) == 1
	}, waitFor, tick)

	req, _ := m.Request(first)
	require.NoError(t, m.Stop(context.Background(), req.SessionID))

	snap, _ := m.Status(req.SessionID)
	assert.Equal(t, cellpilot.StateStopped, snap.State)
	assert.Equal(t, 0, snap.QueueDepth)
	assert.Equal(t, cellpilot.RequestCancelled, requestStatus(t, m, first))
	assert.Equal(t, cellpilot.RequestCancelled, requestStatus(t, m, second))

	select {
	case <-eng.proc(0).Done():
	default:
		t.Fatal("stop must terminate the process")
	}

	// Idempotent.
	require.NoError(t, m.Stop(context.Background(), req.SessionID))
}

func TestStop_UnknownSession(t *testing.T) {
	m := newManager(t, &fakeEngine{})
	assert.ErrorIs(t, m.Stop(context.Background(), "nope"), cellpilot.ErrSessionNotFound)
	_, err := m.Status("nope")
	assert.ErrorIs(t, err, cellpilot.ErrSessionNotFound)
}

func TestResume_AfterStop(t *testing.T) {
	eng := &fakeEngine{resumable: true, script: func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{Type: cellpilot.EventInit, ResumeToken: "thread-7"})
		p.emit(cellpilot.Event{Type: cellpilot.EventText, Content: prompt})
		p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
	}}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ warm up")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	require.NoError(t, m.Stop(context.Background(), req.SessionID))
	require.NoError(t, m.Resume(context.Background(), req.SessionID))

	snap, _ := m.Status(req.SessionID)
	assert.Equal(t, cellpilot.StateIdle, snap.State)
	assert.Equal(t, 0, snap.QueueDepth, "stop then resume yields an empty queue")

	specs := eng.startSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, "thread-7", specs[1].ResumeToken, "resume replays the captured token")
}

func TestResume_WhileLive(t *testing.T) {
	eng := &fakeEngine{resumable: true, script: echoScript}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	assert.ErrorIs(t, m.Resume(context.Background(), req.SessionID), cellpilot.ErrAlreadyRunning)
}

// ---------------------------------------------------------------------------
// Crash handling
// ---------------------------------------------------------------------------

func TestCrash_ResumableKind(t *testing.T) {
	eng := &fakeEngine{resumable: true, script: func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{Type: cellpilot.EventInit, ResumeToken: "thread-9"})
	}}
	m := newManager(t, eng)

	first, err := m.Submit(context.Background(), "@ in flight")
	require.NoError(t, err)
	second, err := m.Submit(context.Background(), "@ still queued")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.proc(0) != nil && len(eng.proc(0).sentPrompts()) == 1
	}, waitFor, tick)

	eng.proc(0).crash(&cellpilot.CrashError{Code: 9})

	req, _ := m.Request(first)
	require.Eventually(t, func() bool {
		snap, _ := m.Status(req.SessionID)
		return snap.State == cellpilot.StateCrashed
	}, waitFor, tick)

	assert.Equal(t, cellpilot.RequestFailed, requestStatus(t, m, first))
	assert.Equal(t, cellpilot.RequestPending, requestStatus(t, m, second), "crash keeps the pending queue intact")

	// Resume respawns with the captured token and drains the queue.
	require.NoError(t, m.Resume(context.Background(), req.SessionID))
	require.Eventually(t, func() bool {
		return eng.proc(1) != nil && len(eng.proc(1).sentPrompts()) == 1
	}, waitFor, tick)
	assert.Equal(t, "thread-9", eng.startSpecs()[1].ResumeToken)
	assert.Equal(t, []string{"still queued"}, eng.proc(1).sentPrompts())
}

func TestCrash_NonResumableKindFails(t *testing.T) {
	eng := &fakeEngine{resumable: false, script: hangScript}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "~ hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return eng.proc(0) != nil && len(eng.proc(0).sentPrompts()) == 1
	}, waitFor, tick)

	eng.proc(0).crash(&cellpilot.CrashError{Code: 1})

	req, _ := m.Request(id)
	require.Eventually(t, func() bool {
		snap, _ := m.Status(req.SessionID)
		return snap.State == cellpilot.StateFailed
	}, waitFor, tick)

	assert.ErrorIs(t, m.Resume(context.Background(), req.SessionID), cellpilot.ErrResumeUnsupported)
}

// ---------------------------------------------------------------------------
// Actions
// ---------------------------------------------------------------------------

func TestActions_DispatchedWithResults(t *testing.T) {
	action := cellpilot.Action{Kind: cellpilot.ActionInsertBelow, CellType: "code", Code: "print(1)"}
	eng := &fakeEngine{script: func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{Type: cellpilot.EventAction, Action: &action})
		p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
	}}
	disp := &recordingDispatcher{results: []cellpilot.CommResult{cellpilot.OKResult("cell-1")}}
	m := newManager(t, eng, manager.WithDispatcher(disp))

	id, err := m.Submit(context.Background(), "@ add a cell")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	disp.mu.Lock()
	defer disp.mu.Unlock()
	require.Len(t, disp.actions, 1)
	assert.Equal(t, action, disp.actions[0])
	req, _ := m.Request(id)
	assert.Equal(t, []string{req.SessionID}, disp.sessions)
}

func TestActions_ErrorResultRecorded(t *testing.T) {
	action := cellpilot.Action{Kind: cellpilot.ActionExecute}
	eng := &fakeEngine{script: func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{Type: cellpilot.EventAction, Action: &action})
		p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
	}}
	disp := &recordingDispatcher{results: []cellpilot.CommResult{cellpilot.ErrorResult("No active notebook")}}
	m := newManager(t, eng, manager.WithDispatcher(disp))

	id, err := m.Submit(context.Background(), "@ run it")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	snap, _ := m.Status(req.SessionID)
	var sawError bool
	for _, entry := range snap.Transcript {
		if entry.Kind == cellpilot.EntryError && entry.Content == "No active notebook" {
			sawError = true
		}
	}
	assert.True(t, sawError, "frontend error result must land in the transcript")
}

func TestActions_NoDispatcherRecordsFailure(t *testing.T) {
	action := cellpilot.Action{Kind: cellpilot.ActionInsertAbove, Code: "x"}
	eng := &fakeEngine{script: func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{Type: cellpilot.EventAction, Action: &action})
		p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
	}}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ insert")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	snap, _ := m.Status(req.SessionID)
	var sawError bool
	for _, entry := range snap.Transcript {
		if entry.Kind == cellpilot.EntryError {
			sawError = true
		}
	}
	assert.True(t, sawError, "dispatch failure must be recorded, not dropped")
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

func TestListSessions_MostRecentFirst(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	a, err := m.Submit(context.Background(), "@ older")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, a) == cellpilot.RequestCompleted
	}, waitFor, tick)

	time.Sleep(5 * time.Millisecond)
	b, err := m.Submit(context.Background(), "! newer")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, b) == cellpilot.RequestCompleted
	}, waitFor, tick)

	rb, _ := m.Request(b)
	snaps := m.ListSessions()
	require.Len(t, snaps, 2)
	assert.Equal(t, rb.SessionID, snaps[0].ID)

	recent, ok := m.MostRecent()
	require.True(t, ok)
	assert.Equal(t, rb.SessionID, recent)
}

func TestDestroy_RemovesSession(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ bye")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	require.NoError(t, m.Destroy(context.Background(), req.SessionID))

	_, err = m.Status(req.SessionID)
	assert.ErrorIs(t, err, cellpilot.ErrSessionNotFound)
	_, err = m.Request(id)
	assert.ErrorIs(t, err, cellpilot.ErrSessionNotFound)

	// A new submission for the same kind creates a fresh session.
	id2, err := m.Submit(context.Background(), "@ hello again")
	require.NoError(t, err)
	req2, _ := m.Request(id2)
	assert.NotEqual(t, req.SessionID, req2.SessionID)
}

func TestShutdown_StopsEverything(t *testing.T) {
	eng := &fakeEngine{script: hangScript}
	m := newManager(t, eng)

	_, err := m.Submit(context.Background(), "@ a")
	require.NoError(t, err)
	_, err = m.Submit(context.Background(), "! b")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return eng.proc(1) != nil
	}, waitFor, tick)

	require.NoError(t, m.Shutdown(context.Background()))
	for _, snap := range m.ListSessions() {
		assert.Equal(t, cellpilot.StateStopped, snap.State)
	}
}

// ---------------------------------------------------------------------------
// Approvals
// ---------------------------------------------------------------------------

// approvalScript parks the turn on a provider approval request; the decision
// written back via Respond completes it.
func approvalScript(approval cellpilot.Approval) func(*fakeProcess, string) {
	return func(p *fakeProcess, prompt string) {
		p.emit(cellpilot.Event{
			Type:     cellpilot.EventApproval,
			Approval: &approval,
			Content:  "approval requested (" + approval.Kind + "): " + approval.Command,
		})
	}
}

// recordingPolicy records every Decide call and answers with a fixed decision.
type recordingPolicy struct {
	decision cellpilot.ApprovalDecision
	onDecide func(sessionID string)

	mu        sync.Mutex
	sessions  []string
	approvals []cellpilot.Approval
}

func (r *recordingPolicy) Decide(_ context.Context, sessionID string, approval cellpilot.Approval) (cellpilot.ApprovalDecision, error) {
	r.mu.Lock()
	r.sessions = append(r.sessions, sessionID)
	r.approvals = append(r.approvals, approval)
	r.mu.Unlock()
	if r.onDecide != nil {
		r.onDecide(sessionID)
	}
	return r.decision, nil
}

func TestApproval_DefaultPolicyApproves(t *testing.T) {
	approval := cellpilot.Approval{ID: "ev-1", Kind: "exec", Command: "rm -rf build", Reason: "writes outside workspace"}
	eng := &fakeEngine{
		script: approvalScript(approval),
		onRespond: func(p *fakeProcess, _ cellpilot.ApprovalDecision) {
			p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
		},
	}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ build it")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	assert.Equal(t, []cellpilot.ApprovalDecision{cellpilot.DecisionApprove}, eng.proc(0).respondedWith())

	req, _ := m.Request(id)
	snap, _ := m.Status(req.SessionID)
	var sawDecision bool
	for _, entry := range snap.Transcript {
		if entry.Kind == cellpilot.EntryText && entry.Content == "approval decision: approve" {
			sawDecision = true
		}
	}
	assert.True(t, sawDecision, "the written-back decision must land in the transcript")
	require.Eventually(t, func() bool {
		snap, _ := m.Status(req.SessionID)
		return snap.State == cellpilot.StateIdle
	}, waitFor, tick)
}

func TestApproval_CustomPolicyDenies(t *testing.T) {
	approval := cellpilot.Approval{ID: "ev-2", Kind: "patch", Command: "apply_patch", Reason: "touches tracked files"}
	eng := &fakeEngine{
		script: approvalScript(approval),
		onRespond: func(p *fakeProcess, _ cellpilot.ApprovalDecision) {
			p.emit(cellpilot.Event{Type: cellpilot.EventCompleted})
		},
	}
	pol := &recordingPolicy{decision: cellpilot.DecisionDeny}
	m := newManager(t, eng, manager.WithApprovalPolicy(pol))

	stateCh := make(chan cellpilot.SessionState, 1)
	pol.onDecide = func(sessionID string) {
		snap, err := m.Status(sessionID)
		if err == nil {
			select {
			case stateCh <- snap.State:
			default:
			}
		}
	}

	id, err := m.Submit(context.Background(), "@ patch it")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	assert.Equal(t, []cellpilot.ApprovalDecision{cellpilot.DecisionDeny}, eng.proc(0).respondedWith())
	assert.Equal(t, cellpilot.StateWaitingApproval, <-stateCh, "the session parks while the policy decides")

	req, _ := m.Request(id)
	pol.mu.Lock()
	defer pol.mu.Unlock()
	require.Len(t, pol.approvals, 1)
	assert.Equal(t, approval, pol.approvals[0])
	assert.Equal(t, []string{req.SessionID}, pol.sessions)
}

// ---------------------------------------------------------------------------
// Idle exit
// ---------------------------------------------------------------------------

func TestCrash_WhileIdleObserved(t *testing.T) {
	eng := &fakeEngine{resumable: true, script: echoScript}
	m := newManager(t, eng)

	id, err := m.Submit(context.Background(), "@ hello")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		return requestStatus(t, m, id) == cellpilot.RequestCompleted
	}, waitFor, tick)

	req, _ := m.Request(id)
	require.Eventually(t, func() bool {
		snap, _ := m.Status(req.SessionID)
		return snap.State == cellpilot.StateIdle
	}, waitFor, tick)

	// The process dies between prompts, with nothing in flight.
	eng.proc(0).crash(&cellpilot.CrashError{Code: 137})

	require.Eventually(t, func() bool {
		snap, _ := m.Status(req.SessionID)
		return snap.State == cellpilot.StateCrashed
	}, waitFor, tick, "an idle exit must surface without waiting for the next prompt")

	// Resume respawns; the queue was empty, so nothing replays.
	require.NoError(t, m.Resume(context.Background(), req.SessionID))
	require.Eventually(t, func() bool {
		return eng.proc(1) != nil
	}, waitFor, tick)
}

// ---------------------------------------------------------------------------
// Request retention
// ---------------------------------------------------------------------------

func TestRequests_OldTerminalRecordsPruned(t *testing.T) {
	eng := &fakeEngine{script: echoScript}
	m := newManager(t, eng)

	const total = 140
	ids := make([]string, 0, total)
	for i := 0; i < total; i++ {
		id, err := m.Submit(context.Background(), fmt.Sprintf("@ prompt %d", i))
		require.NoError(t, err)
		ids = append(ids, id)
	}
	require.Eventually(t, func() bool {
		req, err := m.Request(ids[total-1])
		return err == nil && req.Status == cellpilot.RequestCompleted
	}, waitFor, tick)

	// The oldest records fell past the retention cap; recent ones resolve.
	_, err := m.Request(ids[0])
	assert.ErrorIs(t, err, cellpilot.ErrSessionNotFound)
	req, err := m.Request(ids[total-1])
	require.NoError(t, err)
	assert.Equal(t, cellpilot.RequestCompleted, req.Status)
}
