package manager

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cellpilot/cellpilot"
)

const (
	// startTimeout bounds process spawn, including system prompt delivery.
	startTimeout = 30 * time.Second

	// sendTimeout bounds writing one prompt to the process stdin.
	sendTimeout = 10 * time.Second

	// actionTimeout bounds one round trip through the action dispatcher,
	// covering the frontend acknowledgment wait.
	actionTimeout = 60 * time.Second

	// approvalTimeout bounds one approval policy decision. Generous;
	// policies may be backed by a human in the notebook.
	approvalTimeout = 5 * time.Minute

	// transcriptTail is how many trailing transcript entries a snapshot
	// carries.
	transcriptTail = 20

	// retainedRequests caps how many finished request records a session
	// keeps for status queries; older ones are pruned oldest-first.
	retainedRequests = 128
)

// session owns one agent conversation: its process handle, prompt queue,
// transcript and lifecycle state. Mutable fields are guarded by mu. A
// dedicated dispatch goroutine drains the queue one prompt at a time, so at
// most one prompt is ever in flight. stop and resume exclude each other and
// the spawn path via opMu.
type session struct {
	id        string
	kind      cellpilot.AgentKind
	mode      cellpilot.ModeConfig
	resumable bool

	engine   cellpilot.Engine
	comm     ActionDispatcher
	approver ApprovalPolicy
	logger   *slog.Logger

	// wake nudges the dispatch goroutine; buffered so signal never blocks.
	wake chan struct{}

	// opMu serializes stop, resume and spawn against each other.
	opMu sync.Mutex

	mu          sync.Mutex
	state       cellpilot.SessionState
	queue       promptQueue
	inFlight    *cellpilot.PromptRequest
	requests    map[string]*cellpilot.PromptRequest
	finished    []string
	transcript  []cellpilot.TranscriptEntry
	resumeToken string
	proc        cellpilot.Process
	lastActive  time.Time
	destroyed   bool
}

func newSession(id string, kind cellpilot.AgentKind, mode cellpilot.ModeConfig, engine cellpilot.Engine, comm ActionDispatcher, approver ApprovalPolicy, logger *slog.Logger) *session {
	s := &session{
		id:         id,
		kind:       kind,
		mode:       mode,
		resumable:  engine.Resumable(kind),
		engine:     engine,
		comm:       comm,
		approver:   approver,
		logger:     logger,
		wake:       make(chan struct{}, 1),
		state:      cellpilot.StateIdle,
		requests:   make(map[string]*cellpilot.PromptRequest),
		lastActive: time.Now(),
	}
	go s.run()
	return s
}

// enqueue appends req to the queue and wakes the dispatch goroutine.
func (s *session) enqueue(req *cellpilot.PromptRequest) {
	s.mu.Lock()
	req.Status = cellpilot.RequestPending
	s.queue.push(req)
	s.requests[req.ID] = req
	s.lastActive = time.Now()
	s.mu.Unlock()
	s.signal()
}

func (s *session) signal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run is the dispatch goroutine. It drains the queue on every wake signal
// and exits when the session is destroyed.
func (s *session) run() {
	for range s.wake {
		s.drain()
	}
}

// drain dispatches queued prompts in FIFO order until the queue is empty or
// the session leaves a dispatchable state.
func (s *session) drain() {
	for {
		s.mu.Lock()
		if s.destroyed || (s.state != cellpilot.StateIdle && s.state != cellpilot.StateRunning) {
			s.mu.Unlock()
			return
		}
		req := s.queue.next()
		if req == nil {
			if s.state == cellpilot.StateRunning {
				s.state = cellpilot.StateIdle
			}
			s.mu.Unlock()
			return
		}
		req.Status = cellpilot.RequestInFlight
		s.inFlight = req
		s.lastActive = time.Now()
		needSpawn := s.proc == nil
		if needSpawn {
			s.state = cellpilot.StateStarting
		} else {
			s.state = cellpilot.StateRunning
		}
		s.mu.Unlock()

		if needSpawn {
			if err := s.spawn(); err != nil {
				s.failStart(req, err)
				continue
			}
		}
		s.dispatch(req)
	}
}

// spawn launches a fresh process for the first dispatched prompt. It bails
// out without side effects if a concurrent stop moved the session out of
// starting.
func (s *session) spawn() error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state != cellpilot.StateStarting {
		s.mu.Unlock()
		return cellpilot.ErrTerminated
	}
	spec := cellpilot.StartSpec{Kind: s.kind, Mode: s.mode}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), startTimeout)
	defer cancel()
	proc, err := s.engine.Start(ctx, spec)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.state != cellpilot.StateStarting {
		s.mu.Unlock()
		tctx, tcancel := context.WithTimeout(context.Background(), startTimeout)
		defer tcancel()
		proc.Terminate(tctx)
		return cellpilot.ErrTerminated
	}
	s.proc = proc
	s.state = cellpilot.StateRunning
	s.mu.Unlock()
	go s.watch(proc)
	return nil
}

// watch observes proc outside the dispatch loop, so a process that dies
// between turns still surfaces as a crash immediately instead of on the
// next dispatch. When a prompt is in flight the dispatch loop owns the
// exit and watch stands down.
func (s *session) watch(proc cellpilot.Process) {
	<-proc.Done()
	s.mu.Lock()
	if s.destroyed || s.proc != proc || s.inFlight != nil {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	s.handleExit(proc, nil)
}

// failStart records a spawn failure against req and returns the session to
// idle so later submissions can retry. A stop that raced the spawn leaves
// the request cancelled instead.
func (s *session) failStart(req *cellpilot.PromptRequest, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = nil
	if s.state == cellpilot.StateStopped || errors.Is(err, cellpilot.ErrTerminated) {
		if req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestCancelled
			s.retire(req)
		}
		return
	}
	req.Status = cellpilot.RequestFailed
	s.retire(req)
	s.state = cellpilot.StateIdle
	s.record(cellpilot.EntryError, "start failed: "+err.Error(), nil)
	s.logger.Error("session start failed",
		"session", s.id,
		"kind", s.kind,
		"error", err)
}

// dispatch sends req to the live process and consumes events until the turn
// terminates or the process ends.
func (s *session) dispatch(req *cellpilot.PromptRequest) {
	s.mu.Lock()
	proc := s.proc
	s.mu.Unlock()
	if proc == nil {
		s.mu.Lock()
		if req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestCancelled
		}
		s.inFlight = nil
		s.mu.Unlock()
		return
	}

	sctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	err := proc.Send(sctx, req.Text)
	cancel()
	if err != nil {
		s.mu.Lock()
		if req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestFailed
			s.retire(req)
		}
		s.inFlight = nil
		s.record(cellpilot.EntryError, "prompt dispatch failed: "+err.Error(), nil)
		s.mu.Unlock()
		s.logger.Error("prompt dispatch failed",
			"session", s.id,
			"request", req.ID,
			"error", err)
		select {
		case <-proc.Done():
			s.handleExit(proc, nil)
		default:
		}
		return
	}

	for ev := range proc.Events() {
		if s.handleEvent(req, ev) {
			s.mu.Lock()
			s.inFlight = nil
			s.lastActive = time.Now()
			s.mu.Unlock()
			return
		}
	}
	// Events closed mid-turn: the process is gone.
	s.handleExit(proc, req)
}

// handleEvent applies one event to the session and reports whether it
// terminated the turn.
func (s *session) handleEvent(req *cellpilot.PromptRequest, ev cellpilot.Event) bool {
	switch ev.Type {
	case cellpilot.EventInit:
		s.mu.Lock()
		if s.resumeToken == "" && ev.ResumeToken != "" {
			s.resumeToken = ev.ResumeToken
		}
		s.mu.Unlock()
		return false

	case cellpilot.EventText:
		s.mu.Lock()
		s.record(cellpilot.EntryText, ev.Content, nil)
		s.mu.Unlock()
		return false

	case cellpilot.EventAction:
		s.handleAction(ev.Action)
		return false

	case cellpilot.EventApproval:
		s.handleApproval(ev)
		return false

	case cellpilot.EventCompleted:
		s.mu.Lock()
		if req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestCompleted
			s.retire(req)
		}
		s.mu.Unlock()
		return true

	case cellpilot.EventError:
		s.mu.Lock()
		if req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestFailed
			s.retire(req)
		}
		s.record(cellpilot.EntryError, ev.Content, nil)
		s.mu.Unlock()
		return true
	}
	return false
}

// handleAction forwards an agent-requested cell mutation to the dispatcher.
// Actions that run code park the session in waiting_approval until the
// frontend acknowledges. Dispatch failures are recorded and surfaced but
// never tear the session down.
func (s *session) handleAction(action *cellpilot.Action) {
	if action == nil {
		return
	}
	await := action.RequiresAck()

	s.mu.Lock()
	s.record(cellpilot.EntryAction, "", action)
	if await && s.state == cellpilot.StateRunning {
		s.state = cellpilot.StateWaitingApproval
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), actionTimeout)
	results, err := s.comm.Dispatch(ctx, s.id, *action)
	cancel()

	s.mu.Lock()
	if await && s.state == cellpilot.StateWaitingApproval {
		s.state = cellpilot.StateRunning
	}
	if err != nil {
		s.record(cellpilot.EntryError, "action failed: "+err.Error(), nil)
	}
	for _, res := range results {
		if res.Status == cellpilot.StatusError {
			s.record(cellpilot.EntryError, res.Message, nil)
		}
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("action dispatch failed",
			"session", s.id,
			"action", action.Kind,
			"error", err)
	}
}

// handleApproval answers a provider approval request. The provider holds
// the turn open until a decision line arrives on stdin, so a decision is
// always written back; a failed or invalid policy answer degrades to deny
// rather than leaving the turn stalled.
func (s *session) handleApproval(ev cellpilot.Event) {
	var approval cellpilot.Approval
	if ev.Approval != nil {
		approval = *ev.Approval
	}

	s.mu.Lock()
	s.record(cellpilot.EntryText, ev.Content, nil)
	if s.state == cellpilot.StateRunning {
		s.state = cellpilot.StateWaitingApproval
	}
	proc := s.proc
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), approvalTimeout)
	decision, err := s.approver.Decide(ctx, s.id, approval)
	cancel()
	if err != nil || !decision.Valid() {
		s.logger.Warn("approval policy failed, denying",
			"session", s.id,
			"decision", decision,
			"error", err)
		decision = cellpilot.DecisionDeny
	}

	var respondErr error
	if proc != nil {
		rctx, rcancel := context.WithTimeout(context.Background(), sendTimeout)
		respondErr = proc.Respond(rctx, decision)
		rcancel()
	}

	s.mu.Lock()
	if s.state == cellpilot.StateWaitingApproval {
		s.state = cellpilot.StateRunning
	}
	if respondErr != nil {
		s.record(cellpilot.EntryError, "approval delivery failed: "+respondErr.Error(), nil)
	} else {
		s.record(cellpilot.EntryText, "approval decision: "+string(decision), nil)
	}
	s.mu.Unlock()

	if respondErr != nil {
		s.logger.Error("approval delivery failed",
			"session", s.id,
			"decision", decision,
			"error", respondErr)
	}
}

// handleExit reconciles session state after the process has ended. A stop
// initiated exit leaves the session stopped; anything else is a crash, which
// keeps the pending queue intact and moves the session to crashed (resumable
// kinds) or failed.
func (s *session) handleExit(proc cellpilot.Process, req *cellpilot.PromptRequest) {
	<-proc.Done()
	err := proc.Err()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.proc == proc {
		s.proc = nil
	}
	if errors.Is(err, cellpilot.ErrTerminated) || s.state == cellpilot.StateStopped {
		if req != nil && req.Status == cellpilot.RequestInFlight {
			req.Status = cellpilot.RequestCancelled
			s.retire(req)
		}
		s.inFlight = nil
		return
	}

	if req != nil && req.Status == cellpilot.RequestInFlight {
		req.Status = cellpilot.RequestFailed
		s.retire(req)
	}
	s.inFlight = nil
	if s.resumable {
		s.state = cellpilot.StateCrashed
	} else {
		s.state = cellpilot.StateFailed
	}
	msg := "process exited unexpectedly"
	if err != nil {
		msg = err.Error()
	}
	s.record(cellpilot.EntryError, msg, nil)
	s.lastActive = time.Now()
	s.logger.Error("session process lost",
		"session", s.id,
		"kind", s.kind,
		"state", s.state,
		"error", err)
}

// stop terminates the process, cancels every pending and in-flight request
// and moves the session to stopped. Idempotent; stopping an already stopped
// or failed session is a no-op.
func (s *session) stop(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if s.state == cellpilot.StateStopped || s.state.Terminal() {
		s.mu.Unlock()
		return nil
	}
	for _, req := range s.queue.cancelAll() {
		s.retire(req)
	}
	if s.inFlight != nil {
		s.inFlight.Status = cellpilot.RequestCancelled
		s.retire(s.inFlight)
		s.inFlight = nil
	}
	s.state = cellpilot.StateStopped
	s.lastActive = time.Now()
	proc := s.proc
	s.proc = nil
	s.mu.Unlock()

	if proc != nil {
		return proc.Terminate(ctx)
	}
	return nil
}

// resume respawns the process from the stored resume token, preserving the
// session id, transcript and queued prompts. Only stopped and crashed
// sessions of resumable kinds can resume.
func (s *session) resume(ctx context.Context) error {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.mu.Lock()
	if !s.resumable || s.state.Terminal() {
		s.mu.Unlock()
		return cellpilot.ErrResumeUnsupported
	}
	switch s.state {
	case cellpilot.StateStopped, cellpilot.StateCrashed:
	default:
		s.mu.Unlock()
		return cellpilot.ErrAlreadyRunning
	}
	prev := s.state
	s.state = cellpilot.StateStarting
	spec := cellpilot.StartSpec{Kind: s.kind, Mode: s.mode, ResumeToken: s.resumeToken}
	s.mu.Unlock()

	proc, err := s.engine.Start(ctx, spec)
	if err != nil {
		s.mu.Lock()
		s.state = prev
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	s.proc = proc
	s.state = cellpilot.StateIdle
	s.lastActive = time.Now()
	s.mu.Unlock()
	go s.watch(proc)
	s.signal()
	return nil
}

// destroy stops the session and retires its dispatch goroutine.
func (s *session) destroy(ctx context.Context) error {
	err := s.stop(ctx)
	s.mu.Lock()
	if !s.destroyed {
		s.destroyed = true
		close(s.wake)
	}
	s.mu.Unlock()
	return err
}

// live reports whether new submissions may still route to this session.
func (s *session) live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.destroyed {
		return false
	}
	switch s.state {
	case cellpilot.StateIdle, cellpilot.StateStarting, cellpilot.StateRunning, cellpilot.StateWaitingApproval:
		return true
	}
	return false
}

// snapshot returns a consistent read-only view of the session.
func (s *session) snapshot() cellpilot.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := cellpilot.SessionSnapshot{
		ID:         s.id,
		Kind:       s.kind,
		State:      s.state,
		Mode:       s.mode.Name,
		QueueDepth: s.queue.depth(),
		LastActive: s.lastActive,
	}
	if s.inFlight != nil {
		r := *s.inFlight
		snap.InFlight = &r
	}
	tail := s.transcript
	if len(tail) > transcriptTail {
		tail = tail[len(tail)-transcriptTail:]
	}
	snap.Transcript = append([]cellpilot.TranscriptEntry(nil), tail...)
	return snap
}

// request returns a copy of one tracked request.
func (s *session) request(id string) (cellpilot.PromptRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[id]
	if !ok {
		return cellpilot.PromptRequest{}, false
	}
	return *req, true
}

// retire records that req reached a terminal status and prunes the oldest
// finished records beyond the retention cap. Callers hold mu.
func (s *session) retire(req *cellpilot.PromptRequest) {
	s.finished = append(s.finished, req.ID)
	for len(s.finished) > retainedRequests {
		delete(s.requests, s.finished[0])
		s.finished = s.finished[1:]
	}
}

// record appends a transcript entry. Callers hold mu.
func (s *session) record(kind cellpilot.EntryKind, content string, action *cellpilot.Action) {
	s.transcript = append(s.transcript, cellpilot.TranscriptEntry{
		Kind:      kind,
		Content:   content,
		Action:    action,
		Timestamp: time.Now(),
	})
}
