// Package manager owns agent session lifecycles: it routes submitted cell
// text to sessions, queues prompts FIFO per session, runs each session's
// dispatch loop and exposes the control operations (status, stop, resume).
package manager

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cellpilot/cellpilot"
	"github.com/cellpilot/cellpilot/router"
)

// ActionDispatcher forwards agent-requested cell mutations to the notebook
// frontend and returns one result per executed step. The comm package
// implements it over the notebook comm channel.
type ActionDispatcher interface {
	Dispatch(ctx context.Context, sessionID string, action cellpilot.Action) ([]cellpilot.CommResult, error)
}

// ApprovalPolicy answers provider approval requests (gated commands and
// patches). Decide runs while the session sits in waiting_approval; the
// decision is written back to the provider, which holds the turn open
// until it arrives.
type ApprovalPolicy interface {
	Decide(ctx context.Context, sessionID string, approval cellpilot.Approval) (cellpilot.ApprovalDecision, error)
}

// ModeSource supplies the active mode at session creation time. Sessions
// snapshot the mode once and keep it for their whole lifetime, including
// across resume.
type ModeSource interface {
	Current() cellpilot.ModeConfig
}

// Manager is the session registry. All public methods are safe for
// concurrent use.
type Manager struct {
	engine   cellpilot.Engine
	router   *router.Router
	modes    ModeSource
	comm     ActionDispatcher
	approver ApprovalPolicy
	logger   *slog.Logger

	mu       sync.Mutex
	sessions map[string]*session
	byKind   map[cellpilot.AgentKind]*session
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithDispatcher sets the action dispatcher. Without one, agent-requested
// cell mutations fail with ErrNoFrontend.
func WithDispatcher(d ActionDispatcher) Option {
	return func(m *Manager) {
		if d != nil {
			m.comm = d
		}
	}
}

// WithApprovalPolicy sets the approval policy. Without one, provider
// approval requests are approved automatically.
func WithApprovalPolicy(p ApprovalPolicy) Option {
	return func(m *Manager) {
		if p != nil {
			m.approver = p
		}
	}
}

// New builds a Manager over engine, routing submissions with r and
// snapshotting modes from modes.
func New(engine cellpilot.Engine, r *router.Router, modes ModeSource, opts ...Option) *Manager {
	m := &Manager{
		engine:   engine,
		router:   r,
		modes:    modes,
		comm:     nopDispatcher{},
		approver: approveAll{},
		logger:   slog.Default(),
		sessions: make(map[string]*session),
		byKind:   make(map[cellpilot.AgentKind]*session),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Submit routes text through the prefix router, enqueues the extracted
// payload on the matched kind's live session (creating one if needed) and
// returns the request's tracking id. Unprefixed text fails with ErrNoRoute.
// Submit never blocks on the agent; dispatch is asynchronous.
func (m *Manager) Submit(ctx context.Context, text string) (string, error) {
	match, err := m.router.Match(text)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.Lock()
	s := m.byKind[match.Kind]
	if s == nil || !s.live() {
		s = m.createLocked(match.Kind)
	}
	req := &cellpilot.PromptRequest{
		ID:             uuid.NewString(),
		SessionID:      s.id,
		Text:           match.Payload,
		SelfInvocation: match.SelfInvocation,
		SubmittedAt:    time.Now(),
		Status:         cellpilot.RequestPending,
	}
	m.mu.Unlock()

	s.enqueue(req)
	m.logger.Debug("prompt submitted",
		"session", s.id,
		"kind", s.kind,
		"request", req.ID,
		"self_invocation", req.SelfInvocation)
	return req.ID, nil
}

// createLocked registers a fresh session for kind. The active mode is
// snapshotted now; modes that do not apply to kind fall back to the bare
// default so an unrelated system prompt never leaks into the session.
func (m *Manager) createLocked(kind cellpilot.AgentKind) *session {
	mode := m.modes.Current()
	if !mode.AppliesTo(kind) {
		mode = cellpilot.ModeConfig{Name: cellpilot.DefaultModeName}
	}
	s := newSession(uuid.NewString(), kind, mode, m.engine, m.comm, m.approver, m.logger)
	m.sessions[s.id] = s
	m.byKind[kind] = s
	m.logger.Info("session created",
		"session", s.id,
		"kind", kind,
		"mode", mode.Name)
	return s
}

// Status returns a snapshot of one session.
func (m *Manager) Status(sessionID string) (cellpilot.SessionSnapshot, error) {
	s, err := m.lookup(sessionID)
	if err != nil {
		return cellpilot.SessionSnapshot{}, err
	}
	return s.snapshot(), nil
}

// Request returns the tracking state of one submitted prompt. Sessions
// retire their oldest finished records past a retention cap, so very old
// terminal requests eventually stop resolving.
func (m *Manager) Request(requestID string) (cellpilot.PromptRequest, error) {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	for _, s := range all {
		if req, ok := s.request(requestID); ok {
			return req, nil
		}
	}
	return cellpilot.PromptRequest{}, cellpilot.ErrSessionNotFound
}

// ListSessions returns snapshots of every known session, most recently
// active first.
func (m *Manager) ListSessions() []cellpilot.SessionSnapshot {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	snaps := make([]cellpilot.SessionSnapshot, 0, len(all))
	for _, s := range all {
		snaps = append(snaps, s.snapshot())
	}
	sort.Slice(snaps, func(i, j int) bool {
		if snaps[i].LastActive.Equal(snaps[j].LastActive) {
			return snaps[i].ID < snaps[j].ID
		}
		return snaps[i].LastActive.After(snaps[j].LastActive)
	})
	return snaps
}

// MostRecent returns the id of the most recently active session.
func (m *Manager) MostRecent() (string, bool) {
	snaps := m.ListSessions()
	if len(snaps) == 0 {
		return "", false
	}
	return snaps[0].ID, true
}

// Stop terminates sessionID's process and cancels its queue. Idempotent.
func (m *Manager) Stop(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	return s.stop(ctx)
}

// Resume respawns sessionID from its stored resume token. The session keeps
// its id, transcript and mode. Fails with ErrResumeUnsupported for
// non-resumable kinds and ErrAlreadyRunning when the session is not stopped
// or crashed.
func (m *Manager) Resume(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	if err := s.resume(ctx); err != nil {
		return err
	}
	m.mu.Lock()
	if cur := m.byKind[s.kind]; cur == nil || !cur.live() {
		m.byKind[s.kind] = s
	}
	m.mu.Unlock()
	return nil
}

// Destroy stops sessionID and removes it from the registry.
func (m *Manager) Destroy(ctx context.Context, sessionID string) error {
	s, err := m.lookup(sessionID)
	if err != nil {
		return err
	}
	stopErr := s.destroy(ctx)

	m.mu.Lock()
	delete(m.sessions, sessionID)
	if m.byKind[s.kind] == s {
		delete(m.byKind, s.kind)
	}
	m.mu.Unlock()
	return stopErr
}

// Shutdown stops every session. Used on server exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	all := make([]*session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.mu.Unlock()

	var first error
	for _, s := range all {
		if err := s.destroy(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (m *Manager) lookup(sessionID string) (*session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, cellpilot.ErrSessionNotFound
	}
	return s, nil
}

// nopDispatcher rejects every action. Installed when no frontend bridge is
// wired.
type nopDispatcher struct{}

func (nopDispatcher) Dispatch(context.Context, string, cellpilot.Action) ([]cellpilot.CommResult, error) {
	return nil, cellpilot.ErrNoFrontend
}

// approveAll is the default approval policy: every provider approval
// request is granted for the single step.
type approveAll struct{}

func (approveAll) Decide(context.Context, string, cellpilot.Approval) (cellpilot.ApprovalDecision, error) {
	return cellpilot.DecisionApprove, nil
}
