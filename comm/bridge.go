// Package comm bridges agent-requested cell mutations to notebook
// frontends. Each attached frontend holds one websocket connection,
// registered under a stable connection id; each action is sent as a
// correlated request and the frontend acknowledges with a per-step result.
// The package also serves the HTTP control API.
package comm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cellpilot/cellpilot"
)

// DefaultAckTimeout bounds the wait for one frontend acknowledgment.
const DefaultAckTimeout = 30 * time.Second

// actionMessage is one cell mutation step sent to the frontend.
type actionMessage struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	CellType string `json:"cell_type,omitempty"`
	CellID   string `json:"cell_id,omitempty"`
	Code     string `json:"code,omitempty"`
}

// resultMessage is the frontend's acknowledgment of one step.
type resultMessage struct {
	ID      string `json:"id"`
	Status  string `json:"status"`
	CellID  string `json:"cell_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// frontend is one attached notebook connection. Writes are serialized;
// gorilla connections allow at most one concurrent writer.
type frontend struct {
	id      string
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func (f *frontend) send(msg actionMessage) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	return f.conn.WriteJSON(msg)
}

// pendingStep is one in-flight action step awaiting acknowledgment.
type pendingStep struct {
	ch     chan resultMessage
	connID string
}

// Bridge dispatches actions to attached frontends. Connections live in a
// registry keyed by connection id; a session binds to the connection that
// served its first action and keeps it until that connection drops. Safe
// for concurrent use.
type Bridge struct {
	logger     *slog.Logger
	ackTimeout time.Duration

	mu       sync.Mutex
	conns    map[string]*frontend
	order    []string          // attach order, newest last
	bindings map[string]string // session id -> connection id
	pending  map[string]*pendingStep
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithAckTimeout overrides the frontend acknowledgment timeout.
func WithAckTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		if d > 0 {
			b.ackTimeout = d
		}
	}
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Bridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBridge returns a Bridge with no frontend attached.
func NewBridge(opts ...Option) *Bridge {
	b := &Bridge{
		logger:     slog.Default(),
		ackTimeout: DefaultAckTimeout,
		conns:      make(map[string]*frontend),
		bindings:   make(map[string]string),
		pending:    make(map[string]*pendingStep),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Attach registers conn in the frontend registry under a fresh connection
// id and consumes its acknowledgments until the connection drops. Earlier
// attachments stay registered. Blocks until conn closes.
func (b *Bridge) Attach(conn *websocket.Conn) {
	f := &frontend{id: uuid.NewString(), conn: conn}

	b.mu.Lock()
	b.conns[f.id] = f
	b.order = append(b.order, f.id)
	b.mu.Unlock()
	b.logger.Info("notebook frontend attached",
		"conn", f.id,
		"remote", conn.RemoteAddr())

	for {
		var res resultMessage
		if err := conn.ReadJSON(&res); err != nil {
			break
		}
		b.resolve(res)
	}
	b.detach(f)
}

// detach removes f from the registry, drops session bindings pointing at
// it and fails its pending waits so dispatchers do not sit out the full
// ack timeout.
func (b *Bridge) detach(f *frontend) {
	b.mu.Lock()
	delete(b.conns, f.id)
	for i, id := range b.order {
		if id == f.id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	for sessionID, connID := range b.bindings {
		if connID == f.id {
			delete(b.bindings, sessionID)
		}
	}
	var waiting []*pendingStep
	var ids []string
	for id, step := range b.pending {
		if step.connID == f.id {
			waiting = append(waiting, step)
			ids = append(ids, id)
		}
	}
	for _, id := range ids {
		delete(b.pending, id)
	}
	b.mu.Unlock()

	f.conn.Close()
	for i, step := range waiting {
		step.ch <- resultMessage{
			ID:      ids[i],
			Status:  string(cellpilot.StatusError),
			Message: "Notebook disconnected",
		}
	}
	b.logger.Info("notebook frontend detached", "conn", f.id)
}

func (b *Bridge) resolve(res resultMessage) {
	b.mu.Lock()
	step, ok := b.pending[res.ID]
	delete(b.pending, res.ID)
	b.mu.Unlock()
	if !ok {
		b.logger.Warn("acknowledgment for unknown request", "id", res.ID)
		return
	}
	step.ch <- res
}

// frontendFor resolves the connection serving sessionID. A live binding
// wins; otherwise the newest attached connection is chosen and the session
// binds to it, so a notebook keeps receiving its session's actions even
// after other notebooks attach.
func (b *Bridge) frontendFor(sessionID string) *frontend {
	b.mu.Lock()
	defer b.mu.Unlock()
	if connID, ok := b.bindings[sessionID]; ok {
		if f, ok := b.conns[connID]; ok {
			return f
		}
		delete(b.bindings, sessionID)
	}
	if len(b.order) == 0 {
		return nil
	}
	f := b.conns[b.order[len(b.order)-1]]
	if sessionID != "" {
		b.bindings[sessionID] = f.id
	}
	return f
}

// Dispatch sends action to sessionID's frontend and returns one result per
// executed step, in order. insert_and_run decomposes into an insert_below
// step followed by an execute step targeting the inserted cell; the
// execute step is skipped when the insert fails. Unknown kinds and an
// empty registry produce a single error result without touching any
// connection.
func (b *Bridge) Dispatch(ctx context.Context, sessionID string, action cellpilot.Action) ([]cellpilot.CommResult, error) {
	kind, ok := cellpilot.ParseActionKind(string(action.Kind))
	if !ok {
		return []cellpilot.CommResult{
			cellpilot.ErrorResult("Unknown action: " + string(action.Kind)),
		}, nil
	}

	f := b.frontendFor(sessionID)
	if f == nil {
		return []cellpilot.CommResult{cellpilot.ErrorResult("No active notebook")}, nil
	}

	cellType := action.CellType
	if cellType == "" {
		cellType = cellpilot.CellTypeCode
	}

	if kind != cellpilot.ActionInsertAndRun {
		res := b.sendStep(ctx, f, actionMessage{
			Action:   string(kind),
			CellType: cellType,
			Code:     action.Code,
		})
		return []cellpilot.CommResult{res}, nil
	}

	insert := b.sendStep(ctx, f, actionMessage{
		Action:   string(cellpilot.ActionInsertBelow),
		CellType: cellType,
		Code:     action.Code,
	})
	if insert.Status != cellpilot.StatusOK {
		return []cellpilot.CommResult{insert}, nil
	}
	execute := b.sendStep(ctx, f, actionMessage{
		Action: string(cellpilot.ActionExecute),
		CellID: insert.CellID,
	})
	return []cellpilot.CommResult{insert, execute}, nil
}

// sendStep writes one correlated step and waits for its acknowledgment,
// bounded by the ack timeout and ctx.
func (b *Bridge) sendStep(ctx context.Context, f *frontend, msg actionMessage) cellpilot.CommResult {
	msg.ID = uuid.NewString()
	step := &pendingStep{ch: make(chan resultMessage, 1), connID: f.id}

	b.mu.Lock()
	b.pending[msg.ID] = step
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	if err := f.send(msg); err != nil {
		b.logger.Warn("frontend write failed", "action", msg.Action, "error", err)
		return cellpilot.ErrorResult("Notebook disconnected")
	}

	timer := time.NewTimer(b.ackTimeout)
	defer timer.Stop()
	select {
	case res := <-step.ch:
		return cellpilot.CommResult{
			Status:  cellpilot.ResultStatus(res.Status),
			CellID:  res.CellID,
			Message: res.Message,
		}
	case <-timer.C:
		b.logger.Warn("frontend acknowledgment timed out", "action", msg.Action, "id", msg.ID)
		return cellpilot.ErrorResult("Notebook did not acknowledge in time")
	case <-ctx.Done():
		return cellpilot.ErrorResult("Action cancelled: " + ctx.Err().Error())
	}
}

// Connected reports whether any frontend is attached.
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns) > 0
}
