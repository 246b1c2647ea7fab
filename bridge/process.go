//go:build !windows

package bridge

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/cellpilot/cellpilot"
)

// signalProcess sends sig to a process, returning nil if the process
// has already exited (os.ErrProcessDone).
func signalProcess(proc *os.Process, sig os.Signal) error {
	err := proc.Signal(sig)
	if errors.Is(err, os.ErrProcessDone) {
		return nil
	}
	return err
}

// process implements cellpilot.Process for one CLI subprocess.
type process struct {
	backend Backend
	opts    EngineOptions

	events chan cellpilot.Event

	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	cancelRead context.CancelFunc

	cmdDone chan struct{} // buffered(1), signaled by the readLoop defer
	done    chan struct{} // closed exactly once by finish()
	termErr error         // set by finish(), read after done closes

	// busy re-asserts the at-most-one-in-flight contract. The session
	// dispatch loop already guarantees it; a violation here is a
	// programming error, not a recoverable condition.
	busy atomic.Bool

	stopping   atomic.Bool
	stopOnce   sync.Once
	finishOnce sync.Once
}

var _ cellpilot.Process = (*process)(nil)

// newProcess creates a process and starts its readLoop.
func newProcess(backend Backend, opts EngineOptions, cmd *exec.Cmd, stdin io.WriteCloser, stdout io.ReadCloser) *process {
	readCtx, cancelRead := context.WithCancel(context.Background())
	p := &process{
		backend:    backend,
		opts:       opts,
		events:     make(chan cellpilot.Event, opts.EventBuffer),
		cmd:        cmd,
		stdin:      stdin,
		cancelRead: cancelRead,
		cmdDone:    make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
	go p.readLoop(readCtx, stdout)
	return p
}

// Events returns the channel of parsed events.
func (p *process) Events() <-chan cellpilot.Event {
	return p.events
}

// writeSystemPrompt delivers the mode payload once, before any user
// prompt. Called only by Engine.Start; no busy guard involved because no
// terminal event follows a system payload.
func (p *process) writeSystemPrompt(prompt string) error {
	data, err := p.backend.FormatInput(prompt)
	if err != nil {
		return err
	}
	_, err = p.stdin.Write(data)
	return err
}

// Send writes one prompt to the subprocess stdin.
func (p *process) Send(_ context.Context, prompt string) error {
	if p.stopping.Load() {
		return cellpilot.ErrTerminated
	}
	select {
	case <-p.done:
		return cellpilot.ErrTerminated
	default:
	}

	if !p.busy.CompareAndSwap(false, true) {
		return fmt.Errorf("%w: prompt already in flight", cellpilot.ErrProtocolViolation)
	}

	data, err := p.backend.FormatInput(prompt)
	if err != nil {
		p.busy.Store(false)
		return fmt.Errorf("bridge: format input: %w", err)
	}

	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		p.busy.Store(false)
		return cellpilot.ErrTerminated
	}
	if _, err := stdin.Write(data); err != nil {
		p.busy.Store(false)
		return fmt.Errorf("bridge: write stdin: %w", err)
	}
	return nil
}

// Respond writes an approval decision line to the subprocess stdin. The
// runner reads decisions as raw lines, not framed prompts, so Respond
// bypasses FormatInput and the in-flight guard.
func (p *process) Respond(_ context.Context, decision cellpilot.ApprovalDecision) error {
	if !decision.Valid() {
		return fmt.Errorf("bridge: invalid approval decision %q", decision)
	}
	if p.stopping.Load() {
		return cellpilot.ErrTerminated
	}
	select {
	case <-p.done:
		return cellpilot.ErrTerminated
	default:
	}

	p.mu.Lock()
	stdin := p.stdin
	p.mu.Unlock()
	if stdin == nil {
		return cellpilot.ErrTerminated
	}
	if _, err := stdin.Write([]byte(string(decision) + "\n")); err != nil {
		return fmt.Errorf("bridge: write decision: %w", err)
	}
	return nil
}

// Terminate requests graceful shutdown: SIGTERM, a bounded grace period,
// then SIGKILL. It always returns; a timed-out graceful stop is absorbed,
// never surfaced to the caller.
func (p *process) Terminate(ctx context.Context) error {
	p.stopOnce.Do(func() {
		p.stopping.Store(true)

		p.mu.Lock()
		if p.stdin != nil {
			_ = p.stdin.Close() // Best-effort: pipe may already be closed.
		}
		cancelRead := p.cancelRead
		cmd := p.cmd
		p.mu.Unlock()

		// Unblock readLoop if stuck on channel send.
		cancelRead()

		_ = signalProcess(cmd.Process, syscall.SIGTERM)

		select {
		case <-p.cmdDone:
		case <-time.After(p.opts.GracePeriod):
			_ = signalProcess(cmd.Process, os.Kill)
			<-p.cmdDone
		case <-ctx.Done():
			_ = signalProcess(cmd.Process, os.Kill)
			<-p.cmdDone
		}
	})

	<-p.done
	return nil
}

// Done is closed when the process has ended and Events is closed.
func (p *process) Done() <-chan struct{} { return p.done }

// Err returns the terminal error, or nil while still running.
func (p *process) Err() error {
	select {
	case <-p.done:
		return p.termErr
	default:
		return nil
	}
}

// finish sets the terminal error and closes events+done.
// Called exactly once via sync.Once.
func (p *process) finish(err error) {
	p.finishOnce.Do(func() {
		p.termErr = err
		close(p.events)
		close(p.done)
	})
}

// readLoop is the goroutine that scans subprocess stdout and pumps events.
func (p *process) readLoop(ctx context.Context, stdout io.ReadCloser) {
	var panicErr error
	var scanErr error

	defer func() {
		if r := recover(); r != nil {
			_ = signalProcess(p.cmd.Process, os.Kill)
			panicErr = fmt.Errorf("bridge: parser panic: %v", r)
		}

		waitErr := p.cmd.Wait()
		switch {
		case panicErr != nil:
			waitErr = panicErr
		case scanErr != nil:
			waitErr = fmt.Errorf("bridge: scanner: %w", scanErr)
		default:
			waitErr = wrapCrash(waitErr)
		}
		if p.stopping.Load() {
			waitErr = cellpilot.ErrTerminated
		} else if waitErr == nil {
			// Stdout EOF with exit 0 and no Terminate requested is still
			// loss of a persistent process.
			waitErr = &cellpilot.CrashError{Code: 0, Err: errors.New("bridge: process exited")}
		}

		p.finish(waitErr)

		// Always signal cmdDone so Terminate can proceed.
		p.cmdDone <- struct{}{}
	}()

	scanErr = p.scanLines(ctx, stdout)
}

// scanLines reads stdout line by line, parses each into an event, and
// sends it on the events channel. Malformed lines are logged and skipped;
// a single corrupt line never aborts a session.
func (p *process) scanLines(ctx context.Context, stdout io.ReadCloser) error {
	scanner := bufio.NewScanner(stdout)
	initCap := min(4096, p.opts.ScannerBuffer)
	scanner.Buffer(make([]byte, 0, initCap), p.opts.ScannerBuffer)

	for scanner.Scan() {
		line := scanner.Text()
		ev, err := p.backend.ParseLine(line)
		if errors.Is(err, ErrSkipLine) {
			continue
		}
		if err != nil {
			p.opts.Logger.Warn("skipping malformed output line",
				"kind", p.backend.Kind(), "err", err)
			continue
		}
		if ev.Timestamp.IsZero() {
			ev.Timestamp = time.Now()
		}
		p.opts.Logger.Debug("event",
			"kind", p.backend.Kind(), "type", ev.Type)
		if ev.Terminal() {
			p.busy.Store(false)
		}

		select {
		case p.events <- ev:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

// wrapCrash converts a non-zero *exec.ExitError to *cellpilot.CrashError.
// nil → nil, non-ExitError → passthrough, code 0 → nil (clean exit).
// Preserves the error chain via CrashError.Unwrap.
func wrapCrash(err error) error {
	if err == nil {
		return nil
	}
	var ee *exec.ExitError
	if !errors.As(err, &ee) {
		return err
	}
	code := ee.ExitCode()
	if code == 0 {
		return nil
	}
	return &cellpilot.CrashError{Code: code, Err: err}
}
