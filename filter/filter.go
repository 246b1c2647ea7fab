// Package filter provides composable channel middleware for filtering
// cellpilot event streams. Consumers wrap proc.Events() with these
// functions to select the event granularity they need.
package filter

import (
	"context"

	"github.com/cellpilot/cellpilot"
)

// Filter returns a channel that only passes events of the given types.
// Spawns a goroutine that exits when ctx is cancelled or ch is closed.
// The returned channel is closed when the goroutine exits.
func Filter(ctx context.Context, ch <-chan cellpilot.Event, types ...cellpilot.EventType) <-chan cellpilot.Event {
	allowed := make(map[cellpilot.EventType]struct{}, len(types))
	for _, t := range types {
		allowed[t] = struct{}{}
	}
	return pipe(ctx, ch, func(ev cellpilot.Event) bool {
		_, ok := allowed[ev.Type]
		return ok
	})
}

// TextOnly returns a channel that passes only EventText, dropping the
// handshake, action, and terminal events. Spawns a goroutine that exits
// when ctx is cancelled or ch is closed.
func TextOnly(ctx context.Context, ch <-chan cellpilot.Event) <-chan cellpilot.Event {
	return pipe(ctx, ch, func(ev cellpilot.Event) bool {
		return ev.Type == cellpilot.EventText
	})
}

// Actions returns a channel that passes only EventAction, the agent's
// requested cell mutations. Spawns a goroutine that exits when ctx is
// cancelled or ch is closed.
func Actions(ctx context.Context, ch <-chan cellpilot.Event) <-chan cellpilot.Event {
	return pipe(ctx, ch, func(ev cellpilot.Event) bool {
		return ev.Type == cellpilot.EventAction
	})
}

// pipe spawns a goroutine that reads from ch, passes events matching
// the predicate to the returned channel, and closes it when ch closes
// or ctx is cancelled. Callers must either drain the returned channel
// or cancel ctx to avoid goroutine leaks. Events accepted by the
// predicate may be silently dropped if ctx is cancelled mid-send.
func pipe(ctx context.Context, ch <-chan cellpilot.Event, accept func(cellpilot.Event) bool) <-chan cellpilot.Event {
	out := make(chan cellpilot.Event)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if accept(ev) && !trySend(ctx, out, ev) {
					return
				}
			}
		}
	}()
	return out
}

// trySend sends ev on out, returning true on success.
// Returns false if ctx is cancelled before the send completes.
func trySend(ctx context.Context, out chan<- cellpilot.Event, ev cellpilot.Event) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
