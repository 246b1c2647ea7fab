package manager

import "github.com/cellpilot/cellpilot"

// promptQueue is a per-session FIFO of pending prompt requests.
// Unbounded; enqueue always succeeds. Not safe for concurrent use;
// callers hold the owning session's lock.
type promptQueue struct {
	entries []*cellpilot.PromptRequest
}

// push appends a request in submission order.
func (q *promptQueue) push(req *cellpilot.PromptRequest) {
	q.entries = append(q.entries, req)
}

// next removes and returns the oldest pending entry, or nil when empty.
func (q *promptQueue) next() *cellpilot.PromptRequest {
	if len(q.entries) == 0 {
		return nil
	}
	head := q.entries[0]
	q.entries[0] = nil
	q.entries = q.entries[1:]
	return head
}

// depth returns the number of pending entries.
func (q *promptQueue) depth() int { return len(q.entries) }

// cancelAll marks every pending entry cancelled, empties the queue and
// returns the cancelled requests so the session can retire their records.
// Bypasses the normal dequeue path. Used by stop.
func (q *promptQueue) cancelAll() []*cellpilot.PromptRequest {
	cancelled := q.entries
	for _, req := range cancelled {
		req.Status = cellpilot.RequestCancelled
	}
	q.entries = nil
	return cancelled
}
