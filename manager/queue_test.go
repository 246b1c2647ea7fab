package manager

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"

	"github.com/cellpilot/cellpilot"
)

func TestPromptQueue_Basics(t *testing.T) {
	var q promptQueue
	if q.next() != nil {
		t.Fatal("next on empty queue must return nil")
	}

	a := &cellpilot.PromptRequest{ID: "a"}
	b := &cellpilot.PromptRequest{ID: "b"}
	q.push(a)
	q.push(b)
	if q.depth() != 2 {
		t.Fatalf("depth = %d, want 2", q.depth())
	}
	if got := q.next(); got != a {
		t.Fatalf("next = %v, want a", got)
	}
	if got := q.next(); got != b {
		t.Fatalf("next = %v, want b", got)
	}
}

func TestPromptQueue_CancelAll(t *testing.T) {
	var q promptQueue
	a := &cellpilot.PromptRequest{ID: "a", Status: cellpilot.RequestPending}
	b := &cellpilot.PromptRequest{ID: "b", Status: cellpilot.RequestPending}
	q.push(a)
	q.push(b)

	cancelled := q.cancelAll()
	if q.depth() != 0 {
		t.Fatalf("depth after cancelAll = %d, want 0", q.depth())
	}
	if len(cancelled) != 2 || cancelled[0] != a || cancelled[1] != b {
		t.Fatalf("cancelAll returned %d entries, want [a b]", len(cancelled))
	}
	if a.Status != cellpilot.RequestCancelled || b.Status != cellpilot.RequestCancelled {
		t.Fatalf("statuses = %s/%s, want cancelled/cancelled", a.Status, b.Status)
	}
}

// TestPromptQueue_FIFOProperty checks dequeue order against a model under
// random interleavings of push, next and cancelAll.
func TestPromptQueue_FIFOProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		var q promptQueue
		var model []*cellpilot.PromptRequest
		seq := 0

		rt.Repeat(map[string]func(*rapid.T){
			"push": func(rt *rapid.T) {
				req := &cellpilot.PromptRequest{
					ID:     fmt.Sprintf("req-%d", seq),
					Status: cellpilot.RequestPending,
				}
				seq++
				q.push(req)
				model = append(model, req)
			},
			"next": func(rt *rapid.T) {
				got := q.next()
				if len(model) == 0 {
					if got != nil {
						rt.Fatalf("next on empty queue = %v, want nil", got)
					}
					return
				}
				want := model[0]
				model = model[1:]
				if got != want {
					rt.Fatalf("next = %v, want %v", got, want)
				}
			},
			"cancelAll": func(rt *rapid.T) {
				q.cancelAll()
				for _, req := range model {
					if req.Status != cellpilot.RequestCancelled {
						rt.Fatalf("request %s status = %s, want cancelled", req.ID, req.Status)
					}
				}
				model = nil
			},
			"": func(rt *rapid.T) {
				if q.depth() != len(model) {
					rt.Fatalf("depth = %d, model has %d", q.depth(), len(model))
				}
			},
		})
	})
}
