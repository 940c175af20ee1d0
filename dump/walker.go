package dump

import (
	"github.com/nestroute/mrtd/core"
	"github.com/nestroute/mrtd/table"
)

// WalkState is the progress of a bounded table walk.
type WalkState uint8

const (
	WalkRunning WalkState = iota
	WalkDone
	// The walk was stopped by Fail and its record is incomplete.
	WalkFailed
)

func (s WalkState) String() string {
	switch s {
	case WalkDone:
		return "done"
	case WalkFailed:
		return "failed"
	default:
		return "running"
	}
}

// Walker walks a table in bounded slices, resuming each Step where the
// previous one stopped. It owns its table cursor until Teardown.
type Walker struct {
	fib   *table.Fib
	it    *table.FibIterator
	state WalkState
	err   error

	matched []*table.Route
	nodes   int
	yields  int
}

// NewWalker creates a walker positioned at the first node of fib.
func NewWalker(fib *table.Fib) *Walker {
	return &Walker{
		fib:   fib,
		it:    fib.NewIterator(),
		state: WalkRunning,
	}
}

func (w *Walker) String() string {
	return "fib-walker"
}

// State returns the walk state.
func (w *Walker) State() WalkState {
	return w.state
}

// Err returns the reason passed to Fail, if any.
func (w *Walker) Err() error {
	return w.err
}

// Fail stops the walk for good. Called from onMatch, it ends the current
// Step right after that call; later Steps return WalkFailed.
func (w *Walker) Fail(err error) {
	if w.state != WalkRunning {
		return
	}
	w.state = WalkFailed
	w.err = err
}

// Visited returns the number of node visits so far. Revisits count again.
func (w *Walker) Visited() int {
	return w.nodes
}

// Yields returns the number of onMatch calls so far.
func (w *Walker) Yields() int {
	return w.yields
}

// Step examines at most nodeBudget nodes and exports about entryBudget
// matching routes, calling onMatch once per route accepted by match.
//
// A node is never split between steps: when its matching routes do not fit
// the remaining entry budget, the cursor is parked at the node and the next
// Step starts from it. The first matching node of a step is always exported
// whole so that every step makes progress; when that node alone holds more
// matching routes than entryBudget, all of them are exported in this step and
// the entry budget does not bound its work. A budget of zero or less makes
// no progress at all.
//
// Step on a finished or failed walk does nothing and returns its state.
func (w *Walker) Step(
	nodeBudget int,
	entryBudget int,
	match func(*table.Route) bool,
	onMatch func(*table.Route),
) WalkState {
	if w.it == nil {
		panic("dump: step on a torn down walker")
	}
	if w.state != WalkRunning || nodeBudget <= 0 || entryBudget <= 0 {
		return w.state
	}

	nodes, yielded := 0, 0
	defer func() {
		core.Log.Trace(w, "Walk step", "nodes", nodes, "yielded", yielded, "state", w.state)
	}()

	for {
		n := w.it.Next()
		if n == nil {
			w.state = WalkDone
			return w.state
		}

		if nodes == nodeBudget {
			w.it.Put(n)
			return w.state
		}
		nodes++
		w.nodes++

		w.matched = w.matched[:0]
		for _, route := range n.Routes {
			if match(route) {
				w.matched = append(w.matched, route)
			}
		}

		if yielded > 0 && len(w.matched) > entryBudget-yielded {
			w.it.Put(n)
			return w.state
		}

		for _, route := range w.matched {
			onMatch(route)
			yielded++
			w.yields++
			if w.state != WalkRunning {
				return w.state
			}
		}
	}
}

// Teardown releases the table cursor. Safe to call in any state and more than once.
func (w *Walker) Teardown() {
	if w.it == nil {
		return
	}
	w.it.Unlink()
	w.it = nil
	w.matched = nil
}
