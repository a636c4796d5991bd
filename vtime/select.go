package vtime

// Selected is the completion value of a Race: which branch won and what it
// produced.
type Selected struct {
	Index int
	Value any
}

// Race races the given branches and resolves with the first one to become
// ready, dropping the rest. Branches are polled in declared order on every
// wake; if two become ready on the same wake, the lowest-indexed branch wins.
// Branches may themselves be nested races, handles, timers, or any Future.
func Race(branches ...Future) Future {
	return &raceFuture{branches: branches}
}

type raceFuture struct {
	branches []Future
	done     bool
	result   Selected
}

func (r *raceFuture) Poll(pc *PollContext) (any, bool) {
	if r.done {
		return r.result, true
	}
	for i, b := range r.branches {
		v, ok := b.Poll(pc)
		if ok {
			r.done = true
			r.result = Selected{Index: i, Value: v}
			// Drop the losing branches: they are never polled again.
			r.branches = nil
			return r.result, true
		}
	}
	return nil, false
}
