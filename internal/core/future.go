package core

import "sync"

// Outcome is how a Future settled.
type Outcome uint8

const (
	OutcomePending Outcome = iota
	OutcomeResolved
	OutcomeTerminated
)

// Resolution is the settled state of a Future. At most one of Rect and Int
// is set, and only for OutcomeResolved.
type Resolution struct {
	Outcome Outcome
	Rect    *Rect
	Int     *int
}

// Future is a one-shot, two-outcome settlement: resolved (optionally with
// an argument) or terminated. The first settle wins; later ones are no-ops
// that return false. Observers run synchronously on the settling goroutine,
// outside the lock.
type Future struct {
	mu        sync.Mutex
	res       Resolution
	observers []func(Resolution)
}

// NewFuture returns a pending future.
func NewFuture() *Future {
	return &Future{}
}

// Resolve settles without an argument.
func (f *Future) Resolve() bool {
	return f.settle(Resolution{Outcome: OutcomeResolved})
}

// ResolveInt settles with a scalar argument.
func (f *Future) ResolveInt(v int) bool {
	return f.settle(Resolution{Outcome: OutcomeResolved, Int: &v})
}

// ResolveRect settles with a rectangle argument.
func (f *Future) ResolveRect(r Rect) bool {
	return f.settle(Resolution{Outcome: OutcomeResolved, Rect: &r})
}

// Terminate settles as cancelled.
func (f *Future) Terminate() bool {
	return f.settle(Resolution{Outcome: OutcomeTerminated})
}

// Pending reports whether the future has not settled yet.
func (f *Future) Pending() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res.Outcome == OutcomePending
}

// Result returns the current resolution.
func (f *Future) Result() Resolution {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.res
}

// OnSettled registers an observer. If the future already settled the
// observer runs immediately on the calling goroutine.
func (f *Future) OnSettled(fn func(Resolution)) {
	f.mu.Lock()
	if f.res.Outcome == OutcomePending {
		f.observers = append(f.observers, fn)
		f.mu.Unlock()
		return
	}
	res := f.res
	f.mu.Unlock()
	fn(res)
}

// Then registers a pair of mutually exclusive callbacks: exactly one of
// them runs, exactly once. Either may be nil.
func (f *Future) Then(onResolved func(Resolution), onTerminated func()) {
	f.OnSettled(func(r Resolution) {
		switch r.Outcome {
		case OutcomeResolved:
			if onResolved != nil {
				onResolved(r)
			}
		case OutcomeTerminated:
			if onTerminated != nil {
				onTerminated()
			}
		}
	})
}

func (f *Future) settle(res Resolution) bool {
	f.mu.Lock()
	if f.res.Outcome != OutcomePending {
		f.mu.Unlock()
		return false
	}
	f.res = res
	observers := f.observers
	f.observers = nil
	f.mu.Unlock()

	for _, fn := range observers {
		fn(res)
	}
	return true
}
