package trap

// ScopeRecord marks one active trampoline invocation on an Execution's scope
// stack. Its address is the recovery target: an unwind transfers control to
// the trampoline frame that pushed the current top record.
//
// A record is stack-allocated by the trampoline that owns it, is linked into
// the scope stack for its whole validity window, and is unlinked exactly once
// on every exit path. It never escapes its invocation.
type ScopeRecord struct {
	prev *ScopeRecord
}

// unwindSignal is the value thrown by Unwind and recovered by the matching
// trampoline frame. Each Execution preallocates exactly one, so the unwind
// path never allocates.
type unwindSignal struct {
	target *ScopeRecord
	code   Code
}

// enter makes record the new top of the scope stack and returns the prior
// top, which the caller must hand back to leave on every exit path.
func (e *Execution) enter(record *ScopeRecord) (prev *ScopeRecord) {
	prev = e.top
	record.prev = prev
	e.top = record
	return prev
}

// leave restores the top saved by the matching enter. It runs unconditionally
// on both the normal and the unwind exit path.
func (e *Execution) leave(prev *ScopeRecord) {
	e.top = prev
}

// Active reports whether any trampoline invocation is in flight, i.e. whether
// an Unwind currently has a defined target.
func (e *Execution) Active() bool {
	return e.top != nil
}

// Depth returns the current nesting depth of trampoline invocations.
func (e *Execution) Depth() (n int) {
	for r := e.top; r != nil; r = r.prev {
		n++
	}
	return
}
