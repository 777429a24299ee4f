package trap

import "sync/atomic"

// Interrupt request slot states. The transition is one-way: idle to
// signalled, with disposed terminal from either.
const (
	interruptIdle uint32 = iota
	interruptSignalled
	interruptDisposed
)

// interruptState is the only state in this package shared across goroutines.
// Both the Execution and every handle bound to it reference the same slot, so
// a Close racing a Signal from another goroutine only races on the atomic,
// never on the slot's lifetime.
type interruptState struct {
	v atomic.Uint32
}

// InterruptHandle requests cancellation of one Execution's in-flight guest
// call. It is safe to share and use from any goroutine, any time: before the
// target call starts, while it runs, or after it finished.
//
// Signalling only records the request. The actual unwind happens on the
// target's own goroutine, at its next check point; there is no cross-thread
// unwind delivery.
type InterruptHandle struct {
	state *interruptState
}

// InterruptHandle returns a handle bound to this execution context. Handles
// from repeated calls share the same underlying request slot.
func (e *Execution) InterruptHandle() *InterruptHandle {
	return &InterruptHandle{state: e.intr}
}

// Signal requests that the bound execution abort at its next check point,
// surfacing as an Aborted outcome with CodeInterrupted. Signalling more than
// once has the same effect as signalling once. After Close it is a no-op.
func (h *InterruptHandle) Signal() {
	h.state.v.CompareAndSwap(interruptIdle, interruptSignalled)
}

// Close releases the handle. Safe even if Signal was never called, and safe
// to call concurrently with an in-flight Signal. Subsequent signals are
// no-ops and an undelivered request is discarded.
func (h *InterruptHandle) Close() error {
	h.state.v.Store(interruptDisposed)
	return nil
}

// CheckInterrupt is the cooperative delivery point. Guest code (or the engine
// on its behalf) calls it at points of the surrounding engine's choosing; if
// an interrupt was requested, it unwinds with CodeInterrupted and does not
// return. How often check points run bounds delivery latency, but once
// delivered the abort is guaranteed.
func (e *Execution) CheckInterrupt() {
	if e.intr.v.Load() == interruptSignalled {
		e.Unwind(CodeInterrupted)
	}
}
