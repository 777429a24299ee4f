package trap

import "fmt"

// Execution is one thread of control calling into guest code. It owns the
// scope stack the trampolines push onto and the diagnostic recorded when a
// call aborts.
//
// An Execution is not safe for concurrent use: exactly one goroutine may run
// guest code on it at a time, mirroring the thread-local discipline of native
// engines. Independent executions on separate goroutines need no
// synchronization against each other. The interrupt slot is the single
// exception and is safe to signal from any goroutine.
type Execution struct {
	// top is the most recently entered, not yet exited scope record: the
	// unique valid target for the next unwind on this thread of control.
	top *ScopeRecord

	// signal is reused for every unwind so the jump path never allocates.
	signal unwindSignal

	// trap is the diagnostic of the most recent abort, set by the resuming
	// trampoline frame, not on the jump path.
	trap *Trap

	intr *interruptState

	faultHandler func(Fault) bool
	// delivering guards against a fault raised while already delivering one.
	delivering bool
}

func NewExecution() *Execution {
	return &Execution{intr: &interruptState{}}
}

// Call invokes body under a scope record, so that a fault or interrupt inside
// it (at any native depth) returns here as Aborted instead of crashing.
// Exactly one of the two outcomes is reported, exactly once, and the scope
// stack depth after the call equals the depth before it regardless of which.
func (e *Execution) Call(body func()) Outcome {
	return e.invoke(func([]uint64) { body() }, nil)
}

// CallWithArgs is Call with an auxiliary argument buffer threaded through to
// the body unmodified. The entry/unwind/exit discipline is identical; the
// variant exists for calling-convention reasons only.
func (e *Execution) CallWithArgs(body func(args []uint64), args []uint64) Outcome {
	return e.invoke(body, args)
}

func (e *Execution) invoke(body func([]uint64), args []uint64) (outcome Outcome) {
	var record ScopeRecord
	prev := e.enter(&record)
	defer func() {
		e.leave(prev)
		if v := recover(); v != nil {
			s, ok := v.(*unwindSignal)
			if !ok || s.target != &record {
				// Not an unwind aimed at this frame: either a foreign panic
				// crossing guest code, or a corrupted scope stack. The record
				// is already unlinked, so let it keep flying.
				panic(v)
			}
			e.trap = &Trap{code: s.code}
			outcome = Aborted
		}
	}()
	body(args)
	return Completed
}

// Unwind transfers control to the trampoline that pushed the current top
// scope record, which then reports Aborted. It never returns.
//
// Unwind is safe to call from a fault-delivery context: nothing on the path
// between here and the resuming frame allocates or takes a lock. All cleanup
// happens in that frame.
//
// Calling Unwind with an empty scope stack is a fatal misuse: it panics with
// ErrNoActiveScope, which no trampoline recovers.
func (e *Execution) Unwind(code Code) {
	if e.top == nil {
		panic(fmt.Errorf("%w (code=%s)", ErrNoActiveScope, code))
	}
	e.signal.target = e.top
	e.signal.code = code
	panic(&e.signal)
}

// Raise reports a trap detected by the engine's own guest-attributed checks
// (unreachable, divide by zero, call stack ceiling) and unwinds. Never
// returns.
func (e *Execution) Raise(code Code) {
	e.Unwind(code)
}

// Trap returns the diagnostic recorded by the most recent Aborted outcome, or
// nil if no call on this execution has aborted yet.
func (e *Execution) Trap() *Trap {
	return e.trap
}

// Fault describes a detected hardware-level fault during guest execution,
// before it has been attributed.
type Fault struct {
	Code Code
	// Addr is the faulting guest address when known, for classification.
	Addr uint64
}

// SetFaultHandler registers a handler consulted before a fault is attributed
// to guest code. A handler returning true claims the fault, and execution
// resumes as if it had not happened. Passing nil removes the handler.
func (e *Execution) SetFaultHandler(h func(Fault) bool) {
	e.faultHandler = h
}

// DeliverFault routes a hardware fault observed during this execution.
//
// It returns false when the fault is not attributable to guest code: no scope
// record is active, or another delivery is already in progress. The caller
// must then escalate it as a genuine process-level error. It returns true
// when a registered fault handler claimed the fault, in which case execution
// should continue. Otherwise it unwinds to the innermost trampoline and does
// not return.
func (e *Execution) DeliverFault(f Fault) bool {
	// A fault raised while handling a previous one is quite bad: refuse it
	// and let the caller crash the usual way.
	if e.delivering {
		return false
	}
	e.delivering = true

	if h := e.faultHandler; h != nil && h(f) {
		e.delivering = false
		return true
	}

	if e.top == nil {
		e.delivering = false
		return false
	}

	e.delivering = false
	e.Unwind(f.Code)
	return true // unreachable: Unwind never returns
}
