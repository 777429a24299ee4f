// Package engine executes guest functions under the supervision of the trap
// core. Guest functions here are Go closures standing in for natively
// compiled code: they manipulate the engine's value stack and linear memory
// through the same narrow surface generated code would, including the
// interrupt check points and fault detection points the surrounding engine
// is responsible for inserting.
package engine

import (
	"fmt"
	"strings"

	"github.com/wasmkit/trapline/trap"
)

// GuestFunc is the body of a guest function. It runs synchronously on the
// engine's thread of control and may only touch the engine it is given.
type GuestFunc func(*Engine)

// callStackCeiling bounds the number of nested guest call frames. Exceeding
// it raises a call stack overflow trap.
var callStackCeiling uint64 = 2000

type Engine struct {
	exec *trap.Execution

	// The value stack shared by all frames, accessed via
	// [stackBasePointer] + [stackPointer].
	stack []uint64
	// Stack pointer relative to stackBasePointer.
	stackPointer uint64
	// stackBasePointer is set on each function call so frames are compiled
	// (here: written) as if they owned the stack from zero.
	stackBasePointer uint64

	// Guest call frames in a linked list, most recent first.
	callFrameStack *callFrame
	// callFrameNum tracks the current number of call frames.
	// Note: this is not the length of callFrameStack because the stack is a
	// linked list.
	callFrameNum uint64

	memory    *MemoryInstance
	functions map[string]*compiledFunction
}

const initialStackSize = 1024

func NewEngine() *Engine {
	return &Engine{
		exec:      trap.NewExecution(),
		stack:     make([]uint64, initialStackSize),
		functions: map[string]*compiledFunction{},
	}
}

// WithMemory attaches a linear memory of minPages, growable up to maxPages
// (nil means the engine default maximum).
func (e *Engine) WithMemory(minPages uint32, maxPages *uint32) *Engine {
	e.memory = &MemoryInstance{
		Buffer: make([]byte, uint64(minPages)*PageSize),
		Min:    minPages,
		Max:    maxPages,
	}
	return e
}

// InterruptHandle returns a handle other goroutines can use to abort the
// call in flight on this engine.
func (e *Engine) InterruptHandle() *trap.InterruptHandle {
	return e.exec.InterruptHandle()
}

// Trap returns the diagnostic recorded by the most recent aborted call.
func (e *Engine) Trap() *trap.Trap {
	return e.exec.Trap()
}

type callFrame struct {
	function *compiledFunction
	// stackBasePointer of this frame within the engine's value stack.
	stackBasePointer uint64
	// continuationStackPointer restores the caller's stack pointer when this
	// frame returns.
	continuationStackPointer uint64
	caller                   *callFrame
}

func (c *callFrame) String() string {
	return fmt.Sprintf("[%s: stack base pointer=%d]", c.function.name, c.stackBasePointer)
}

type compiledFunction struct {
	name                    string
	paramCount, resultCount uint64
	// body is the guest code; nil when this is a host function.
	body GuestFunc
	// hostFunction is invoked through reflection, see hostfunc.go.
	hostFunction *hostFunction
}

// RegisterGuestFunction makes a guest function callable by name, from the
// host via Call or from other guest code via CallFunction.
func (e *Engine) RegisterGuestFunction(name string, paramCount, resultCount uint64, body GuestFunc) error {
	if _, ok := e.functions[name]; ok {
		return fmt.Errorf("function %q already registered", name)
	}
	e.functions[name] = &compiledFunction{
		name:        name,
		paramCount:  paramCount,
		resultCount: resultCount,
		body:        body,
	}
	return nil
}

// Call invokes a registered function from the host. This is the only
// supported way into guest code: the call runs under a trampoline, so any
// fault or interrupt inside it (however deep the guest/host nesting grew)
// surfaces as an error here, with the engine's bookkeeping restored to its
// pre-call state.
func (e *Engine) Call(name string, params ...uint64) (results []uint64, err error) {
	f, ok := e.functions[name]
	if !ok {
		return nil, fmt.Errorf("function %q not registered", name)
	}
	if uint64(len(params)) != f.paramCount {
		return nil, fmt.Errorf("expected %d params, but passed %d", f.paramCount, len(params))
	}

	// Saved so the abnormal exit path can restore this nesting level's
	// invariants. Normal returns rebalance these through callFramePop.
	prevFrame := e.callFrameStack
	prevFrameNum := e.callFrameNum
	prevBasePointer := e.stackBasePointer
	prevStackPointer := e.stackPointer

	outcome := e.exec.CallWithArgs(func(args []uint64) {
		for _, param := range args {
			e.Push(param)
		}
		if f.hostFunction != nil {
			e.callFramePush(&callFrame{function: f})
			e.execHostFunction(f.hostFunction)
			e.callFramePop()
		} else {
			e.execFunction(f)
		}
	}, params)

	if outcome == trap.Aborted {
		tr := e.exec.Trap()

		var frames []string
		var counter int
		for top := e.callFrameStack; top != prevFrame; top = top.caller {
			frames = append(frames, fmt.Sprintf("\t%d: %s", counter, top.function.name))
			counter++
		}

		// Restore this call's bookkeeping; frames past it were abandoned by
		// the unwind and their stack slots are dead.
		e.callFrameStack = prevFrame
		e.callFrameNum = prevFrameNum
		e.stackBasePointer = prevBasePointer
		e.stackPointer = prevStackPointer

		err = fmt.Errorf("guest runtime error: %w", tr)
		if len(frames) > 0 {
			err = fmt.Errorf("%w\nguest backtrace:\n%s", err, strings.Join(frames, "\n"))
		}
		return nil, err
	}

	// Note the top value is the tail of the results, so we assign them in
	// reverse order.
	results = make([]uint64, f.resultCount)
	for i := range results {
		results[len(results)-1-i] = e.Pop()
	}
	return results, nil
}

// RaiseTrap re-raises the most recent trap, unwinding the enclosing
// trampoline. Host functions call this after a nested guest call aborted, so
// the abort cascades outward one scope at a time. Calling it with no trap
// recorded is a programming error.
func (e *Engine) RaiseTrap() {
	tr := e.exec.Trap()
	if tr == nil {
		panic(fmt.Errorf("RaiseTrap with no recorded trap"))
	}
	e.exec.Raise(tr.Code())
}

// CallFunction transfers control from the running guest body to another
// registered function, guest or host, without leaving the current scope.
// Host-to-guest re-entry from inside a host function must instead go through
// Call.
func (e *Engine) CallFunction(name string) {
	f, ok := e.functions[name]
	if !ok {
		// Host bug, not a guest fault.
		panic(fmt.Errorf("call to unregistered function %q", name))
	}

	if caller := e.callFrameStack; caller != nil {
		caller.continuationStackPointer = e.stackPointer + f.resultCount - f.paramCount
	}

	if f.hostFunction != nil {
		e.callFramePush(&callFrame{function: f})
		e.execHostFunction(f.hostFunction)
		e.callFramePop()
	} else {
		e.execFunction(f)
	}
}

// CheckPoint is the interrupt delivery point guest bodies place on loop
// back-edges, standing in for the checks an engine compiles into generated
// code.
func (e *Engine) CheckPoint() {
	e.exec.CheckInterrupt()
}

// Unreachable raises the trap for an executed unreachable instruction.
func (e *Engine) Unreachable() {
	e.exec.Raise(trap.CodeUnreachable)
}

// DivU pops divisor then dividend and pushes the quotient, raising an
// integer-divide-by-zero trap for a zero divisor.
func (e *Engine) DivU() {
	divisor := e.Pop()
	dividend := e.Pop()
	if divisor == 0 {
		e.exec.Raise(trap.CodeIntegerDivideByZero)
	}
	e.Push(dividend / divisor)
}

func (e *Engine) execFunction(f *compiledFunction) {
	e.callFramePush(&callFrame{function: f})
	// Function entry is a delivery point.
	e.exec.CheckInterrupt()
	f.body(e)
	e.callFramePop()
}

func (e *Engine) callFramePush(callee *callFrame) {
	e.callFrameNum++
	if callStackCeiling < e.callFrameNum {
		e.exec.Raise(trap.CodeCallStackOverflow)
	}

	callee.caller = e.callFrameStack
	e.callFrameStack = callee

	// The callee sees the stack from its parameters down, so its base is set
	// to where the caller pushed them.
	callee.stackBasePointer = e.stackBasePointer + e.stackPointer - callee.function.paramCount
	e.stackBasePointer = callee.stackBasePointer
	e.stackPointer = callee.function.paramCount
}

func (e *Engine) callFramePop() {
	e.callFrameNum--
	caller := e.callFrameStack.caller
	e.callFrameStack = caller

	if caller != nil {
		e.stackBasePointer = caller.stackBasePointer
		e.stackPointer = caller.continuationStackPointer
	}
}

// Pop removes and returns the top of the value stack.
func (e *Engine) Pop() (ret uint64) {
	ret = e.stack[e.stackBasePointer+e.stackPointer-1]
	e.stackPointer--
	return
}

// Push places v on top of the value stack, growing it when full.
func (e *Engine) Push(v uint64) {
	if top := e.stackBasePointer + e.stackPointer; top == uint64(len(e.stack)) {
		e.growValueStack(top + 1)
	}
	e.stack[e.stackBasePointer+e.stackPointer] = v
	e.stackPointer++
}

// growValueStack grows the Go-allocated value stack so the current frame can
// keep pushing. Live slots are below the current top by construction.
func (e *Engine) growValueStack(required uint64) {
	newStack := make([]uint64, uint64(len(e.stack))*2+required)
	top := e.stackBasePointer + e.stackPointer
	copy(newStack[:top], e.stack[:top])
	e.stack = newStack
}
