// Package trap implements the call-boundary trampoline and scope-stack
// unwinding core of a guest-code execution engine: the mechanism that turns
// any fault or cross-thread interrupt raised during a guest call into a
// controlled return to the nearest enclosing call boundary, instead of a
// process crash.
//
// The package introduces no concurrency of its own. An Execution runs on
// whatever goroutine the host used to call into guest code, and its scope
// stack is never shared. The only cross-thread state is the interrupt
// request slot behind InterruptHandle, which is atomic.
package trap

import "errors"

// All the errors are recorded by an Execution when a guest call aborts, and
// indicate that the guest's state is unrecoverable.
var (
	// ErrUnreachable means the guest executed an unreachable instruction.
	ErrUnreachable = errors.New("unreachable")
	// ErrMemoryOutOfBounds indicates that the guest tried to access a region
	// beyond its linear memory.
	ErrMemoryOutOfBounds = errors.New("out of bounds memory access")
	// ErrCallStackOverflow indicates that there are too many function calls,
	// and the engine terminated the execution.
	ErrCallStackOverflow = errors.New("callstack overflow")
	// ErrIntegerDivideByZero indicates that an integer div or rem was
	// executed with 0 as the divisor.
	ErrIntegerDivideByZero = errors.New("integer divide by zero")
	// ErrIntegerOverflow indicates that an integer arithmetic resulted in an
	// overflow value.
	ErrIntegerOverflow = errors.New("integer overflow")
	// ErrInvalidConversionToInteger indicates the guest tried to convert a
	// NaN floating point value to an integer.
	ErrInvalidConversionToInteger = errors.New("invalid conversion to integer")
	// ErrInvalidTableAccess means an offset to a table was out of bounds, or
	// the target element was uninitialized.
	ErrInvalidTableAccess = errors.New("invalid table access")
	// ErrInterrupted means an InterruptHandle bound to the execution was
	// signalled, and the request was delivered at a check point.
	ErrInterrupted = errors.New("interrupted")

	// ErrNoActiveScope reports an Unwind with an empty scope stack. This is a
	// bug in the surrounding engine, not a guest fault: it is raised as a
	// panic no trampoline recovers.
	ErrNoActiveScope = errors.New("unwind without active scope")
)

// Code classifies why a guest call aborted. It is the diagnostic side channel
// read via Execution.Trap after a trampoline reports Aborted.
type Code uint32

const (
	CodeUnreachable Code = iota
	CodeMemoryOutOfBounds
	CodeCallStackOverflow
	CodeIntegerDivideByZero
	CodeIntegerOverflow
	CodeInvalidConversionToInteger
	CodeInvalidTableAccess
	CodeInterrupted
)

func (c Code) String() string {
	switch c {
	case CodeUnreachable:
		return "unreachable"
	case CodeMemoryOutOfBounds:
		return "memory_out_of_bounds"
	case CodeCallStackOverflow:
		return "call_stack_overflow"
	case CodeIntegerDivideByZero:
		return "integer_divide_by_zero"
	case CodeIntegerOverflow:
		return "integer_overflow"
	case CodeInvalidConversionToInteger:
		return "invalid_conversion_to_integer"
	case CodeInvalidTableAccess:
		return "invalid_table_access"
	case CodeInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Err returns the error value corresponding to this code.
func (c Code) Err() error {
	switch c {
	case CodeUnreachable:
		return ErrUnreachable
	case CodeMemoryOutOfBounds:
		return ErrMemoryOutOfBounds
	case CodeCallStackOverflow:
		return ErrCallStackOverflow
	case CodeIntegerDivideByZero:
		return ErrIntegerDivideByZero
	case CodeIntegerOverflow:
		return ErrIntegerOverflow
	case CodeInvalidConversionToInteger:
		return ErrInvalidConversionToInteger
	case CodeInvalidTableAccess:
		return ErrInvalidTableAccess
	case CodeInterrupted:
		return ErrInterrupted
	}
	return errors.New("unknown trap")
}

// Trap is the recorded diagnostic of the most recent abort on an Execution.
type Trap struct {
	code Code
}

// Code returns the classification of the abort.
func (t *Trap) Code() Code { return t.code }

func (t *Trap) Error() string { return t.code.Err().Error() }

// Unwrap allows errors.Is against the package-level Err* values.
func (t *Trap) Unwrap() error { return t.code.Err() }

// Outcome is the completion signal of one trampoline invocation.
type Outcome uint32

const (
	// Completed means the guest body returned normally.
	Completed Outcome = iota
	// Aborted means control arrived via the unwind path; the reason is
	// readable through Execution.Trap.
	Aborted
)

func (o Outcome) String() string {
	if o == Completed {
		return "completed"
	}
	return "aborted"
}
