package trap

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestScopeStack_EnterLeave(t *testing.T) {
	e := NewExecution()
	require.False(t, e.Active())

	r1 := &ScopeRecord{}
	prev1 := e.enter(r1)
	require.Nil(t, prev1)
	require.True(t, e.Active())
	require.Equal(t, 1, e.Depth())

	r2 := &ScopeRecord{}
	prev2 := e.enter(r2)
	require.Equal(t, r1, prev2)
	require.Equal(t, 2, e.Depth())

	// Strictly LIFO: leave restores the saved previous top.
	e.leave(prev2)
	require.Equal(t, 1, e.Depth())
	e.leave(prev1)
	require.False(t, e.Active())
}

func TestScopeStack_LeaveIsUnconditional(t *testing.T) {
	e := NewExecution()

	r1 := &ScopeRecord{}
	prev := e.enter(r1)

	// leave takes whatever top the matching enter saved, so restoring past
	// several levels at once is a misuse the API shape itself prevents: each
	// trampoline only ever holds its own prev.
	e.leave(prev)
	require.Equal(t, 0, e.Depth())
}

func TestTrapCode_Strings(t *testing.T) {
	tests := []struct {
		code Code
		exp  string
	}{
		{CodeUnreachable, "unreachable"},
		{CodeMemoryOutOfBounds, "memory_out_of_bounds"},
		{CodeCallStackOverflow, "call_stack_overflow"},
		{CodeIntegerDivideByZero, "integer_divide_by_zero"},
		{CodeIntegerOverflow, "integer_overflow"},
		{CodeInvalidConversionToInteger, "invalid_conversion_to_integer"},
		{CodeInvalidTableAccess, "invalid_table_access"},
		{CodeInterrupted, "interrupted"},
		{Code(0xff), "unknown"},
	}

	for _, tc := range tests {
		require.Equal(t, tc.exp, tc.code.String())
	}
}

func TestOutcome_String(t *testing.T) {
	require.Equal(t, "completed", Completed.String())
	require.Equal(t, "aborted", Aborted.String())
}

func TestTrap_Error(t *testing.T) {
	tr := &Trap{code: CodeMemoryOutOfBounds}
	require.EqualError(t, tr, "out of bounds memory access")
	require.Equal(t, CodeMemoryOutOfBounds, tr.Code())
}
