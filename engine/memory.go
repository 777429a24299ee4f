package engine

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/wasmkit/trapline/trap"
)

// PageSize is the size of one linear-memory page.
const PageSize uint64 = 65536

// defaultMaxPages caps growth when no maximum was configured.
const defaultMaxPages uint32 = 65536

// MemoryInstance is the guest's linear memory. Access from guest code is
// bounds-checked at every load and store; an out-of-range access is delivered
// to the trap core as a fault, the same way a guard-page hit would be in a
// native engine.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    *uint32
}

// PageCount returns the current size in pages.
func (m *MemoryInstance) PageCount() uint64 {
	return uint64(len(m.Buffer)) / PageSize
}

func (m *MemoryInstance) hasSize(offset uint64, size uint64) bool {
	return offset+size <= uint64(len(m.Buffer)) // offset and size are 32-bit derived, no overflow
}

// fault delivers an out-of-bounds access and reports whether a registered
// fault handler claimed it. Unclaimed faults unwind and do not come back;
// unattributable ones escalate as process-level errors.
func (e *Engine) fault(offset uint64) bool {
	delivered := e.exec.DeliverFault(trap.Fault{Code: trap.CodeMemoryOutOfBounds, Addr: offset})
	if !delivered {
		panic(fmt.Errorf("unrecoverable fault at address %d: %w", offset, trap.ErrMemoryOutOfBounds))
	}
	return true
}

// LoadUint32 reads 4 bytes of little-endian memory at offset. An
// out-of-bounds read faults; if a handler claims the fault the read yields
// zero.
func (e *Engine) LoadUint32(offset uint32) uint32 {
	if e.memory == nil || !e.memory.hasSize(uint64(offset), 4) {
		e.fault(uint64(offset))
		return 0
	}
	return binary.LittleEndian.Uint32(e.memory.Buffer[offset:])
}

// LoadUint64 reads 8 bytes of little-endian memory at offset.
func (e *Engine) LoadUint64(offset uint32) uint64 {
	if e.memory == nil || !e.memory.hasSize(uint64(offset), 8) {
		e.fault(uint64(offset))
		return 0
	}
	return binary.LittleEndian.Uint64(e.memory.Buffer[offset:])
}

// StoreUint32 writes 4 bytes of little-endian memory at offset. An
// out-of-bounds write faults; if a handler claims the fault the write is
// dropped.
func (e *Engine) StoreUint32(offset uint32, v uint32) {
	if e.memory == nil || !e.memory.hasSize(uint64(offset), 4) {
		e.fault(uint64(offset))
		return
	}
	binary.LittleEndian.PutUint32(e.memory.Buffer[offset:], v)
}

// StoreUint64 writes 8 bytes of little-endian memory at offset.
func (e *Engine) StoreUint64(offset uint32, v uint64) {
	if e.memory == nil || !e.memory.hasSize(uint64(offset), 8) {
		e.fault(uint64(offset))
		return
	}
	binary.LittleEndian.PutUint64(e.memory.Buffer[offset:], v)
}

// MemoryGrow pops a page count and grows linear memory by it, pushing the
// prior size in pages, or -1 when the maximum would be exceeded.
func (e *Engine) MemoryGrow() {
	newPages := e.Pop()
	if e.memory == nil {
		e.fault(0)
		return
	}

	max := uint64(defaultMaxPages)
	if e.memory.Max != nil {
		max = uint64(*e.memory.Max)
	}
	if newPages+e.memory.PageCount() > max {
		v := int32(-1)
		e.Push(uint64(uint32(v)))
		return
	}

	e.MemorySize() // Grow returns the prior memory size on change.
	e.memory.Buffer = append(e.memory.Buffer, make([]byte, newPages*PageSize)...)
}

// MemorySize pushes the current size of linear memory in pages.
func (e *Engine) MemorySize() {
	if e.memory == nil {
		e.fault(0)
		return
	}
	e.Push(e.memory.PageCount())
}

// i32 truncation helper shared by guest bodies: traps on NaN and on values
// outside the i32 range, like the trunc family of instructions.
func (e *Engine) TruncF64ToI32() {
	f := math.Float64frombits(e.Pop())
	if math.IsNaN(f) {
		e.exec.Raise(trap.CodeInvalidConversionToInteger)
	}
	if f < math.MinInt32 || f > math.MaxInt32 {
		e.exec.Raise(trap.CodeIntegerOverflow)
	}
	e.Push(uint64(uint32(int32(f))))
}
