// Package jit is the ARM64 template compiler: it walks a function's
// bytecode once, emitting fast paths inline and queueing slow paths for the
// function tail, while tracking where every JS frame register currently
// lives (frame slot, global callee-saved register, local temp).
package jit

import (
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Frame registers
// ---------------------------------------------------------------------------

// FR is a JS frame register: an index into the current activation's stack
// frame, addressing one 64-bit tagged value slot.
type FR struct {
	index uint32
}

// invalidFRIndex is the invalid sentinel.
const invalidFRIndex = math.MaxUint32

// InvalidFR returns the invalid frame register.
func InvalidFR() FR {
	return FR{index: invalidFRIndex}
}

// NewFR creates a frame register with the given index.
func NewFR(index uint32) FR {
	return FR{index: index}
}

// IsValid returns true unless fr is the invalid sentinel.
func (fr FR) IsValid() bool {
	return fr.index != invalidFRIndex
}

// Index returns the frame slot index.
func (fr FR) Index() uint32 {
	return fr.index
}

// String returns "rN" or "r<invalid>".
func (fr FR) String() string {
	if !fr.IsValid() {
		return "r<invalid>"
	}
	return fmt.Sprintf("r%d", fr.index)
}

// ---------------------------------------------------------------------------
// FR types
// ---------------------------------------------------------------------------

// FRType is a conservative set of possible runtime types for a frame
// register: a subset is a subtype. The Union bit is informational ("more
// than one of the others").
type FRType uint8

// Type bits.
const (
	TypeUnion   FRType = 1
	TypeNumber  FRType = 2
	TypeBool    FRType = 4
	TypePointer FRType = 8
	TypeUnknown FRType = 16
	// TypeUnknownPtr is the top element.
	TypeUnknownPtr FRType = TypeUnion | TypeUnknown | TypePointer
)

// Contains returns true if t admits every type in other.
func (t FRType) Contains(other FRType) bool {
	return t|other == t
}

// String returns the type name.
func (t FRType) String() string {
	switch t {
	case TypeNumber:
		return "number"
	case TypeBool:
		return "bool"
	case TypePointer:
		return "pointer"
	case TypeUnknown:
		return "unknown"
	case TypeUnknownPtr:
		return "unknownptr"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// ---------------------------------------------------------------------------
// FR state
// ---------------------------------------------------------------------------

// frState tracks one frame register's residency. A frame register always
// has a slot in the frame; it may additionally have a pre-allocated global
// callee-saved register and up to two local registers (one GpX, one VecD).
//
// Invariants:
//   - If any local register is assigned, it holds the latest value.
//   - If both local registers are assigned, they hold the same bit pattern.
//   - If a global register is assigned but globalRegUpToDate is false, the
//     latest value must be in a local register. "Global reg assigned, not
//     up to date, latest only in the frame" is not a valid state.
//   - If frameUpToDate is set, the frame slot holds the latest value.
type frState struct {
	// globalType applies for the entire function.
	globalType FRType
	// localType applies until the current basic block ends; it can be
	// narrower than globalType.
	localType FRType

	// Pre-allocated global register (GpX or VecD), if any.
	globalReg HWReg
	// Local registers in the current basic block.
	localGpX  HWReg
	localVecD HWReg

	// frameUpToDate is true when the frame slot holds the latest value.
	frameUpToDate bool
	// globalRegUpToDate is true when globalReg exists and holds the latest
	// value.
	globalRegUpToDate bool
}

// hasLocalReg returns a valid local register if one is assigned, preferring
// the GpX.
func (s *frState) hasLocalReg() HWReg {
	if s.localGpX.IsValid() {
		return s.localGpX
	}
	return s.localVecD
}
