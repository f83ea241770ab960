package jit

import (
	"fmt"

	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Hardware registers
// ---------------------------------------------------------------------------

// HWReg is a tagged physical register index: 0..31 is GpX x0..x31, 32..63 is
// VecD d0..d31, 0xFF is invalid.
type HWReg struct {
	index uint8
}

const invalidHWIndex = 0xFF

// InvalidHWReg returns the invalid register.
func InvalidHWReg() HWReg {
	return HWReg{index: invalidHWIndex}
}

// GpX tags a general-purpose register index.
func GpX(index uint8) HWReg {
	if index >= 32 {
		panic("jit: invalid GpX index")
	}
	return HWReg{index: index}
}

// VecD tags a vector register index.
func VecD(index uint8) HWReg {
	if index >= 32 {
		panic("jit: invalid VecD index")
	}
	return HWReg{index: index + 32}
}

// IsValid returns true unless the register is the invalid sentinel.
func (r HWReg) IsValid() bool {
	return r.index != invalidHWIndex
}

// IsGpX returns true for general-purpose registers.
func (r HWReg) IsGpX() bool {
	return r.index < 32
}

// IsVecD returns true for vector registers.
func (r HWReg) IsVecD() bool {
	return r.index >= 32 && r.index < 64
}

// A64GpX returns the assembler register. Panics unless IsGpX.
func (r HWReg) A64GpX() a64.GpX {
	if !r.IsGpX() {
		panic("HWReg.A64GpX: not a GpX")
	}
	return a64.GpX(r.index & 31)
}

// A64VecD returns the assembler register. Panics unless IsVecD.
func (r HWReg) A64VecD() a64.VecD {
	if !r.IsVecD() {
		panic("HWReg.A64VecD: not a VecD")
	}
	return a64.VecD(r.index & 31)
}

// CombinedIndex returns the 6-bit index across both classes.
func (r HWReg) CombinedIndex() uint8 {
	if !r.IsValid() {
		panic("HWReg.CombinedIndex: invalid register")
	}
	return r.index & 63
}

// IndexInClass returns the 5-bit index within the register class.
func (r HWReg) IndexInClass() uint8 {
	if !r.IsValid() {
		panic("HWReg.IndexInClass: invalid register")
	}
	return r.index & 31
}

// String returns the register name.
func (r HWReg) String() string {
	switch {
	case !r.IsValid():
		return "<invalid>"
	case r.IsGpX():
		return fmt.Sprintf("x%d", r.IndexInClass())
	default:
		return fmt.Sprintf("d%d", r.IndexInClass())
	}
}

// hwRegState records which FR a hardware register currently contains.
type hwRegState struct {
	contains FR
}

// ---------------------------------------------------------------------------
// Fixed register assignments
// ---------------------------------------------------------------------------

// Fixed roles, set up by the prologue and never reallocated.
var (
	// xRuntime holds the runtime pointer.
	xRuntime = a64.X19
	// xFrame holds the frame-base pointer.
	xFrame = a64.X20
	// xDoubleLim holds the double-tag limit: cmp x, xDoubleLim / b.hs slow.
	xDoubleLim = a64.X21
	// xReturn receives the function's return value.
	xReturn = a64.X22
)

// Register pool ranges (inclusive).
const (
	gpTempFirst  = 0
	gpTempLast   = 15
	gpSavedFirst = 22
	gpSavedLast  = 28

	vecTempFirst  = 16
	vecTempLast   = 31
	vecSavedFirst = 8
	vecSavedLast  = 15
)
