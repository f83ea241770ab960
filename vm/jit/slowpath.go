package jit

import (
	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Slow paths
// ---------------------------------------------------------------------------

// slowPath keeps enough information to generate an out-of-line block at the
// end of the function: the labels tying it to its inline guard, the frame
// registers involved, the helper to call and a callback that emits the
// body.
type slowPath struct {
	// slowPathLab is the block's entry, branched to from the inline guard.
	slowPathLab a64.Label
	// contLab is where the block jumps when done.
	contLab a64.Label
	// target is the branch destination if this is a conditional branch.
	target a64.Label

	// name of the operation, for comments.
	name string

	frRes, frInput1, frInput2 FR
	// hwRes is the register the continuation expects the result in, if
	// any.
	hwRes HWReg
	// invert negates the branch condition.
	invert bool

	// slowCall is the helper to invoke; slowCallName its symbol.
	slowCall     vm.HelperToken
	slowCallName string

	// emit generates the block.
	emit func(em *Emitter, sl *slowPath)
}

// EmitSlowPaths walks the queue in insertion order and emits each block
// after the function body. Slow-path emission may reserve RO data but must
// never queue further slow paths.
func (em *Emitter) EmitSlowPaths() {
	em.emittingSlowPaths = true
	for i := 0; i < len(em.slowPaths); i++ {
		sl := &em.slowPaths[i]
		em.comment("SLOW PATH %d: %s (%s)", i, sl.name, sl.slowCallName)
		em.as.Bind(sl.slowPathLab)
		sl.emit(em, sl)
	}
	em.emittingSlowPaths = false
}

func (em *Emitter) queueSlowPath(sl slowPath) {
	if em.emittingSlowPaths {
		em.fail("slow path queued while emitting slow paths")
		return
	}
	em.slowPaths = append(em.slowPaths, sl)
}

// ---------------------------------------------------------------------------
// Helper-call marshalling
// ---------------------------------------------------------------------------

// callHelperWithFRArgs emits the common slow-path body: x0 = runtime, the
// remaining argument registers receive the frame-slot addresses of the
// inputs, then a bl through the helper's thunk. The inputs' frame slots
// were synced before the inline guard branched here, which is what makes
// the call GC-safe.
func (em *Emitter) callHelperWithFRArgs(fn vm.HelperToken, name string, args ...FR) {
	as := em.as
	as.MovReg(a64.X0, xRuntime)
	argReg := []a64.GpX{a64.X1, a64.X2, a64.X3, a64.X4}
	for i, fr := range args {
		if i >= len(argReg) {
			em.fail("callHelperWithFRArgs: too many FR arguments")
			return
		}
		em.loadFrameAddr(argReg[i], fr)
	}
	as.Bl(em.registerCall(fn, name))
}

// loadFrameAddr computes the address of fr's frame slot.
func (em *Emitter) loadFrameAddr(dst a64.GpX, fr FR) {
	off := fr.Index() * 8
	if off <= 0xFFF {
		em.as.AddImm(dst, xFrame, off)
		return
	}
	em.as.MovImm64(dst, uint64(off))
	em.as.AddShifted(dst, xFrame, dst, 0)
}

// checkHelperResult polls for the failure sentinel after a value-returning
// helper: result == Empty means an exception is pending and the function
// unwinds through the return label with x22 carrying the exception flag.
func (em *Emitter) checkHelperResult() {
	as := em.as
	em.loadBits64InGp(a64.X17, vm.Empty.Bits(), "SHLegacyValue(empty)")
	as.CmpReg(a64.X0, a64.X17)
	as.MovReg(xReturn, a64.X0)
	as.BCond(a64.EQ, em.returnLabel)
}

// storeHelperResult moves the helper's x0 result into the slow path's
// result locations: the frame slot always, plus hwRes when the
// continuation holds the result in a register.
func (em *Emitter) storeHelperResult(sl *slowPath) {
	as := em.as
	if sl.frRes.IsValid() {
		as.StrX(a64.X0, frMem(sl.frRes))
	}
	if sl.hwRes.IsValid() {
		if sl.hwRes.IsVecD() {
			as.FmovFromGp(sl.hwRes.A64VecD(), a64.X0)
		} else if sl.hwRes.A64GpX() != a64.X0 {
			as.MovReg(sl.hwRes.A64GpX(), a64.X0)
		}
	}
}

// emitBinOpSlowPath is the stock slow path for arithmetic: call the helper
// on the two synced inputs, poll for the exception sentinel, land the
// result, and resume.
func emitBinOpSlowPath(em *Emitter, sl *slowPath) {
	em.callHelperWithFRArgs(sl.slowCall, sl.slowCallName, sl.frInput1, sl.frInput2)
	em.checkHelperResult()
	em.storeHelperResult(sl)
	em.as.B(sl.contLab)
}

// emitUnOpSlowPath is the stock slow path for unary arithmetic.
func emitUnOpSlowPath(em *Emitter, sl *slowPath) {
	em.callHelperWithFRArgs(sl.slowCall, sl.slowCallName, sl.frInput1)
	em.checkHelperResult()
	em.storeHelperResult(sl)
	em.as.B(sl.contLab)
}

// emitJCondSlowPath computes the comparison in the helper, then re-enters
// the block structure: a true result branches to the target (or falls
// through when inverted), everything else resumes at the continuation.
func emitJCondSlowPath(em *Emitter, sl *slowPath) {
	as := em.as
	em.callHelperWithFRArgs(sl.slowCall, sl.slowCallName, sl.frInput1, sl.frInput2)
	// Helper returns a JS boolean; test its payload bit.
	as.Ubfx(a64.X17, a64.X0, 0, 1)
	as.CmpImm(a64.X17, 0)
	cond := a64.NE
	if sl.invert {
		cond = a64.EQ
	}
	as.BCond(cond, sl.target)
	as.B(sl.contLab)
}
