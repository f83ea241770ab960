package jit

import (
	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Conditional branch templates
// ---------------------------------------------------------------------------

// jCondDesc describes one comparison branch.
type jCondDesc struct {
	name        string
	forceNumber bool
	slowCall    vm.HelperToken
	cond        a64.Cond
}

// Comparison descriptors. The N variants assume numeric operands.
var (
	opJGreater       = jCondDesc{"greater", false, vm.HelperGreater, a64.GT}
	opJGreaterEqual  = jCondDesc{"greater_equal", false, vm.HelperGreaterEqual, a64.GE}
	opJLess          = jCondDesc{"less", false, vm.HelperLess, a64.MI}
	opJLessEqual     = jCondDesc{"less_equal", false, vm.HelperLessEqual, a64.LS}
	opJGreaterN      = jCondDesc{"greater_n", true, vm.HelperGreater, a64.GT}
	opJGreaterEqualN = jCondDesc{"greater_equal_n", true, vm.HelperGreaterEqual, a64.GE}
)

// JGreater emits if (l > r) goto target.
func (em *Emitter) JGreater(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJGreater, invert, target, l, r)
}

// JGreaterEqual emits if (l >= r) goto target.
func (em *Emitter) JGreaterEqual(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJGreaterEqual, invert, target, l, r)
}

// JLess emits if (l < r) goto target.
func (em *Emitter) JLess(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJLess, invert, target, l, r)
}

// JLessEqual emits if (l <= r) goto target.
func (em *Emitter) JLessEqual(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJLessEqual, invert, target, l, r)
}

// JGreaterN emits if (l > r) goto target with numeric operands.
func (em *Emitter) JGreaterN(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJGreaterN, invert, target, l, r)
}

// JGreaterEqualN emits if (l >= r) goto target with numeric operands.
func (em *Emitter) JGreaterEqualN(invert bool, target a64.Label, l, r FR) {
	em.jCond(opJGreaterEqualN, invert, target, l, r)
}

// JMP emits an unconditional branch.
func (em *Emitter) JMP(target a64.Label) {
	if em.Err() != nil {
		return
	}
	em.as.B(target)
}

// jCond emits the comparison template: number guards diverting to a slow
// path that computes the JS comparison, then fcmp plus a conditional branch
// on the fast path. The floating-point condition codes are chosen so NaN
// operands fall through, matching JS relational semantics.
func (em *Emitter) jCond(op jCondDesc, invert bool, target a64.Label, left, right FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; j_%s%s %s, %s", op.name, invertSuffix(invert), left, right)
	as := em.as

	slow := !op.forceNumber && !(em.IsFRKnownNumber(left) && em.IsFRKnownNumber(right))
	var slowLab, contLab a64.Label
	if slow {
		slowLab = em.newSlowPathLabel()
		contLab = em.newContLabel()

		em.SyncToMem(left)
		em.SyncToMem(right)
		for _, fr := range []FR{left, right} {
			if em.IsFRKnownNumber(fr) {
				continue
			}
			hw := em.GetOrAllocFRInGpX(fr, true)
			as.CmpReg(hw.A64GpX(), xDoubleLim)
			as.BCond(a64.HS, slowLab)
		}
	}

	dl := em.GetOrAllocFRInVecD(left, true)
	dr := em.GetOrAllocFRInVecD(right, true)
	if em.Err() != nil {
		return
	}
	as.Fcmp(dl.A64VecD(), dr.A64VecD())
	cond := op.cond
	if invert {
		cond = cond.Invert()
	}
	as.BCond(cond, target)

	if slow {
		em.queueSlowPath(slowPath{
			slowPathLab:  slowLab,
			contLab:      contLab,
			target:       target,
			name:         op.name,
			frInput1:     left,
			frInput2:     right,
			invert:       invert,
			slowCall:     op.slowCall,
			slowCallName: vm.HelperSymbolName(op.slowCall),
			emit:         emitJCondSlowPath,
		})
		as.Bind(contLab)
	}
}

func invertSuffix(invert bool) string {
	if invert {
		return "_not"
	}
	return ""
}
