package jit

import (
	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Calls
// ---------------------------------------------------------------------------
//
// The JS calling convention: the caller stores the outgoing arguments into
// the frame area above its own registers, passes the runtime and the callee
// slot address to the dispatcher, and receives the result in x22. Every
// call is a GC safepoint, so all live frame registers are synced first.

// Call emits res = callee(args); argc arguments were stored with
// StoreArg beforehand.
func (em *Emitter) Call(res, callee FR, argc uint32) {
	em.callImpl(res, callee, InvalidFR(), argc, vm.HelperCall)
}

// CallWithNewTarget emits a construct-style call carrying newTarget.
func (em *Emitter) CallWithNewTarget(res, callee, newTarget FR, argc uint32) {
	em.callImpl(res, callee, newTarget, argc, vm.HelperCall)
}

// CallN emits res = callee(args...) with the arguments in the given frame
// registers; they are stored to the outgoing area first.
func (em *Emitter) CallN(res, callee FR, args []FR) {
	for i, a := range args {
		em.StoreArg(uint32(i), a)
	}
	em.callImpl(res, callee, InvalidFR(), uint32(len(args)), vm.HelperCall)
}

// CallBuiltin emits res = builtin[builtinIndex](args).
func (em *Emitter) CallBuiltin(res FR, builtinIndex, argc uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; callBuiltin %s, #%d, argc=%d", res, builtinIndex, argc)
	as := em.as

	// Allocating helper: every live register must be in its frame slot.
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())

	as.MovReg(a64.X0, xRuntime)
	as.MovReg(a64.X1, xFrame)
	as.MovImm64(a64.X2, uint64(builtinIndex))
	as.MovImm64(a64.X3, uint64(argc))
	as.Bl(em.registerCall(vm.HelperCallBuiltin, ""))
	em.checkHelperResult()
	em.landCallResult(res)
}

// GetBuiltinClosure emits res = the builtin closure at builtinIndex.
func (em *Emitter) GetBuiltinClosure(res FR, builtinIndex uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; getBuiltinClosure %s, #%d", res, builtinIndex)
	as := em.as
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())

	as.MovReg(a64.X0, xRuntime)
	as.MovImm64(a64.X1, uint64(builtinIndex))
	as.Bl(em.registerCall(vm.HelperGetBuiltinClosure, ""))
	em.landCallResult(res)
}

// StoreArg stores a frame register into outgoing argument slot argIndex.
// The outgoing area sits above this function's frame registers.
func (em *Emitter) StoreArg(argIndex uint32, value FR) {
	if em.Err() != nil {
		return
	}
	hw := em.GetOrAllocFRInGpX(value, true)
	off := int32(em.outgoingArgBase()+argIndex) * 8
	em.as.StrX(hw.A64GpX(), a64.MemOf(xFrame, off))
}

func (em *Emitter) outgoingArgBase() uint32 {
	return uint32(len(em.frameRegs))
}

// callImpl emits the dispatch: arguments are already in the outgoing area;
// the callee is passed by slot address so the dispatcher can follow its
// function pointer.
func (em *Emitter) callImpl(res, callee, newTarget FR, argc uint32, helper vm.HelperToken) {
	if em.Err() != nil {
		return
	}
	em.comment("; call %s, %s, argc=%d", res, callee, argc)
	as := em.as

	// Calls are GC safepoints: sync every live frame register.
	em.SyncToMem(callee)
	if newTarget.IsValid() {
		em.SyncToMem(newTarget)
	}
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())

	as.MovReg(a64.X0, xRuntime)
	em.loadFrameAddr(a64.X1, callee)
	as.MovImm64(a64.X2, uint64(argc))
	if newTarget.IsValid() {
		em.loadFrameAddr(a64.X3, newTarget)
	} else {
		as.MovReg(a64.X3, a64.XZR)
	}
	as.Bl(em.registerCall(helper, ""))
	em.checkHelperResult()
	em.landCallResult(res)
}

// landCallResult captures the dispatcher's result: by convention it lands
// in x22 on the way out of the call sequence, then goes to the result
// frame register.
func (em *Emitter) landCallResult(res FR) {
	as := em.as
	as.MovReg(xReturn, a64.X0)
	as.StrX(xReturn, frMem(res))
	st := em.frStateOf(res)
	em.dropLocalRegs(res, st)
	st.frameUpToDate = true
	st.globalRegUpToDate = false
	st.localType = TypeUnknownPtr
	if st.globalReg.IsValid() {
		// Refresh the global home; its copy went stale across the call.
		if st.globalReg.IsGpX() {
			as.LdrX(st.globalReg.A64GpX(), frMem(res))
		} else {
			as.LdrD(st.globalReg.A64VecD(), frMem(res))
		}
		st.globalRegUpToDate = true
	}
}

// Ret moves the return value to x22 and branches to the epilogue.
func (em *Emitter) Ret(value FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; ret %s", value)
	em.MovHWFromFR(GpX(uint8(xReturn)), value)
	em.as.B(em.returnLabel)
}

// ---------------------------------------------------------------------------
// Globals, environments, closures
// ---------------------------------------------------------------------------

// GetGlobalObject emits res = the global object.
func (em *Emitter) GetGlobalObject(res FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; getGlobalObject %s", res)
	// The global object handle is constant per runtime; load it from the
	// runtime structure (documented layout: offset 0).
	hwRes := em.allocTempGpX(-1)
	em.as.LdrX(hwRes.A64GpX(), a64.MemOf(xRuntime, 0))
	em.frUpdatedWithHWReg(res, hwRes, TypePointer)
}

// DeclareGlobalVar ensures a global property exists for symID.
func (em *Emitter) DeclareGlobalVar(symID vm.SymbolID) {
	if em.Err() != nil {
		return
	}
	em.comment("; declareGlobalVar #%d", symID)
	as := em.as
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	as.MovReg(a64.X0, xRuntime)
	as.MovImm64(a64.X1, uint64(symID))
	as.Bl(em.registerCall(vm.HelperDeclareGlobalVar, ""))
}

// CreateTopLevelEnvironment emits res = a fresh top-level scope with size
// slots.
func (em *Emitter) CreateTopLevelEnvironment(res FR, size uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; createTopLevelEnvironment %s, size=%d", res, size)
	as := em.as
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	as.MovReg(a64.X0, xRuntime)
	as.MovReg(a64.X1, a64.XZR)
	as.MovImm64(a64.X2, uint64(size))
	as.Bl(em.registerCall(vm.HelperCreateEnvironment, ""))
	em.landCallResult(res)
}

// GetParentEnvironment emits res = the environment level steps up from the
// current closure's scope.
func (em *Emitter) GetParentEnvironment(res FR, level uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; getParentEnvironment %s, level=%d", res, level)
	as := em.as
	// Frame slot 0 is reserved for the current environment by the calling
	// convention.
	hwRes := em.allocTempGpX(-1)
	as.LdrX(hwRes.A64GpX(), a64.MemOf(xFrame, 0))
	for i := uint32(0); i < level; i++ {
		// Environment parent link at offset 8 of the scope (documented
		// layout).
		em.as.Ubfx(hwRes.A64GpX(), hwRes.A64GpX(), 0, 32)
		as.LdrX(hwRes.A64GpX(), a64.MemOf(hwRes.A64GpX(), 8))
	}
	em.frUpdatedWithHWReg(res, hwRes, TypePointer)
}

// LoadFromEnvironment emits res = env.slots[slot].
func (em *Emitter) LoadFromEnvironment(res, env FR, slot uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; loadFromEnvironment %s, %s, slot=%d", res, env, slot)
	as := em.as
	hwEnv := em.GetOrAllocFRInGpX(env, true)
	hwRes := em.allocTempGpX(-1)
	// Scope slots start at offset 16 (documented layout).
	as.Ubfx(hwRes.A64GpX(), hwEnv.A64GpX(), 0, 32)
	as.LdrX(hwRes.A64GpX(), a64.MemOf(hwRes.A64GpX(), int32(16+slot*8)))
	em.frUpdatedWithHWReg(res, hwRes, TypeUnknownPtr)
}

// StoreToEnvironment emits env.slots[slot] = value. np marks values
// statically known not to be pointers; it only changes the dump annotation,
// as neither form emits a write barrier.
func (em *Emitter) StoreToEnvironment(np bool, env FR, slot uint32, value FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; storeToEnvironment%s %s[%d], %s", npSuffix(np), env, slot, value)
	as := em.as
	hwEnv := em.GetOrAllocFRInGpX(env, true)
	hwVal := em.GetOrAllocFRInGpX(value, true)
	scratch := em.allocTempGpX(-1)
	as.Ubfx(scratch.A64GpX(), hwEnv.A64GpX(), 0, 32)
	as.StrX(hwVal.A64GpX(), a64.MemOf(scratch.A64GpX(), int32(16+slot*8)))
	em.FreeReg(scratch)
}

func npSuffix(np bool) string {
	if np {
		return "_np"
	}
	return ""
}

// CreateClosure emits res = a closure over functionID with environment env.
func (em *Emitter) CreateClosure(res, env FR, runtimeModule *vm.RuntimeModule, functionID uint32) {
	if em.Err() != nil {
		return
	}
	em.comment("; createClosure %s, %s, fn#%d", res, env, functionID)
	as := em.as
	em.SyncToMem(env)
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	as.MovReg(a64.X0, xRuntime)
	em.loadFrameAddr(a64.X1, env)
	// The module pointer is a compile-time constant for this function.
	em.loadBits64InGp(a64.X2, runtimeModuleToken(runtimeModule), "RuntimeModule")
	as.MovImm64(a64.X3, uint64(functionID))
	as.Bl(em.registerCall(vm.HelperCreateClosure, ""))
	em.landCallResult(res)
}

// runtimeModuleTokens pins modules referenced by emitted code so the
// embedded constants stay meaningful for the code's lifetime.
var runtimeModuleTokens = map[*vm.RuntimeModule]uint64{}
var nextModuleToken uint64 = 0x100000

func runtimeModuleToken(m *vm.RuntimeModule) uint64 {
	if tok, ok := runtimeModuleTokens[m]; ok {
		return tok
	}
	tok := nextModuleToken
	nextModuleToken += 8
	runtimeModuleTokens[m] = tok
	m.AddUser()
	return tok
}
