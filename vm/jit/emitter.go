package jit

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Emitter
// ---------------------------------------------------------------------------

// Emitter compiles one function. It walks the bytecode once, emitting fast
// paths inline, queueing slow paths for the function tail, and tracking the
// residency of every frame register across the hybrid global/local register
// allocation.
type Emitter struct {
	as *a64.Assembler

	// expectedErr latches the first assembler or emitter failure. The
	// emitter keeps accepting calls and the instruction templates emit
	// nothing more (block boundaries and the epilogue still do); AddToRuntime
	// produces no code, so the function falls back to the interpreter.
	expectedErr error

	frameRegs []frState
	hwRegs    [64]hwRegState

	gpTemp  *tempRegAlloc
	vecTemp *tempRegAlloc

	// Slow paths queued during the function body, emitted in insertion
	// order by emitSlowPaths.
	slowPaths         []slowPath
	emittingSlowPaths bool

	roData     []byte
	roDataDesc []dataDesc
	roDataLab  a64.Label

	thunks   []thunk
	thunkMap map[vm.HelperToken]int

	// fp64ConstMap maps a double's bit pattern to its RO-data offset.
	fp64ConstMap map[uint64]int32

	// returnLabel is the common epilogue; the return value travels in x22.
	returnLabel a64.Label

	// Offsets in RO data of the pointers to the property-cache segments.
	roOfsReadPropertyCachePtr  int32
	roOfsWritePropertyCachePtr int32

	gpSaveCount  uint8
	vecSaveCount uint8

	codeBlock   *vm.CodeBlock
	dumpJitCode bool
	log         commonlog.Logger
}

// dataDesc describes one RO-data entry for the dump pass.
type dataDesc struct {
	size      int32
	typeName  string
	itemCount int32
	comment   string
}

// thunk is one out-of-line helper stub: the label JIT code branches to with
// bl, and the RO-data offset holding the helper's address.
type thunk struct {
	label a64.Label
	roOfs int32
	name  string
}

// NewEmitter creates an emitter for one function. gpSaveCount and
// vecSaveCount are the callee-saved windows chosen by the register
// allocation pre-pass; the first gpSaveCount frame registers get global GpX
// homes and the next vecSaveCount get global VecD homes.
func NewEmitter(codeBlock *vm.CodeBlock, numFrameRegs uint32, gpSaveCount, vecSaveCount uint8, dumpJitCode bool) *Emitter {
	if gpSaveCount > gpSavedLast-gpSavedFirst+1 {
		panic("NewEmitter: gpSaveCount exceeds the callee-saved window")
	}
	if vecSaveCount > vecSavedLast-vecSavedFirst+1 {
		panic("NewEmitter: vecSaveCount exceeds the callee-saved window")
	}
	em := &Emitter{
		as:           a64.New(),
		frameRegs:    make([]frState, numFrameRegs),
		gpTemp:       newTempRegAlloc(gpTempFirst, gpTempLast),
		vecTemp:      newTempRegAlloc(vecTempFirst, vecTempLast),
		thunkMap:     map[vm.HelperToken]int{},
		fp64ConstMap: map[uint64]int32{},
		gpSaveCount:  gpSaveCount,
		vecSaveCount: vecSaveCount,
		codeBlock:    codeBlock,
		dumpJitCode:  dumpJitCode,
		log:          commonlog.GetLogger("kestrel.jit"),
	}
	for i := range em.hwRegs {
		em.hwRegs[i].contains = InvalidFR()
	}
	for i := range em.frameRegs {
		em.frameRegs[i].globalType = TypeUnknownPtr
		em.frameRegs[i].localType = TypeUnknownPtr
		em.frameRegs[i].globalReg = InvalidHWReg()
		em.frameRegs[i].localGpX = InvalidHWReg()
		em.frameRegs[i].localVecD = InvalidHWReg()
		// The incoming frame holds every register's initial value.
		em.frameRegs[i].frameUpToDate = true
	}
	em.roDataLab = em.as.NewLabel("RODATA")
	em.returnLabel = em.as.NewLabel("RETURN")

	// The cache base pointers live at fixed RO-data offsets so cache
	// accesses can address entries with one load.
	em.roOfsReadPropertyCachePtr = em.reserveData(8, 8, "ptr", 1, "readPropertyCachePtr")
	em.roOfsWritePropertyCachePtr = em.reserveData(8, 8, "ptr", 1, "writePropertyCachePtr")

	em.frameSetup(numFrameRegs, gpSaveCount, vecSaveCount)
	return em
}

// Err returns the latched failure, if any. A failed emitter produces no
// code; the function re-executes in the interpreter.
func (em *Emitter) Err() error {
	if em.expectedErr != nil {
		return em.expectedErr
	}
	return em.as.Err()
}

func (em *Emitter) fail(format string, args ...interface{}) {
	if em.expectedErr == nil {
		em.expectedErr = fmt.Errorf("jit: "+format, args...)
		em.log.Warningf("disabling JIT for %q: %v", em.codeBlock.GetNameString(), em.expectedErr)
	}
}

// comment logs an annotation for the dump stream.
func (em *Emitter) comment(format string, args ...interface{}) {
	if em.dumpJitCode {
		em.log.Debugf(format, args...)
	}
}

// frStateOf returns the state of fr.
func (em *Emitter) frStateOf(fr FR) *frState {
	return &em.frameRegs[fr.Index()]
}

// frMem returns the frame-slot memory operand of fr.
func frMem(fr FR) a64.Mem {
	return a64.MemOf(xFrame, int32(fr.Index())*8)
}

// ---------------------------------------------------------------------------
// Prologue / epilogue
// ---------------------------------------------------------------------------

// frameSetup emits the prologue: save the frame chain and the callee-saved
// windows, install the fixed registers, and attach global homes to the
// first frame registers.
func (em *Emitter) frameSetup(numFrameRegs uint32, gpSaveCount, vecSaveCount uint8) {
	as := em.as

	// Native frame chain plus the callee-saved pairs the windows use.
	as.StpPre(a64.X29, a64.X30, a64.XZR, -16)
	as.StpPre(a64.X19, a64.X20, a64.XZR, -16)
	as.StpPre(a64.X21, a64.X22, a64.XZR, -16)
	as.StpPre(a64.X23, a64.X24, a64.XZR, -16)
	as.StpPre(a64.X25, a64.X26, a64.XZR, -16)
	as.StpPre(a64.X27, a64.X28, a64.XZR, -16)

	// Incoming: x0 = runtime, x1 = frame base.
	as.MovReg(xRuntime, a64.X0)
	as.MovReg(xFrame, a64.X1)
	as.MovImm64(xDoubleLim, vm.DoubleLim)

	// Attach the global homes: GpX window first, then VecD. Each is loaded
	// from its frame slot so that "global assigned but stale with no local
	// copy" never occurs.
	fr := uint32(0)
	for i := uint8(0); i < gpSaveCount && fr < numFrameRegs; i++ {
		reg := GpX(gpSavedFirst + i)
		em.frameRegs[fr].globalReg = reg
		em.frameRegs[fr].globalRegUpToDate = true
		em.hwRegs[reg.CombinedIndex()].contains = NewFR(fr)
		as.LdrX(reg.A64GpX(), frMem(NewFR(fr)))
		fr++
	}
	for i := uint8(0); i < vecSaveCount && fr < numFrameRegs; i++ {
		reg := VecD(vecSavedFirst + i)
		em.frameRegs[fr].globalReg = reg
		em.frameRegs[fr].globalRegUpToDate = true
		em.hwRegs[reg.CombinedIndex()].contains = NewFR(fr)
		// A register routed to a VecD home is number-typed for the whole
		// function; the pre-pass guarantees it.
		em.frameRegs[fr].globalType = TypeNumber
		em.frameRegs[fr].localType = TypeNumber
		as.LdrD(reg.A64VecD(), frMem(NewFR(fr)))
		fr++
	}
}

// Leave emits the common epilogue. Every ret() branches here with the
// return value in x22.
func (em *Emitter) Leave() {
	as := em.as
	as.Bind(em.returnLabel)
	as.MovReg(a64.X0, xReturn)
	as.LdpPost(a64.X27, a64.X28, a64.XZR, 16)
	as.LdpPost(a64.X25, a64.X26, a64.XZR, 16)
	as.LdpPost(a64.X23, a64.X24, a64.XZR, 16)
	as.LdpPost(a64.X21, a64.X22, a64.XZR, 16)
	as.LdpPost(a64.X19, a64.X20, a64.XZR, 16)
	as.LdpPost(a64.X29, a64.X30, a64.XZR, 16)
	as.Ret()
}

// ---------------------------------------------------------------------------
// Basic blocks
// ---------------------------------------------------------------------------

// NewBasicBlock closes the current block and binds label as the start of the
// next: local types widen back to the global types, local registers are
// folded into the global register or synced to the frame, and the temp
// allocators are cleared.
func (em *Emitter) NewBasicBlock(label a64.Label) {
	for i := range em.frameRegs {
		st := &em.frameRegs[i]
		fr := NewFR(uint32(i))

		if local := st.hasLocalReg(); local.IsValid() {
			if st.globalReg.IsValid() && !st.globalRegUpToDate {
				em.movHWReg(st.globalReg, local)
				st.globalRegUpToDate = true
			} else if !st.frameUpToDate && !st.globalRegUpToDate {
				em.syncToMemImpl(fr, st)
			}
		}
		em.dropLocalRegs(fr, st)
		st.localType = st.globalType
	}
	em.gpTemp.reset()
	em.vecTemp.reset()
	em.as.Bind(label)
}

// dropLocalRegs disassociates both local registers of fr without syncing.
func (em *Emitter) dropLocalRegs(fr FR, st *frState) {
	if st.localGpX.IsValid() {
		em.hwRegs[st.localGpX.CombinedIndex()].contains = InvalidFR()
		if em.gpTemp.isAllocated(st.localGpX.IndexInClass()) {
			em.gpTemp.free(st.localGpX.IndexInClass())
		}
		st.localGpX = InvalidHWReg()
	}
	if st.localVecD.IsValid() {
		em.hwRegs[st.localVecD.CombinedIndex()].contains = InvalidFR()
		if em.vecTemp.isAllocated(st.localVecD.IndexInClass()) {
			em.vecTemp.free(st.localVecD.IndexInClass())
		}
		st.localVecD = InvalidHWReg()
	}
}

// ---------------------------------------------------------------------------
// Register allocation
// ---------------------------------------------------------------------------

func (em *Emitter) allocTempGpX(preferred int) HWReg {
	idx, ok := em.gpTemp.alloc(preferred)
	if !ok {
		em.spillTempReg(GpX(em.gpTemp.leastRecentlyUsed()))
		idx, ok = em.gpTemp.alloc(preferred)
		if !ok {
			em.fail("GpX temp pool exhausted after spill")
			return InvalidHWReg()
		}
	}
	return GpX(idx)
}

func (em *Emitter) allocTempVecD(preferred int) HWReg {
	idx, ok := em.vecTemp.alloc(preferred)
	if !ok {
		em.spillTempReg(VecD(em.vecTemp.leastRecentlyUsed()))
		idx, ok = em.vecTemp.alloc(preferred)
		if !ok {
			em.fail("VecD temp pool exhausted after spill")
			return InvalidHWReg()
		}
	}
	return VecD(idx)
}

// useReg touches the LRU for a temp register referenced by the current
// emission.
func (em *Emitter) useReg(hw HWReg) HWReg {
	if !hw.IsValid() {
		return hw
	}
	if hw.IsGpX() {
		em.gpTemp.use(hw.IndexInClass())
	} else {
		em.vecTemp.use(hw.IndexInClass())
	}
	return hw
}

func (em *Emitter) isTemp(hw HWReg) bool {
	idx := hw.IndexInClass()
	if hw.IsGpX() {
		return idx >= gpTempFirst && idx <= gpTempLast
	}
	return idx >= vecTempFirst && idx <= vecTempLast
}

// assignAllocatedLocalHWReg records an already-allocated register as a local
// home of fr.
func (em *Emitter) assignAllocatedLocalHWReg(fr FR, hw HWReg) {
	em.hwRegs[hw.CombinedIndex()].contains = fr
	st := em.frStateOf(fr)
	if hw.IsGpX() {
		st.localGpX = hw
	} else {
		st.localVecD = hw
	}
}

// isFRInRegister returns an up-to-date register home of fr, or invalid.
func (em *Emitter) isFRInRegister(fr FR) HWReg {
	st := em.frStateOf(fr)
	if local := st.hasLocalReg(); local.IsValid() {
		return em.useReg(local)
	}
	if st.globalReg.IsValid() && st.globalRegUpToDate {
		return st.globalReg
	}
	return InvalidHWReg()
}

// IsFRKnownNumber returns true when fr is statically known to hold a
// number in the current block.
func (em *Emitter) IsFRKnownNumber(fr FR) bool {
	st := em.frStateOf(fr)
	return st.globalType == TypeNumber || st.localType == TypeNumber
}

// ---------------------------------------------------------------------------
// Moves between homes
// ---------------------------------------------------------------------------

// movHWReg moves a 64-bit pattern between any two register classes.
func (em *Emitter) movHWReg(dst, src HWReg) {
	if dst == src {
		return
	}
	switch {
	case dst.IsGpX() && src.IsGpX():
		em.as.MovReg(dst.A64GpX(), src.A64GpX())
	case dst.IsVecD() && src.IsVecD():
		em.as.FmovReg(dst.A64VecD(), src.A64VecD())
	case dst.IsVecD() && src.IsGpX():
		em.as.FmovFromGp(dst.A64VecD(), src.A64GpX())
	default:
		em.as.FmovToGp(dst.A64GpX(), src.A64VecD())
	}
}

// MovHWFromFR materialises fr into hwDst, loading from the frame slot when
// no register home exists, and, when hwDst is a temp register, records it
// as an up-to-date local home of fr.
func (em *Emitter) MovHWFromFR(hwDst HWReg, fr FR) {
	if src := em.isFRInRegister(fr); src.IsValid() {
		em.movHWReg(hwDst, src)
	} else {
		// No register home: by the invariants the frame is up to date.
		if hwDst.IsGpX() {
			em.as.LdrX(hwDst.A64GpX(), frMem(fr))
		} else {
			em.as.LdrD(hwDst.A64VecD(), frMem(fr))
		}
	}
	if em.isTemp(hwDst) {
		em.assignAllocatedLocalHWReg(fr, hwDst)
	}
}

// MovFRFromHW declares that hwSrc now holds fr's latest value, invalidating
// every other home, and optionally narrows the local type.
func (em *Emitter) MovFRFromHW(fr FR, hwSrc HWReg, localType FRType) {
	em.frUpdatedWithHWReg(fr, hwSrc, localType)
}

// frUpdatedWithHWReg is the post-emission bookkeeping: the op just produced
// fr's new value into hwReg.
func (em *Emitter) frUpdatedWithHWReg(fr FR, hwReg HWReg, localType FRType) {
	st := em.frStateOf(fr)

	// Every previous home is stale now.
	em.dropLocalRegs(fr, st)
	st.frameUpToDate = false
	st.globalRegUpToDate = st.globalReg.IsValid() && hwReg == st.globalReg

	if !st.globalRegUpToDate {
		em.assignAllocatedLocalHWReg(fr, hwReg)
	}
	if localType != 0 {
		st.localType = localType
	}
}

// FRUpdateType narrows fr's local type after a guard proved it.
func (em *Emitter) FRUpdateType(fr FR, t FRType) {
	em.frStateOf(fr).localType = t
}

// ---------------------------------------------------------------------------
// Syncing and freeing
// ---------------------------------------------------------------------------

// SyncToMem stores fr's latest value to its frame slot if the slot is
// stale.
func (em *Emitter) SyncToMem(fr FR) {
	em.syncToMemImpl(fr, em.frStateOf(fr))
}

func (em *Emitter) syncToMemImpl(fr FR, st *frState) {
	if st.frameUpToDate {
		return
	}
	src := st.hasLocalReg()
	if !src.IsValid() {
		if !st.globalReg.IsValid() || !st.globalRegUpToDate {
			// No up-to-date home anywhere: the state machine was broken
			// upstream.
			em.fail("syncToMem: %s has no up-to-date home", fr)
			return
		}
		src = st.globalReg
	}
	if src.IsGpX() {
		em.as.StrX(src.A64GpX(), frMem(fr))
	} else {
		em.as.StrD(src.A64VecD(), frMem(fr))
	}
	st.frameUpToDate = true
}

// FreeReg disassociates hw from whatever FR it holds, syncing first when hw
// was the sole up-to-date home.
func (em *Emitter) FreeReg(hw HWReg) {
	fr := em.hwRegs[hw.CombinedIndex()].contains
	if fr.IsValid() {
		st := em.frStateOf(fr)
		if em.isSoleHome(st, hw) {
			em.syncToMemImpl(fr, st)
		}
		em.hwRegs[hw.CombinedIndex()].contains = InvalidFR()
		if st.globalReg == hw {
			st.globalRegUpToDate = false
		}
		if st.localGpX == hw {
			st.localGpX = InvalidHWReg()
		}
		if st.localVecD == hw {
			st.localVecD = InvalidHWReg()
		}
	}
	if em.isTemp(hw) {
		if hw.IsGpX() {
			if em.gpTemp.isAllocated(hw.IndexInClass()) {
				em.gpTemp.free(hw.IndexInClass())
			}
		} else if em.vecTemp.isAllocated(hw.IndexInClass()) {
			em.vecTemp.free(hw.IndexInClass())
		}
	}
}

// isSoleHome returns true when hw is the only up-to-date home of the FR.
func (em *Emitter) isSoleHome(st *frState, hw HWReg) bool {
	if st.frameUpToDate {
		return false
	}
	if st.globalReg.IsValid() && st.globalRegUpToDate && st.globalReg != hw {
		return false
	}
	if st.localGpX.IsValid() && st.localGpX != hw {
		return false
	}
	if st.localVecD.IsValid() && st.localVecD != hw {
		return false
	}
	return true
}

// spillTempReg evicts a temp register: sync its FR if the value is not
// otherwise preserved, then free the register.
func (em *Emitter) spillTempReg(hw HWReg) {
	if !em.isTemp(hw) {
		panic("spillTempReg: not a temp register")
	}
	em.FreeReg(hw)
}

// SyncAllTempExcept syncs every FR held in a temp register, except exceptFR,
// to its frame slot. Used before GC safepoints (allocating helper calls).
func (em *Emitter) SyncAllTempExcept(exceptFR FR) {
	for i := range em.hwRegs {
		fr := em.hwRegs[i].contains
		if !fr.IsValid() || fr == exceptFR {
			continue
		}
		hw := hwRegFromCombined(uint8(i))
		if em.isTemp(hw) {
			em.SyncToMem(fr)
		}
	}
}

// FreeAllTempExcept frees every temp register except ones holding exceptFR.
func (em *Emitter) FreeAllTempExcept(exceptFR FR) {
	for i := range em.hwRegs {
		fr := em.hwRegs[i].contains
		if !fr.IsValid() || fr == exceptFR {
			continue
		}
		hw := hwRegFromCombined(uint8(i))
		if em.isTemp(hw) {
			em.FreeReg(hw)
		}
	}
}

// FreeFRTemp frees any temp registers associated with fr without syncing.
// The caller is about to overwrite fr.
func (em *Emitter) FreeFRTemp(fr FR) {
	st := em.frStateOf(fr)
	if st.localGpX.IsValid() && em.isTemp(st.localGpX) {
		hw := st.localGpX
		em.hwRegs[hw.CombinedIndex()].contains = InvalidFR()
		em.gpTemp.free(hw.IndexInClass())
		st.localGpX = InvalidHWReg()
	}
	if st.localVecD.IsValid() && em.isTemp(st.localVecD) {
		hw := st.localVecD
		em.hwRegs[hw.CombinedIndex()].contains = InvalidFR()
		em.vecTemp.free(hw.IndexInClass())
		st.localVecD = InvalidHWReg()
	}
}

func hwRegFromCombined(i uint8) HWReg {
	if i < 32 {
		return GpX(i)
	}
	return VecD(i - 32)
}

// ---------------------------------------------------------------------------
// Get-or-allocate
// ---------------------------------------------------------------------------

// GetOrAllocFRInVecD returns a VecD home of fr, allocating (and loading, if
// load is set) when none exists.
func (em *Emitter) GetOrAllocFRInVecD(fr FR, load bool) HWReg {
	st := em.frStateOf(fr)
	if st.localVecD.IsValid() {
		return em.useReg(st.localVecD)
	}
	if st.globalReg.IsValid() && st.globalReg.IsVecD() && st.globalRegUpToDate {
		return st.globalReg
	}
	hw := em.allocTempVecD(-1)
	if !hw.IsValid() {
		return hw
	}
	if load {
		em.MovHWFromFR(hw, fr)
	} else {
		em.assignAllocatedLocalHWReg(fr, hw)
	}
	return hw
}

// GetOrAllocFRInGpX returns a GpX home of fr, allocating (and loading, if
// load is set) when none exists.
func (em *Emitter) GetOrAllocFRInGpX(fr FR, load bool) HWReg {
	st := em.frStateOf(fr)
	if st.localGpX.IsValid() {
		return em.useReg(st.localGpX)
	}
	if st.globalReg.IsValid() && st.globalReg.IsGpX() && st.globalRegUpToDate {
		return st.globalReg
	}
	hw := em.allocTempGpX(-1)
	if !hw.IsValid() {
		return hw
	}
	if load {
		em.MovHWFromFR(hw, fr)
	} else {
		em.assignAllocatedLocalHWReg(fr, hw)
	}
	return hw
}

// GetOrAllocFRInAnyReg returns any register home of fr, preferring an
// existing one.
func (em *Emitter) GetOrAllocFRInAnyReg(fr FR, load bool) HWReg {
	if hw := em.isFRInRegister(fr); hw.IsValid() {
		return hw
	}
	return em.GetOrAllocFRInGpX(fr, load)
}

// ---------------------------------------------------------------------------
// Labels
// ---------------------------------------------------------------------------

// NewPrefLabel creates a label named pref+index.
func (em *Emitter) NewPrefLabel(pref string, index int) a64.Label {
	return em.as.NewLabel(fmt.Sprintf("%s%d", pref, index))
}

func (em *Emitter) newSlowPathLabel() a64.Label {
	return em.NewPrefLabel("SLOW_", len(em.slowPaths))
}

func (em *Emitter) newContLabel() a64.Label {
	return em.NewPrefLabel("CONT_", len(em.slowPaths))
}

// Assembler exposes the underlying assembler to instruction templates.
func (em *Emitter) Assembler() *a64.Assembler {
	return em.as
}
