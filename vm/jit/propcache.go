package jit

import (
	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Property access through the inline caches
// ---------------------------------------------------------------------------
//
// Fast path: load the cached hidden class from the function's inline-cache
// entry (addressed through the cache base pointer planted in RO data),
// compare it with the receiver's hidden class, and on a match hit the slot
// directly. On a mismatch the slow helper runs with the entry pointer so it
// can repopulate the cache.
//
// Native object layout, fixed by the runtime: hidden-class word at +0,
// property slots from +8. Scope objects: parent at +8, slots from +16.

// getByIDOpDesc distinguishes the getById flavours.
type getByIDOpDesc struct {
	name     string
	slowCall vm.HelperToken
}

var (
	opGetByID    = getByIDOpDesc{"getById", vm.HelperGetByID}
	opTryGetByID = getByIDOpDesc{"tryGetById", vm.HelperTryGetByID}
)

// putByIDOpDesc distinguishes the putById flavours.
type putByIDOpDesc struct {
	name     string
	slowCall vm.HelperToken
}

var (
	opPutByIDLoose     = putByIDOpDesc{"putByIdLoose", vm.HelperPutByIDLoose}
	opPutByIDStrict    = putByIDOpDesc{"putByIdStrict", vm.HelperPutByIDStrict}
	opTryPutByIDLoose  = putByIDOpDesc{"tryPutByIdLoose", vm.HelperTryPutByIDLoose}
	opTryPutByIDStrict = putByIDOpDesc{"tryPutByIdStrict", vm.HelperTryPutByIDStrict}
)

// GetByID emits res = source.symID through read cache entry cacheIdx.
func (em *Emitter) GetByID(res FR, symID vm.SymbolID, source FR, cacheIdx uint8) {
	em.getByIDImpl(opGetByID, res, symID, source, cacheIdx)
}

// TryGetByID is GetByID for global reads: missing properties throw.
func (em *Emitter) TryGetByID(res FR, symID vm.SymbolID, source FR, cacheIdx uint8) {
	em.getByIDImpl(opTryGetByID, res, symID, source, cacheIdx)
}

// PutByIDLoose emits target.symID = value through write cache entry
// cacheIdx, sloppy-mode semantics.
func (em *Emitter) PutByIDLoose(target FR, symID vm.SymbolID, value FR, cacheIdx uint8) {
	em.putByIDImpl(opPutByIDLoose, target, symID, value, cacheIdx)
}

// PutByIDStrict is the strict-mode flavour.
func (em *Emitter) PutByIDStrict(target FR, symID vm.SymbolID, value FR, cacheIdx uint8) {
	em.putByIDImpl(opPutByIDStrict, target, symID, value, cacheIdx)
}

// TryPutByIDLoose is the global-write flavour, sloppy mode.
func (em *Emitter) TryPutByIDLoose(target FR, symID vm.SymbolID, value FR, cacheIdx uint8) {
	em.putByIDImpl(opTryPutByIDLoose, target, symID, value, cacheIdx)
}

// TryPutByIDStrict is the global-write flavour, strict mode.
func (em *Emitter) TryPutByIDStrict(target FR, symID vm.SymbolID, value FR, cacheIdx uint8) {
	em.putByIDImpl(opTryPutByIDStrict, target, symID, value, cacheIdx)
}

// loadCacheEntryAddr leaves the address of cache entry cacheIdx in dst:
// a load of the segment base pointer from RO data plus the entry offset.
func (em *Emitter) loadCacheEntryAddr(dst a64.GpX, roOfsSegment int32, cacheIdx uint8) {
	as := em.as
	as.Adr(dst, em.roDataLab)
	as.LdrX(dst, a64.MemOf(dst, roOfsSegment))
	if cacheIdx > 0 {
		as.AddImm(dst, dst, uint32(cacheIdx)*vm.PropertyCacheEntrySize)
	}
}

// emitObjectGuard branches to slow unless hwVal holds an object, leaving
// the object payload pointer in payload.
func (em *Emitter) emitObjectGuard(hwVal a64.GpX, payload a64.GpX, slow a64.Label) {
	as := em.as
	as.Lsr(a64.X17, hwVal, 48)
	as.MovImm64(a64.X16, vm.ObjectTagBits>>48)
	as.CmpReg(a64.X17, a64.X16)
	as.BCond(a64.NE, slow)
	as.Ubfx(payload, hwVal, 0, 32)
}

func (em *Emitter) getByIDImpl(op getByIDOpDesc, res FR, symID vm.SymbolID, source FR, cacheIdx uint8) {
	if em.Err() != nil {
		return
	}
	em.comment("; %s %s, %s, cache[%d]", op.name, res, source, cacheIdx)
	as := em.as

	// Bounds-check the cache index against the read segment at compile
	// time; a bad index is a compiler bug, not a runtime condition.
	_ = em.codeBlock.GetReadCacheEntry(cacheIdx)

	slowLab := em.newSlowPathLabel()
	contLab := em.newContLabel()

	em.SyncToMem(source)
	hwSrc := em.GetOrAllocFRInGpX(source, true)

	// Guard: receiver must be an object.
	em.emitObjectGuard(hwSrc.A64GpX(), a64.X15, slowLab)

	// Compare the receiver's hidden class with the cached one.
	entry := em.allocTempGpX(-1)
	em.loadCacheEntryAddr(entry.A64GpX(), em.roOfsReadPropertyCachePtr, cacheIdx)
	as.LdrW(a64.X17, a64.MemOf(a64.X15, 0))
	as.LdrW(a64.X16, a64.MemOf(entry.A64GpX(), 0))
	as.CmpReg32(a64.X17, a64.X16)
	as.BCond(a64.NE, slowLab)

	// Hit: load the slot.
	hwRes := em.allocTempGpX(-1)
	as.LdrW(a64.X16, a64.MemOf(entry.A64GpX(), 4))
	as.AddShifted(a64.X15, a64.X15, a64.X16, 3)
	as.LdrX(hwRes.A64GpX(), a64.MemOf(a64.X15, 8))
	em.FreeReg(entry)
	em.frUpdatedWithHWReg(res, hwRes, TypeUnknownPtr)

	cacheIdxCopy := cacheIdx
	em.queueSlowPath(slowPath{
		slowPathLab:  slowLab,
		contLab:      contLab,
		name:         op.name,
		frRes:        res,
		frInput1:     source,
		hwRes:        hwRes,
		slowCall:     op.slowCall,
		slowCallName: vm.HelperSymbolName(op.slowCall),
		emit: func(em *Emitter, sl *slowPath) {
			as := em.as
			as.MovReg(a64.X0, xRuntime)
			em.loadFrameAddr(a64.X1, sl.frInput1)
			as.MovImm64(a64.X2, uint64(symID))
			em.loadCacheEntryAddr(a64.X3, em.roOfsReadPropertyCachePtr, cacheIdxCopy)
			as.Bl(em.registerCall(sl.slowCall, sl.slowCallName))
			em.checkHelperResult()
			em.storeHelperResult(sl)
			as.B(sl.contLab)
		},
	})
	as.Bind(contLab)
}

func (em *Emitter) putByIDImpl(op putByIDOpDesc, target FR, symID vm.SymbolID, value FR, cacheIdx uint8) {
	if em.Err() != nil {
		return
	}
	em.comment("; %s %s.#%d = %s, cache[%d]", op.name, target, symID, value, cacheIdx)
	as := em.as

	_ = em.codeBlock.GetWriteCacheEntry(cacheIdx)

	slowLab := em.newSlowPathLabel()
	contLab := em.newContLabel()

	em.SyncToMem(target)
	em.SyncToMem(value)
	hwTarget := em.GetOrAllocFRInGpX(target, true)
	hwValue := em.GetOrAllocFRInGpX(value, true)

	em.emitObjectGuard(hwTarget.A64GpX(), a64.X15, slowLab)

	entry := em.allocTempGpX(-1)
	em.loadCacheEntryAddr(entry.A64GpX(), em.roOfsWritePropertyCachePtr, cacheIdx)
	as.LdrW(a64.X17, a64.MemOf(a64.X15, 0))
	as.LdrW(a64.X16, a64.MemOf(entry.A64GpX(), 0))
	as.CmpReg32(a64.X17, a64.X16)
	as.BCond(a64.NE, slowLab)

	// Hit: store the slot.
	as.LdrW(a64.X16, a64.MemOf(entry.A64GpX(), 4))
	as.AddShifted(a64.X15, a64.X15, a64.X16, 3)
	as.StrX(hwValue.A64GpX(), a64.MemOf(a64.X15, 8))
	em.FreeReg(entry)

	symIDCopy := symID
	cacheIdxCopy := cacheIdx
	em.queueSlowPath(slowPath{
		slowPathLab:  slowLab,
		contLab:      contLab,
		name:         op.name,
		frInput1:     target,
		frInput2:     value,
		slowCall:     op.slowCall,
		slowCallName: vm.HelperSymbolName(op.slowCall),
		emit: func(em *Emitter, sl *slowPath) {
			as := em.as
			as.MovReg(a64.X0, xRuntime)
			em.loadFrameAddr(a64.X1, sl.frInput1)
			as.MovImm64(a64.X2, uint64(symIDCopy))
			em.loadFrameAddr(a64.X3, sl.frInput2)
			em.loadCacheEntryAddr(a64.X4, em.roOfsWritePropertyCachePtr, cacheIdxCopy)
			as.Bl(em.registerCall(sl.slowCall, sl.slowCallName))
			as.B(sl.contLab)
		},
	})
	as.Bind(contLab)
}

// ---------------------------------------------------------------------------
// Computed access
// ---------------------------------------------------------------------------

// GetByVal emits res = source[key]; always through the helper.
func (em *Emitter) GetByVal(res, source, key FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; getByVal %s, %s[%s]", res, source, key)
	em.SyncToMem(source)
	em.SyncToMem(key)
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	em.callHelperWithFRArgs(vm.HelperGetByVal, "", source, key)
	em.checkHelperResult()
	em.landCallResult(res)
}

// GetByIndex emits res = source[key] for a constant numeric key.
func (em *Emitter) GetByIndex(res, source FR, key uint8) {
	if em.Err() != nil {
		return
	}
	em.comment("; getByIndex %s, %s[%d]", res, source, key)
	as := em.as
	em.SyncToMem(source)
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	as.MovReg(a64.X0, xRuntime)
	em.loadFrameAddr(a64.X1, source)
	as.MovImm64(a64.X2, uint64(key))
	as.Bl(em.registerCall(vm.HelperGetByVal, "_sh_ljs_get_by_index_rjs"))
	em.checkHelperResult()
	em.landCallResult(res)
}

// PutByValLoose emits target[key] = value, sloppy mode.
func (em *Emitter) PutByValLoose(target, key, value FR) {
	em.putByValImpl(target, key, value, "putByValLoose", vm.HelperPutByValLoose)
}

// PutByValStrict emits target[key] = value, strict mode.
func (em *Emitter) PutByValStrict(target, key, value FR) {
	em.putByValImpl(target, key, value, "putByValStrict", vm.HelperPutByValStrict)
}

func (em *Emitter) putByValImpl(target, key, value FR, name string, helper vm.HelperToken) {
	if em.Err() != nil {
		return
	}
	em.comment("; %s %s[%s] = %s", name, target, key, value)
	em.SyncToMem(target)
	em.SyncToMem(key)
	em.SyncToMem(value)
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	em.callHelperWithFRArgs(helper, "", target, key, value)
}

// IsIn emits res = (left in right).
func (em *Emitter) IsIn(res, left, right FR) {
	if em.Err() != nil {
		return
	}
	em.comment("; isIn %s, %s, %s", res, left, right)
	em.SyncToMem(left)
	em.SyncToMem(right)
	em.SyncAllTempExcept(InvalidFR())
	em.FreeAllTempExcept(InvalidFR())
	em.callHelperWithFRArgs(vm.HelperIsIn, "", left, right)
	em.checkHelperResult()
	em.landCallResult(res)
}
