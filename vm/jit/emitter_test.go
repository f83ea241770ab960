package jit

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/kestreljs/kestrel/vm"
)

// ---------------------------------------------------------------------------
// Test fixtures
// ---------------------------------------------------------------------------

// stubProvider is a minimal in-memory bytecode provider.
type stubProvider struct {
	header   vm.RuntimeFunctionHeader
	bytecode []byte
}

func (p *stubProvider) FunctionCount() uint32 { return 1 }

func (p *stubProvider) FunctionHeader(id uint32) vm.RuntimeFunctionHeader { return p.header }

func (p *stubProvider) FunctionBytecode(id uint32) []byte { return p.bytecode }

func (p *stubProvider) ExceptionTable(id uint32) []vm.ExceptionHandlerRange { return nil }

func (p *stubProvider) LazySourceSpan(id uint32) (uint32, uint32, uint32, uint32, uint32) {
	return 0, 0, 0, 0, 0
}

func (p *stubProvider) StringCount() uint32 { return 1 }

func (p *stubProvider) StringAt(id uint32) string { return "f" }

func (p *stubProvider) DebugInfo() *vm.DebugInfo { return nil }

func newTestEmitter(t *testing.T, frameSize uint32) *Emitter {
	t.Helper()
	bc := make([]byte, 8)
	bc[7] = vm.OpRet
	p := &stubProvider{
		header: vm.RuntimeFunctionHeader{
			ParamCount:                 1,
			FrameSize:                  frameSize,
			BytecodeSize:               8,
			ReadCacheSize:              4,
			WriteCacheSize:             4,
			DebugSourceLocationsOffset: vm.DebugOffsetMissing,
			DebugLexicalDataOffset:     vm.DebugOffsetMissing,
		},
		bytecode: bc,
	}
	r := vm.NewRuntime(vm.Features{JIT: true})
	m := vm.NewRuntimeModule(r, p)
	cb := m.GetCodeBlockMayAllocate(0)
	return NewEmitter(cb, frameSize, 0, 0, false)
}

func emitterWords(em *Emitter) []uint32 {
	buf := em.as.Bytes()
	out := make([]uint32, 0, len(buf)/4)
	for i := 0; i+4 <= len(buf); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(buf[i:]))
	}
	return out
}

// countMatching counts emitted words matching want under mask.
func countMatching(em *Emitter, mask, want uint32) int {
	n := 0
	for _, w := range emitterWords(em) {
		if w&mask == want {
			n++
		}
	}
	return n
}

const (
	// fadd Dd, Dn, Dm with registers masked out.
	faddMask, faddWant = 0xFFE0FC00, 0x1E602800
	// cmp Xn, x21.
	cmpDoubleLimMask, cmpDoubleLimWant = 0xFFFF801F, 0xEB15001F
	// b.hs.
	bhsMask, bhsWant = 0xFF00000F, 0x54000002
	// bl.
	blMask, blWant = 0xFC000000, 0x94000000
)

// ---------------------------------------------------------------------------
// Fast and slow arithmetic paths
// ---------------------------------------------------------------------------

func TestAddFastPathKnownNumbers(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r, res := NewFR(0), NewFR(1), NewFR(2)

	em.LoadConstDouble(l, 1.5, "l")
	em.LoadConstDouble(r, 2.5, "r")
	before := len(emitterWords(em))

	em.Add(res, l, r)
	if err := em.Err(); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(em.slowPaths) != 0 {
		t.Errorf("known-number add queued %d slow paths", len(em.slowPaths))
	}
	if n := countMatching(em, faddMask, faddWant); n != 1 {
		t.Errorf("emitted %d fadd, want exactly 1", n)
	}
	if n := countMatching(em, cmpDoubleLimMask, cmpDoubleLimWant); n != 0 {
		t.Errorf("known-number add emitted %d double-limit guards", n)
	}
	// The fast path is just the fadd; both operands were already in VecD.
	if got := len(emitterWords(em)) - before; got != 1 {
		t.Errorf("add emitted %d words, want 1", got)
	}
	if !em.IsFRKnownNumber(res) {
		t.Error("result localType must be Number")
	}
}

func TestAddSlowPathUnknownTypes(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r, res := NewFR(0), NewFR(1), NewFR(2)

	em.Add(res, l, r)
	if err := em.Err(); err != nil {
		t.Fatalf("Add: %v", err)
	}

	if len(em.slowPaths) != 1 {
		t.Fatalf("queued %d slow paths, want 1", len(em.slowPaths))
	}
	sl := &em.slowPaths[0]
	if sl.slowCall != vm.HelperAdd {
		t.Errorf("slow call = %q", sl.slowCallName)
	}
	if sl.frInput1 != l || sl.frInput2 != r || sl.frRes != res {
		t.Error("slow path recorded the wrong frame registers")
	}

	// One guard per unknown operand.
	if n := countMatching(em, cmpDoubleLimMask, cmpDoubleLimWant); n != 2 {
		t.Errorf("emitted %d double-limit compares, want 2", n)
	}
	if n := countMatching(em, bhsMask, bhsWant); n != 2 {
		t.Errorf("emitted %d b.hs, want 2", n)
	}
	if n := countMatching(em, faddMask, faddWant); n != 1 {
		t.Errorf("emitted %d fadd, want 1", n)
	}

	// The slow block at the tail calls the helper and jumps back.
	em.EmitSlowPaths()
	if err := em.Err(); err != nil {
		t.Fatalf("EmitSlowPaths: %v", err)
	}
	if n := countMatching(em, blMask, blWant); n != 1 {
		t.Errorf("slow path emitted %d bl, want 1", n)
	}
}

func TestSlowPathsEmitInInsertionOrder(t *testing.T) {
	em := newTestEmitter(t, 8)
	em.Add(NewFR(2), NewFR(0), NewFR(1))
	em.Sub(NewFR(3), NewFR(0), NewFR(1))

	if len(em.slowPaths) != 2 {
		t.Fatalf("queued %d slow paths", len(em.slowPaths))
	}
	em.EmitSlowPaths()
	as := em.Assembler()
	first := as.LabelOffset(em.slowPaths[0].slowPathLab)
	second := as.LabelOffset(em.slowPaths[1].slowPathLab)
	if first < 0 || second < 0 || first >= second {
		t.Errorf("slow paths out of order: %d, %d", first, second)
	}
}

// ---------------------------------------------------------------------------
// The inc/dec template
// ---------------------------------------------------------------------------

// Inc's inline fast path adds -1.0, same as dec; the observed native
// semantics of the two are identical and only the slow paths differ. This
// pins the replicated behaviour.
func TestIncFastPathMatchesDec(t *testing.T) {
	emitOne := func(op func(em *Emitter, res, input FR)) []byte {
		em := newTestEmitter(t, 8)
		input, res := NewFR(0), NewFR(1)
		em.LoadConstDouble(input, 5, "c")
		op(em, res, input)
		if err := em.Err(); err != nil {
			t.Fatalf("emit: %v", err)
		}
		if len(em.slowPaths) != 0 {
			t.Fatal("known-number unop must not queue a slow path")
		}
		return em.as.Bytes()
	}

	incCode := emitOne(func(em *Emitter, res, input FR) { em.Inc(res, input) })
	decCode := emitOne(func(em *Emitter, res, input FR) { em.Dec(res, input) })
	if !bytes.Equal(incCode, decCode) {
		t.Error("inc and dec fast paths must emit identical code")
	}

	// And the slow paths do differ: inc calls the inc helper.
	em := newTestEmitter(t, 8)
	em.Inc(NewFR(1), NewFR(0))
	if len(em.slowPaths) != 1 || em.slowPaths[0].slowCall != vm.HelperInc {
		t.Error("inc slow path must call the inc helper")
	}
}

// ---------------------------------------------------------------------------
// Dedup laws
// ---------------------------------------------------------------------------

func TestUint64ConstDedup(t *testing.T) {
	em := newTestEmitter(t, 4)
	a := em.uint64Const(0x3FF0000000000000, "1.0")
	b := em.uint64Const(0x3FF0000000000000, "1.0 again")
	c := em.uint64Const(0x4000000000000000, "2.0")
	if a != b {
		t.Error("identical bits must share one pool slot")
	}
	if a == c {
		t.Error("distinct bits must not alias")
	}
}

func TestRegisterCallThunkDedup(t *testing.T) {
	em := newTestEmitter(t, 4)
	a := em.registerCall(vm.HelperAdd, "")
	b := em.registerCall(vm.HelperAdd, "")
	c := em.registerCall(vm.HelperSub, "")
	if a != b {
		t.Error("same helper must reuse its thunk label")
	}
	if a == c {
		t.Error("different helpers must get different thunks")
	}
	if len(em.thunks) != 2 {
		t.Errorf("thunk table has %d entries, want 2", len(em.thunks))
	}
}

// ---------------------------------------------------------------------------
// Residency invariants
// ---------------------------------------------------------------------------

// checkInvariants verifies the FR state machine after a sequence of ops.
func checkInvariants(t *testing.T, em *Emitter) {
	t.Helper()
	for i := range em.frameRegs {
		st := &em.frameRegs[i]
		if st.globalReg.IsValid() && !st.globalRegUpToDate &&
			!st.localGpX.IsValid() && !st.localVecD.IsValid() && st.frameUpToDate {
			t.Errorf("r%d: global stale with no local home and frame up to date", i)
		}
		if !st.frameUpToDate && !st.localGpX.IsValid() && !st.localVecD.IsValid() &&
			!(st.globalReg.IsValid() && st.globalRegUpToDate) {
			t.Errorf("r%d: no up-to-date home at all", i)
		}
		// At most one FR per hardware register.
		if st.localGpX.IsValid() {
			holder := em.hwRegs[st.localGpX.CombinedIndex()].contains
			if holder.Index() != uint32(i) {
				t.Errorf("r%d: hwreg state disagrees (holds %s)", i, holder)
			}
		}
	}
}

func TestResidencyAfterArith(t *testing.T) {
	em := newTestEmitter(t, 8)
	em.LoadConstDouble(NewFR(0), 1, "a")
	em.LoadConstDouble(NewFR(1), 2, "b")
	em.Add(NewFR(2), NewFR(0), NewFR(1))
	em.Mul(NewFR(3), NewFR(2), NewFR(2))
	checkInvariants(t, em)
}

func TestBasicBlockBoundaryResetsLocalState(t *testing.T) {
	em := newTestEmitter(t, 8)
	fr := NewFR(0)
	em.LoadConstDouble(fr, 1, "a")
	if !em.IsFRKnownNumber(fr) {
		t.Fatal("const load must narrow the local type")
	}

	lab := em.as.NewLabel("BB1")
	em.NewBasicBlock(lab)

	if em.IsFRKnownNumber(fr) {
		t.Error("local type must widen back to the global type")
	}
	st := em.frStateOf(fr)
	if st.localGpX.IsValid() || st.localVecD.IsValid() {
		t.Error("local registers must be released at the boundary")
	}
	if !st.frameUpToDate {
		t.Error("the value must have been synced somewhere stable")
	}
	checkInvariants(t, em)
}

func TestSyncBeforeGuardKeepsFrameCurrent(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r := NewFR(0), NewFR(1)
	em.Add(NewFR(2), l, r)
	// The slow path reads l and r from the frame: their slots must be up
	// to date at the guard.
	if !em.frStateOf(l).frameUpToDate || !em.frStateOf(r).frameUpToDate {
		t.Error("slow-path inputs must be synced before the guard")
	}
}

func TestSpillOnPoolExhaustion(t *testing.T) {
	em := newTestEmitter(t, 40)
	// Touch more frame registers than the VecD temp pool holds.
	for i := uint32(0); i < 20; i++ {
		em.LoadConstDouble(NewFR(i), float64(i), "c")
	}
	if err := em.Err(); err != nil {
		t.Fatalf("pool exhaustion must spill, not fail: %v", err)
	}
	checkInvariants(t, em)
}

// ---------------------------------------------------------------------------
// Conditional branches
// ---------------------------------------------------------------------------

func TestJGreaterFastPath(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r := NewFR(0), NewFR(1)
	em.LoadConstDouble(l, 1, "l")
	em.LoadConstDouble(r, 2, "r")
	target := em.as.NewLabel("TARGET")

	em.JGreater(false, target, l, r)
	if len(em.slowPaths) != 0 {
		t.Error("known-number compare must not queue a slow path")
	}
	// fcmp present.
	if n := countMatching(em, 0xFFE0FC1F, 0x1E602000); n != 1 {
		t.Errorf("emitted %d fcmp, want 1", n)
	}
	em.NewBasicBlock(target)
	em.Leave()
	em.EmitSlowPaths()
	em.emitThunks()
	em.emitROData()
	if _, err := em.as.Finalize(); err != nil {
		t.Fatalf("Finalize: %v", err)
	}
}

func TestJGreaterSlowPathBranchTarget(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r := NewFR(0), NewFR(1)
	target := em.as.NewLabel("TARGET")

	em.JGreater(false, target, l, r)
	if len(em.slowPaths) != 1 {
		t.Fatalf("queued %d slow paths, want 1", len(em.slowPaths))
	}
	sl := &em.slowPaths[0]
	if sl.slowCall != vm.HelperGreater || sl.target != target || sl.invert {
		t.Error("slow path lost the branch shape")
	}
}

// ---------------------------------------------------------------------------
// Full function assembly
// ---------------------------------------------------------------------------

func TestCompleteFunctionAssembles(t *testing.T) {
	em := newTestEmitter(t, 8)
	l, r, res := NewFR(0), NewFR(1), NewFR(2)

	em.Add(res, l, r)
	em.Ret(res)
	em.Leave()
	em.EmitSlowPaths()
	em.emitThunks()
	em.emitROData()

	code, err := em.as.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if len(code) == 0 || len(code)%4 != 0 {
		// RO data may make the tail unaligned only if empty; the pool is
		// 8-aligned so the total stays word-aligned.
		t.Errorf("finalized code has odd size %d", len(code))
	}
}

func TestEmitterErrorLatches(t *testing.T) {
	em := newTestEmitter(t, 8)
	em.fail("synthetic failure")
	em.Add(NewFR(2), NewFR(0), NewFR(1))
	if em.Err() == nil {
		t.Fatal("error must latch")
	}
	if len(emitterWords(em))*4 != int(em.as.Offset()) {
		t.Error("offset bookkeeping broken")
	}
}
