package jit

import (
	"encoding/binary"

	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// RO data pool
// ---------------------------------------------------------------------------
//
// Each compiled function carries a read-only data pool placed after its
// code: helper addresses for the thunks, deduplicated FP constants, and the
// property-cache base pointers. JIT code addresses the pool with adr
// relative to roDataLab, so everything stays within the adr range of the
// function.

// reserveData appends size bytes with the given alignment to the RO buffer,
// records a descriptor for the dump pass, and returns the offset.
func (em *Emitter) reserveData(size int32, align int32, typeName string, itemCount int32, comment string) int32 {
	if align > 1 {
		for int32(len(em.roData))%align != 0 {
			em.roData = append(em.roData, 0)
		}
	}
	ofs := int32(len(em.roData))
	em.roData = append(em.roData, make([]byte, size)...)
	em.roDataDesc = append(em.roDataDesc, dataDesc{
		size:      size,
		typeName:  typeName,
		itemCount: itemCount,
		comment:   comment,
	})
	return ofs
}

// uint64Const registers a 64-bit constant in RO data, deduplicating by bit
// pattern, and returns its offset.
func (em *Emitter) uint64Const(bits uint64, comment string) int32 {
	if ofs, ok := em.fp64ConstMap[bits]; ok {
		return ofs
	}
	ofs := em.reserveData(8, 8, "u64", 1, comment)
	binary.LittleEndian.PutUint64(em.roData[ofs:], bits)
	em.fp64ConstMap[bits] = ofs
	return ofs
}

// registerCall returns the thunk label for a helper, creating the thunk on
// first use. Every cross-function branch goes through a thunk that loads
// the helper address from RO data, keeping branches within range no matter
// where the JIT heap lands.
func (em *Emitter) registerCall(fn vm.HelperToken, name string) a64.Label {
	if idx, ok := em.thunkMap[fn]; ok {
		return em.thunks[idx].label
	}
	if name == "" {
		name = vm.HelperSymbolName(fn)
	}
	ofs := em.reserveData(8, 8, "fnptr", 1, name)
	binary.LittleEndian.PutUint64(em.roData[ofs:], uint64(fn))
	lab := em.as.NewLabel("THUNK_" + name)
	em.thunkMap[fn] = len(em.thunks)
	em.thunks = append(em.thunks, thunk{label: lab, roOfs: ofs, name: name})
	return lab
}

// emitThunks emits the queued branch-island thunks after the slow paths.
// Each loads its function pointer from RO data and jumps.
func (em *Emitter) emitThunks() {
	as := em.as
	for _, t := range em.thunks {
		as.Bind(t.label)
		as.Adr(a64.X16, em.roDataLab)
		as.LdrX(a64.X16, a64.MemOf(a64.X16, t.roOfs))
		as.Br(a64.X16)
	}
}

// emitROData aligns and appends the RO pool to the code stream, binding its
// base label. With dumping enabled the descriptors are logged.
func (em *Emitter) emitROData() {
	as := em.as
	as.Align(8)
	as.Bind(em.roDataLab)
	as.Raw(em.roData)
	if em.dumpJitCode {
		ofs := int32(0)
		for _, d := range em.roDataDesc {
			em.comment("RODATA +%-4d %-6s x%-3d %s", ofs, d.typeName, d.itemCount, d.comment)
			ofs += d.size
		}
	}
}

// loadBits64InGp materialises an arbitrary bit pattern into a GpX, going
// through the constant pool whenever any of the upper 32 bits is set.
func (em *Emitter) loadBits64InGp(dst a64.GpX, bits uint64, constName string) {
	// Small patterns go inline; wide ones are a literal load from the
	// deduplicated pool.
	if bits>>32 == 0 {
		em.as.MovImm64(dst, bits)
		return
	}
	ofs := em.uint64Const(bits, constName)
	em.as.Adr(dst, em.roDataLab)
	em.as.LdrX(dst, a64.MemOf(dst, ofs))
}
