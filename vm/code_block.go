package vm

import (
	"unsafe"
)

// ---------------------------------------------------------------------------
// CodeBlock: per-function executable unit
// ---------------------------------------------------------------------------

// NoProfilerID marks a CodeBlock the JS-function profiler has not seen.
const NoProfilerID uint32 = 0xFFFFFFFF

// CodeBlock is the runtime representation of one function's body: its opcode
// bytes, header, inline property caches and lazy-compilation state. It is
// created through CreateCodeBlock, never copied, and owned by its
// RuntimeModule; callers hold raw pointers into it, so it must stay pinned.
//
// The property cache is a single slab with the read segment first and the
// write segment after it, split at writePropCacheOffset.
type CodeBlock struct {
	runtimeModule *RuntimeModule

	functionHeader RuntimeFunctionHeader

	// Opcode bytes. Nil iff the function is lazy; replaced in place by
	// lazyCompileImpl. Mutation is synchronised on the runtime itself (the
	// runtime is single-threaded), so a plain field suffices.
	bytecode []byte

	// ID of this function in the module's function list. Stable across lazy
	// compilation.
	functionID uint32

	propertyCacheSize   uint32
	writePropCacheOffset uint32

	// The cache slab, length propertyCacheSize, value-initialised (empty).
	propertyCache []PropertyCacheEntry

	exceptionTable []ExceptionHandlerRange

	// ProfilerID is written by the JS function profiler on the first event
	// for this function. Meaningful only with the profiler feature.
	ProfilerID uint32
}

// CreateCodeBlock builds a CodeBlock for runtimeModule. The cache slab is
// sized from the header's read/write cache counts and value-initialised.
func CreateCodeBlock(
	runtimeModule *RuntimeModule,
	header RuntimeFunctionHeader,
	bytecode []byte,
	functionID uint32,
) *CodeBlock {
	if bytecode != nil {
		if uint32(len(bytecode)) != header.BytecodeSize {
			panic("CreateCodeBlock: bytecode length disagrees with header")
		}
		if len(bytecode) == 0 || !IsReturnClass(bytecode[len(bytecode)-1]) {
			panic("CreateCodeBlock: opcode stream must end with a return-class terminator")
		}
	}
	cacheSize := header.ReadCacheSize + header.WriteCacheSize
	return &CodeBlock{
		runtimeModule:        runtimeModule,
		functionHeader:       header,
		bytecode:             bytecode,
		functionID:           functionID,
		propertyCacheSize:    cacheSize,
		writePropCacheOffset: header.ReadCacheSize,
		propertyCache:        make([]PropertyCacheEntry, cacheSize),
		exceptionTable:       runtimeModule.Provider().ExceptionTable(functionID),
		ProfilerID:           NoProfilerID,
	}
}

// ---------------------------------------------------------------------------
// Trivial readers
// ---------------------------------------------------------------------------

// GetParamCount returns the declared parameter count.
func (cb *CodeBlock) GetParamCount() uint32 {
	return cb.functionHeader.ParamCount
}

// GetFrameSize returns the frame-register count.
func (cb *CodeBlock) GetFrameSize() uint32 {
	return cb.functionHeader.FrameSize
}

// GetFunctionID returns the function's ID within its module.
func (cb *CodeBlock) GetFunctionID() uint32 {
	return cb.functionID
}

// GetHeaderFlags returns the header flag bits.
func (cb *CodeBlock) GetHeaderFlags() FunctionHeaderFlags {
	return cb.functionHeader.Flags
}

// IsStrictMode returns true if the function is strict-mode code.
func (cb *CodeBlock) IsStrictMode() bool {
	return cb.functionHeader.Flags.StrictMode
}

// GetRuntimeModule returns the owning module.
func (cb *CodeBlock) GetRuntimeModule() *RuntimeModule {
	return cb.runtimeModule
}

// GetVirtualOffset returns the function's offset in the module's virtual
// bytecode stream. Used for backtraces when debug info is absent.
func (cb *CodeBlock) GetVirtualOffset() uint32 {
	return cb.functionHeader.VirtualOffset
}

// GetNameMayAllocate returns the function name as a runtime string handle.
// May allocate.
func (cb *CodeBlock) GetNameMayAllocate() uint32 {
	return cb.runtimeModule.GetStringPrimFromStringIDMayAllocate(cb.functionHeader.FunctionNameID)
}

// GetNameString returns the function name without heap allocation.
func (cb *CodeBlock) GetNameString() string {
	return cb.runtimeModule.Provider().StringAt(cb.functionHeader.FunctionNameID)
}

// ---------------------------------------------------------------------------
// Opcode range
// ---------------------------------------------------------------------------

// Begin returns the first opcode byte (the opcode array, full length).
func (cb *CodeBlock) Begin() []byte {
	return cb.bytecode
}

// End returns the one-past-the-end offset of the opcode stream.
func (cb *CodeBlock) End() uint32 {
	return cb.functionHeader.BytecodeSize
}

// GetOpcodeArray returns the opcode byte range.
func (cb *CodeBlock) GetOpcodeArray() []byte {
	return cb.bytecode
}

// Contains returns true when inst points into this code block. inst must be
// a subslice of some opcode array.
func (cb *CodeBlock) Contains(inst []byte) bool {
	if len(cb.bytecode) == 0 || len(inst) == 0 {
		return false
	}
	base := uintptr(unsafe.Pointer(&cb.bytecode[0]))
	p := uintptr(unsafe.Pointer(&inst[0]))
	return base <= p && p < base+uintptr(len(cb.bytecode))
}

// GetOffsetPtr returns the instruction pointer at a bytecode offset: a
// subslice of the opcode array starting at off.
func (cb *CodeBlock) GetOffsetPtr(off uint32) []byte {
	if off >= cb.functionHeader.BytecodeSize {
		panic("CodeBlock.GetOffsetPtr: offset out of bounds")
	}
	return cb.bytecode[off:]
}

// GetOffsetOf returns the bytecode offset of an instruction pointer obtained
// from GetOffsetPtr.
func (cb *CodeBlock) GetOffsetOf(inst []byte) uint32 {
	if !cb.Contains(inst) {
		panic("CodeBlock.GetOffsetOf: inst not in this code block")
	}
	base := uintptr(unsafe.Pointer(&cb.bytecode[0]))
	p := uintptr(unsafe.Pointer(&inst[0]))
	return uint32(p - base)
}

// ---------------------------------------------------------------------------
// Exception handling
// ---------------------------------------------------------------------------

// FindCatchTargetOffset returns the offset of the innermost exception
// handler guarding exceptionOffset, or -1 if the exception escapes this
// function.
func (cb *CodeBlock) FindCatchTargetOffset(exceptionOffset uint32) int32 {
	return findCatchTarget(cb.exceptionTable, exceptionOffset)
}

// ---------------------------------------------------------------------------
// Debug info
// ---------------------------------------------------------------------------

// GetDebugSourceLocationsOffset returns the function's offset into the
// module source-location table, if debug info is present.
func (cb *CodeBlock) GetDebugSourceLocationsOffset() (uint32, bool) {
	if !cb.functionHeader.HasDebugSourceLocations() {
		return 0, false
	}
	return cb.functionHeader.DebugSourceLocationsOffset, true
}

// GetSourceLocation returns the source location of the instruction at
// offset, if debug info is present.
func (cb *CodeBlock) GetSourceLocation(offset uint32) (DebugSourceLocation, bool) {
	return cb.runtimeModule.DebugInfo().
		SourceLocation(cb.functionHeader.DebugSourceLocationsOffset, offset)
}

// GetSourceLocationForFunction returns the source location of the function
// itself.
func (cb *CodeBlock) GetSourceLocationForFunction() (DebugSourceLocation, bool) {
	return cb.runtimeModule.DebugInfo().
		FunctionLocation(cb.functionHeader.DebugSourceLocationsOffset)
}

// GetFunctionSourceID returns the string ID of the function's source text,
// if the function-source table has an entry.
func (cb *CodeBlock) GetFunctionSourceID() (uint32, bool) {
	return cb.runtimeModule.DebugInfo().FunctionSourceID(cb.functionID)
}

// GetDebugLexicalDataOffset returns the function's offset into the lexical
// debug table, if present.
func (cb *CodeBlock) GetDebugLexicalDataOffset() (uint32, bool) {
	if !cb.functionHeader.HasDebugLexicalData() {
		return 0, false
	}
	return cb.functionHeader.DebugLexicalDataOffset, true
}

// ---------------------------------------------------------------------------
// Variable reflection
// ---------------------------------------------------------------------------

// GetVariableCounts returns the variable count of each enclosing
// VariableScope, index 0 innermost. Aborts in a lean runtime.
func (cb *CodeBlock) GetVariableCounts() []uint32 {
	if cb.runtimeModule.Runtime().Features.Lean {
		fatalf("GetVariableCounts: unavailable in lean VM")
	}
	ld, ok := cb.runtimeModule.DebugInfo().
		LexicalData(cb.functionHeader.DebugLexicalDataOffset)
	if !ok {
		return nil
	}
	counts := make([]uint32, len(ld.Scopes))
	for i, s := range ld.Scopes {
		counts[i] = uint32(len(s.VariableNames))
	}
	return counts
}

// GetVariableNameAtDepth returns the name of a variable at the given scope
// depth (0 = innermost). Aborts in a lean runtime.
func (cb *CodeBlock) GetVariableNameAtDepth(depth, variableIndex uint32) string {
	if cb.runtimeModule.Runtime().Features.Lean {
		fatalf("GetVariableNameAtDepth: unavailable in lean VM")
	}
	ld, ok := cb.runtimeModule.DebugInfo().
		LexicalData(cb.functionHeader.DebugLexicalDataOffset)
	if !ok || int(depth) >= len(ld.Scopes) {
		panic("CodeBlock.GetVariableNameAtDepth: depth out of range")
	}
	names := ld.Scopes[depth].VariableNames
	if int(variableIndex) >= len(names) {
		panic("CodeBlock.GetVariableNameAtDepth: variable index out of range")
	}
	return names[variableIndex]
}

// ---------------------------------------------------------------------------
// Lazy compilation
// ---------------------------------------------------------------------------

// IsLazy returns true while the function's body has not been compiled.
func (cb *CodeBlock) IsLazy() bool {
	if cb.runtimeModule.Runtime().Features.Lean {
		return false
	}
	return cb.bytecode == nil
}

// LazyCompile materialises the function's bytecode if it is lazy. On
// failure the compile error is thrown into the runtime and StatusException
// is returned.
func (cb *CodeBlock) LazyCompile(r *Runtime) ExecutionStatus {
	if !cb.IsLazy() {
		return StatusReturned
	}
	return cb.lazyCompileImpl(r)
}

func (cb *CodeBlock) lazyCompileImpl(r *Runtime) ExecutionStatus {
	if r.Features.Lean {
		fatalf("lazyCompileImpl: unavailable in lean VM")
	}
	if r.lazyCompiler == nil {
		return r.RaiseError("CompileError: no lazy compiler registered")
	}
	sourceID, line, col, _, _ := cb.runtimeModule.Provider().LazySourceSpan(cb.functionID)
	bytecode, header, err := r.lazyCompiler.CompileLazy(sourceID, line, col)
	if err != nil {
		return r.RaiseError("CompileError: " + err.Error())
	}
	// Replace the body in place; functionID and the CodeBlock pointer stay
	// stable for everyone already holding them.
	cb.functionHeader = header
	cb.bytecode = bytecode
	return StatusReturned
}

// CoordsInLazyFunction reports whether the 1-based source coordinates fall
// inside the lazy function's span. Only meaningful before compilation.
func (cb *CodeBlock) CoordsInLazyFunction(line, col uint32) bool {
	if !cb.IsLazy() {
		return false
	}
	_, sl, sc, el, ec := cb.runtimeModule.Provider().LazySourceSpan(cb.functionID)
	if line < sl || line > el {
		return false
	}
	if line == sl && col < sc {
		return false
	}
	if line == el && col > ec {
		return false
	}
	return true
}

// ---------------------------------------------------------------------------
// Property cache
// ---------------------------------------------------------------------------

// GetReadCacheEntry returns read-cache entry idx. Read indices are strictly
// below the write-cache offset.
func (cb *CodeBlock) GetReadCacheEntry(idx uint8) *PropertyCacheEntry {
	if uint32(idx) >= cb.writePropCacheOffset {
		panic("CodeBlock.GetReadCacheEntry: idx out of read-cache bound")
	}
	return &cb.propertyCache[idx]
}

// GetWriteCacheEntry returns write-cache entry idx, offset past the read
// segment.
func (cb *CodeBlock) GetWriteCacheEntry(idx uint8) *PropertyCacheEntry {
	if cb.writePropCacheOffset+uint32(idx) >= cb.propertyCacheSize {
		panic("CodeBlock.GetWriteCacheEntry: idx out of write-cache bound")
	}
	return &cb.propertyCache[cb.writePropCacheOffset+uint32(idx)]
}

// ReadCacheBase returns the read segment of the cache slab; the JIT plants
// its address in RO data.
func (cb *CodeBlock) ReadCacheBase() []PropertyCacheEntry {
	return cb.propertyCache[:cb.writePropCacheOffset]
}

// WriteCacheBase returns the write segment of the cache slab.
func (cb *CodeBlock) WriteCacheBase() []PropertyCacheEntry {
	return cb.propertyCache[cb.writePropCacheOffset:]
}

// PropertyCacheSize returns the total entry count of the cache slab.
func (cb *CodeBlock) PropertyCacheSize() uint32 {
	return cb.propertyCacheSize
}

// AdditionalMemorySize estimates the memory owned by this CodeBlock beyond
// the struct itself.
func (cb *CodeBlock) AdditionalMemorySize() uintptr {
	return uintptr(cb.propertyCacheSize) * PropertyCacheEntrySize
}

// MarkCachedHiddenClasses passes the hidden-class field of every non-empty
// cache entry to the weak-root acceptor, then clears entries whose class was
// reclaimed. Each entry is visited at most once per call.
func (cb *CodeBlock) MarkCachedHiddenClasses(r *Runtime, acceptor WeakRootAcceptor) {
	for i := range cb.propertyCache {
		e := &cb.propertyCache[i]
		if e.IsEmpty() {
			continue
		}
		acceptor.AcceptWeak(&e.Class)
		if e.Class == InvalidHiddenClass {
			e.Clear()
		}
	}
}

// ---------------------------------------------------------------------------
// Debugger support
// ---------------------------------------------------------------------------

// InstallBreakpointAtOffset patches the debugger trap over the opcode at
// offset and pins the module. The caller must have registered a breakpoint
// record holding the original opcode. Aborts without debugger support.
func (cb *CodeBlock) InstallBreakpointAtOffset(offset uint32) {
	if !cb.runtimeModule.Runtime().Features.Debugger {
		fatalf("InstallBreakpointAtOffset: debugger support not enabled")
	}
	if offset >= cb.functionHeader.BytecodeSize {
		panic("CodeBlock.InstallBreakpointAtOffset: offset out of bounds")
	}
	cb.bytecode[offset] = OpDebugger
	cb.runtimeModule.AddUser()
}

// UninstallBreakpointAtOffset restores the original opcode at offset and
// unpins the module. Requires the opcode at offset to be the debugger trap.
func (cb *CodeBlock) UninstallBreakpointAtOffset(offset uint32, originalOp byte) {
	if !cb.runtimeModule.Runtime().Features.Debugger {
		fatalf("UninstallBreakpointAtOffset: debugger support not enabled")
	}
	if offset >= cb.functionHeader.BytecodeSize {
		panic("CodeBlock.UninstallBreakpointAtOffset: offset out of bounds")
	}
	if cb.bytecode[offset] != OpDebugger {
		panic("CodeBlock.UninstallBreakpointAtOffset: no breakpoint installed at offset")
	}
	cb.bytecode[offset] = originalOp
	cb.runtimeModule.RemoveUser()
}

// GetNextOffset returns the offset of the instruction after the one at
// offset, given the instruction's byte length as decoded by the debugger.
func (cb *CodeBlock) GetNextOffset(offset, instLength uint32) uint32 {
	if !cb.runtimeModule.Runtime().Features.Debugger {
		fatalf("GetNextOffset: debugger support not enabled")
	}
	next := offset + instLength
	if next > cb.functionHeader.BytecodeSize {
		panic("CodeBlock.GetNextOffset: next offset out of bounds")
	}
	return next
}
