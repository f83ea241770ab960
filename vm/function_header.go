package vm

// FunctionHeaderFlags carries the per-function flag bits from the bytecode
// file.
type FunctionHeaderFlags struct {
	StrictMode      bool
	HasExceptions   bool
	HasDebugInfo    bool
	UsesNewTarget   bool
	UsesParentScope bool
}

// RuntimeFunctionHeader describes one function inside a bytecode module: its
// signature, frame requirements, and offsets into the module's side tables.
// It is produced by the BytecodeProvider and never mutated afterwards.
type RuntimeFunctionHeader struct {
	ParamCount   uint32
	FrameSize    uint32
	BytecodeSize uint32
	Flags        FunctionHeaderFlags

	// Number of read and write property-cache slots used by the function's
	// bytecode. The CodeBlock factory sizes its cache slab from these.
	ReadCacheSize  uint32
	WriteCacheSize uint32

	// Offset of this function's bytecode in the module's virtual bytecode
	// stream (all functions concatenated in order). Used for backtraces when
	// debug info is stripped.
	VirtualOffset uint32

	// Offsets into the module debug stream, or DebugOffsetMissing when the
	// corresponding table was stripped.
	DebugSourceLocationsOffset uint32
	DebugLexicalDataOffset     uint32

	// Name of the function in the module string table.
	FunctionNameID uint32
}

// DebugOffsetMissing marks a stripped debug-table offset.
const DebugOffsetMissing uint32 = 0xFFFFFFFF

// HasDebugSourceLocations returns true if the source-location table survives.
func (h *RuntimeFunctionHeader) HasDebugSourceLocations() bool {
	return h.DebugSourceLocationsOffset != DebugOffsetMissing
}

// HasDebugLexicalData returns true if the lexical-scope table survives.
func (h *RuntimeFunctionHeader) HasDebugLexicalData() bool {
	return h.DebugLexicalDataOffset != DebugOffsetMissing
}
