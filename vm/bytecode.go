package vm

// The core treats opcode streams as opaque byte ranges produced by a
// well-formed BytecodeProvider. Only the handful of opcodes below are
// meaningful to it: the return class (stream terminators, verified on load)
// and the debugger trap that breakpoint installation patches in.

// Opcode byte values known to the runtime core.
const (
	// OpRet terminates a function returning a value.
	OpRet byte = 0x5C
	// OpRetUndefined terminates a function returning undefined.
	OpRetUndefined byte = 0x5D
	// OpThrow terminates a block by raising.
	OpThrow byte = 0x5E
	// OpDebugger is the debugger trap; breakpoints patch it over the
	// original opcode.
	OpDebugger byte = 0xEF
)

// IsReturnClass returns true for opcodes that may legally terminate a
// function's opcode stream.
func IsReturnClass(op byte) bool {
	return op == OpRet || op == OpRetUndefined || op == OpThrow
}

// BytecodeProvider yields the per-function artifacts of one loaded bytecode
// module. Parsing and validation happen before the core sees it; a provider
// is well-formed by contract.
type BytecodeProvider interface {
	// FunctionCount returns the number of functions in the module.
	FunctionCount() uint32

	// FunctionHeader returns the header of function id.
	FunctionHeader(id uint32) RuntimeFunctionHeader

	// FunctionBytecode returns the opcode bytes of function id, or nil if
	// the function is lazy (not yet compiled by the frontend).
	FunctionBytecode(id uint32) []byte

	// ExceptionTable returns the exception-handler ranges of function id.
	ExceptionTable(id uint32) []ExceptionHandlerRange

	// LazySourceSpan returns the source span of a lazy function: source ID
	// and the 1-based start/end coordinates.
	LazySourceSpan(id uint32) (sourceID, startLine, startCol, endLine, endCol uint32)

	// StringCount returns the size of the module string table.
	StringCount() uint32

	// StringAt returns module string id.
	StringAt(id uint32) string

	// DebugInfo returns the module's debug stream, or nil if stripped.
	DebugInfo() *DebugInfo
}
