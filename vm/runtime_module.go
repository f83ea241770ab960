package vm

import (
	"crypto/sha256"
	"encoding/binary"
)

// ---------------------------------------------------------------------------
// RuntimeModule: one loaded bytecode module
// ---------------------------------------------------------------------------

// RuntimeModule owns the CodeBlocks of one loaded bytecode module, the
// provider they decode from, and the module's string-table adapter. Code
// blocks are materialised on demand and their pointers stay stable for the
// lifetime of the module.
type RuntimeModule struct {
	runtime  *Runtime
	provider BytecodeProvider
	domain   *Domain

	// Materialised code blocks, indexed by function ID. Entries are nil
	// until first requested; once created they are never replaced, so raw
	// pointers held by callers remain valid.
	codeBlocks []*CodeBlock

	// Module string ID -> runtime string handle, filled on demand.
	stringHandles map[uint32]uint32

	// Debugger bookkeeping: number of installed breakpoints and other
	// outstanding references that keep the module pinned.
	userCount int

	// Content hash of the module's bytecode; keys the persisted code cache.
	hash [32]byte
	hashed bool
}

// NewRuntimeModule wires a provider into a runtime.
func NewRuntimeModule(r *Runtime, provider BytecodeProvider) *RuntimeModule {
	m := &RuntimeModule{
		runtime:       r,
		provider:      provider,
		domain:        r.Domain(),
		codeBlocks:    make([]*CodeBlock, provider.FunctionCount()),
		stringHandles: make(map[uint32]uint32),
	}
	r.AddModule(m)
	return m
}

// Runtime returns the owning runtime.
func (m *RuntimeModule) Runtime() *Runtime {
	return m.runtime
}

// Provider returns the module's bytecode provider.
func (m *RuntimeModule) Provider() BytecodeProvider {
	return m.provider
}

// GetDomain returns the owning domain handle used by closure construction.
func (m *RuntimeModule) GetDomain(r *Runtime) *Domain {
	return m.domain
}

// GetCodeBlockMayAllocate returns the CodeBlock for functionID, creating it
// on first use. May allocate. The returned pointer is stable.
func (m *RuntimeModule) GetCodeBlockMayAllocate(functionID uint32) *CodeBlock {
	if int(functionID) >= len(m.codeBlocks) {
		panic("RuntimeModule.GetCodeBlockMayAllocate: function ID out of range")
	}
	if cb := m.codeBlocks[functionID]; cb != nil {
		return cb
	}
	header := m.provider.FunctionHeader(functionID)
	cb := CreateCodeBlock(m, header, m.provider.FunctionBytecode(functionID), functionID)
	m.codeBlocks[functionID] = cb
	return cb
}

// GetStringPrimFromStringIDMayAllocate resolves a module string ID to a
// runtime string handle, interning on first use. May allocate.
func (m *RuntimeModule) GetStringPrimFromStringIDMayAllocate(id uint32) uint32 {
	if h, ok := m.stringHandles[id]; ok {
		return h
	}
	h := m.runtime.Heap().InternString(m.provider.StringAt(id))
	m.stringHandles[id] = h
	return h
}

// DebugInfo returns the module debug stream, or nil if stripped.
func (m *RuntimeModule) DebugInfo() *DebugInfo {
	return m.provider.DebugInfo()
}

// AddUser pins the module (breakpoint installed, native code referencing
// it).
func (m *RuntimeModule) AddUser() {
	m.userCount++
}

// RemoveUser releases one pin.
func (m *RuntimeModule) RemoveUser() {
	if m.userCount == 0 {
		panic("RuntimeModule.RemoveUser: user count underflow")
	}
	m.userCount--
}

// UserCount returns the outstanding pin count.
func (m *RuntimeModule) UserCount() int {
	return m.userCount
}

// ContentHash returns the SHA-256 of each function's parameter count, frame
// size and bytecode, computed once. It identifies the module in the persisted code
// cache.
func (m *RuntimeModule) ContentHash() [32]byte {
	if m.hashed {
		return m.hash
	}
	h := sha256.New()
	var buf [4]byte
	n := m.provider.FunctionCount()
	for id := uint32(0); id < n; id++ {
		hdr := m.provider.FunctionHeader(id)
		binary.LittleEndian.PutUint32(buf[:], hdr.ParamCount)
		h.Write(buf[:])
		binary.LittleEndian.PutUint32(buf[:], hdr.FrameSize)
		h.Write(buf[:])
		h.Write(m.provider.FunctionBytecode(id))
	}
	copy(m.hash[:], h.Sum(nil))
	m.hashed = true
	return m.hash
}

// forEachCodeBlock visits the materialised code blocks.
func (m *RuntimeModule) forEachCodeBlock(fn func(*CodeBlock)) {
	for _, cb := range m.codeBlocks {
		if cb != nil {
			fn(cb)
		}
	}
}
