package vm

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// ExecutionStatus
// ---------------------------------------------------------------------------

// ExecutionStatus is the result convention of every fallible runtime
// operation: either the operation returned normally, or a JS exception is
// pending in Runtime.thrownValue and the caller must unwind.
type ExecutionStatus int

const (
	// StatusReturned means the operation completed normally.
	StatusReturned ExecutionStatus = iota
	// StatusException means a JS exception is pending on the runtime.
	StatusException
)

// String returns the status name.
func (s ExecutionStatus) String() string {
	if s == StatusReturned {
		return "RETURNED"
	}
	return "EXCEPTION"
}

// ---------------------------------------------------------------------------
// Feature gates
// ---------------------------------------------------------------------------

// Features selects which optional subsystems this runtime instance carries.
// APIs belonging to an excluded subsystem abort the process when invoked;
// the gates stand in for the build-time exclusions of the original engine.
type Features struct {
	// Lean strips lazy compilation and variable reflection.
	Lean bool
	// Debugger enables breakpoint installation.
	Debugger bool
	// JIT enables native compilation of functions.
	JIT bool
	// JSFunctionProfiler enables per-function profiler IDs and inline-cache
	// statistics.
	JSFunctionProfiler bool
}

// fatalf aborts on API misuse that the original engine treats as a
// compile-time impossibility (calling into an excluded subsystem).
func fatalf(format string, args ...interface{}) {
	panic("kestrel fatal: " + fmt.Sprintf(format, args...))
}

// ---------------------------------------------------------------------------
// Domain
// ---------------------------------------------------------------------------

// Domain groups the modules loaded by one origin. Closures created from a
// module keep its domain alive.
type Domain struct {
	ID uuid.UUID
}

// NewDomain creates a fresh domain.
func NewDomain() *Domain {
	return &Domain{ID: uuid.New()}
}

// ---------------------------------------------------------------------------
// Runtime
// ---------------------------------------------------------------------------

// LazyCompiler turns a lazy function's source span into bytecode. The
// language frontend registers an implementation; the core only defines the
// surface.
type LazyCompiler interface {
	// CompileLazy compiles the function covering the given source span and
	// returns its bytecode and updated header, or an error.
	CompileLazy(sourceID, line, col uint32) (bytecode []byte, header RuntimeFunctionHeader, err error)
}

// Runtime is one JS execution engine instance: heap, modules, pending
// exception, and feature gates. A Runtime is single-threaded; it is never
// shared between goroutines. Multiple runtimes may coexist in a process.
type Runtime struct {
	ID       uuid.UUID
	Features Features

	heap    *Heap
	modules []*RuntimeModule
	domain  *Domain

	// Pending thrown value; meaningful only while an operation is unwinding
	// with StatusException.
	thrownValue LegacyValue
	hasThrown   bool

	// Global object handle.
	globalObject LegacyValue

	// Frontend hook for lazy compilation; nil until registered.
	lazyCompiler LazyCompiler

	log commonlog.Logger
}

// NewRuntime creates a runtime with the given feature set.
func NewRuntime(features Features) *Runtime {
	r := &Runtime{
		ID:       uuid.New(),
		Features: features,
		heap:     NewHeap(),
		domain:   NewDomain(),
		log:      commonlog.GetLogger("kestrel.vm"),
	}
	global := r.heap.AllocObject(r.heap.RootClass())
	r.globalObject = global
	return r
}

// Heap returns the runtime's heap.
func (r *Runtime) Heap() *Heap {
	return r.heap
}

// Domain returns the runtime's default domain.
func (r *Runtime) Domain() *Domain {
	return r.domain
}

// GlobalObject returns the global object.
func (r *Runtime) GlobalObject() LegacyValue {
	return r.globalObject
}

// Logger returns the runtime's logger.
func (r *Runtime) Logger() commonlog.Logger {
	return r.log
}

// SetLazyCompiler registers the frontend's lazy compiler.
func (r *Runtime) SetLazyCompiler(c LazyCompiler) {
	r.lazyCompiler = c
}

// AddModule registers a runtime module with this runtime.
func (r *Runtime) AddModule(m *RuntimeModule) {
	r.modules = append(r.modules, m)
}

// Modules returns the loaded modules.
func (r *Runtime) Modules() []*RuntimeModule {
	return r.modules
}

// ---------------------------------------------------------------------------
// Exceptions
// ---------------------------------------------------------------------------

// SetThrownValue records a pending JS exception.
func (r *Runtime) SetThrownValue(v LegacyValue) {
	r.thrownValue = v
	r.hasThrown = true
}

// ThrownValue returns the pending exception. Panics if none is pending.
func (r *Runtime) ThrownValue() LegacyValue {
	if !r.hasThrown {
		panic("Runtime.ThrownValue: no pending exception")
	}
	return r.thrownValue
}

// HasThrownValue returns true if an exception is pending.
func (r *Runtime) HasThrownValue() bool {
	return r.hasThrown
}

// ClearThrownValue discards the pending exception after it was handled.
func (r *Runtime) ClearThrownValue() {
	r.thrownValue = Undefined
	r.hasThrown = false
}

// RaiseError throws a runtime error carrying a message string and returns
// StatusException for tail-calling convenience.
func (r *Runtime) RaiseError(msg string) ExecutionStatus {
	r.SetThrownValue(EncodeString(r.heap.InternString(msg)))
	return StatusException
}

// RaiseTypeError throws a TypeError-flavoured error.
func (r *Runtime) RaiseTypeError(msg string) ExecutionStatus {
	return r.RaiseError("TypeError: " + msg)
}

// ---------------------------------------------------------------------------
// GC root marking
// ---------------------------------------------------------------------------

// MarkWeakRoots traverses the weak roots of every loaded module: each
// non-empty property-cache entry of each materialised CodeBlock is visited
// exactly once per cycle.
func (r *Runtime) MarkWeakRoots(acceptor WeakRootAcceptor) {
	for _, m := range r.modules {
		m.forEachCodeBlock(func(cb *CodeBlock) {
			cb.MarkCachedHiddenClasses(r, acceptor)
		})
	}
}
