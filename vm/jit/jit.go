package jit

import (
	"fmt"
	"time"

	"github.com/tliron/commonlog"

	"github.com/kestreljs/kestrel/vm"
	"github.com/kestreljs/kestrel/vm/jit/a64"
)

// ---------------------------------------------------------------------------
// Compiler driver
// ---------------------------------------------------------------------------

// CompiledFunction is one function's native code.
type CompiledFunction struct {
	// Code is the executable mapping; the entry point is its first byte.
	Code []byte
	// CodeBlock is the compiled function.
	CodeBlock *vm.CodeBlock
}

// Compiler owns the executable heap and the per-process compilation policy.
// Failures are per-function: a function that fails to compile re-executes
// in the interpreter and does not poison others.
type Compiler struct {
	heap  *ExecHeap
	cache *vm.CodeCache
	cfg   vm.JITConfig
	log   commonlog.Logger
}

// NewCompiler creates a compiler from the runtime config. The code cache is
// opened when a path is configured; failures to open it only disable
// persistence.
func NewCompiler(cfg vm.JITConfig) *Compiler {
	c := &Compiler{
		heap: NewExecHeap(cfg.MemoryLimitBytes),
		cfg:  cfg,
		log:  commonlog.GetLogger("kestrel.jit"),
	}
	if cfg.CodeCachePath != "" {
		cache, err := vm.OpenCodeCache(cfg.CodeCachePath)
		if err != nil {
			c.log.Warningf("code cache disabled: %v", err)
		} else {
			c.cache = cache
		}
	}
	return c
}

// Close tears down the executable heap and the code cache. Compiled code
// pointers become invalid.
func (c *Compiler) Close() {
	c.heap.Release()
	if c.cache != nil {
		c.cache.Close()
	}
}

// NewEmitterFor creates an emitter for a code block using the compiler's
// configuration. The save counts come from the caller's register
// allocation pre-pass.
func (c *Compiler) NewEmitterFor(cb *vm.CodeBlock, gpSaveCount, vecSaveCount uint8) *Emitter {
	return NewEmitter(cb, cb.GetFrameSize(), gpSaveCount, vecSaveCount, c.cfg.DumpCode)
}

// AddToRuntime finalises the emitter's output — slow paths, thunks, RO
// data — places it on the executable heap, and returns the compiled
// function. This is the only path by which code enters the heap.
func (c *Compiler) AddToRuntime(em *Emitter) (*CompiledFunction, error) {
	start := time.Now()

	em.EmitSlowPaths()
	em.emitThunks()
	em.emitROData()
	if err := em.Err(); err != nil {
		return nil, err
	}
	code, err := em.as.Finalize()
	if err != nil {
		return nil, fmt.Errorf("jit: finalizing %q: %w", em.codeBlock.GetNameString(), err)
	}
	mapped, err := c.heap.Add(code)
	if err != nil {
		return nil, err
	}

	if c.cfg.DumpCode {
		c.log.Debugf("jit code for %q:\n%s", em.codeBlock.GetNameString(), a64.Disassemble(mapped))
	}
	if c.cache != nil {
		entry := vm.CodeCacheEntry{
			ModuleHash:  em.codeBlock.GetRuntimeModule().ContentHash(),
			FunctionID:  em.codeBlock.GetFunctionID(),
			CodeSize:    len(mapped),
			CompileTime: time.Since(start),
		}
		if err := c.cache.Record(entry); err != nil {
			c.log.Warningf("code cache record failed: %v", err)
		}
	}

	return &CompiledFunction{Code: mapped, CodeBlock: em.codeBlock}, nil
}
