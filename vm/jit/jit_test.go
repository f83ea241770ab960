package jit

import (
	"path/filepath"
	"testing"

	"github.com/kestreljs/kestrel/vm"
)

func TestExecHeapLimit(t *testing.T) {
	h := NewExecHeap(4096)
	if _, err := h.Add(make([]byte, 8192)); err == nil {
		t.Error("over-limit allocation must fail")
	}
	h.Release()
}

func TestExecHeapAdd(t *testing.T) {
	h := NewExecHeap(0)
	defer h.Release()

	code := []byte{0xC0, 0x03, 0x5F, 0xD6} // ret
	mapped, err := h.Add(code)
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if len(mapped) != len(code) || mapped[3] != 0xD6 {
		t.Error("code not copied into the mapping")
	}
	if h.Used() == 0 {
		t.Error("Used must account for the mapping")
	}
}

func TestCompilerAddToRuntime(t *testing.T) {
	cfg := vm.JITConfig{
		Enabled:       true,
		CodeCachePath: filepath.Join(t.TempDir(), "cache.db"),
	}
	c := NewCompiler(cfg)
	defer c.Close()

	em := newTestEmitter(t, 8)
	em.LoadConstDouble(NewFR(0), 1, "one")
	em.Ret(NewFR(0))
	em.Leave()

	fn, err := c.AddToRuntime(em)
	if err != nil {
		t.Fatalf("AddToRuntime: %v", err)
	}
	if len(fn.Code) == 0 {
		t.Fatal("no code produced")
	}
	if fn.CodeBlock != em.codeBlock {
		t.Error("compiled function lost its code block")
	}

	// The compile was recorded in the code cache.
	cache, err := vm.OpenCodeCache(cfg.CodeCachePath)
	if err != nil {
		t.Fatalf("OpenCodeCache: %v", err)
	}
	defer cache.Close()
	hash := fn.CodeBlock.GetRuntimeModule().ContentHash()
	if _, found, err := cache.Lookup(hash, fn.CodeBlock.GetFunctionID()); err != nil || !found {
		t.Errorf("code cache entry missing: found=%v err=%v", found, err)
	}
}

func TestFailedEmitterDoesNotReachTheHeap(t *testing.T) {
	c := NewCompiler(vm.JITConfig{Enabled: true})
	defer c.Close()

	em := newTestEmitter(t, 8)
	em.fail("synthetic")
	if _, err := c.AddToRuntime(em); err == nil {
		t.Error("a failed emitter must not produce code")
	}
	if c.heap.Used() != 0 {
		t.Error("failed compile leaked executable memory")
	}
}
