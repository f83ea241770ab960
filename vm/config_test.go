package vm

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if !cfg.JIT.Enabled {
		t.Error("JIT defaults on")
	}
	if cfg.Lean || cfg.Debugger {
		t.Error("optional subsystems default off")
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kestrel.toml")
	content := `
debugger = true
jsfunction_profiler = true

[jit]
enabled = false
dump_code = true
code_cache_path = "/tmp/kestrel-cache.db"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if !cfg.Debugger || !cfg.JSFunctionProfiler {
		t.Error("feature flags not decoded")
	}
	if cfg.JIT.Enabled || !cfg.JIT.DumpCode || cfg.JIT.CodeCachePath != "/tmp/kestrel-cache.db" {
		t.Errorf("jit section not decoded: %+v", cfg.JIT)
	}

	f := cfg.ToFeatures()
	if f.JIT || !f.Debugger || !f.JSFunctionProfiler {
		t.Error("ToFeatures disagrees with the config")
	}
}

func TestLoadConfigRejectsLeanDebugger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.toml")
	if err := os.WriteFile(path, []byte("lean = true\ndebugger = true\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadConfig(path); err == nil {
		t.Error("lean + debugger must be rejected")
	}
}

func TestCodeCacheRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.db")
	cache, err := OpenCodeCache(path)
	if err != nil {
		t.Fatalf("OpenCodeCache: %v", err)
	}
	defer cache.Close()

	var hash [32]byte
	hash[0] = 0xAB

	if _, found, err := cache.Lookup(hash, 3); err != nil || found {
		t.Fatalf("Lookup on empty cache = found=%v err=%v", found, err)
	}

	entry := CodeCacheEntry{ModuleHash: hash, FunctionID: 3, CodeSize: 512}
	if err := cache.Record(entry); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, found, err := cache.Lookup(hash, 3)
	if err != nil || !found || got.CodeSize != 512 {
		t.Fatalf("Lookup = %+v found=%v err=%v", got, found, err)
	}

	// Upsert.
	entry.CodeSize = 1024
	if err := cache.Record(entry); err != nil {
		t.Fatalf("Record upsert: %v", err)
	}
	got, _, _ = cache.Lookup(hash, 3)
	if got.CodeSize != 1024 {
		t.Errorf("upsert lost: CodeSize = %d", got.CodeSize)
	}

	if n, err := cache.CompiledCount(hash); err != nil || n != 1 {
		t.Errorf("CompiledCount = %d, %v", n, err)
	}
}
