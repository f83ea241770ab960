package vm

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"
)

// ---------------------------------------------------------------------------
// Runtime configuration
// ---------------------------------------------------------------------------

// JITConfig tunes the native compiler.
type JITConfig struct {
	// Enabled turns native compilation on.
	Enabled bool `toml:"enabled"`
	// DumpCode logs disassembly and RO-data descriptors for each compiled
	// function.
	DumpCode bool `toml:"dump_code"`
	// CodeCachePath points at the persisted code-cache database; empty
	// disables persistence.
	CodeCachePath string `toml:"code_cache_path"`
	// MemoryLimitBytes caps the executable heap. Zero means unlimited.
	MemoryLimitBytes int64 `toml:"memory_limit_bytes"`
}

// Config is the runtime's TOML-loadable configuration.
type Config struct {
	// Lean strips lazy compilation and variable reflection.
	Lean bool `toml:"lean"`
	// Debugger enables breakpoint support.
	Debugger bool `toml:"debugger"`
	// JSFunctionProfiler enables per-function profiling.
	JSFunctionProfiler bool `toml:"jsfunction_profiler"`

	JIT JITConfig `toml:"jit"`
}

// DefaultConfig returns the stock configuration: JIT on, everything optional
// off.
func DefaultConfig() Config {
	return Config{
		JIT: JITConfig{Enabled: true},
	}
}

// LoadConfig reads a TOML config file, layered over the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: reading %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("config: parsing %s: %w", path, err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Lean && c.Debugger {
		return fmt.Errorf("config: debugger requires a non-lean runtime")
	}
	if c.JIT.MemoryLimitBytes < 0 {
		return fmt.Errorf("config: jit.memory_limit_bytes must be non-negative")
	}
	return nil
}

// ToFeatures derives the runtime feature gates from the config.
func (c *Config) ToFeatures() Features {
	return Features{
		Lean:               c.Lean,
		Debugger:           c.Debugger,
		JIT:                c.JIT.Enabled,
		JSFunctionProfiler: c.JSFunctionProfiler,
	}
}
