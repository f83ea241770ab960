// Command kestrel is the engine's maintenance CLI: inspect the runtime
// configuration and the persisted JIT code cache.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/kestreljs/kestrel/vm"
)

const version = "0.3.0"

func main() {
	configPath := flag.String("config", "", "path to a TOML runtime config")
	verbosity := flag.Int("v", 0, "log verbosity")
	flag.Parse()

	commonlog.Configure(*verbosity, nil)

	cfg := vm.DefaultConfig()
	if *configPath != "" {
		var err error
		cfg, err = vm.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "kestrel:", err)
			os.Exit(1)
		}
	}

	switch flag.Arg(0) {
	case "version", "":
		fmt.Println("kestrel", version)

	case "config":
		fmt.Printf("lean: %v\ndebugger: %v\njsfunction_profiler: %v\n",
			cfg.Lean, cfg.Debugger, cfg.JSFunctionProfiler)
		fmt.Printf("jit.enabled: %v\njit.dump_code: %v\njit.code_cache_path: %q\n",
			cfg.JIT.Enabled, cfg.JIT.DumpCode, cfg.JIT.CodeCachePath)

	case "cache":
		if cfg.JIT.CodeCachePath == "" {
			fmt.Fprintln(os.Stderr, "kestrel: no code cache configured")
			os.Exit(1)
		}
		cache, err := vm.OpenCodeCache(cfg.JIT.CodeCachePath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "kestrel:", err)
			os.Exit(1)
		}
		defer cache.Close()
		if hash := flag.Arg(1); hash != "" {
			var key [32]byte
			raw, err := hex.DecodeString(hash)
			if err != nil || len(raw) != 32 {
				fmt.Fprintln(os.Stderr, "kestrel: cache takes a 64-digit hex module hash")
				os.Exit(1)
			}
			copy(key[:], raw)
			n, err := cache.CompiledCount(key)
			if err != nil {
				fmt.Fprintln(os.Stderr, "kestrel:", err)
				os.Exit(1)
			}
			fmt.Printf("%s: %d compiled functions\n", hash, n)
		}

	default:
		fmt.Fprintf(os.Stderr, "kestrel: unknown command %q\n", flag.Arg(0))
		os.Exit(1)
	}
}
