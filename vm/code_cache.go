package vm

import (
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ---------------------------------------------------------------------------
// CodeCache: persisted index of JIT-compiled functions
// ---------------------------------------------------------------------------

// CodeCache records which functions of which modules have been natively
// compiled, keyed by module content hash and function ID. The native code
// itself is not persisted (it embeds process-local pointers); the index
// records code size and compile cost across runs for Lookup and the CLI.
// The compiler does not consult it before dumping code.
type CodeCache struct {
	db *sql.DB
}

// CodeCacheEntry is one recorded compilation.
type CodeCacheEntry struct {
	ModuleHash [32]byte
	FunctionID uint32
	CodeSize   int
	CompileTime time.Duration
}

const codeCacheSchema = `
CREATE TABLE IF NOT EXISTS jit_code (
	module_hash TEXT NOT NULL,
	function_id INTEGER NOT NULL,
	code_size   INTEGER NOT NULL,
	compile_ns  INTEGER NOT NULL,
	created_at  TEXT NOT NULL,
	PRIMARY KEY (module_hash, function_id)
);`

// OpenCodeCache opens (creating if needed) the cache database at path.
func OpenCodeCache(path string) (*CodeCache, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("code cache: opening %s: %w", path, err)
	}
	if _, err := db.Exec(codeCacheSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("code cache: creating schema: %w", err)
	}
	return &CodeCache{db: db}, nil
}

// Close releases the database.
func (c *CodeCache) Close() error {
	return c.db.Close()
}

// Record upserts one compilation record.
func (c *CodeCache) Record(e CodeCacheEntry) error {
	_, err := c.db.Exec(
		`INSERT INTO jit_code (module_hash, function_id, code_size, compile_ns, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (module_hash, function_id) DO UPDATE
		 SET code_size = excluded.code_size,
		     compile_ns = excluded.compile_ns,
		     created_at = excluded.created_at`,
		hex.EncodeToString(e.ModuleHash[:]), e.FunctionID,
		e.CodeSize, e.CompileTime.Nanoseconds(),
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("code cache: recording %d: %w", e.FunctionID, err)
	}
	return nil
}

// Lookup returns the recorded entry for (moduleHash, functionID), if any.
func (c *CodeCache) Lookup(moduleHash [32]byte, functionID uint32) (CodeCacheEntry, bool, error) {
	row := c.db.QueryRow(
		`SELECT code_size, compile_ns FROM jit_code
		 WHERE module_hash = ? AND function_id = ?`,
		hex.EncodeToString(moduleHash[:]), functionID,
	)
	e := CodeCacheEntry{ModuleHash: moduleHash, FunctionID: functionID}
	var ns int64
	switch err := row.Scan(&e.CodeSize, &ns); err {
	case nil:
		e.CompileTime = time.Duration(ns)
		return e, true, nil
	case sql.ErrNoRows:
		return CodeCacheEntry{}, false, nil
	default:
		return CodeCacheEntry{}, false, fmt.Errorf("code cache: lookup: %w", err)
	}
}

// CompiledCount returns the number of recorded functions for a module.
func (c *CodeCache) CompiledCount(moduleHash [32]byte) (int, error) {
	row := c.db.QueryRow(
		`SELECT COUNT(*) FROM jit_code WHERE module_hash = ?`,
		hex.EncodeToString(moduleHash[:]),
	)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("code cache: count: %w", err)
	}
	return n, nil
}
