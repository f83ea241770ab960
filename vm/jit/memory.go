package jit

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// ---------------------------------------------------------------------------
// Executable memory
// ---------------------------------------------------------------------------

// ExecHeap owns the executable memory of one JIT runtime. Code is added
// through Add, the only acquisition path; returned pointers stay valid
// until the heap is torn down.
type ExecHeap struct {
	mu       sync.Mutex
	chunks   [][]byte
	used     int
	limit    int64
	pageSize int
}

// NewExecHeap creates an executable heap. limitBytes caps the total
// allocation; zero means unlimited.
func NewExecHeap(limitBytes int64) *ExecHeap {
	return &ExecHeap{
		limit:    limitBytes,
		pageSize: unix.Getpagesize(),
	}
}

// Add copies code into fresh executable memory and returns the mapped
// bytes. The mapping is W^X: written under PROT_WRITE, then flipped to
// PROT_READ|PROT_EXEC.
func (h *ExecHeap) Add(code []byte) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := (len(code) + h.pageSize - 1) &^ (h.pageSize - 1)
	if h.limit > 0 && int64(h.used+size) > h.limit {
		return nil, fmt.Errorf("jit: executable heap limit exceeded (%d + %d > %d)", h.used, size, h.limit)
	}

	mem, err := unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("jit: mmap: %w", err)
	}
	copy(mem, code)
	if err := unix.Mprotect(mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		unix.Munmap(mem)
		return nil, fmt.Errorf("jit: mprotect: %w", err)
	}

	h.chunks = append(h.chunks, mem)
	h.used += size
	return mem[:len(code)], nil
}

// Used returns the bytes currently mapped.
func (h *ExecHeap) Used() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.used
}

// Release unmaps everything. Pointers returned by Add become invalid.
func (h *ExecHeap) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.chunks {
		unix.Munmap(c)
	}
	h.chunks = nil
	h.used = 0
}
