package vm

// Inline property caching.
//
// Each get/put-by-id site in a function owns one PropertyCacheEntry inside
// its CodeBlock. The entry memoises the last (hidden class, slot) pair the
// site observed; the JIT fast path compares the receiver's hidden class
// against the cached one and hits the slot directly on a match. The slow
// helpers repopulate the entry on a miss.
//
// Entries reference hidden classes weakly: during GC root marking the cache
// is traversed through a WeakRootAcceptor, and entries whose class has been
// reclaimed are cleared back to empty.

// HiddenClassID identifies an object-shape descriptor in the runtime's class
// registry. Zero is reserved for "no class".
type HiddenClassID uint32

// InvalidHiddenClass marks an empty cache entry.
const InvalidHiddenClass HiddenClassID = 0

// PropertyCacheEntry is a monomorphic inline cache: a hidden class paired
// with the property's slot index inside objects of that class.
//
// The layout is part of the JIT ABI: the emitter addresses entries as
// 8-byte records (class in the low word, slot in the high word) relative to
// the cache base pointers it plants in RO data. Do not reorder the fields.
type PropertyCacheEntry struct {
	Class HiddenClassID
	Slot  uint32
}

// IsEmpty returns true if the entry has no cached class.
func (e *PropertyCacheEntry) IsEmpty() bool {
	return e.Class == InvalidHiddenClass
}

// Clear resets the entry to the empty state.
func (e *PropertyCacheEntry) Clear() {
	e.Class = InvalidHiddenClass
	e.Slot = 0
}

// PropertyCacheEntrySize is the byte size of one entry as seen by JIT code.
const PropertyCacheEntrySize = 8

// WeakRootAcceptor visits weak references during GC root marking. AcceptWeak
// receives a pointer to the hidden-class field so the collector can clear it
// in place when the class is unreachable.
type WeakRootAcceptor interface {
	AcceptWeak(class *HiddenClassID)
}
