package vm

// ---------------------------------------------------------------------------
// Heap: hidden classes, objects, environments, closures, strings
// ---------------------------------------------------------------------------

// HiddenClass is an object-shape descriptor. Objects sharing a shape share a
// class; adding a property transitions to a child class. Property caches key
// on the class ID, so a cache hit proves the slot layout.
type HiddenClass struct {
	ID       HiddenClassID
	Parent   HiddenClassID
	NumSlots uint32

	properties  map[SymbolID]uint32
	transitions map[SymbolID]HiddenClassID
}

// SlotFor returns the slot index of a property, if present.
func (hc *HiddenClass) SlotFor(sym SymbolID) (uint32, bool) {
	slot, ok := hc.properties[sym]
	return slot, ok
}

// heapObject is one allocated cell. Exactly one of the optional parts is
// populated according to kind.
type heapObject struct {
	kind  objectKind
	class HiddenClassID
	slots []LegacyValue

	// closure parts
	fnModule   *RuntimeModule
	functionID uint32
	environment LegacyValue

	// environment parts
	parentEnv LegacyValue

	// marked by the collector
	alive bool
}

type objectKind uint8

const (
	kindPlain objectKind = iota
	kindClosure
	kindEnvironment
)

// Heap owns every allocated object of one runtime. Handles are indices into
// the object vector; index 0 is reserved so that a zero handle is never
// valid.
type Heap struct {
	objects []heapObject
	classes []*HiddenClass

	strings   []string
	stringIDs map[string]uint32

	rootClass HiddenClassID
}

// NewHeap creates an empty heap with the root hidden class installed.
func NewHeap() *Heap {
	h := &Heap{
		objects:   make([]heapObject, 1), // reserve handle 0
		classes:   []*HiddenClass{nil},   // reserve class 0 (invalid)
		stringIDs: make(map[string]uint32),
		strings:   []string{""},
	}
	h.rootClass = h.newClass(InvalidHiddenClass, 0)
	return h
}

// RootClass returns the shape of a fresh empty object.
func (h *Heap) RootClass() HiddenClassID {
	return h.rootClass
}

func (h *Heap) newClass(parent HiddenClassID, numSlots uint32) HiddenClassID {
	id := HiddenClassID(len(h.classes))
	h.classes = append(h.classes, &HiddenClass{
		ID:          id,
		Parent:      parent,
		NumSlots:    numSlots,
		properties:  make(map[SymbolID]uint32),
		transitions: make(map[SymbolID]HiddenClassID),
	})
	return id
}

// Class resolves a hidden-class ID. Panics on an invalid ID.
func (h *Heap) Class(id HiddenClassID) *HiddenClass {
	if id == InvalidHiddenClass || int(id) >= len(h.classes) {
		panic("Heap.Class: invalid hidden class ID")
	}
	return h.classes[id]
}

// TransitionFor returns (creating if needed) the child class reached by
// adding property sym to class id, along with the new property's slot.
func (h *Heap) TransitionFor(id HiddenClassID, sym SymbolID) (HiddenClassID, uint32) {
	hc := h.Class(id)
	if child, ok := hc.transitions[sym]; ok {
		slot, _ := h.Class(child).SlotFor(sym)
		return child, slot
	}
	child := h.newClass(id, hc.NumSlots+1)
	chc := h.Class(child)
	for k, v := range hc.properties {
		chc.properties[k] = v
	}
	slot := hc.NumSlots
	chc.properties[sym] = slot
	hc.transitions[sym] = child
	return child, slot
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func (h *Heap) alloc(obj heapObject) LegacyValue {
	obj.alive = true
	handle := uint32(len(h.objects))
	h.objects = append(h.objects, obj)
	return EncodeObject(handle)
}

// AllocObject allocates a plain object with the given shape.
func (h *Heap) AllocObject(class HiddenClassID) LegacyValue {
	return h.alloc(heapObject{
		kind:  kindPlain,
		class: class,
		slots: make([]LegacyValue, h.Class(class).NumSlots),
	})
}

// AllocEnvironment allocates a scope with size slots and the given parent
// environment (Undefined for the top level).
func (h *Heap) AllocEnvironment(parent LegacyValue, size uint32) LegacyValue {
	slots := make([]LegacyValue, size)
	for i := range slots {
		slots[i] = Undefined
	}
	return h.alloc(heapObject{
		kind:      kindEnvironment,
		class:     h.rootClass,
		slots:     slots,
		parentEnv: parent,
	})
}

// AllocClosure allocates a closure over functionID of module with the given
// environment.
func (h *Heap) AllocClosure(module *RuntimeModule, functionID uint32, env LegacyValue) LegacyValue {
	return h.alloc(heapObject{
		kind:        kindClosure,
		class:       h.rootClass,
		fnModule:    module,
		functionID:  functionID,
		environment: env,
	})
}

func (h *Heap) object(v LegacyValue) *heapObject {
	handle := v.ObjectHandle()
	if handle == 0 || int(handle) >= len(h.objects) {
		panic("Heap.object: invalid handle")
	}
	return &h.objects[handle]
}

// ---------------------------------------------------------------------------
// Object access
// ---------------------------------------------------------------------------

// ObjectClass returns the hidden class of an object value.
func (h *Heap) ObjectClass(v LegacyValue) HiddenClassID {
	return h.object(v).class
}

// GetSlot reads a property slot directly.
func (h *Heap) GetSlot(v LegacyValue, slot uint32) LegacyValue {
	obj := h.object(v)
	if int(slot) >= len(obj.slots) {
		panic("Heap.GetSlot: slot out of range")
	}
	return obj.slots[slot]
}

// SetSlot writes a property slot directly.
func (h *Heap) SetSlot(v LegacyValue, slot uint32, val LegacyValue) {
	obj := h.object(v)
	if int(slot) >= len(obj.slots) {
		panic("Heap.SetSlot: slot out of range")
	}
	obj.slots[slot] = val
}

// AddProperty grows the object by one property, transitioning its hidden
// class, and returns the new slot.
func (h *Heap) AddProperty(v LegacyValue, sym SymbolID) uint32 {
	obj := h.object(v)
	child, slot := h.TransitionFor(obj.class, sym)
	obj.class = child
	obj.slots = append(obj.slots, Undefined)
	return slot
}

// ---------------------------------------------------------------------------
// Closure and environment access
// ---------------------------------------------------------------------------

// IsClosure returns true if v is a closure object.
func (h *Heap) IsClosure(v LegacyValue) bool {
	return v.IsObject() && h.object(v).kind == kindClosure
}

// ClosureTarget returns the module and function a closure runs.
func (h *Heap) ClosureTarget(v LegacyValue) (*RuntimeModule, uint32) {
	obj := h.object(v)
	if obj.kind != kindClosure {
		panic("Heap.ClosureTarget: not a closure")
	}
	return obj.fnModule, obj.functionID
}

// ClosureEnvironment returns a closure's captured environment.
func (h *Heap) ClosureEnvironment(v LegacyValue) LegacyValue {
	obj := h.object(v)
	if obj.kind != kindClosure {
		panic("Heap.ClosureEnvironment: not a closure")
	}
	return obj.environment
}

// EnvironmentParent returns a scope's enclosing scope.
func (h *Heap) EnvironmentParent(v LegacyValue) LegacyValue {
	obj := h.object(v)
	if obj.kind != kindEnvironment {
		panic("Heap.EnvironmentParent: not an environment")
	}
	return obj.parentEnv
}

// EnvironmentSlot reads one environment slot.
func (h *Heap) EnvironmentSlot(v LegacyValue, slot uint32) LegacyValue {
	obj := h.object(v)
	if obj.kind != kindEnvironment {
		panic("Heap.EnvironmentSlot: not an environment")
	}
	return obj.slots[slot]
}

// SetEnvironmentSlot writes one environment slot.
func (h *Heap) SetEnvironmentSlot(v LegacyValue, slot uint32, val LegacyValue) {
	obj := h.object(v)
	if obj.kind != kindEnvironment {
		panic("Heap.SetEnvironmentSlot: not an environment")
	}
	obj.slots[slot] = val
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

// InternString interns s and returns its handle.
func (h *Heap) InternString(s string) uint32 {
	if id, ok := h.stringIDs[s]; ok {
		return id
	}
	id := uint32(len(h.strings))
	h.strings = append(h.strings, s)
	h.stringIDs[s] = id
	return id
}

// StringAt resolves a string handle.
func (h *Heap) StringAt(handle uint32) string {
	if int(handle) >= len(h.strings) {
		panic("Heap.StringAt: invalid handle")
	}
	return h.strings[handle]
}

// ClassAlive reports whether a class is still registered: it is false for
// the invalid ID, for unknown IDs and for classes reclaimed by DropClass, and
// true otherwise. Reachability from live objects is not examined.
func (h *Heap) ClassAlive(id HiddenClassID) bool {
	if id == InvalidHiddenClass || int(id) >= len(h.classes) {
		return false
	}
	return h.classes[id] != nil
}

// DropClass reclaims a hidden class. Only the collector calls this; caches
// referencing the class are cleared on the next weak-root pass.
func (h *Heap) DropClass(id HiddenClassID) {
	if id == InvalidHiddenClass || int(id) >= len(h.classes) {
		return
	}
	h.classes[id] = nil
}
