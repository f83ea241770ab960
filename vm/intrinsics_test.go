package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Arithmetic helpers
// ---------------------------------------------------------------------------

func TestAddNumbers(t *testing.T) {
	r := NewRuntime(Features{})
	l, rv := EncodeDouble(2.5), EncodeDouble(4)
	if got := Add(r, &l, &rv); got.Double() != 6.5 {
		t.Errorf("Add = %v", got.Double())
	}
}

func TestAddStringConcat(t *testing.T) {
	r := NewRuntime(Features{})
	l := EncodeString(r.Heap().InternString("foo"))
	rv := EncodeDouble(3)
	got := Add(r, &l, &rv)
	if !got.IsString() || r.Heap().StringAt(got.StringHandle()) != "foo3" {
		t.Errorf("Add string = %q", r.Heap().StringAt(got.StringHandle()))
	}
}

func TestAddCoercesNonNumbers(t *testing.T) {
	r := NewRuntime(Features{})
	l, rv := True, Null
	if got := Add(r, &l, &rv); got.Double() != 1 {
		t.Errorf("true + null = %v, want 1", got.Double())
	}
}

func TestToNumber(t *testing.T) {
	r := NewRuntime(Features{})
	s := EncodeString(r.Heap().InternString("  42 "))
	u := Undefined
	n := Null

	tests := []struct {
		name string
		v    *LegacyValue
		want float64
	}{
		{"string", &s, 42},
		{"null", &n, 0},
	}
	for _, tt := range tests {
		if got := ToNumber(r, tt.v).Double(); got != tt.want {
			t.Errorf("ToNumber(%s) = %v, want %v", tt.name, got, tt.want)
		}
	}
	if got := ToNumber(r, &u).Double(); !math.IsNaN(got) {
		t.Errorf("ToNumber(undefined) = %v, want NaN", got)
	}
}

func TestIncDec(t *testing.T) {
	r := NewRuntime(Features{})
	v := EncodeDouble(41)
	if got := Inc(r, &v).Double(); got != 42 {
		t.Errorf("Inc = %v", got)
	}
	if got := Dec(r, &v).Double(); got != 40 {
		t.Errorf("Dec = %v", got)
	}
}

func TestComparisons(t *testing.T) {
	r := NewRuntime(Features{})
	two, three := EncodeDouble(2), EncodeDouble(3)
	nan := EncodeDouble(math.NaN())

	if Greater(r, &three, &two) != True {
		t.Error("3 > 2 must hold")
	}
	if Greater(r, &nan, &two) != False {
		t.Error("NaN comparisons are always false")
	}
	if GreaterEqual(r, &two, &two) != True {
		t.Error("2 >= 2 must hold")
	}
	a := EncodeString(r.Heap().InternString("a"))
	b := EncodeString(r.Heap().InternString("b"))
	if Less(r, &a, &b) != True {
		t.Error("string comparison must be lexicographic")
	}
}

// ---------------------------------------------------------------------------
// Property helpers and the inline cache contract
// ---------------------------------------------------------------------------

func TestGetByIDPopulatesCache(t *testing.T) {
	r := NewRuntime(Features{})
	h := r.Heap()
	obj := h.AllocObject(h.RootClass())
	sym := SymbolID(h.InternString("x"))

	var entry PropertyCacheEntry
	val := EncodeDouble(7)
	if st := PutByIDLoose(r, &obj, sym, &val, &entry); st != StatusReturned {
		t.Fatalf("PutByIDLoose = %v", st)
	}
	if entry.IsEmpty() {
		t.Fatal("put did not populate the cache entry")
	}
	if entry.Class != h.ObjectClass(obj) {
		t.Error("cached class disagrees with the object")
	}

	var readEntry PropertyCacheEntry
	got := GetByID(r, &obj, sym, &readEntry)
	if got.Double() != 7 {
		t.Errorf("GetByID = %v", got)
	}
	if readEntry.Class != h.ObjectClass(obj) || readEntry.Slot != entry.Slot {
		t.Error("read cache entry not populated to the same slot")
	}

	// A direct slot access through the cache must agree.
	if h.GetSlot(obj, readEntry.Slot).Double() != 7 {
		t.Error("cached slot index does not reach the stored value")
	}
}

func TestGetByIDMissingProperty(t *testing.T) {
	r := NewRuntime(Features{})
	h := r.Heap()
	obj := h.AllocObject(h.RootClass())
	sym := SymbolID(h.InternString("missing"))

	if got := GetByID(r, &obj, sym, nil); !got.IsUndefined() {
		t.Errorf("missing property = %v, want undefined", got)
	}
	if !TryGetByID(r, &obj, sym, nil).IsEmpty() || !r.HasThrownValue() {
		t.Error("TryGetByID on a missing property must throw")
	}
}

func TestGetByIDOnNonObject(t *testing.T) {
	r := NewRuntime(Features{})
	v := Undefined
	got := GetByID(r, &v, 1, nil)
	if !got.IsEmpty() {
		t.Error("helper must return the Empty sentinel on failure")
	}
	if !r.HasThrownValue() {
		t.Error("failure must leave a pending exception")
	}
}

func TestHiddenClassTransitionsShared(t *testing.T) {
	r := NewRuntime(Features{})
	h := r.Heap()
	sym := SymbolID(h.InternString("p"))

	a := h.AllocObject(h.RootClass())
	b := h.AllocObject(h.RootClass())
	v := EncodeDouble(1)
	PutByIDLoose(r, &a, sym, &v, nil)
	PutByIDLoose(r, &b, sym, &v, nil)

	if h.ObjectClass(a) != h.ObjectClass(b) {
		t.Error("objects built the same way must share a hidden class")
	}
}

// ---------------------------------------------------------------------------
// Environments and closures
// ---------------------------------------------------------------------------

func TestEnvironmentChain(t *testing.T) {
	r := NewRuntime(Features{})
	parent := Undefined
	outer := CreateEnvironment(r, &parent, 2)
	inner := CreateEnvironment(r, &outer, 1)

	r.Heap().SetEnvironmentSlot(outer, 1, EncodeDouble(9))
	if GetParentEnvironment(r, &inner, 1) != outer {
		t.Error("one level up from inner must be outer")
	}
	if r.Heap().EnvironmentSlot(outer, 1).Double() != 9 {
		t.Error("environment slot write lost")
	}
}

func TestCreateClosure(t *testing.T) {
	p := &testProvider{
		headers:   []RuntimeFunctionHeader{defaultHeader(8, 0, 0)},
		bytecodes: [][]byte{simpleBytecode(8)},
		strings:   []string{"f"},
	}
	r, m := newTestModule(t, Features{}, p)
	parent := Undefined
	env := CreateEnvironment(r, &parent, 0)
	clo := CreateClosure(r, &env, m, 0)

	if !r.Heap().IsClosure(clo) {
		t.Fatal("CreateClosure did not make a closure")
	}
	gotModule, gotID := r.Heap().ClosureTarget(clo)
	if gotModule != m || gotID != 0 {
		t.Error("closure target lost")
	}
	if r.Heap().ClosureEnvironment(clo) != env {
		t.Error("closure environment lost")
	}
}

func TestDeclareGlobalVar(t *testing.T) {
	r := NewRuntime(Features{})
	sym := SymbolID(r.Heap().InternString("g"))
	DeclareGlobalVar(r, sym)
	DeclareGlobalVar(r, sym) // idempotent

	global := r.GlobalObject()
	class := r.Heap().ObjectClass(global)
	if _, ok := r.Heap().Class(class).SlotFor(sym); !ok {
		t.Error("global property not declared")
	}
}

// ---------------------------------------------------------------------------
// Helper registry
// ---------------------------------------------------------------------------

func TestHelperTokensStable(t *testing.T) {
	if RegisterHelperSymbol("_sh_ljs_add_rjs") != HelperAdd {
		t.Error("re-registering a symbol must return the same token")
	}
	if HelperSymbolName(HelperAdd) != "_sh_ljs_add_rjs" {
		t.Errorf("HelperSymbolName = %q", HelperSymbolName(HelperAdd))
	}
	if HelperAdd == HelperSub {
		t.Error("distinct helpers must get distinct tokens")
	}
}

func TestThrowCurrent(t *testing.T) {
	r := NewRuntime(Features{})
	v := EncodeDouble(13)
	if ThrowCurrent(r, &v) != StatusException {
		t.Error("ThrowCurrent must report an exception")
	}
	if r.ThrownValue() != v {
		t.Error("thrown value lost")
	}
	r.ClearThrownValue()
	if r.HasThrownValue() {
		t.Error("ClearThrownValue left the exception pending")
	}
}
