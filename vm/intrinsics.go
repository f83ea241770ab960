package vm

import (
	"math"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Runtime helper ABI
// ---------------------------------------------------------------------------
//
// These are the slow-path entry points JIT code reaches through thunks. Each
// takes the runtime first and LegacyValue pointers for inputs, mirroring the
// C ABI of the original engine (the doc comment of each function names its
// original symbol). Value-returning helpers signal failure by leaving the
// thrown value pending on the runtime and returning Empty, which is never a
// legal result of these operations; helpers without a result that can fail
// return ExecutionStatus.
// JIT code polls for the failure sentinel after each call.

// ToNumber implements _sh_ljs_to_numeric_rjs: the ToNumber coercion.
func ToNumber(r *Runtime, v *LegacyValue) LegacyValue {
	val := *v
	switch {
	case val.IsDouble():
		return val
	case val.IsBool():
		if val.Bool() {
			return EncodeDouble(1)
		}
		return EncodeDouble(0)
	case val.IsNull():
		return EncodeDouble(0)
	case val.IsUndefined():
		return EncodeDouble(math.NaN())
	case val.IsString():
		s := strings.TrimSpace(r.heap.StringAt(val.StringHandle()))
		if s == "" {
			return EncodeDouble(0)
		}
		d, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return EncodeDouble(math.NaN())
		}
		return EncodeDouble(d)
	default:
		// Objects coerce through valueOf in full JS; the core's object
		// model has no user-defined valueOf, so they are NaN.
		return EncodeDouble(math.NaN())
	}
}

func toNumberOperand(r *Runtime, v *LegacyValue) float64 {
	return ToNumber(r, v).Double()
}

// Add implements _sh_ljs_add_rjs: generic JS addition, including string
// concatenation.
func Add(r *Runtime, l, rv *LegacyValue) LegacyValue {
	if l.IsString() || rv.IsString() {
		return EncodeString(r.heap.InternString(r.toDisplayString(*l) + r.toDisplayString(*rv)))
	}
	return EncodeDouble(toNumberOperand(r, l) + toNumberOperand(r, rv))
}

// Sub implements _sh_ljs_sub_rjs.
func Sub(r *Runtime, l, rv *LegacyValue) LegacyValue {
	return EncodeDouble(toNumberOperand(r, l) - toNumberOperand(r, rv))
}

// Mul implements _sh_ljs_mul_rjs.
func Mul(r *Runtime, l, rv *LegacyValue) LegacyValue {
	return EncodeDouble(toNumberOperand(r, l) * toNumberOperand(r, rv))
}

// Div implements _sh_ljs_div_rjs.
func Div(r *Runtime, l, rv *LegacyValue) LegacyValue {
	return EncodeDouble(toNumberOperand(r, l) / toNumberOperand(r, rv))
}

// Inc implements _sh_ljs_inc_rjs: ToNumber then add one.
func Inc(r *Runtime, v *LegacyValue) LegacyValue {
	return EncodeDouble(toNumberOperand(r, v) + 1)
}

// Dec implements _sh_ljs_dec_rjs: ToNumber then subtract one.
func Dec(r *Runtime, v *LegacyValue) LegacyValue {
	return EncodeDouble(toNumberOperand(r, v) - 1)
}

// Greater implements _sh_ljs_greater_rjs: the JS abstract relational
// comparison l > r.
func Greater(r *Runtime, l, rv *LegacyValue) LegacyValue {
	if l.IsString() && rv.IsString() {
		return EncodeBool(r.heap.StringAt(l.StringHandle()) > r.heap.StringAt(rv.StringHandle()))
	}
	return EncodeBool(toNumberOperand(r, l) > toNumberOperand(r, rv))
}

// GreaterEqual implements _sh_ljs_greater_equal_rjs.
func GreaterEqual(r *Runtime, l, rv *LegacyValue) LegacyValue {
	if l.IsString() && rv.IsString() {
		return EncodeBool(r.heap.StringAt(l.StringHandle()) >= r.heap.StringAt(rv.StringHandle()))
	}
	return EncodeBool(toNumberOperand(r, l) >= toNumberOperand(r, rv))
}

// Less implements _sh_ljs_less_rjs.
func Less(r *Runtime, l, rv *LegacyValue) LegacyValue {
	if l.IsString() && rv.IsString() {
		return EncodeBool(r.heap.StringAt(l.StringHandle()) < r.heap.StringAt(rv.StringHandle()))
	}
	return EncodeBool(toNumberOperand(r, l) < toNumberOperand(r, rv))
}

// LessEqual implements _sh_ljs_less_equal_rjs.
func LessEqual(r *Runtime, l, rv *LegacyValue) LegacyValue {
	if l.IsString() && rv.IsString() {
		return EncodeBool(r.heap.StringAt(l.StringHandle()) <= r.heap.StringAt(rv.StringHandle()))
	}
	return EncodeBool(toNumberOperand(r, l) <= toNumberOperand(r, rv))
}

// toDisplayString is the minimal ToString used by Add and error messages.
func (r *Runtime) toDisplayString(v LegacyValue) string {
	switch {
	case v.IsString():
		return r.heap.StringAt(v.StringHandle())
	case v.IsDouble():
		return strconv.FormatFloat(v.Double(), 'g', -1, 64)
	case v.IsBool():
		if v.Bool() {
			return "true"
		}
		return "false"
	case v.IsNull():
		return "null"
	case v.IsUndefined():
		return "undefined"
	default:
		return "[object Object]"
	}
}

// ---------------------------------------------------------------------------
// Property access helpers
// ---------------------------------------------------------------------------

// GetByID implements _sh_ljs_get_by_id_rjs: generic property read that
// repopulates the inline cache entry on the way out. Returns Empty with a
// pending exception when source has no properties.
func GetByID(r *Runtime, source *LegacyValue, sym SymbolID, cacheEntry *PropertyCacheEntry) LegacyValue {
	if !source.IsObject() {
		r.RaiseTypeError("cannot read properties of " + r.toDisplayString(*source))
		return Empty
	}
	class := r.heap.ObjectClass(*source)
	slot, ok := r.heap.Class(class).SlotFor(sym)
	if !ok {
		return Undefined
	}
	if cacheEntry != nil {
		cacheEntry.Class = class
		cacheEntry.Slot = slot
	}
	return r.heap.GetSlot(*source, slot)
}

// TryGetByID implements _sh_ljs_try_get_by_id_rjs: like GetByID but for
// global reads, throwing on a missing property.
func TryGetByID(r *Runtime, source *LegacyValue, sym SymbolID, cacheEntry *PropertyCacheEntry) LegacyValue {
	if !source.IsObject() {
		r.RaiseTypeError("cannot read properties of " + r.toDisplayString(*source))
		return Empty
	}
	class := r.heap.ObjectClass(*source)
	slot, ok := r.heap.Class(class).SlotFor(sym)
	if !ok {
		r.RaiseError("ReferenceError: property is not defined")
		return Empty
	}
	if cacheEntry != nil {
		cacheEntry.Class = class
		cacheEntry.Slot = slot
	}
	return r.heap.GetSlot(*source, slot)
}

func putByID(r *Runtime, target *LegacyValue, sym SymbolID, value *LegacyValue, cacheEntry *PropertyCacheEntry, strict bool) ExecutionStatus {
	if !target.IsObject() {
		if strict {
			return r.RaiseTypeError("cannot set properties of " + r.toDisplayString(*target))
		}
		return StatusReturned
	}
	class := r.heap.ObjectClass(*target)
	slot, ok := r.heap.Class(class).SlotFor(sym)
	if !ok {
		slot = r.heap.AddProperty(*target, sym)
		class = r.heap.ObjectClass(*target)
	}
	if cacheEntry != nil {
		cacheEntry.Class = class
		cacheEntry.Slot = slot
	}
	r.heap.SetSlot(*target, slot, *value)
	return StatusReturned
}

// PutByIDLoose implements _sh_ljs_put_by_id_loose_rjs.
func PutByIDLoose(r *Runtime, target *LegacyValue, sym SymbolID, value *LegacyValue, cacheEntry *PropertyCacheEntry) ExecutionStatus {
	return putByID(r, target, sym, value, cacheEntry, false)
}

// PutByIDStrict implements _sh_ljs_put_by_id_strict_rjs.
func PutByIDStrict(r *Runtime, target *LegacyValue, sym SymbolID, value *LegacyValue, cacheEntry *PropertyCacheEntry) ExecutionStatus {
	return putByID(r, target, sym, value, cacheEntry, true)
}

// GetByVal implements _sh_ljs_get_by_val_rjs: computed property read.
func GetByVal(r *Runtime, source, key *LegacyValue) LegacyValue {
	if !source.IsObject() {
		r.RaiseTypeError("cannot read properties of " + r.toDisplayString(*source))
		return Empty
	}
	sym := SymbolID(r.heap.InternString(r.toDisplayString(*key)))
	return GetByID(r, source, sym, nil)
}

// PutByValLoose implements _sh_ljs_put_by_val_loose_rjs.
func PutByValLoose(r *Runtime, target, key, value *LegacyValue) ExecutionStatus {
	sym := SymbolID(r.heap.InternString(r.toDisplayString(*key)))
	return putByID(r, target, sym, value, nil, false)
}

// PutByValStrict implements _sh_ljs_put_by_val_strict_rjs.
func PutByValStrict(r *Runtime, target, key, value *LegacyValue) ExecutionStatus {
	sym := SymbolID(r.heap.InternString(r.toDisplayString(*key)))
	return putByID(r, target, sym, value, nil, true)
}

// ---------------------------------------------------------------------------
// Environment and closure helpers
// ---------------------------------------------------------------------------

// CreateEnvironment implements _sh_ljs_create_environment: allocate a scope
// with size slots under parent.
func CreateEnvironment(r *Runtime, parent *LegacyValue, size uint32) LegacyValue {
	return r.heap.AllocEnvironment(*parent, size)
}

// CreateClosure implements _sh_ljs_create_closure: allocate a closure over
// functionID of module, capturing env, in the module's domain.
func CreateClosure(r *Runtime, env *LegacyValue, module *RuntimeModule, functionID uint32) LegacyValue {
	return r.heap.AllocClosure(module, functionID, *env)
}

// GetParentEnvironment walks level links up the scope chain.
func GetParentEnvironment(r *Runtime, env *LegacyValue, level uint32) LegacyValue {
	e := *env
	for i := uint32(0); i < level; i++ {
		e = r.heap.EnvironmentParent(e)
	}
	return e
}

// DeclareGlobalVar implements _sh_ljs_declare_global_var: ensure the global
// object has a property for sym.
func DeclareGlobalVar(r *Runtime, sym SymbolID) {
	global := r.GlobalObject()
	class := r.heap.ObjectClass(global)
	if _, ok := r.heap.Class(class).SlotFor(sym); !ok {
		r.heap.AddProperty(global, sym)
	}
}

// ThrowCurrent implements _sh_throw_current: record the value as the pending
// exception so the unwinder can pick it up.
func ThrowCurrent(r *Runtime, v *LegacyValue) ExecutionStatus {
	r.SetThrownValue(*v)
	return StatusException
}

// ---------------------------------------------------------------------------
// Helper registry
// ---------------------------------------------------------------------------

// The JIT references helpers by opaque token: registerCall stores the token
// in RO data and the thunk branches through it. Tokens are stable for the
// process lifetime, which is all the dedup laws need.

// HelperToken identifies a runtime helper in JIT metadata.
type HelperToken uintptr

var (
	helperNames  = map[HelperToken]string{}
	helperTokens = map[string]HelperToken{}
	nextHelper   HelperToken = 0x1000
)

// RegisterHelperSymbol assigns (or returns the existing) token for a helper
// symbol name.
func RegisterHelperSymbol(name string) HelperToken {
	if tok, ok := helperTokens[name]; ok {
		return tok
	}
	tok := nextHelper
	nextHelper += 16
	helperTokens[name] = tok
	helperNames[tok] = name
	return tok
}

// HelperSymbolName resolves a token back to its symbol name, or "".
func HelperSymbolName(tok HelperToken) string {
	return helperNames[tok]
}

// Canonical helper tokens, in the order the emitter references them.
var (
	HelperAdd           = RegisterHelperSymbol("_sh_ljs_add_rjs")
	HelperSub           = RegisterHelperSymbol("_sh_ljs_sub_rjs")
	HelperMul           = RegisterHelperSymbol("_sh_ljs_mul_rjs")
	HelperDiv           = RegisterHelperSymbol("_sh_ljs_div_rjs")
	HelperInc           = RegisterHelperSymbol("_sh_ljs_inc_rjs")
	HelperDec           = RegisterHelperSymbol("_sh_ljs_dec_rjs")
	HelperToNumeric     = RegisterHelperSymbol("_sh_ljs_to_numeric_rjs")
	HelperGreater       = RegisterHelperSymbol("_sh_ljs_greater_rjs")
	HelperGreaterEqual  = RegisterHelperSymbol("_sh_ljs_greater_equal_rjs")
	HelperLess          = RegisterHelperSymbol("_sh_ljs_less_rjs")
	HelperLessEqual     = RegisterHelperSymbol("_sh_ljs_less_equal_rjs")
	HelperGetByID       = RegisterHelperSymbol("_sh_ljs_get_by_id_rjs")
	HelperTryGetByID    = RegisterHelperSymbol("_sh_ljs_try_get_by_id_rjs")
	HelperPutByIDLoose  = RegisterHelperSymbol("_sh_ljs_put_by_id_loose_rjs")
	HelperPutByIDStrict = RegisterHelperSymbol("_sh_ljs_put_by_id_strict_rjs")
	HelperTryPutByIDLoose  = RegisterHelperSymbol("_sh_ljs_try_put_by_id_loose_rjs")
	HelperTryPutByIDStrict = RegisterHelperSymbol("_sh_ljs_try_put_by_id_strict_rjs")
	HelperGetByVal      = RegisterHelperSymbol("_sh_ljs_get_by_val_rjs")
	HelperPutByValLoose = RegisterHelperSymbol("_sh_ljs_put_by_val_loose_rjs")
	HelperPutByValStrict = RegisterHelperSymbol("_sh_ljs_put_by_val_strict_rjs")
	HelperCall          = RegisterHelperSymbol("_sh_ljs_call_rjs")
	HelperCallBuiltin   = RegisterHelperSymbol("_sh_ljs_call_builtin_rjs")
	HelperGetBuiltinClosure = RegisterHelperSymbol("_sh_ljs_get_builtin_closure_rjs")
	HelperCreateEnvironment = RegisterHelperSymbol("_sh_ljs_create_environment")
	HelperCreateClosure = RegisterHelperSymbol("_sh_ljs_create_closure")
	HelperDeclareGlobalVar = RegisterHelperSymbol("_sh_ljs_declare_global_var")
	HelperIsIn          = RegisterHelperSymbol("_sh_ljs_is_in_rjs")
	HelperThrowCurrent  = RegisterHelperSymbol("_sh_throw_current")
	HelperInterpreterCall = RegisterHelperSymbol("_interpreter_call")
)
