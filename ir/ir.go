// Package ir holds the compiler-side intermediate representation consumed by
// the engine's analysis passes: functions, instructions, frame variables and
// their def-use chains.
package ir

// ---------------------------------------------------------------------------
// Module and Function
// ---------------------------------------------------------------------------

// Attributes are the per-function facts analysis passes maintain.
type Attributes struct {
	// AllCallsitesKnownInStrictMode is true when every call that can reach
	// the function has been identified and bound.
	AllCallsitesKnownInStrictMode bool
	// Unreachable is true when the function provably cannot be called.
	Unreachable bool
}

// Module is one compilation unit: an ordered list of functions, the first of
// which may be the global scope.
type Module struct {
	Functions []*Function

	nextInstID uint32
}

// NewModule creates an empty module.
func NewModule() *Module {
	return &Module{}
}

// NewFunction appends a function to the module.
func (m *Module) NewFunction(name string, globalScope bool) *Function {
	f := &Function{
		Name:        name,
		module:      m,
		globalScope: globalScope,
	}
	f.ParentScopeParam = &Parameter{owner: f, name: "parentScope"}
	f.NewTargetParam = &Parameter{owner: f, name: "new.target"}
	m.Functions = append(m.Functions, f)
	return f
}

func (m *Module) allocInstID() uint32 {
	id := m.nextInstID
	m.nextInstID++
	return id
}

// Function is one IR function.
type Function struct {
	Name string

	// ParentScopeParam is the implicit parameter carrying the enclosing
	// environment; a function that never touches it can be called without
	// one.
	ParentScopeParam *Parameter
	// NewTargetParam is the implicit new.target parameter.
	NewTargetParam *Parameter

	Attributes Attributes

	module      *Module
	globalScope bool

	// Instructions that reference this function as an operand:
	// CreateCallable sites and pre-bound call targets.
	users []Instruction
}

// Parent returns the owning module.
func (f *Function) Parent() *Module {
	return f.module
}

// IsGlobalScope returns true for the module's top-level function.
func (f *Function) IsGlobalScope() bool {
	return f.globalScope
}

// Users returns the instructions referencing this function. The slice may
// grow while a pass iterates; index-based loops see appended users.
func (f *Function) Users() []Instruction {
	return f.users
}

func (f *Function) addUser(inst Instruction) {
	f.users = append(f.users, inst)
}

// Parameter is an implicit function parameter tracked only for use counts.
type Parameter struct {
	owner *Function
	name  string
	users []Instruction
}

// HasUsers returns true if any instruction reads the parameter.
func (p *Parameter) HasUsers() bool {
	return len(p.users) > 0
}

// AddUser records a reader of the parameter.
func (p *Parameter) AddUser(inst Instruction) {
	p.users = append(p.users, inst)
}

// ---------------------------------------------------------------------------
// Variables
// ---------------------------------------------------------------------------

// Variable is a frame slot accessed by LoadFrame/StoreFrame.
type Variable struct {
	Name  string
	users []Instruction
}

// NewVariable creates a named frame variable.
func NewVariable(name string) *Variable {
	return &Variable{Name: name}
}

// Users returns the loads and stores touching the variable.
func (v *Variable) Users() []Instruction {
	return v.users
}

func (v *Variable) addUser(inst Instruction) {
	v.users = append(v.users, inst)
}

// IsStoreOnce returns true when exactly one store reaches every load: the
// variable has a single StoreFrame among its users.
func (v *Variable) IsStoreOnce() bool {
	stores := 0
	for _, u := range v.users {
		if _, ok := u.(*StoreFrameInst); ok {
			stores++
		}
	}
	return stores == 1
}

// ---------------------------------------------------------------------------
// Instructions
// ---------------------------------------------------------------------------

// Instruction is one IR operation. Identity is the stable ID assigned at
// creation; passes key visited sets on it rather than on pointer hashes.
type Instruction interface {
	// ID returns the stable, module-unique instruction ID.
	ID() uint32
	// Kind returns the instruction's kind name, for diagnostics.
	Kind() string
	// Users returns the instructions consuming this instruction's result.
	Users() []Instruction
	// ReplaceUsesOfWith rewrites every operand equal to old into new.
	ReplaceUsesOfWith(old, new Instruction)

	addUser(inst Instruction)
}

// instBase carries the identity and def-use bookkeeping shared by every
// instruction kind.
type instBase struct {
	id    uint32
	users []Instruction
}

func (b *instBase) ID() uint32 {
	return b.id
}

func (b *instBase) Users() []Instruction {
	return b.users
}

func (b *instBase) addUser(inst Instruction) {
	b.users = append(b.users, inst)
}

// useOperand wires inst as a user of operand (if non-nil).
func useOperand(operand, inst Instruction) {
	if operand != nil {
		operand.addUser(inst)
	}
}

// ReplaceAllUsesWith rewrites every use of inst to refer to replacement. The
// replaced instruction is left in place for DCE to reclaim.
func ReplaceAllUsesWith(inst, replacement Instruction) {
	for _, u := range inst.Users() {
		u.ReplaceUsesOfWith(inst, replacement)
		replacement.addUser(u)
	}
}

// ---------------------------------------------------------------------------
// CreateCallable
// ---------------------------------------------------------------------------

// CreateCallableInst creates a closure over FunctionCode with the
// environment produced by Scope.
type CreateCallableInst struct {
	instBase
	functionCode *Function
	scope        Instruction
}

// NewCreateCallable creates a closure-creation instruction.
func (m *Module) NewCreateCallable(fn *Function, scope Instruction) *CreateCallableInst {
	c := &CreateCallableInst{
		instBase:     instBase{id: m.allocInstID()},
		functionCode: fn,
		scope:        scope,
	}
	fn.addUser(c)
	useOperand(scope, c)
	return c
}

// Kind returns "CreateCallable".
func (c *CreateCallableInst) Kind() string { return "CreateCallable" }

// FunctionCode returns the function the closure runs.
func (c *CreateCallableInst) FunctionCode() *Function { return c.functionCode }

// Scope returns the instruction producing the enclosing environment.
func (c *CreateCallableInst) Scope() Instruction { return c.scope }

// ReplaceUsesOfWith rewrites the scope operand.
func (c *CreateCallableInst) ReplaceUsesOfWith(old, new Instruction) {
	if c.scope == old {
		c.scope = new
	}
}

// ---------------------------------------------------------------------------
// Call
// ---------------------------------------------------------------------------

// CallInst calls the value produced by Callee. Target and Environment start
// as empty sentinels (nil) and are bound by the call-graph analysis when the
// callee is known.
type CallInst struct {
	instBase
	callee      Instruction
	target      *Function
	environment Instruction
	args        []Instruction
	newTarget   Instruction
}

// NewCall creates a call instruction. newTarget may be nil for plain calls.
func (m *Module) NewCall(callee Instruction, args []Instruction, newTarget Instruction) *CallInst {
	c := &CallInst{
		instBase:  instBase{id: m.allocInstID()},
		callee:    callee,
		args:      args,
		newTarget: newTarget,
	}
	useOperand(callee, c)
	for _, a := range args {
		useOperand(a, c)
	}
	useOperand(newTarget, c)
	return c
}

// NewCallWithTarget creates a call already bound to a known target; the
// function is recorded as used by the call.
func (m *Module) NewCallWithTarget(callee Instruction, target *Function, args []Instruction) *CallInst {
	c := m.NewCall(callee, args, nil)
	c.target = target
	target.addUser(c)
	return c
}

// Kind returns "Call".
func (c *CallInst) Kind() string { return "Call" }

// Callee returns the called value.
func (c *CallInst) Callee() Instruction { return c.callee }

// Target returns the statically bound callee function, or nil (the empty
// sentinel) when unknown.
func (c *CallInst) Target() *Function { return c.target }

// SetTarget binds the callee function and records the use.
func (c *CallInst) SetTarget(f *Function) {
	c.target = f
	f.addUser(c)
}

// Environment returns the bound environment operand, or nil when unknown.
func (c *CallInst) Environment() Instruction { return c.environment }

// SetEnvironment binds the environment operand.
func (c *CallInst) SetEnvironment(scope Instruction) {
	c.environment = scope
	useOperand(scope, c)
}

// NumArguments returns the argument count.
func (c *CallInst) NumArguments() int { return len(c.args) }

// Argument returns argument i.
func (c *CallInst) Argument(i int) Instruction { return c.args[i] }

// NewTarget returns the new.target operand, or nil.
func (c *CallInst) NewTarget() Instruction { return c.newTarget }

// ReplaceUsesOfWith rewrites callee, argument, environment and new.target
// operands.
func (c *CallInst) ReplaceUsesOfWith(old, new Instruction) {
	if c.callee == old {
		c.callee = new
	}
	if c.environment == old {
		c.environment = new
	}
	if c.newTarget == old {
		c.newTarget = new
	}
	for i, a := range c.args {
		if a == old {
			c.args[i] = new
		}
	}
}

// ---------------------------------------------------------------------------
// Frame access
// ---------------------------------------------------------------------------

// StoreFrameInst stores Value into Variable within Scope.
type StoreFrameInst struct {
	instBase
	variable *Variable
	value    Instruction
	scope    Instruction
}

// NewStoreFrame creates a frame store.
func (m *Module) NewStoreFrame(v *Variable, value, scope Instruction) *StoreFrameInst {
	s := &StoreFrameInst{
		instBase: instBase{id: m.allocInstID()},
		variable: v,
		value:    value,
		scope:    scope,
	}
	v.addUser(s)
	useOperand(value, s)
	useOperand(scope, s)
	return s
}

// Kind returns "StoreFrame".
func (s *StoreFrameInst) Kind() string { return "StoreFrame" }

// Variable returns the stored-to frame slot.
func (s *StoreFrameInst) Variable() *Variable { return s.variable }

// Value returns the stored value.
func (s *StoreFrameInst) Value() Instruction { return s.value }

// Scope returns the scope operand the store goes through.
func (s *StoreFrameInst) Scope() Instruction { return s.scope }

// ReplaceUsesOfWith rewrites value and scope operands.
func (s *StoreFrameInst) ReplaceUsesOfWith(old, new Instruction) {
	if s.value == old {
		s.value = new
	}
	if s.scope == old {
		s.scope = new
	}
}

// LoadFrameInst loads Variable within Scope.
type LoadFrameInst struct {
	instBase
	variable *Variable
	scope    Instruction
}

// NewLoadFrame creates a frame load.
func (m *Module) NewLoadFrame(v *Variable, scope Instruction) *LoadFrameInst {
	l := &LoadFrameInst{
		instBase: instBase{id: m.allocInstID()},
		variable: v,
		scope:    scope,
	}
	v.addUser(l)
	useOperand(scope, l)
	return l
}

// Kind returns "LoadFrame".
func (l *LoadFrameInst) Kind() string { return "LoadFrame" }

// Variable returns the loaded frame slot.
func (l *LoadFrameInst) Variable() *Variable { return l.variable }

// Scope returns the scope operand the load goes through.
func (l *LoadFrameInst) Scope() Instruction { return l.scope }

// ReplaceUsesOfWith rewrites the scope operand.
func (l *LoadFrameInst) ReplaceUsesOfWith(old, new Instruction) {
	if l.scope == old {
		l.scope = new
	}
}

// ---------------------------------------------------------------------------
// Casts and scope extraction
// ---------------------------------------------------------------------------

// GetClosureScopeInst extracts the environment captured by a closure.
type GetClosureScopeInst struct {
	instBase
	closure Instruction
}

// NewGetClosureScope creates a scope-extraction instruction.
func (m *Module) NewGetClosureScope(closure Instruction) *GetClosureScopeInst {
	g := &GetClosureScopeInst{
		instBase: instBase{id: m.allocInstID()},
		closure:  closure,
	}
	useOperand(closure, g)
	return g
}

// Kind returns "GetClosureScope".
func (g *GetClosureScopeInst) Kind() string { return "GetClosureScope" }

// Closure returns the closure operand.
func (g *GetClosureScopeInst) Closure() Instruction { return g.closure }

// ReplaceUsesOfWith rewrites the closure operand.
func (g *GetClosureScopeInst) ReplaceUsesOfWith(old, new Instruction) {
	if g.closure == old {
		g.closure = new
	}
}

// UnionNarrowTrustedInst is a trusted narrowing cast; its result is its
// input.
type UnionNarrowTrustedInst struct {
	instBase
	operand Instruction
}

// NewUnionNarrowTrusted creates a trusted narrowing cast.
func (m *Module) NewUnionNarrowTrusted(operand Instruction) *UnionNarrowTrustedInst {
	u := &UnionNarrowTrustedInst{
		instBase: instBase{id: m.allocInstID()},
		operand:  operand,
	}
	useOperand(operand, u)
	return u
}

// Kind returns "UnionNarrowTrusted".
func (u *UnionNarrowTrustedInst) Kind() string { return "UnionNarrowTrusted" }

// Operand returns the cast input.
func (u *UnionNarrowTrustedInst) Operand() Instruction { return u.operand }

// ReplaceUsesOfWith rewrites the cast input.
func (u *UnionNarrowTrustedInst) ReplaceUsesOfWith(old, new Instruction) {
	if u.operand == old {
		u.operand = new
	}
}

// CheckedTypeCastInst is a checked cast; its result equals its input when
// the target type admits it.
type CheckedTypeCastInst struct {
	instBase
	operand Instruction
	// resultCanBeObject is true when the cast's target type admits object
	// values, i.e. the closure flows through.
	resultCanBeObject bool
}

// NewCheckedTypeCast creates a checked cast.
func (m *Module) NewCheckedTypeCast(operand Instruction, resultCanBeObject bool) *CheckedTypeCastInst {
	c := &CheckedTypeCastInst{
		instBase:          instBase{id: m.allocInstID()},
		operand:           operand,
		resultCanBeObject: resultCanBeObject,
	}
	useOperand(operand, c)
	return c
}

// Kind returns "CheckedTypeCast".
func (c *CheckedTypeCastInst) Kind() string { return "CheckedTypeCast" }

// Operand returns the cast input.
func (c *CheckedTypeCastInst) Operand() Instruction { return c.operand }

// ResultCanBeObject returns true when the result type admits objects.
func (c *CheckedTypeCastInst) ResultCanBeObject() bool { return c.resultCanBeObject }

// ReplaceUsesOfWith rewrites the cast input.
func (c *CheckedTypeCastInst) ReplaceUsesOfWith(old, new Instruction) {
	if c.operand == old {
		c.operand = new
	}
}

// ---------------------------------------------------------------------------
// Miscellaneous
// ---------------------------------------------------------------------------

// ConstructionSetupInst covers the instructions that configure a freshly
// created callable (storing its prototype, caching its shape). They cannot
// leak the closure and do not contribute to the call graph.
type ConstructionSetupInst struct {
	instBase
	closure Instruction
}

// NewConstructionSetup creates a construction-setup instruction over the
// closure.
func (m *Module) NewConstructionSetup(closure Instruction) *ConstructionSetupInst {
	c := &ConstructionSetupInst{
		instBase: instBase{id: m.allocInstID()},
		closure:  closure,
	}
	useOperand(closure, c)
	return c
}

// Kind returns "ConstructionSetup".
func (c *ConstructionSetupInst) Kind() string { return "ConstructionSetup" }

// ReplaceUsesOfWith rewrites the closure operand.
func (c *ConstructionSetupInst) ReplaceUsesOfWith(old, new Instruction) {
	if c.closure == old {
		c.closure = new
	}
}

// OpaqueInst is an instruction the analysis knows nothing about; anything
// flowing into it must be assumed to escape.
type OpaqueInst struct {
	instBase
	kind     string
	operands []Instruction
}

// NewOpaque creates an opaque instruction with the given kind name.
func (m *Module) NewOpaque(kind string, operands ...Instruction) *OpaqueInst {
	o := &OpaqueInst{
		instBase: instBase{id: m.allocInstID()},
		kind:     kind,
		operands: operands,
	}
	for _, op := range operands {
		useOperand(op, o)
	}
	return o
}

// Kind returns the opaque kind name.
func (o *OpaqueInst) Kind() string { return o.kind }

// ReplaceUsesOfWith rewrites matching operands.
func (o *OpaqueInst) ReplaceUsesOfWith(old, new Instruction) {
	for i, op := range o.operands {
		if op == old {
			o.operands[i] = new
		}
	}
}
