package ir

import (
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// FunctionAnalysis: call-graph pass
// ---------------------------------------------------------------------------
//
// The pass propagates created closures to their callsites. For each
// CreateCallable it follows the closure value through casts and store-once
// frame variables; every call that definitely invokes the closure gets its
// target (and, when derivable, environment) operand bound. Any use the
// analysis cannot account for falsifies the function's "all callsites
// known" attribute.

var faLog = commonlog.GetLogger("kestrel.ir.functionanalysis")

// registerCallsite sets the call's target/env operands if they haven't been
// set yet. scope may be nil when the closure's scope is not available at the
// callsite.
func registerCallsite(call *CallInst, callee *CreateCallableInst, scope Instruction) {
	if call.Target() == nil {
		call.SetTarget(callee.FunctionCode())
	}

	// Populate the environment only if the function actually uses its
	// parent scope.
	if scope != nil && call.Environment() == nil &&
		callee.FunctionCode().ParentScopeParam.HasUsers() {
		call.SetEnvironment(scope)
	}
}

// canEscapeThroughCall checks whether the call may leak closure c of
// function f.
func canEscapeThroughCall(c Instruction, f *Function, call *CallInst) bool {
	// The call does not actually invoke c, so assume it leaks.
	if call.Callee() != c {
		return true
	}

	// The closure passed as an ordinary argument escapes into the callee.
	for i, e := 0, call.NumArguments(); i < e; i++ {
		if call.Argument(i) == c {
			return true
		}
	}

	// new.target leaks only if the function reads it.
	if c == call.NewTarget() && f.NewTargetParam.HasUsers() {
		return true
	}

	return false
}

// userAndScope is one worklist element: an instruction known to produce the
// closure value, and the instruction producing its scope at that point (nil
// when unknown).
type userAndScope struct {
	closure Instruction
	scope   Instruction
}

// analyzeCreateCallable finds all callsites that could call the function via
// the closure made by create and registers them. It follows the closure
// through calls that use it directly and through store-once frame
// variables.
func analyzeCreateCallable(create *CreateCallableInst) {
	f := create.FunctionCode()

	// LIFO worklist of instructions whose result is known to be the
	// closure. Seeded with create itself; grows with loads and casts.
	worklist := []userAndScope{{create, create.Scope()}}

	// Visited set keyed by stable instruction ID: two variables holding the
	// same closure would otherwise bounce the analysis between their loads
	// forever.
	visited := map[uint32]bool{}

	for len(worklist) > 0 {
		item := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]
		closureInst, knownScope := item.closure, item.scope

		if visited[closureInst.ID()] {
			continue
		}
		visited[closureInst.ID()] = true

		for _, closureUser := range closureInst.Users() {
			switch u := closureUser.(type) {
			case *CallInst:
				if canEscapeThroughCall(closureInst, f, u) {
					f.Attributes.AllCallsitesKnownInStrictMode = false
				}
				if u.Callee() == closureInst {
					registerCallsite(u, create, knownScope)
				}

			case *ConstructionSetupInst:
				// Configures the new callable; no leak, no call.

			case *GetClosureScopeInst:
				// If the scope is known, forward it to the users. The
				// now-dead instruction is left for DCE; deleting while
				// iterating the IR is not safe here.
				if knownScope != nil {
					ReplaceAllUsesWith(u, knownScope)
				}

			case *UnionNarrowTrustedInst:
				// A cast; the result is the same closure. Follow it.
				worklist = append(worklist, userAndScope{u, knownScope})

			case *CheckedTypeCastInst:
				// Same, as long as the result type can hold the closure.
				if u.ResultCanBeObject() {
					worklist = append(worklist, userAndScope{u, knownScope})
				} else {
					f.Attributes.AllCallsitesKnownInStrictMode = false
				}

			case *StoreFrameInst:
				v := u.Variable()
				if !v.IsStoreOnce() {
					// Multiple stores; give up on this variable.
					f.Attributes.AllCallsitesKnownInStrictMode = false
					continue
				}

				// The closure's scope propagates through the variable only
				// when the store goes through the same scope: the load then
				// sees a pointer back to it.
				propagateScope := u.Scope() == knownScope

				for _, varUser := range v.Users() {
					load, ok := varUser.(*LoadFrameInst)
					if !ok {
						// Stores all store the same closure; skip them.
						continue
					}
					var loadScope Instruction
					if propagateScope {
						loadScope = load.Scope()
					}
					worklist = append(worklist, userAndScope{load, loadScope})
				}

			default:
				faLog.Debugf("unknown user of function %q: %s", f.Name, closureUser.Kind())
				f.Attributes.AllCallsitesKnownInStrictMode = false
			}
		}
	}
}

// analyzeFunctionCallsites finds and registers the callsites of f.
func analyzeFunctionCallsites(f *Function) {
	// Start from a position of knowing all callsites.
	f.Attributes.AllCallsitesKnownInStrictMode = true

	if f.IsGlobalScope() {
		// The global function is called by the runtime itself.
		f.Attributes.AllCallsitesKnownInStrictMode = false
	}

	// Users can be appended while the loop runs (SetTarget adds the call as
	// a user), so iterate by index over the live slice.
	for i := 0; i < len(f.Users()); i++ {
		switch user := f.Users()[i].(type) {
		case *CreateCallableInst:
			analyzeCreateCallable(user)

		case *CallInst:
			// Use as the pre-bound call target; nothing to do.
			_ = user

		default:
			faLog.Debugf("unknown function user: %s", user.Kind())
			f.Attributes.AllCallsitesKnownInStrictMode = false
		}
	}

	// All callsites known and none of them calls: the function is
	// unreachable.
	if f.Attributes.AllCallsitesKnownInStrictMode {
		anyCall := false
		for _, u := range f.Users() {
			if _, ok := u.(*CallInst); ok {
				anyCall = true
				break
			}
		}
		f.Attributes.Unreachable = !anyCall
	}
}

// FunctionAnalysis is the module pass binding call targets and environments
// and maintaining the callsite attributes.
type FunctionAnalysis struct{}

// NewFunctionAnalysis creates the pass.
func NewFunctionAnalysis() *FunctionAnalysis {
	return &FunctionAnalysis{}
}

// Name returns the pass name.
func (p *FunctionAnalysis) Name() string {
	return "FunctionAnalysis"
}

// RunOnModule analyzes every potential callsite of every function and binds
// target/environment operands where the callee is definitely known.
func (p *FunctionAnalysis) RunOnModule(m *Module) bool {
	for _, f := range m.Functions {
		analyzeFunctionCallsites(f)
	}
	return true
}
