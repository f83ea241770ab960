package ir

// Pass is a module-level transformation or analysis.
type Pass interface {
	// Name returns the pass name for diagnostics.
	Name() string
	// RunOnModule runs the pass; it returns true if the module changed.
	RunOnModule(m *Module) bool
}

// RunPasses runs the passes in order and returns true if any changed the
// module.
func RunPasses(m *Module, passes ...Pass) bool {
	changed := false
	for _, p := range passes {
		if p.RunOnModule(m) {
			changed = true
		}
	}
	return changed
}
