package vm

// ExceptionHandlerRange is one entry of a function's exception table: a
// half-open bytecode range [Start, End) guarded by the handler at Target.
type ExceptionHandlerRange struct {
	Start  uint32
	End    uint32
	Target uint32
}

// Contains returns true if off falls inside the guarded range.
func (r *ExceptionHandlerRange) Contains(off uint32) bool {
	return r.Start <= off && off < r.End
}

// width returns the size of the guarded range.
func (r *ExceptionHandlerRange) width() uint32 {
	return r.End - r.Start
}

// findCatchTarget scans the table for the innermost range containing
// exceptionOffset and returns its handler offset, or -1 if none matches.
//
// Nested try blocks register wider ranges before narrower ones, but the
// table order is not guaranteed, so the scan keeps the narrowest match.
// On equal width the later-registered range wins.
func findCatchTarget(table []ExceptionHandlerRange, exceptionOffset uint32) int32 {
	best := -1
	for i := range table {
		r := &table[i]
		if !r.Contains(exceptionOffset) {
			continue
		}
		if best < 0 || r.width() <= table[best].width() {
			best = i
		}
	}
	if best < 0 {
		return -1
	}
	return int32(table[best].Target)
}
