package vm

import (
	"testing"
)

func newTestDebugInfo(t *testing.T) *DebugInfo {
	t.Helper()
	blob, err := EncodeDebugStream(
		[]string{"main.js", "lib.js"},
		map[uint32][]DebugSourceLocation{
			100: {
				{FilenameID: 0, Line: 1, Column: 1, Address: 0},
				{FilenameID: 0, Line: 2, Column: 5, Address: 8},
				{FilenameID: 0, Line: 3, Column: 2, Address: 20},
			},
		},
		map[uint32]LexicalDebugData{
			40: {Scopes: []LexicalScopeData{
				{VariableNames: []string{"x", "y"}},
				{VariableNames: []string{"outer"}},
			}},
		},
		map[uint32]uint32{2: 77},
	)
	if err != nil {
		t.Fatalf("EncodeDebugStream: %v", err)
	}
	return NewDebugInfo(blob)
}

func TestDebugInfoSourceLocation(t *testing.T) {
	d := newTestDebugInfo(t)

	tests := []struct {
		bcOffset uint32
		wantLine uint32
		found    bool
	}{
		{0, 1, true},
		{7, 1, true},
		{8, 2, true},
		{19, 2, true},
		{20, 3, true},
		{500, 3, true},
	}
	for _, tt := range tests {
		loc, ok := d.SourceLocation(100, tt.bcOffset)
		if ok != tt.found || (ok && loc.Line != tt.wantLine) {
			t.Errorf("SourceLocation(100, %d) = %+v, %v", tt.bcOffset, loc, ok)
		}
	}

	if _, ok := d.SourceLocation(999, 0); ok {
		t.Error("unknown table offset must return none")
	}
	if _, ok := d.SourceLocation(DebugOffsetMissing, 0); ok {
		t.Error("missing offset must return none")
	}
}

func TestDebugInfoFunctionLocation(t *testing.T) {
	d := newTestDebugInfo(t)
	loc, ok := d.FunctionLocation(100)
	if !ok || loc.Line != 1 || loc.Column != 1 {
		t.Errorf("FunctionLocation = %+v, %v", loc, ok)
	}
}

func TestDebugInfoLexicalData(t *testing.T) {
	d := newTestDebugInfo(t)
	ld, ok := d.LexicalData(40)
	if !ok || len(ld.Scopes) != 2 {
		t.Fatalf("LexicalData = %+v, %v", ld, ok)
	}
	if ld.Scopes[0].VariableNames[1] != "y" || ld.Scopes[1].VariableNames[0] != "outer" {
		t.Error("scope contents lost in round trip")
	}
}

func TestDebugInfoFunctionSourceID(t *testing.T) {
	d := newTestDebugInfo(t)
	if id, ok := d.FunctionSourceID(2); !ok || id != 77 {
		t.Errorf("FunctionSourceID(2) = %d, %v", id, ok)
	}
	if _, ok := d.FunctionSourceID(3); ok {
		t.Error("unknown function must return none")
	}
}

func TestNilDebugInfoAnswersNone(t *testing.T) {
	var d *DebugInfo
	if _, ok := d.SourceLocation(0, 0); ok {
		t.Error("nil debug info must answer none")
	}
	if _, ok := d.LexicalData(0); ok {
		t.Error("nil debug info must answer none")
	}
	if _, ok := d.FunctionSourceID(0); ok {
		t.Error("nil debug info must answer none")
	}
	if NewDebugInfo(nil) != nil {
		t.Error("empty blob must produce a nil DebugInfo")
	}
}

func TestCodeBlockDebugQueries(t *testing.T) {
	d := newTestDebugInfo(t)
	hdr := defaultHeader(16, 0, 0)
	hdr.DebugSourceLocationsOffset = 100
	hdr.DebugLexicalDataOffset = 40
	p := &testProvider{
		headers:   []RuntimeFunctionHeader{hdr},
		bytecodes: [][]byte{simpleBytecode(16)},
		strings:   []string{"f"},
		debugInfo: d,
	}
	_, m := newTestModule(t, Features{}, p)
	cb := m.GetCodeBlockMayAllocate(0)

	if loc, ok := cb.GetSourceLocation(8); !ok || loc.Line != 2 {
		t.Errorf("GetSourceLocation(8) = %+v, %v", loc, ok)
	}
	if loc, ok := cb.GetSourceLocationForFunction(); !ok || loc.Line != 1 {
		t.Errorf("GetSourceLocationForFunction = %+v, %v", loc, ok)
	}
	counts := cb.GetVariableCounts()
	if len(counts) != 2 || counts[0] != 2 || counts[1] != 1 {
		t.Errorf("GetVariableCounts = %v", counts)
	}
	if name := cb.GetVariableNameAtDepth(1, 0); name != "outer" {
		t.Errorf("GetVariableNameAtDepth(1, 0) = %q", name)
	}
	expectPanic(t, "variable index out of range", func() { cb.GetVariableNameAtDepth(0, 5) })
}
