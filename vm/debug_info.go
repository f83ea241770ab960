package vm

import (
	"fmt"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// ---------------------------------------------------------------------------
// Module debug information
// ---------------------------------------------------------------------------

// DebugSourceLocation is a resolved source position.
type DebugSourceLocation struct {
	FilenameID uint32 `cbor:"1,keyasint"`
	Line       uint32 `cbor:"2,keyasint"`
	Column     uint32 `cbor:"3,keyasint"`
	// Address is the bytecode offset this entry starts at.
	Address uint32 `cbor:"4,keyasint"`
}

// LexicalScopeData describes one VariableScope in a function's enclosing
// chain: the names of its variables, innermost scope first in the chain.
type LexicalScopeData struct {
	VariableNames []string `cbor:"1,keyasint"`
}

// LexicalDebugData is the per-function lexical table: the scope chain from
// innermost (index 0) outward.
type LexicalDebugData struct {
	Scopes []LexicalScopeData `cbor:"1,keyasint"`
}

// debugStream is the decoded form of a module's debug blob.
type debugStream struct {
	Files           []string                    `cbor:"1,keyasint"`
	Locations       map[uint32][]DebugSourceLocation `cbor:"2,keyasint"`
	LexicalData     map[uint32]LexicalDebugData `cbor:"3,keyasint"`
	FunctionSources map[uint32]uint32           `cbor:"4,keyasint"`
}

// DebugInfo wraps a module's CBOR-encoded debug stream. The blob is decoded
// once, on first query. A nil DebugInfo (stripped module) answers every
// query with "none".
type DebugInfo struct {
	raw []byte

	once   sync.Once
	stream *debugStream
	err    error
}

// NewDebugInfo wraps a raw debug blob. Returns nil for an empty blob so that
// callers can treat "no debug info" uniformly.
func NewDebugInfo(raw []byte) *DebugInfo {
	if len(raw) == 0 {
		return nil
	}
	return &DebugInfo{raw: raw}
}

// EncodeDebugStream builds a debug blob from its parts. Used by bytecode
// providers and by tests.
func EncodeDebugStream(
	files []string,
	locations map[uint32][]DebugSourceLocation,
	lexical map[uint32]LexicalDebugData,
	functionSources map[uint32]uint32,
) ([]byte, error) {
	return cbor.Marshal(&debugStream{
		Files:           files,
		Locations:       locations,
		LexicalData:     lexical,
		FunctionSources: functionSources,
	})
}

func (d *DebugInfo) decode() (*debugStream, error) {
	d.once.Do(func() {
		var s debugStream
		if err := cbor.Unmarshal(d.raw, &s); err != nil {
			d.err = fmt.Errorf("debug info: decoding stream: %w", err)
			return
		}
		d.stream = &s
	})
	return d.stream, d.err
}

// Filename resolves a filename ID, or "" if unknown.
func (d *DebugInfo) Filename(id uint32) string {
	if d == nil {
		return ""
	}
	s, err := d.decode()
	if err != nil || int(id) >= len(s.Files) {
		return ""
	}
	return s.Files[id]
}

// SourceLocation returns the location of bytecode offset bcOffset within the
// function whose location table starts at tableOffset. The entry with the
// greatest Address at or before bcOffset wins.
func (d *DebugInfo) SourceLocation(tableOffset, bcOffset uint32) (DebugSourceLocation, bool) {
	if d == nil || tableOffset == DebugOffsetMissing {
		return DebugSourceLocation{}, false
	}
	s, err := d.decode()
	if err != nil {
		return DebugSourceLocation{}, false
	}
	entries := s.Locations[tableOffset]
	found := false
	var best DebugSourceLocation
	for _, e := range entries {
		if e.Address <= bcOffset {
			best = e
			found = true
		} else {
			break
		}
	}
	return best, found
}

// FunctionLocation returns the location of the function itself (its first
// table entry).
func (d *DebugInfo) FunctionLocation(tableOffset uint32) (DebugSourceLocation, bool) {
	if d == nil || tableOffset == DebugOffsetMissing {
		return DebugSourceLocation{}, false
	}
	s, err := d.decode()
	if err != nil {
		return DebugSourceLocation{}, false
	}
	entries := s.Locations[tableOffset]
	if len(entries) == 0 {
		return DebugSourceLocation{}, false
	}
	return entries[0], true
}

// LexicalData returns the lexical table at the given offset.
func (d *DebugInfo) LexicalData(tableOffset uint32) (*LexicalDebugData, bool) {
	if d == nil || tableOffset == DebugOffsetMissing {
		return nil, false
	}
	s, err := d.decode()
	if err != nil {
		return nil, false
	}
	ld, ok := s.LexicalData[tableOffset]
	if !ok {
		return nil, false
	}
	return &ld, true
}

// FunctionSourceID looks up the function-source table.
func (d *DebugInfo) FunctionSourceID(functionID uint32) (uint32, bool) {
	if d == nil {
		return 0, false
	}
	s, err := d.decode()
	if err != nil {
		return 0, false
	}
	id, ok := s.FunctionSources[functionID]
	return id, ok
}
