package a64

import (
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/arch/arm64/arm64asm"
)

// Disassemble decodes the code bytes into one line per instruction,
// annotated with byte offsets. Words the decoder rejects are shown as raw
// data; the RO data pool at the end of a function is expected to decode
// that way.
func Disassemble(code []byte) string {
	var sb strings.Builder
	for off := 0; off+4 <= len(code); off += 4 {
		word := binary.LittleEndian.Uint32(code[off : off+4])
		inst, err := arm64asm.Decode(code[off : off+4])
		if err != nil {
			fmt.Fprintf(&sb, "%6x:\t%08x\t.word\n", off, word)
			continue
		}
		fmt.Fprintf(&sb, "%6x:\t%08x\t%s\n", off, word, arm64asm.GNUSyntax(inst))
	}
	return sb.String()
}
