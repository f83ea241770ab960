package a64

import (
	"encoding/binary"
	"math"
	"testing"
)

func words(a *Assembler) []uint32 {
	buf := a.Bytes()
	out := make([]uint32, 0, len(buf)/4)
	for i := 0; i+4 <= len(buf); i += 4 {
		out = append(out, binary.LittleEndian.Uint32(buf[i:]))
	}
	return out
}

func lastWord(t *testing.T, a *Assembler) uint32 {
	t.Helper()
	w := words(a)
	if len(w) == 0 {
		t.Fatal("nothing emitted")
	}
	return w[len(w)-1]
}

// ---------------------------------------------------------------------------
// Encodings
// ---------------------------------------------------------------------------

func TestEncodings(t *testing.T) {
	tests := []struct {
		name string
		emit func(a *Assembler)
		want uint32
	}{
		{"fadd d0, d1, d2", func(a *Assembler) { a.Fadd(D0, D1, D2) }, 0x1E622820},
		{"fsub d3, d4, d5", func(a *Assembler) { a.Fsub(D3, D4, D5) }, 0x1E653883},
		{"fmul d1, d1, d1", func(a *Assembler) { a.Fmul(D1, D1, D1) }, 0x1E610821},
		{"fcmp d1, d2", func(a *Assembler) { a.Fcmp(D1, D2) }, 0x1E622020},
		{"fmov d0, d1", func(a *Assembler) { a.FmovReg(D0, D1) }, 0x1E604020},
		{"fmov d0, x1", func(a *Assembler) { a.FmovFromGp(D0, X1) }, 0x9E670020},
		{"fmov x0, d1", func(a *Assembler) { a.FmovToGp(X0, D1) }, 0x9E660020},
		{"mov x0, x1", func(a *Assembler) { a.MovReg(X0, X1) }, 0xAA0103E0},
		{"movz x0, #5", func(a *Assembler) { a.Movz(X0, 5, 0) }, 0xD28000A0},
		{"movk x0, #5, lsl 16", func(a *Assembler) { a.Movk(X0, 5, 1) }, 0xF2A000A0},
		{"cmp x0, x21", func(a *Assembler) { a.CmpReg(X0, X21) }, 0xEB15001F},
		{"cmp x3, #0", func(a *Assembler) { a.CmpImm(X3, 0) }, 0xF100007F},
		{"ldr x0, [x20, #16]", func(a *Assembler) { a.LdrX(X0, MemOf(X20, 16)) }, 0xF9400A80},
		{"str x0, [x20, #16]", func(a *Assembler) { a.StrX(X0, MemOf(X20, 16)) }, 0xF9000A80},
		{"ldr d0, [x20, #8]", func(a *Assembler) { a.LdrD(D0, MemOf(X20, 8)) }, 0xFD400680},
		{"str d0, [x20, #8]", func(a *Assembler) { a.StrD(D0, MemOf(X20, 8)) }, 0xFD000680},
		{"ldr w1, [x2, #4]", func(a *Assembler) { a.LdrW(X1, MemOf(X2, 4)) }, 0xB9400441},
		{"add x0, x20, #8", func(a *Assembler) { a.AddImm(X0, X20, 8) }, 0x91002280},
		{"br x16", func(a *Assembler) { a.Br(X16) }, 0xD61F0200},
		{"blr x16", func(a *Assembler) { a.Blr(X16) }, 0xD63F0200},
		{"ret", func(a *Assembler) { a.Ret() }, 0xD65F03C0},
		{"lsr x1, x2, #48", func(a *Assembler) { a.Lsr(X1, X2, 48) }, 0xD370FC41},
	}
	for _, tt := range tests {
		a := New()
		tt.emit(a)
		if err := a.Err(); err != nil {
			t.Errorf("%s: %v", tt.name, err)
			continue
		}
		if got := lastWord(t, a); got != tt.want {
			t.Errorf("%s = %#08x, want %#08x", tt.name, got, tt.want)
		}
	}
}

func TestMovImm64(t *testing.T) {
	a := New()
	a.MovImm64(X21, 0xFFF9000000000000)
	w := words(a)
	// movz for the low half, movk only for the one non-zero high half.
	if len(w) != 2 {
		t.Fatalf("MovImm64 emitted %d words, want movz + movk", len(w))
	}
	if w[0] != 0xD2800015 {
		t.Errorf("movz x21, #0 = %#08x", w[0])
	}
	if w[1] != 0xF2800015|uint32(3)<<21|uint32(0xFFF9)<<5 {
		t.Errorf("movk x21, #0xfff9, lsl 48 = %#08x", w[1])
	}
}

// ---------------------------------------------------------------------------
// Labels and fixups
// ---------------------------------------------------------------------------

func TestBranchFixup(t *testing.T) {
	a := New()
	lab := a.NewLabel("target")
	a.B(lab)
	a.Ret()
	a.Bind(lab)
	a.Ret()

	code, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	w := binary.LittleEndian.Uint32(code[0:4])
	// Branch from offset 0 to offset 8 = 2 words forward.
	if w != 0x14000000|2 {
		t.Errorf("b = %#08x, want imm26 = 2", w)
	}
}

func TestBCondFixup(t *testing.T) {
	a := New()
	lab := a.NewLabel("slow")
	a.BCond(HS, lab)
	a.Ret()
	a.Ret()
	a.Bind(lab)
	a.Ret()

	code, err := a.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	w := binary.LittleEndian.Uint32(code[0:4])
	if w != 0x54000000|uint32(3<<5)|uint32(HS) {
		t.Errorf("b.hs = %#08x", w)
	}
}

func TestUnboundLabelFails(t *testing.T) {
	a := New()
	a.B(a.NewLabel("nowhere"))
	if _, err := a.Finalize(); err == nil {
		t.Error("unbound label must fail Finalize")
	}
}

func TestDoubleBindLatchesError(t *testing.T) {
	a := New()
	lab := a.NewLabel("once")
	a.Bind(lab)
	a.Bind(lab)
	if a.Err() == nil {
		t.Error("double bind must latch an error")
	}
}

// ---------------------------------------------------------------------------
// FP immediates
// ---------------------------------------------------------------------------

func TestFMovImmEncodings(t *testing.T) {
	tests := []struct {
		val  float64
		imm8 uint8
		ok   bool
	}{
		{1.0, 0x70, true},
		{-1.0, 0xF0, true},
		{2.0, 0x00, true},
		{0.5, 0x60, true},
		{3.1415, 0, false},
		{0, 0, false}, // zero is not expressible as VFP imm8
	}
	for _, tt := range tests {
		imm8, ok := EncodeFMovImm(tt.val)
		if ok != tt.ok {
			t.Errorf("EncodeFMovImm(%v) ok = %v, want %v", tt.val, ok, tt.ok)
			continue
		}
		if ok && imm8 != tt.imm8 {
			t.Errorf("EncodeFMovImm(%v) = %#x, want %#x", tt.val, imm8, tt.imm8)
		}
	}
}

func TestVFPExpandRoundTrip(t *testing.T) {
	for imm8 := 0; imm8 < 256; imm8++ {
		bits := vfpExpandImm64(uint8(imm8))
		val := math.Float64frombits(bits)
		got, ok := EncodeFMovImm(val)
		if !ok || got != uint8(imm8) {
			t.Fatalf("imm8 %#x does not round trip (got %#x, ok=%v)", imm8, got, ok)
		}
	}
}

func TestCondInvert(t *testing.T) {
	pairs := []struct{ c, inv Cond }{
		{EQ, NE}, {HS, LO}, {GT, LE}, {GE, LT}, {HI, LS},
	}
	for _, p := range pairs {
		if p.c.Invert() != p.inv || p.inv.Invert() != p.c {
			t.Errorf("Invert(%s) != %s", p.c, p.inv)
		}
	}
}
