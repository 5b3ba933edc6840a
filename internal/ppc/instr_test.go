package ppc

import "testing"

// assembleXOArith encodes an XO-form arithmetic instruction (add/addc/adde/
// subf): primary opcode 31, RT/RA/RB fields, the OE bit at bit 21, the 9-bit
// extended opcode at bits 22-30, and Rc at bit 31.
func assembleXOArith(xo9 uint32, rt, ra, rb uint32, oe, rc bool) uint32 {
	w := uint32(31)<<26 | rt<<21 | ra<<16 | rb<<11 | xo9<<1
	if oe {
		w |= 1 << 10
	}
	if rc {
		w |= 1
	}
	return w
}

func TestDecodeAddNonOverflowForm(t *testing.T) {
	raw := assembleXOArith(266, 3, 4, 5, false, false)
	ins, err := Decode(0x82000000, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != OpAdd {
		t.Fatalf("Op = %v, want OpAdd", ins.Op)
	}
	if ins.OE {
		t.Fatal("expected OE=false for a plain add")
	}
	if ins.RT != 3 || ins.RA != 4 || ins.RB != 5 {
		t.Fatalf("unexpected operands: RT=%d RA=%d RB=%d", ins.RT, ins.RA, ins.RB)
	}
}

// TestDecodeAddOverflowForm pins down the fix for decoding addo/addco/addeo/
// subfo (OE=1): these must still resolve to the same opcode as their
// non-overflow counterpart, with OE recorded, rather than falling through to
// ErrUnknownOpcode because the dispatch field included the OE bit.
func TestDecodeAddOverflowForm(t *testing.T) {
	raw := assembleXOArith(266, 3, 4, 5, true, false)
	ins, err := Decode(0x82000000, raw)
	if err != nil {
		t.Fatalf("Decode(addo): %v", err)
	}
	if ins.Op != OpAdd {
		t.Fatalf("Op = %v, want OpAdd", ins.Op)
	}
	if !ins.OE {
		t.Fatal("expected OE=true for addo")
	}
}

func TestDecodeAddcAddeSubfOverflowForms(t *testing.T) {
	cases := []struct {
		name string
		xo9  uint32
		want Opcode
	}{
		{"addco", 10, OpAddc},
		{"addeo", 138, OpAdde},
		{"subfo", 40, OpSubf},
	}
	for _, c := range cases {
		raw := assembleXOArith(c.xo9, 6, 7, 8, true, true)
		ins, err := Decode(0x82000004, raw)
		if err != nil {
			t.Fatalf("%s: Decode: %v", c.name, err)
		}
		if ins.Op != c.want {
			t.Fatalf("%s: Op = %v, want %v", c.name, ins.Op, c.want)
		}
		if !ins.OE {
			t.Fatalf("%s: expected OE=true", c.name)
		}
		if !ins.Rc {
			t.Fatalf("%s: expected Rc=true", c.name)
		}
	}
}

// TestDecodeAndStillDecodesAfterXO9Dispatch confirms the fallback switch
// (for X-form ops with no OE bit, dispatched on the 10-bit fieldXO) still
// works for an opcode numerically near the XO-form arithmetic ops.
func TestDecodeAndStillDecodesAfterXO9Dispatch(t *testing.T) {
	raw := uint32(31)<<26 | 3<<21 | 4<<16 | 5<<11 | 28<<1
	ins, err := Decode(0x82000008, raw)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ins.Op != OpAnd {
		t.Fatalf("Op = %v, want OpAnd", ins.Op)
	}
}
