package guest

import "testing"

func newTestContext(size int) *Context {
	return &Context{Mem: &Memory{Base: 0, Bytes: make([]byte, size)}}
}

func TestBigEndianRoundTrip(t *testing.T) {
	ctx := newTestContext(0x100)
	ctx.StoreU32(0x10, 0x11223344)
	if got := ctx.LoadU32(0x10); got != 0x11223344 {
		t.Fatalf("LoadU32 = %#x, want 0x11223344", got)
	}
	b := ctx.RawAddr(0x10, 4)
	if b[0] != 0x11 || b[1] != 0x22 || b[2] != 0x33 || b[3] != 0x44 {
		t.Fatalf("expected big-endian byte order in backing memory, got %v", b)
	}
}

func TestLoadSignedSignExtends(t *testing.T) {
	ctx := newTestContext(0x10)
	ctx.StoreU8(0x0, 0xFF)
	if got := ctx.LoadSignedU8(0x0); got != uint64(^uint64(0)) {
		t.Fatalf("LoadSignedU8(0xFF) = %#x, want all-ones (-1)", got)
	}
	if got := ctx.LoadU8(0x0); got != 0xFF {
		t.Fatalf("LoadU8(0xFF) = %#x, want 0xFF", got)
	}
}

type fakeMMIO struct {
	reads  []uint32
	writes map[uint32]uint64
}

func (f *fakeMMIO) ReadMMIO(addr uint32, size int) uint64 {
	f.reads = append(f.reads, addr)
	return 0xAB
}

func (f *fakeMMIO) WriteMMIO(addr uint32, size int, value uint64) {
	if f.writes == nil {
		f.writes = map[uint32]uint64{}
	}
	f.writes[addr] = value
}

func TestMMIODispatchWindow(t *testing.T) {
	mmio := &fakeMMIO{}
	ctx := &Context{Mem: &Memory{
		Base: 0, Bytes: make([]byte, 0x10),
		MMIOBase: 0x7F000000, MMIOSize: 0x1000000, MMIO: mmio,
	}}

	ctx.StoreU32(0x7F000010, 42)
	if mmio.writes[0x7F000010] != 42 {
		t.Fatalf("expected MMIO write intercepted, got %v", mmio.writes)
	}

	if got := ctx.LoadU32(0x7F000020); got != 0xAB {
		t.Fatalf("LoadU32 via MMIO = %#x, want 0xAB", got)
	}
}

func TestMMIO64BitAccessDecomposesHighWordFirst(t *testing.T) {
	mmio := &fakeMMIO{}
	ctx := &Context{Mem: &Memory{
		Base: 0, Bytes: make([]byte, 0x10),
		MMIOBase: 0x7F000000, MMIOSize: 0x1000000, MMIO: mmio,
	}}

	ctx.StoreU64(0x7F000010, 0x1122334455667788)
	if mmio.writes[0x7F000010] != 0x11223344 {
		t.Fatalf("expected high word written to base address, got %#x", mmio.writes[0x7F000010])
	}
	if mmio.writes[0x7F000014] != 0x55667788 {
		t.Fatalf("expected low word written to base+4, got %#x", mmio.writes[0x7F000014])
	}

	mmio.reads = nil
	ctx.LoadU64(0x7F000020)
	if len(mmio.reads) != 2 || mmio.reads[0] != 0x7F000020 || mmio.reads[1] != 0x7F000024 {
		t.Fatalf("expected two ordered 32-bit reads (base, base+4), got %v", mmio.reads)
	}
}

func TestVectorLaneReversal(t *testing.T) {
	var v [16]byte
	SetVectorWord(&v, 0, 0x11223344)
	SetVectorWord(&v, 3, 0xAABBCCDD)

	if got := VectorWord(v, 0); got != 0x11223344 {
		t.Fatalf("VectorWord(0) = %#x, want 0x11223344", got)
	}
	if got := VectorWord(v, 3); got != 0xAABBCCDD {
		t.Fatalf("VectorWord(3) = %#x, want 0xAABBCCDD", got)
	}
	// guest lane 0 lives in the last 4 host bytes, stored little-endian.
	if v[12] != 0x44 || v[13] != 0x33 || v[14] != 0x22 || v[15] != 0x11 {
		t.Fatalf("expected guest lane 0 reversed into host bytes 12-15, got %v", v)
	}
}

func TestRecordFormSetsCR0(t *testing.T) {
	ctx := newTestContext(0x10)
	ctx.SetCR("CR0", uint32(0))
	if ctx.CR[0]&0b0010 == 0 {
		t.Fatalf("expected eq bit set for zero result, got %04b", ctx.CR[0])
	}
	ctx.SetCR("CR0", int32(-5))
	if ctx.CR[0]&0b1000 == 0 {
		t.Fatalf("expected lt bit set for negative result, got %04b", ctx.CR[0])
	}
}

func TestOverflowAndCarry(t *testing.T) {
	ctx := newTestContext(0x10)
	ctx.SetOverflow(true)
	if ctx.XER&xerOV == 0 || ctx.XER&xerSO == 0 {
		t.Fatal("expected xer.ov and xer.so both set")
	}
	ctx.SetOverflow(false)
	if ctx.XER&xerOV != 0 {
		t.Fatal("expected xer.ov cleared")
	}
	if ctx.XER&xerSO == 0 {
		t.Fatal("xer.so is sticky and must remain set")
	}

	ctx.SetCarry(true)
	if ctx.XER&xerCA == 0 {
		t.Fatal("expected xer.ca set")
	}
}
