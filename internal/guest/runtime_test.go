package guest

import "testing"

func TestRlwinmMaskAndRotate(t *testing.T) {
	ctx := newTestContext(0x10)
	got := Rlwinm(ctx, 0x12345678, 8, 8, 15)
	rotated := uint32(0x34567812) // 0x12345678 rotated left 8 bits
	expected := uint64(rotated & maskBits(8, 15))
	if got != expected {
		t.Fatalf("Rlwinm = %#x, want %#x", got, expected)
	}
}

func TestAddOverflowed(t *testing.T) {
	ctx := newTestContext(0x10)
	a := uint64(uint32(0x7FFFFFFF))
	b := uint64(1)
	sum := uint64(uint32(int32(int64(int32(a)) + int64(int32(b)))))
	if !AddOverflowed(ctx, a, b, sum) {
		t.Fatal("expected signed 32-bit overflow to be detected")
	}
	if AddOverflowed(ctx, 1, 1, 2) {
		t.Fatal("expected no overflow for 1+1")
	}
}

func TestLoadReserveStoreConditional(t *testing.T) {
	ctx := newTestContext(0x10)
	ctx.StoreU32(0x4, 100)

	LoadReserve32(ctx, 0x4)
	StoreConditional32(ctx, 0x4, 200)
	if ctx.CR[0]&0b0010 == 0 {
		t.Fatalf("expected eq(success) bit set after matching reservation, cr0=%04b", ctx.CR[0])
	}
	if got := ctx.LoadU32(0x4); got != 200 {
		t.Fatalf("expected store to commit, got %d", got)
	}

	// Without a fresh reservation, a second store to the same address must
	// fail.
	StoreConditional32(ctx, 0x4, 300)
	if ctx.CR[0]&0b0010 != 0 {
		t.Fatalf("expected eq bit clear (failure) on stale reservation, cr0=%04b", ctx.CR[0])
	}
	if got := ctx.LoadU32(0x4); got != 200 {
		t.Fatalf("expected failed store not to commit, got %d", got)
	}
}

func TestSetGetSPRRoundTrip(t *testing.T) {
	ctx := newTestContext(0x10)
	SetSPR(ctx, 256, 0xDEAD)
	if got := GetSPR(ctx, 256); got != 0xDEAD {
		t.Fatalf("GetSPR = %#x, want 0xDEAD", got)
	}
	if got := GetSPR(ctx, 1); got != 0 {
		t.Fatalf("GetSPR of unset SPR = %#x, want 0", got)
	}
}
