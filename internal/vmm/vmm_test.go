package vmm

import "testing"

// fakeMapper stands in for the host OS mapper so these tests exercise the
// manager's reservation/commit bookkeeping without depending on the real
// mmap/VirtualAlloc backend succeeding at arbitrary fixed guest addresses.
type fakeMapper struct {
	mapped map[uint32]uint32 // base -> size, for currently-committed ranges
}

func newFakeMapper() *fakeMapper {
	return &fakeMapper{mapped: map[uint32]uint32{}}
}

func (f *fakeMapper) Map(base, size uint32, prot Protect) error {
	f.mapped[base] = size
	return nil
}

func (f *fakeMapper) Protect(base, size uint32, prot Protect) error {
	return nil
}

func (f *fakeMapper) Unmap(base, size uint32) error {
	delete(f.mapped, base)
	return nil
}

func (f *fakeMapper) Decommit(base, size uint32) error {
	delete(f.mapped, base)
	return nil
}

func testLayout() []HeapLayout {
	return []HeapLayout{
		{Kind: HeapVirtual4K, Base: 0x10000, Size: 0x100000, PageSize: 0x1000},
	}
}

func TestAllocFixedThenRelease(t *testing.T) {
	mapper := newFakeMapper()
	m := newWithMapper(testLayout(), mapper)

	if err := m.AllocFixed(HeapVirtual4K, 0x10000, 0x2000, true, ProtectReadWrite); err != nil {
		t.Fatalf("AllocFixed: %v", err)
	}
	if mapper.mapped[0x10000] != 0x2000 {
		t.Fatalf("expected host mapper to commit 0x2000 bytes at 0x10000, got %v", mapper.mapped)
	}

	info, err := m.QueryRegionInfo(HeapVirtual4K, 0x10000)
	if err != nil {
		t.Fatalf("QueryRegionInfo: %v", err)
	}
	if info.State != StateCommitted || info.Size != 0x2000 {
		t.Fatalf("unexpected region info: %+v", info)
	}

	freed, err := m.Release(HeapVirtual4K, 0x10000)
	if err != nil {
		t.Fatalf("Release: %v", err)
	}
	if freed != 0x2000 {
		t.Fatalf("Release returned size %#x, want 0x2000", freed)
	}
	if _, mapped := mapper.mapped[0x10000]; mapped {
		t.Fatal("expected host mapper to unmap released region")
	}
	if _, err := m.QueryRegionInfo(HeapVirtual4K, 0x10000); err == nil {
		t.Fatal("expected QueryRegionInfo to fail after release")
	}
}

func TestAllocFixedOverlapRejected(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	if err := m.AllocFixed(HeapVirtual4K, 0x10000, 0x2000, true, ProtectReadWrite); err != nil {
		t.Fatalf("AllocFixed: %v", err)
	}
	if err := m.AllocFixed(HeapVirtual4K, 0x11000, 0x1000, true, ProtectReadWrite); err == nil {
		t.Fatal("expected overlapping AllocFixed to fail")
	}
}

func TestAllocFixedOutsideHeapRejected(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	if err := m.AllocFixed(HeapVirtual4K, 0x5000, 0x1000, true, ProtectReadWrite); err == nil {
		t.Fatal("expected allocation below heap base to fail")
	}
	if err := m.AllocFixed(HeapVirtual4K, 0x10000, 0x200000, true, ProtectReadWrite); err == nil {
		t.Fatal("expected allocation beyond heap end to fail")
	}
}

func TestAllocPicksNonOverlappingAddresses(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	first, err := m.Alloc(HeapVirtual4K, 0x1000, true, ProtectReadWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	second, err := m.Alloc(HeapVirtual4K, 0x1000, true, ProtectReadWrite)
	if err != nil {
		t.Fatalf("Alloc: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct addresses, got %#x twice", first)
	}
	if second < first+0x1000 {
		t.Fatalf("expected second allocation past the first, got %#x after %#x", second, first)
	}
}

func TestReserveCommitDecommitRelease(t *testing.T) {
	mapper := newFakeMapper()
	m := newWithMapper(testLayout(), mapper)

	addr := uint32(0x20000)
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x1000, false, ProtectNoAccess); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if _, mapped := mapper.mapped[addr]; mapped {
		t.Fatal("a reservation without commit must not touch the host mapper")
	}

	if err := m.Decommit(HeapVirtual4K, addr, 0x1000); err == nil {
		t.Fatal("expected Decommit on a merely-reserved region to fail")
	}

	if err := m.Protect(HeapVirtual4K, addr, 0x1000, ProtectReadWrite); err == nil {
		t.Fatal("expected Protect on a merely-reserved region to fail")
	}

	if _, err := m.Release(HeapVirtual4K, addr); err != nil {
		t.Fatalf("Release of reserved-only region: %v", err)
	}
}

func TestAllocFixedReserveThenCommitUpgradesInPlace(t *testing.T) {
	mapper := newFakeMapper()
	m := newWithMapper(testLayout(), mapper)

	addr := uint32(0x70000)
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x1000, false, ProtectNoAccess); err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x1000, true, ProtectReadWrite); err != nil {
		t.Fatalf("commit over existing reservation: %v", err)
	}
	if mapper.mapped[addr] != 0x1000 {
		t.Fatalf("expected host mapper to commit 0x1000 bytes at %#x, got %v", addr, mapper.mapped)
	}
	info, err := m.QueryRegionInfo(HeapVirtual4K, addr)
	if err != nil {
		t.Fatalf("QueryRegionInfo: %v", err)
	}
	if info.State != StateCommitted || info.Protect != ProtectReadWrite {
		t.Fatalf("unexpected region info after commit-over-reserve: %+v", info)
	}

	if err := m.AllocFixed(HeapVirtual4K, addr, 0x1000, true, ProtectReadWrite); err == nil {
		t.Fatal("expected a second commit over an already-committed region to fail")
	}
}

func TestProtectChangesQueriedProtection(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	addr := uint32(0x30000)
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x1000, true, ProtectReadWrite); err != nil {
		t.Fatalf("AllocFixed: %v", err)
	}
	if err := m.Protect(HeapVirtual4K, addr, 0x1000, ProtectReadOnly); err != nil {
		t.Fatalf("Protect: %v", err)
	}
	got, err := m.QueryProtect(HeapVirtual4K, addr)
	if err != nil {
		t.Fatalf("QueryProtect: %v", err)
	}
	if got != ProtectReadOnly {
		t.Fatalf("QueryProtect = %v, want ProtectReadOnly", got)
	}
}

func TestProtectSplitsRegionIntoThreeSubRegions(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	addr := uint32(0x80000)
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x4000, true, ProtectReadWrite); err != nil {
		t.Fatalf("AllocFixed: %v", err)
	}

	if err := m.Protect(HeapVirtual4K, addr+0x1000, 0x1000, ProtectReadOnly); err != nil {
		t.Fatalf("Protect: %v", err)
	}

	before, err := m.QueryRegionInfo(HeapVirtual4K, addr)
	if err != nil {
		t.Fatalf("QueryRegionInfo before: %v", err)
	}
	if before.Size != 0x1000 || before.Protect != ProtectReadWrite {
		t.Fatalf("unexpected leading sub-region: %+v", before)
	}

	middle, err := m.QueryRegionInfo(HeapVirtual4K, addr+0x1000)
	if err != nil {
		t.Fatalf("QueryRegionInfo middle: %v", err)
	}
	if middle.Base != addr+0x1000 || middle.Size != 0x1000 || middle.Protect != ProtectReadOnly {
		t.Fatalf("unexpected protected sub-region: %+v", middle)
	}

	after, err := m.QueryRegionInfo(HeapVirtual4K, addr+0x2000)
	if err != nil {
		t.Fatalf("QueryRegionInfo after: %v", err)
	}
	if after.Base != addr+0x2000 || after.Size != 0x2000 || after.Protect != ProtectReadWrite {
		t.Fatalf("unexpected trailing sub-region: %+v", after)
	}
}

func TestAllocRangeRespectsWindow(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	addr, err := m.AllocRange(HeapVirtual4K, 0x1000, 0x40000, 0x50000, ProtectReadWrite)
	if err != nil {
		t.Fatalf("AllocRange: %v", err)
	}
	if addr < 0x40000 || addr+0x1000 > 0x50000 {
		t.Fatalf("AllocRange returned %#x outside requested window", addr)
	}
}

func TestUnknownHeapKindRejected(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	if _, err := m.Alloc(HeapPhysical16M, 0x1000, true, ProtectReadWrite); err == nil {
		t.Fatal("expected Alloc against an unconfigured heap to fail")
	}
}

func TestQuerySizeReportsCommittedExtent(t *testing.T) {
	m := newWithMapper(testLayout(), newFakeMapper())
	addr := uint32(0x60000)
	if err := m.AllocFixed(HeapVirtual4K, addr, 0x3000, true, ProtectReadWrite); err != nil {
		t.Fatalf("AllocFixed: %v", err)
	}
	size, err := m.QuerySize(HeapVirtual4K, addr)
	if err != nil {
		t.Fatalf("QuerySize: %v", err)
	}
	if size != 0x3000 {
		t.Fatalf("QuerySize = %#x, want 0x3000", size)
	}
}
