// Package vmm implements the guest virtual memory manager: an NT-style
// reserve/commit/decommit/release/protect state machine layered over
// several fixed-page-size heaps, backed by the host's own mmap/mprotect (or
// VirtualAlloc/VirtualProtect on Windows).
package vmm

import (
	"errors"
	"fmt"
	"sync"
)

// Protect mirrors the guest's page-protection flags (a subset of the NT
// PAGE_* constants the kernel-export glue translates to/from).
type Protect uint32

const (
	ProtectNoAccess Protect = iota
	ProtectReadOnly
	ProtectReadWrite
	ProtectExecuteRead
	ProtectExecuteReadWrite
)

// State is a page's allocation state within a heap's reservation.
type State int

const (
	StateFree State = iota
	StateReserved
	StateCommitted
)

var (
	ErrOutOfMemory        = errors.New("vmm: out of memory")
	ErrInvalidParameter    = errors.New("vmm: invalid parameter")
	ErrAccessDenied        = errors.New("vmm: access denied")
	ErrMemoryNotAllocated  = errors.New("vmm: memory not allocated")
	ErrAlreadyCommitted    = errors.New("vmm: region already committed")
)

// HeapKind names one of the guest's canonical heaps, each with its own page
// granularity (spec.md §4.4 "heap layout table").
type HeapKind int

const (
	HeapVirtual4K HeapKind = iota
	HeapVirtual64K
	HeapPhysical4K
	HeapPhysical64K
	HeapPhysical16M
)

// HeapLayout describes one heap's address range and page size.
type HeapLayout struct {
	Kind      HeapKind
	Base      uint32
	Size      uint32
	PageSize  uint32
	Physical  bool
}

// DefaultLayout is the canonical Xbox 360 guest heap table: a 4KiB-paged
// virtual heap for general allocations, a 64KiB-paged virtual heap for
// large/aligned allocations, and three physical heaps (4KiB/64KiB/16MiB
// paged) used for GPU-visible and large contiguous allocations.
func DefaultLayout() []HeapLayout {
	return []HeapLayout{
		{Kind: HeapVirtual4K, Base: 0x00010000, Size: 0x3FFF0000, PageSize: 0x1000},
		{Kind: HeapVirtual64K, Base: 0x40000000, Size: 0x3F000000, PageSize: 0x10000},
		{Kind: HeapPhysical4K, Base: 0xA0000000, Size: 0x0C000000, PageSize: 0x1000, Physical: true},
		{Kind: HeapPhysical64K, Base: 0xAC000000, Size: 0x0C000000, PageSize: 0x10000, Physical: true},
		{Kind: HeapPhysical16M, Base: 0xB8000000, Size: 0x18000000, PageSize: 0x1000000, Physical: true},
	}
}

// region is one reserved (and possibly committed) allocation tracked by a
// heap.
type region struct {
	base     uint32
	size     uint32
	state    State
	protect  Protect
}

type heap struct {
	layout  HeapLayout
	regions []region // sorted by base, non-overlapping
	next    uint32   // bump pointer for address-unspecified reservations
}

// Manager is the guest's full virtual memory manager: every heap plus the
// host mapper backing real pages.
type Manager struct {
	mu    sync.Mutex
	heaps map[HeapKind]*heap
	host  hostMapper
}

// hostMapper is the host OS primitive layer (mmap_unix.go / mmap_windows.go).
type hostMapper interface {
	Map(base uint32, size uint32, prot Protect) error
	Protect(base uint32, size uint32, prot Protect) error
	Unmap(base uint32, size uint32) error
	Decommit(base uint32, size uint32) error
}

// New builds a Manager over layout, backed by the host-appropriate mapper.
func New(layout []HeapLayout) *Manager {
	return newWithMapper(layout, newHostMapper())
}

func newWithMapper(layout []HeapLayout, host hostMapper) *Manager {
	m := &Manager{heaps: map[HeapKind]*heap{}, host: host}
	for _, l := range layout {
		m.heaps[l.Kind] = &heap{layout: l, next: l.Base}
	}
	return m
}

func alignUp(value, align uint32) uint32 {
	if align == 0 {
		return value
	}
	mask := align - 1
	return (value + mask) &^ mask
}

func (h *heap) findRegion(addr uint32) *region {
	for i := range h.regions {
		r := &h.regions[i]
		if addr >= r.base && addr < r.base+r.size {
			return r
		}
	}
	return nil
}

func (h *heap) overlaps(base, size uint32) bool {
	end := base + size
	for _, r := range h.regions {
		if base < r.base+r.size && end > r.base {
			return true
		}
	}
	return false
}

func (m *Manager) heapFor(kind HeapKind) (*heap, error) {
	h, ok := m.heaps[kind]
	if !ok {
		return nil, fmt.Errorf("vmm: %w: unknown heap kind %v", ErrInvalidParameter, kind)
	}
	return h, nil
}

// AllocFixed reserves (and, if commit is true, commits) size bytes starting
// exactly at base within the named heap. Returns ErrAlreadyCommitted if the
// range overlaps an existing reservation, except that a commit over an
// uncommitted reservation of exactly [base, base+size) commits it in place.
func (m *Manager) AllocFixed(kind HeapKind, base, size uint32, commit bool, prot Protect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return err
	}
	if size == 0 {
		return fmt.Errorf("vmm: %w: zero-size allocation", ErrInvalidParameter)
	}
	size = alignUp(size, h.layout.PageSize)
	if base < h.layout.Base || base+size > h.layout.Base+h.layout.Size {
		return fmt.Errorf("vmm: %w: [%#x,%#x) outside heap %v [%#x,%#x)",
			ErrInvalidParameter, base, base+size, kind, h.layout.Base, h.layout.Base+h.layout.Size)
	}
	// A reservation that exactly covers [base,base+size) is not an overlap to
	// reject: it is the "reserve, then commit over it" workflow, and the
	// existing region transitions to committed in place rather than being
	// treated as a second, conflicting allocation.
	if existing := h.findRegion(base); existing != nil {
		if existing.base != base || existing.size != size {
			return fmt.Errorf("vmm: %w: [%#x,%#x) overlaps an existing reservation", ErrAlreadyCommitted, base, base+size)
		}
		if existing.state == StateCommitted {
			return fmt.Errorf("vmm: %w: [%#x,%#x) is already committed", ErrAlreadyCommitted, base, base+size)
		}
		if commit {
			if err := m.host.Map(base, size, prot); err != nil {
				return fmt.Errorf("vmm: committing [%#x,%#x): %w", base, base+size, err)
			}
			existing.state = StateCommitted
			existing.protect = prot
		}
		return nil
	}
	if h.overlaps(base, size) {
		return fmt.Errorf("vmm: %w: [%#x,%#x) overlaps an existing reservation", ErrAlreadyCommitted, base, base+size)
	}

	state := StateReserved
	if commit {
		if err := m.host.Map(base, size, prot); err != nil {
			return fmt.Errorf("vmm: committing [%#x,%#x): %w", base, base+size, err)
		}
		state = StateCommitted
	}
	h.regions = append(h.regions, region{base: base, size: size, state: state, protect: prot})
	return nil
}

// Alloc reserves (and optionally commits) size bytes at an address the
// manager chooses within kind's heap, returning the chosen base.
func (m *Manager) Alloc(kind HeapKind, size uint32, commit bool, prot Protect) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return 0, err
	}
	if size == 0 {
		return 0, fmt.Errorf("vmm: %w: zero-size allocation", ErrInvalidParameter)
	}
	size = alignUp(size, h.layout.PageSize)

	base := alignUp(h.next, h.layout.PageSize)
	for h.overlaps(base, size) {
		base += h.layout.PageSize
	}
	if base+size > h.layout.Base+h.layout.Size {
		return 0, fmt.Errorf("vmm: %w: heap %v exhausted requesting %d bytes", ErrOutOfMemory, kind, size)
	}
	h.next = base + size

	state := StateReserved
	if commit {
		if err := m.host.Map(base, size, prot); err != nil {
			return 0, fmt.Errorf("vmm: committing [%#x,%#x): %w", base, base+size, err)
		}
		state = StateCommitted
	}
	h.regions = append(h.regions, region{base: base, size: size, state: state, protect: prot})
	return base, nil
}

// AllocRange reserves and commits a range that must land within
// [minAddr, maxAddr), used by allocators that need to stay inside a
// caller-specified window (e.g. near an existing allocation).
func (m *Manager) AllocRange(kind HeapKind, size, minAddr, maxAddr uint32, prot Protect) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return 0, err
	}
	size = alignUp(size, h.layout.PageSize)

	for base := alignUp(minAddr, h.layout.PageSize); base+size <= maxAddr; base += h.layout.PageSize {
		if h.overlaps(base, size) {
			continue
		}
		if err := m.host.Map(base, size, prot); err != nil {
			return 0, fmt.Errorf("vmm: committing [%#x,%#x): %w", base, base+size, err)
		}
		h.regions = append(h.regions, region{base: base, size: size, state: StateCommitted, protect: prot})
		return base, nil
	}
	return 0, fmt.Errorf("vmm: %w: no free range in [%#x,%#x) for %d bytes", ErrOutOfMemory, minAddr, maxAddr, size)
}

// Protect changes the protection of [addr, addr+size) within an
// already-committed region. When the requested range is a strict sub-range
// of the owning region, the region is split: up to two neighbor regions are
// carved off at the old protection, leaving [addr, addr+size) as its own
// independently-queryable region at the new protection (NT's VirtualProtect
// does the same — a protect call never widens its effect to the whole
// reservation it lands in).
func (m *Manager) Protect(kind HeapKind, addr uint32, size uint32, prot Protect) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return err
	}
	idx := -1
	for i := range h.regions {
		if addr >= h.regions[i].base && addr < h.regions[i].base+h.regions[i].size {
			idx = i
			break
		}
	}
	if idx < 0 || h.regions[idx].state != StateCommitted {
		return fmt.Errorf("vmm: %w: no committed region at %#x", ErrMemoryNotAllocated, addr)
	}
	r := h.regions[idx]
	end := addr + size
	if size == 0 || end > r.base+r.size {
		return fmt.Errorf("vmm: %w: [%#x,%#x) extends past region [%#x,%#x)", ErrInvalidParameter, addr, end, r.base, r.base+r.size)
	}

	if err := m.host.Protect(addr, size, prot); err != nil {
		return fmt.Errorf("vmm: protecting [%#x,%#x): %w", addr, end, err)
	}

	split := make([]region, 0, 3)
	if addr > r.base {
		split = append(split, region{base: r.base, size: addr - r.base, state: r.state, protect: r.protect})
	}
	split = append(split, region{base: addr, size: size, state: r.state, protect: prot})
	if end < r.base+r.size {
		split = append(split, region{base: end, size: r.base + r.size - end, state: r.state, protect: r.protect})
	}

	tail := append(split, h.regions[idx+1:]...)
	h.regions = append(h.regions[:idx], tail...)
	return nil
}

// Decommit releases the physical backing of a committed region without
// freeing its reserved address range; a later commit may reuse it.
func (m *Manager) Decommit(kind HeapKind, addr, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return err
	}
	r := h.findRegion(addr)
	if r == nil || r.state != StateCommitted {
		return fmt.Errorf("vmm: %w: no committed region at %#x", ErrMemoryNotAllocated, addr)
	}
	if err := m.host.Decommit(r.base, r.size); err != nil {
		return fmt.Errorf("vmm: decommitting [%#x,%#x): %w", r.base, r.base+r.size, err)
	}
	r.state = StateReserved
	return nil
}

// Release frees a reservation entirely, unmapping host pages if committed,
// and reports the size of the extent freed so callers don't need a separate
// QuerySize call on an address that is about to become invalid.
func (m *Manager) Release(kind HeapKind, addr uint32) (uint32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return 0, err
	}
	for i := range h.regions {
		r := &h.regions[i]
		if r.base != addr {
			continue
		}
		size := r.size
		if r.state == StateCommitted {
			if err := m.host.Unmap(r.base, r.size); err != nil {
				return 0, fmt.Errorf("vmm: releasing [%#x,%#x): %w", r.base, r.base+r.size, err)
			}
		}
		h.regions = append(h.regions[:i], h.regions[i+1:]...)
		return size, nil
	}
	return 0, fmt.Errorf("vmm: %w: no reservation at %#x", ErrMemoryNotAllocated, addr)
}

// RegionInfo is QueryRegionInfo's result: the committed/reserved extent
// containing the queried address and its current state.
type RegionInfo struct {
	Base    uint32
	Size    uint32
	State   State
	Protect Protect
}

// QueryRegionInfo reports the allocation covering addr, or
// ErrMemoryNotAllocated if addr falls in free space.
func (m *Manager) QueryRegionInfo(kind HeapKind, addr uint32) (RegionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return RegionInfo{}, err
	}
	r := h.findRegion(addr)
	if r == nil {
		return RegionInfo{}, fmt.Errorf("vmm: %w: %#x is unallocated", ErrMemoryNotAllocated, addr)
	}
	return RegionInfo{Base: r.base, Size: r.size, State: r.state, Protect: r.protect}, nil
}

// QueryProtect reports addr's current protection.
func (m *Manager) QueryProtect(kind HeapKind, addr uint32) (Protect, error) {
	info, err := m.QueryRegionInfo(kind, addr)
	if err != nil {
		return 0, err
	}
	return info.Protect, nil
}

// QuerySize reports the committed/reserved size of the allocation
// containing addr.
func (m *Manager) QuerySize(kind HeapKind, addr uint32) (uint32, error) {
	info, err := m.QueryRegionInfo(kind, addr)
	if err != nil {
		return 0, err
	}
	return info.Size, nil
}

// GetPhysicalAddress returns addr unchanged for every heap, physical or
// not; no virtual-to-physical translation is applied. It fails only for an
// unknown heap kind.
func (m *Manager) GetPhysicalAddress(kind HeapKind, addr uint32) (uint32, error) {
	h, err := m.heapFor(kind)
	if err != nil {
		return 0, err
	}
	if !h.layout.Physical {
		return addr, nil
	}
	return addr, nil
}

// Zero fills a committed region with zero bytes via the host mapper's own
// page-zeroing (decommit+recommit is the portable way to get the OS to
// zero pages lazily rather than via an explicit memset).
func (m *Manager) Zero(kind HeapKind, addr, size uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, err := m.heapFor(kind)
	if err != nil {
		return err
	}
	r := h.findRegion(addr)
	if r == nil || r.state != StateCommitted {
		return fmt.Errorf("vmm: %w: no committed region at %#x", ErrMemoryNotAllocated, addr)
	}
	if err := m.host.Decommit(r.base, r.size); err != nil {
		return fmt.Errorf("vmm: zeroing [%#x,%#x): %w", r.base, r.base+r.size, err)
	}
	if err := m.host.Map(r.base, r.size, r.protect); err != nil {
		return fmt.Errorf("vmm: zeroing [%#x,%#x): %w", r.base, r.base+r.size, err)
	}
	return nil
}
