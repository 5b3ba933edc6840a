//go:build windows

package vmm

import (
	"fmt"

	"golang.org/x/sys/windows"
)

// win32Mapper backs the manager directly with VirtualAlloc/VirtualProtect,
// which is the host this guest's own memory manager is modeled after.
type win32Mapper struct{}

func newHostMapper() hostMapper {
	return win32Mapper{}
}

func toWinProtect(p Protect) uint32 {
	switch p {
	case ProtectNoAccess:
		return windows.PAGE_NOACCESS
	case ProtectReadOnly:
		return windows.PAGE_READONLY
	case ProtectReadWrite:
		return windows.PAGE_READWRITE
	case ProtectExecuteRead:
		return windows.PAGE_EXECUTE_READ
	case ProtectExecuteReadWrite:
		return windows.PAGE_EXECUTE_READWRITE
	default:
		return windows.PAGE_NOACCESS
	}
}

func (win32Mapper) Map(base, size uint32, prot Protect) error {
	addr, err := windows.VirtualAlloc(uintptr(base), uintptr(size),
		windows.MEM_RESERVE|windows.MEM_COMMIT, toWinProtect(prot))
	if err != nil {
		return fmt.Errorf("VirtualAlloc at %#x (%d bytes): %w", base, size, err)
	}
	if addr != uintptr(base) {
		return fmt.Errorf("VirtualAlloc returned %#x, requested fixed address %#x", addr, base)
	}
	return nil
}

func (win32Mapper) Protect(base, size uint32, prot Protect) error {
	var old uint32
	if err := windows.VirtualProtect(uintptr(base), uintptr(size), toWinProtect(prot), &old); err != nil {
		return fmt.Errorf("VirtualProtect at %#x (%d bytes): %w", base, size, err)
	}
	return nil
}

func (win32Mapper) Unmap(base, size uint32) error {
	if err := windows.VirtualFree(uintptr(base), 0, windows.MEM_RELEASE); err != nil {
		return fmt.Errorf("VirtualFree(MEM_RELEASE) at %#x: %w", base, err)
	}
	return nil
}

func (win32Mapper) Decommit(base, size uint32) error {
	if err := windows.VirtualFree(uintptr(base), uintptr(size), windows.MEM_DECOMMIT); err != nil {
		return fmt.Errorf("VirtualFree(MEM_DECOMMIT) at %#x (%d bytes): %w", base, size, err)
	}
	return nil
}
