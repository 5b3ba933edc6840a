//go:build !windows

package vmm

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// posixMapper backs the manager with anonymous mmap regions placed at
// fixed guest addresses, relying on the host kernel to fault in zeroed
// pages lazily.
type posixMapper struct{}

func newHostMapper() hostMapper {
	return posixMapper{}
}

func toUnixProt(p Protect) int {
	switch p {
	case ProtectNoAccess:
		return unix.PROT_NONE
	case ProtectReadOnly:
		return unix.PROT_READ
	case ProtectReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE
	case ProtectExecuteRead:
		return unix.PROT_READ | unix.PROT_EXEC
	case ProtectExecuteReadWrite:
		return unix.PROT_READ | unix.PROT_WRITE | unix.PROT_EXEC
	default:
		return unix.PROT_NONE
	}
}

// mmapFixed wraps the raw mmap(2) syscall: golang.org/x/sys/unix exposes
// Mmap/Mprotect/Munmap/Madvise only as slice-oriented helpers, but placing
// guest pages at an exact host address requires MAP_FIXED with an explicit
// address, which only the raw syscall form accepts.
func mmapFixed(base, size uint32, prot int) error {
	_, _, errno := unix.Syscall6(unix.SYS_MMAP,
		uintptr(base), uintptr(size), uintptr(prot),
		uintptr(unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_FIXED), ^uintptr(0), 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func (posixMapper) Map(base, size uint32, prot Protect) error {
	if err := mmapFixed(base, size, toUnixProt(prot)); err != nil {
		return fmt.Errorf("mmap at %#x (%d bytes): %w", base, size, err)
	}
	return nil
}

func (posixMapper) Protect(base, size uint32, prot Protect) error {
	_, _, errno := unix.Syscall(unix.SYS_MPROTECT, uintptr(base), uintptr(size), uintptr(toUnixProt(prot)))
	if errno != 0 {
		return fmt.Errorf("mprotect at %#x (%d bytes): %w", base, size, errno)
	}
	return nil
}

func (posixMapper) Unmap(base, size uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(base), uintptr(size), 0)
	if errno != 0 {
		return fmt.Errorf("munmap at %#x (%d bytes): %w", base, size, errno)
	}
	return nil
}

func (posixMapper) Decommit(base, size uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_MADVISE, uintptr(base), uintptr(size), uintptr(unix.MADV_DONTNEED))
	if errno != 0 {
		return fmt.Errorf("madvise(MADV_DONTNEED) at %#x (%d bytes): %w", base, size, errno)
	}
	return nil
}
