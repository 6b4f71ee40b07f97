//go:build unix

package platform

import (
	"golang.org/x/sys/unix"
)

// PageSize returns the host page size.
func PageSize() int {
	return unix.Getpagesize()
}

func mmapCodeSegment(size int) ([]byte, error) {
	// Anonymous as this is not an actual file, but a memory,
	// Private as this is in-process memory region.
	return unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
}

func munmapCodeSegment(code []byte) error {
	return unix.Munmap(code)
}

func mprotect(b []byte, p protection) error {
	var prot int
	switch p {
	case protR:
		prot = unix.PROT_READ
	case protRW:
		prot = unix.PROT_READ | unix.PROT_WRITE
	case protRX:
		prot = unix.PROT_READ | unix.PROT_EXEC
	}
	return unix.Mprotect(b, prot)
}
