// Package platform includes runtime-specific code needed for mapping and protecting machine code.
package platform

import (
	"errors"
	"runtime"
)

// ErrUnsupported is returned on hosts where code memory cannot be mapped.
var ErrUnsupported = errors.New("mmap unsupported on GOOS=" + runtime.GOOS)

// CompilerSupported returns true if the host can map and execute generated code.
func CompilerSupported() bool {
	switch runtime.GOOS {
	case "linux", "darwin", "freebsd", "netbsd", "openbsd", "dragonfly":
	default:
		return false
	}
	return runtime.GOARCH == "amd64" || runtime.GOARCH == "arm64"
}

// MmapCodeSegment returns a new anonymous read-write mapping of the given size.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html for mmap API and flags.
func MmapCodeSegment(size int) ([]byte, error) {
	if size == 0 {
		panic(errors.New("BUG: MmapCodeSegment with zero length"))
	}
	return mmapCodeSegment(size)
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		panic(errors.New("BUG: MunmapCodeSegment with zero length"))
	}
	return munmapCodeSegment(code)
}

// MprotectRX makes the pages of b readable and executable.
func MprotectRX(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return mprotect(b, protRX)
}

// MprotectR makes the pages of b read-only.
func MprotectR(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return mprotect(b, protR)
}

// MprotectRW makes the pages of b writable again, used when a mapping is recycled.
func MprotectRW(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return mprotect(b, protRW)
}

type protection int

const (
	protR protection = iota
	protRW
	protRX
)
