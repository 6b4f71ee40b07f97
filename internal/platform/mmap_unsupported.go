//go:build !unix

package platform

import "os"

// PageSize returns the host page size.
func PageSize() int {
	return os.Getpagesize()
}

func mmapCodeSegment(int) ([]byte, error) {
	return nil, ErrUnsupported
}

func munmapCodeSegment([]byte) error {
	return ErrUnsupported
}

func mprotect([]byte, protection) error {
	return ErrUnsupported
}
