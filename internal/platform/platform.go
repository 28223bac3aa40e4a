// Package platform includes runtime-specific code needed for the compiler backend.
package platform

import (
	"errors"
	"runtime"
)

// CompilerSupported returns true if the compiler backend can place native code on this GOOS/GOARCH.
func CompilerSupported() bool {
	return runtime.GOARCH == "amd64" && mmapSupported
}

// MmapCodeSegment copies code into a new read-write-execute mapping, which is returned.
//
// See https://man7.org/linux/man-pages/man2/mmap.2.html
func MmapCodeSegment(code []byte) ([]byte, error) {
	if len(code) == 0 {
		return nil, errors.New("no code to map")
	}
	return mmapCodeSegment(code)
}

// MunmapCodeSegment unmaps the given memory region.
func MunmapCodeSegment(code []byte) error {
	if len(code) == 0 {
		return errors.New("no code to unmap")
	}
	return munmapCodeSegment(code)
}
