//go:build linux || darwin || freebsd

package platform

import (
	"runtime"

	"golang.org/x/sys/unix"
)

const mmapSupported = true

func mmapCodeSegment(code []byte) ([]byte, error) {
	if runtime.GOARCH == "amd64" {
		return mmapCodeSegmentAMD64(code)
	}
	return mmapCodeSegmentARM64(code)
}

func munmapCodeSegment(code []byte) error {
	return unix.Munmap(code)
}

// mmapCodeSegmentAMD64 gives all read-write-exec permission to the mmap region
// to enter the function. Otherwise, segmentation fault exception is raised.
func mmapCodeSegmentAMD64(code []byte) ([]byte, error) {
	b, err := unix.Mmap(
		-1,
		0,
		len(code),
		// The region must be RWX: RW for writing native codes, X for executing the region.
		unix.PROT_READ|unix.PROT_WRITE|unix.PROT_EXEC,
		// Anonymous as this is not an actual file, but a memory,
		// Private as this is in-process memory region.
		unix.MAP_ANON|unix.MAP_PRIVATE,
	)
	if err != nil {
		return nil, err
	}
	copy(b, code)
	return b, nil
}

// mmapCodeSegmentARM64 cannot give all read-write-exec permission to the mmap region.
// Here we give read-write to the region at first, write the native code and then
// change the perm to read-exec.
func mmapCodeSegmentARM64(code []byte) ([]byte, error) {
	b, err := unix.Mmap(-1, 0, len(code), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, err
	}
	copy(b, code)
	if err = unix.Mprotect(b, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		_ = unix.Munmap(b)
		return nil, err
	}
	return b, nil
}
