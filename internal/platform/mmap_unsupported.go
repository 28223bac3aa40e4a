//go:build !(linux || darwin || freebsd)

package platform

import (
	"fmt"
	"runtime"
)

const mmapSupported = false

var errUnsupported = fmt.Errorf("native code can't be placed on GOOS=%s: use the interpreter backend", runtime.GOOS)

func mmapCodeSegment([]byte) ([]byte, error) {
	return nil, errUnsupported
}

func munmapCodeSegment([]byte) error {
	return errUnsupported
}
