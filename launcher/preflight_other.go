//go:build !linux

package launcher

import (
	"fmt"
	"runtime"
)

func probeHost() (*HostInfo, error) {
	return &HostInfo{OS: runtime.GOOS}, fmt.Errorf("%w: transparent huge pages are only checked on linux", ErrHostUnsupported)
}
