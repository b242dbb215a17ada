//go:build linux

package launcher

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func probeHost() (*HostInfo, error) {
	info := &HostInfo{OS: "linux"}

	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return info, fmt.Errorf("uname failed: %w", err)
	}
	info.KernelRelease = unix.ByteSliceToString(uts.Release[:])

	var si unix.Sysinfo_t
	if err := unix.Sysinfo(&si); err != nil {
		return info, fmt.Errorf("sysinfo failed: %w", err)
	}
	unit := uint64(si.Unit)
	if unit == 0 {
		unit = 1
	}
	info.TotalMemory = uint64(si.Totalram) * unit

	info.THPMode = readTHPMode(thpEnabledPath)
	return info, nil
}
