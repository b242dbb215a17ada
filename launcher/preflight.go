package launcher

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
)

// ErrHostUnsupported means the host cannot run the check at all; callers
// report it as skipped, not failed.
var ErrHostUnsupported = errors.New("host does not support the THP check")

const thpEnabledPath = "/sys/kernel/mm/transparent_hugepage/enabled"

// HostInfo describes the machine the child JVM would run on.
type HostInfo struct {
	OS            string `json:"os"`
	KernelRelease string `json:"kernelRelease,omitempty"`
	TotalMemory   uint64 `json:"totalMemory"`
	THPMode       string `json:"thpMode,omitempty"`
}

// Preflight probes the host and requires Linux with more than minMemory bytes
// of RAM, since the child pre-touches a 1 GiB heap, and a THP mode other than
// "never".
func Preflight(minMemory uint64) (*HostInfo, error) {
	info, err := probeHost()
	if err != nil {
		return info, err
	}
	log.Printf("Host: os=%s kernel=%s memory=%d thp=%s", info.OS, info.KernelRelease, info.TotalMemory, info.THPMode)
	return info, info.check(minMemory)
}

// check applies the preflight requirements to a probed host. An unknown THP
// mode is left for the JVM to report.
func (h *HostInfo) check(minMemory uint64) error {
	if h.TotalMemory <= minMemory {
		return fmt.Errorf("%w: %d bytes of memory, need more than %d", ErrHostUnsupported, h.TotalMemory, minMemory)
	}
	if h.THPMode == "never" {
		return fmt.Errorf("%w: transparent huge pages are disabled (%s is [never])", ErrHostUnsupported, thpEnabledPath)
	}
	return nil
}

// readTHPMode returns the selected mode from the sysfs "enabled" file, or "" if
// the file is missing.
func readTHPMode(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return parseTHPMode(string(data))
}

// parseTHPMode picks the bracketed entry of e.g. "always [madvise] never".
func parseTHPMode(content string) string {
	for _, field := range strings.Fields(content) {
		if strings.HasPrefix(field, "[") && strings.HasSuffix(field, "]") {
			return strings.Trim(field, "[]")
		}
	}
	return ""
}
