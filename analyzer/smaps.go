package analyzer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"math/bits"
	"os"
	"regexp"
	"strconv"
	"strings"
)

const (
	// GiB is the size of the scan window above the heap base. It does not
	// follow the configured heap size.
	GiB uint64 = 1 << 30

	// MinHugePageBytes is the smallest accepted AnonHugePages total. Even with
	// MADV_POPULATE_WRITE the heap usually ends up one page short of full.
	MinHugePageBytes uint64 = 524288
)

var (
	useThpPattern  = regexp.MustCompile(`^.*\[info\s*\]\[pagesize\s*\].+UseTransparentHugePages=1.*$`)
	useMadvPattern = regexp.MustCompile(`^.*\[debug\s*\]\[gc,os\s*\].+UseMadvPopulateWrite=1.*$`)
	heapPattern    = regexp.MustCompile(`^.*\sHeap:\s.+base=0x0*([0-9a-fA-F]+).*$`)

	// Start of a mapping, for example:
	// 200000000-800000000 rw-p 00000000 00:00 0
	mappingPattern  = regexp.MustCompile(`^([0-9a-fA-F]+)-([0-9a-fA-F]+)(?:\s+(\S+))?(?:\s+\S+\s+\S+\s+\S+\s*(.*))?`)
	thpUsagePattern = regexp.MustCompile(`^AnonHugePages:\s+(\d+)\skB$`)
)

// ErrHeapBaseNotFound is returned when no "Heap: ... base=0x..." line exists.
var ErrHeapBaseNotFound = errors.New("heap base was not found in smaps")

// ErrInsufficientHugePageUsage is matched by InsufficientUsageError.
var ErrInsufficientHugePageUsage = errors.New("the usage of THP is not enough")

// InsufficientUsageError carries the measured total when it is below the threshold.
type InsufficientUsageError struct {
	Total     uint64
	Threshold uint64
}

func (e *InsufficientUsageError) Error() string {
	return fmt.Sprintf("%v: %d bytes (%s) of AnonHugePages in heap window, need at least %d bytes",
		ErrInsufficientHugePageUsage, e.Total, FormatBytes(int64(e.Total)), e.Threshold)
}

func (e *InsufficientUsageError) Is(target error) bool {
	return target == ErrInsufficientHugePageUsage
}

// Verdict is the outcome of a check that did not fail.
type Verdict string

const (
	VerdictPassed  Verdict = "passed"
	VerdictSkipped Verdict = "skipped"
	VerdictFailed  Verdict = "failed"
)

// FeatureFlags are the two facts the JVM logs about the host at startup.
type FeatureFlags struct {
	TransparentHugePages bool `json:"useTransparentHugePages"`
	MadvPopulateWrite    bool `json:"useMadvPopulateWrite"`
}

// Enabled reports whether both features are available.
func (f FeatureFlags) Enabled() bool {
	return f.TransparentHugePages && f.MadvPopulateWrite
}

// MemoryRegion is one smaps mapping record.
type MemoryRegion struct {
	Start              uint64 `json:"start"`
	End                uint64 `json:"end"`
	Perms              string `json:"perms,omitempty"`
	Path               string `json:"path,omitempty"`
	AnonHugePagesBytes uint64 `json:"anonHugePagesBytes"`
	HasAnonHugePages   bool   `json:"hasAnonHugePages"`
}

// Size returns End-Start, or 0 when the end address could not be read.
func (r MemoryRegion) Size() uint64 {
	if r.End <= r.Start {
		return 0
	}
	return r.End - r.Start
}

// InWindow reports whether addr lies in [base, base+size) without wrapping.
func InWindow(base, size, addr uint64) bool {
	return addr >= base && addr-base < size
}

// Summary holds every field pulled out of LogText in one pass.
type Summary struct {
	Flags         FeatureFlags
	HeapBase      uint64
	HeapBaseFound bool
	Regions       []MemoryRegion
	Lines         int

	current int // index of the mapping whose block is being read, or -1
}

// ParseLog scans the captured output once and collects feature flags, the heap
// base and all smaps mapping records. AnonHugePages lines are attributed to the
// most recently opened mapping; only the first one per mapping counts. Lines
// have no length limit.
func ParseLog(r io.Reader) (*Summary, error) {
	s := &Summary{current: -1}
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			s.addLine(strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return s, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read log: %w", err)
		}
	}
}

func (s *Summary) addLine(line string) {
	s.Lines++

	if m := mappingPattern.FindStringSubmatch(line); m != nil {
		start, err := strconv.ParseUint(m[1], 16, 64)
		if err != nil {
			s.current = -1
			return
		}
		end, err := strconv.ParseUint(m[2], 16, 64)
		if err != nil {
			end = start
		}
		s.Regions = append(s.Regions, MemoryRegion{
			Start: start,
			End:   end,
			Perms: m[3],
			Path:  strings.TrimSpace(m[4]),
		})
		s.current = len(s.Regions) - 1
		return
	}

	if m := thpUsagePattern.FindStringSubmatch(line); m != nil {
		if s.current < 0 || s.Regions[s.current].HasAnonHugePages {
			return
		}
		kb, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			return
		}
		s.Regions[s.current].AnonHugePagesBytes = kibToBytes(kb)
		s.Regions[s.current].HasAnonHugePages = true
		return
	}

	if !s.Flags.TransparentHugePages && useThpPattern.MatchString(line) {
		s.Flags.TransparentHugePages = true
	}
	if !s.Flags.MadvPopulateWrite && useMadvPattern.MatchString(line) {
		s.Flags.MadvPopulateWrite = true
	}
	if !s.HeapBaseFound {
		if m := heapPattern.FindStringSubmatch(line); m != nil {
			if base, err := strconv.ParseUint(m[1], 16, 64); err == nil {
				s.HeapBase = base
				s.HeapBaseFound = true
			}
		}
	}
}

// kibToBytes converts a kB count to bytes, saturating at math.MaxUint64.
func kibToBytes(kb uint64) uint64 {
	hi, lo := bits.Mul64(kb, 1024)
	if hi != 0 {
		return math.MaxUint64
	}
	return lo
}

// addSaturating returns a+b, or math.MaxUint64 if the sum does not fit.
func addSaturating(a, b uint64) uint64 {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return math.MaxUint64
	}
	return sum
}

// RegionsInWindow returns the regions whose start lies in [HeapBase, HeapBase+size).
func (s *Summary) RegionsInWindow(size uint64) []MemoryRegion {
	var out []MemoryRegion
	for _, r := range s.Regions {
		if InWindow(s.HeapBase, size, r.Start) {
			out = append(out, r)
		}
	}
	return out
}

// HugePageTotal sums AnonHugePages bytes over the regions in the window. The
// sum saturates at math.MaxUint64 instead of wrapping.
func (s *Summary) HugePageTotal(size uint64) uint64 {
	var total uint64
	for _, r := range s.RegionsInWindow(size) {
		total = addSaturating(total, r.AnonHugePagesBytes)
	}
	return total
}

// Report is what CheckUsage found.
type Report struct {
	Verdict   Verdict        `json:"verdict"`
	Flags     FeatureFlags   `json:"flags"`
	HeapBase  uint64         `json:"heapBase,omitempty"`
	Window    uint64         `json:"window"`
	Threshold uint64         `json:"threshold"`
	Total     uint64         `json:"total"`
	Regions   []MemoryRegion `json:"regions,omitempty"`
	Reason    string         `json:"reason,omitempty"`
}

// Checker runs CheckUsage. Echo receives the raw log; nil means os.Stdout.
type Checker struct {
	Echo io.Writer
}

// CheckUsage echoes logText, then decides whether the heap window is backed by
// enough huge pages. A Skipped report is returned with a nil error when the host
// lacks THP or MADV_POPULATE_WRITE. On InsufficientUsageError the report is
// returned alongside the error.
func (c *Checker) CheckUsage(logText string) (*Report, error) {
	echo := c.Echo
	if echo == nil {
		echo = os.Stdout
	}
	if _, err := io.WriteString(echo, logText); err != nil {
		log.Printf("Warning: failed to echo captured log: %v", err)
	}

	summary, err := ParseLog(strings.NewReader(logText))
	if err != nil {
		return nil, err
	}

	report := &Report{
		Flags:     summary.Flags,
		Window:    GiB,
		Threshold: MinHugePageBytes,
	}

	// THP may be disabled by the OS or MADV_POPULATE_WRITE may be unsupported.
	if !summary.Flags.Enabled() {
		report.Verdict = VerdictSkipped
		report.Reason = "UseTransparentHugePages=1 or UseMadvPopulateWrite=1 not reported by the JVM"
		log.Printf("Skipping THP usage check: thp=%t madvPopulateWrite=%t",
			summary.Flags.TransparentHugePages, summary.Flags.MadvPopulateWrite)
		return report, nil
	}

	if !summary.HeapBaseFound {
		return nil, ErrHeapBaseNotFound
	}
	report.HeapBase = summary.HeapBase
	report.Regions = summary.RegionsInWindow(GiB)
	report.Total = summary.HugePageTotal(GiB)
	log.Printf("Heap base 0x%x, %d mappings in window, AnonHugePages total %s",
		report.HeapBase, len(report.Regions), FormatBytes(int64(report.Total)))

	if report.Total < MinHugePageBytes {
		report.Verdict = VerdictFailed
		usageErr := &InsufficientUsageError{Total: report.Total, Threshold: MinHugePageBytes}
		report.Reason = usageErr.Error()
		return report, usageErr
	}
	report.Verdict = VerdictPassed
	return report, nil
}

// CheckUsage runs a Checker that echoes to os.Stdout.
func CheckUsage(logText string) (*Report, error) {
	return (&Checker{}).CheckUsage(logText)
}
