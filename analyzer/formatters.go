package analyzer

import (
	"fmt"
	"math/bits"
)

// FormatBytes 将字节数转换为人类可读的字符串 (KB, MB, GB)。
func FormatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.2f %cB", float64(b)/float64(div), "KMGTPE"[exp]) // Kilo, Mega, Giga, Tera, Peta, Exa
}

// FormatAddress prints an address the way smaps does, without the 0x prefix.
func FormatAddress(addr uint64) string {
	return fmt.Sprintf("%x", addr)
}

// formatWindowEnd prints the exclusive end base+size in hex. A window that
// reaches the top of the address space ends at 0x1 followed by 16 zeros.
func formatWindowEnd(base, size uint64) string {
	end, carry := bits.Add64(base, size, 0)
	if carry != 0 {
		return fmt.Sprintf("0x1%016x", end)
	}
	return fmt.Sprintf("0x%x", end)
}

// regionName is the label used for a mapping in tables, profiles and flame graphs.
func regionName(r MemoryRegion) string {
	name := r.Path
	if name == "" {
		name = "[anon]"
	}
	return fmt.Sprintf("%s-%s %s", FormatAddress(r.Start), FormatAddress(r.End), name)
}

// percentOf returns part/total*100, or 0 for an empty total.
func percentOf(part, total uint64) float64 {
	if total == 0 {
		return 0
	}
	return float64(part) / float64(total) * 100
}
