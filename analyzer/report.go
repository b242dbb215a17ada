package analyzer

import (
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"
)

// FormatReport renders a report as "text", "markdown", "json" or "flamegraph-json".
func FormatReport(report *Report, format string) (string, error) {
	if report == nil {
		return "", fmt.Errorf("nil report")
	}
	log.Printf("Formatting THP usage report (Verdict: %s, Format: %s)", report.Verdict, format)

	// Largest huge page users first.
	regions := make([]MemoryRegion, len(report.Regions))
	copy(regions, report.Regions)
	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].AnonHugePagesBytes > regions[j].AnonHugePagesBytes
	})

	var b strings.Builder
	switch format {
	case "text", "markdown":
		if format == "markdown" {
			b.WriteString("```text\n")
		}
		b.WriteString("Transparent Huge Page Usage Check\n")
		b.WriteString(fmt.Sprintf("Verdict: %s\n", strings.ToUpper(string(report.Verdict))))
		if report.Reason != "" {
			b.WriteString(fmt.Sprintf("Reason: %s\n", report.Reason))
		}
		b.WriteString(fmt.Sprintf("UseTransparentHugePages=1: %t\n", report.Flags.TransparentHugePages))
		b.WriteString(fmt.Sprintf("UseMadvPopulateWrite=1: %t\n", report.Flags.MadvPopulateWrite))

		if report.Verdict != VerdictSkipped {
			b.WriteString(fmt.Sprintf("Heap base: 0x%x\n", report.HeapBase))
			b.WriteString(fmt.Sprintf("Window: [0x%x, %s)\n", report.HeapBase, formatWindowEnd(report.HeapBase, report.Window)))
			b.WriteString(fmt.Sprintf("Total AnonHugePages: %s (%d bytes, threshold %d bytes)\n",
				FormatBytes(int64(report.Total)), report.Total, report.Threshold))

			b.WriteString("\n=== Mappings In Heap Window ===\n")
			b.WriteString("--------------------------------------------------\n")
			b.WriteString(fmt.Sprintf("%-15s %-15s %-10s %s\n", "AnonHugePages", "Size", "Coverage", "Mapping"))
			b.WriteString("--------------------------------------------------\n")
			for _, r := range regions {
				b.WriteString(fmt.Sprintf("%-15s %-15s %-10s %s %s\n",
					FormatBytes(int64(r.AnonHugePagesBytes)),
					FormatBytes(int64(r.Size())),
					fmt.Sprintf("%.2f%%", percentOf(r.AnonHugePagesBytes, r.Size())),
					regionName(r), r.Perms))
			}
		}
		if format == "markdown" {
			b.WriteString("```\n")
		}

	case "json":
		result := UsageAnalysisResult{
			Verdict:             report.Verdict,
			Reason:              report.Reason,
			ThpEnabled:          report.Flags.TransparentHugePages,
			MadvPopulateWrite:   report.Flags.MadvPopulateWrite,
			Window:              report.Window,
			Threshold:           report.Threshold,
			TotalValue:          report.Total,
			TotalValueFormatted: FormatBytes(int64(report.Total)),
			Regions:             make([]RegionStat, 0, len(regions)),
		}
		if report.Verdict != VerdictSkipped {
			result.HeapBase = fmt.Sprintf("0x%x", report.HeapBase)
		}
		for _, r := range regions {
			result.Regions = append(result.Regions, RegionStat{
				Start:                  FormatAddress(r.Start),
				End:                    FormatAddress(r.End),
				Perms:                  r.Perms,
				Path:                   r.Path,
				Size:                   r.Size(),
				AnonHugePages:          r.AnonHugePagesBytes,
				AnonHugePagesFormatted: FormatBytes(int64(r.AnonHugePagesBytes)),
				Coverage:               percentOf(r.AnonHugePagesBytes, r.Size()),
				PercentOfTotal:         percentOf(r.AnonHugePagesBytes, report.Total),
			})
		}

		jsonBytes, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			log.Printf("Error marshaling THP report to JSON: %v", err)
			errorResult := ErrorResult{Error: fmt.Sprintf("Failed to marshal result to JSON: %v", err)}
			errJsonBytes, _ := json.Marshal(errorResult)
			return string(errJsonBytes), nil
		}
		return string(jsonBytes), nil

	case "flamegraph-json":
		root, err := BuildRegionFlameGraph(report)
		if err != nil {
			log.Printf("Error building flame graph tree for THP report: %v", err)
			errorResult := ErrorResult{Error: fmt.Sprintf("Failed to build flame graph tree: %v", err)}
			errJsonBytes, _ := json.Marshal(errorResult)
			return string(errJsonBytes), nil
		}
		jsonBytes, err := json.Marshal(root)
		if err != nil {
			log.Printf("Error marshaling flame graph tree to JSON: %v", err)
			errorResult := ErrorResult{Error: fmt.Sprintf("Failed to marshal flame graph tree: %v", err)}
			errJsonBytes, _ := json.Marshal(errorResult)
			return string(errJsonBytes), nil
		}
		return string(jsonBytes), nil

	default:
		return "", fmt.Errorf("unsupported output format: %s", format)
	}

	return b.String(), nil
}
