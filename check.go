package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/ZephyrDeng/thp-checker-mcp/analyzer"
	"github.com/ZephyrDeng/thp-checker-mcp/config"
	"github.com/ZephyrDeng/thp-checker-mcp/launcher"
)

// errChildFailed is returned when the child JVM exits with an error before
// printing any smaps mapping.
var errChildFailed = errors.New("child JVM failed before dumping smaps")

// runCheck is the whole pipeline: preflight, launch the child JVM, analyze its
// output. echo receives the captured output verbatim.
func runCheck(ctx context.Context, cfg *config.Config, registry *launcher.Registry, echo io.Writer) (*analyzer.Report, error) {
	if cfg.Preflight.Enabled {
		if _, err := launcher.Preflight(cfg.Preflight.MinMemory); err != nil {
			if errors.Is(err, launcher.ErrHostUnsupported) {
				log.Printf("Skipping THP usage check: %v", err)
				return skippedReport(err.Error()), nil
			}
			return nil, fmt.Errorf("preflight failed: %w", err)
		}
	}

	result, err := launcher.New(cfg.Launcher, registry).Run(ctx)
	if err != nil {
		return nil, err
	}
	if result.ExitCode != 0 && !hasMappings(result.Output) {
		// The JVM log alone would read as zero huge pages.
		if _, err := io.WriteString(echo, result.Output); err != nil {
			log.Printf("Warning: failed to echo captured log: %v", err)
		}
		return nil, fmt.Errorf("%w: exit code %d", errChildFailed, result.ExitCode)
	}
	return (&analyzer.Checker{Echo: echo}).CheckUsage(result.Output)
}

func hasMappings(output string) bool {
	summary, err := analyzer.ParseLog(strings.NewReader(output))
	return err == nil && len(summary.Regions) > 0
}

// analyzeCapturedLog runs the analyzer over output captured earlier.
func analyzeCapturedLog(ctx context.Context, uri string, echo io.Writer) (*analyzer.Report, error) {
	text, err := readCapturedLog(ctx, uri)
	if err != nil {
		return nil, err
	}
	return (&analyzer.Checker{Echo: echo}).CheckUsage(text)
}

// exportProfile analyzes the log at uri and writes the in-window regions as a
// pprof profile to outputPath. The verdict does not matter here: a failing
// heap is the interesting one to look at.
func exportProfile(ctx context.Context, uri, outputPath string) (*analyzer.Report, string, error) {
	report, err := analyzeCapturedLog(ctx, uri, io.Discard)
	if report == nil {
		return nil, "", err
	}
	if report.Verdict == analyzer.VerdictSkipped {
		return report, "", fmt.Errorf("nothing to export: %s", report.Reason)
	}

	path, err := resolveOutputPath(outputPath)
	if err != nil {
		return report, "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return report, "", fmt.Errorf("failed to create '%s': %w", path, err)
	}
	if err := analyzer.WriteProfile(f, report); err != nil {
		f.Close()
		return report, "", err
	}
	if err := f.Close(); err != nil {
		return report, "", fmt.Errorf("failed to close '%s': %w", path, err)
	}
	log.Printf("Wrote huge page profile for %d mappings to %s", len(report.Regions), path)
	return report, path, nil
}

func skippedReport(reason string) *analyzer.Report {
	return &analyzer.Report{
		Verdict:   analyzer.VerdictSkipped,
		Window:    analyzer.GiB,
		Threshold: analyzer.MinHugePageBytes,
		Reason:    reason,
	}
}
