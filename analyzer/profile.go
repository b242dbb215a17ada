package analyzer

import (
	"fmt"
	"io"
	"time"

	"github.com/google/pprof/profile"
)

const (
	hugePageSampleType = "anon_huge_pages"
	hugePageSampleUnit = "bytes"
	heapWindowFrame    = "heap window"
)

// BuildProfile turns the in-window regions of a report into a pprof profile so
// the huge page distribution can be viewed with `go tool pprof`. Every region
// becomes one mapping, location and function; each sample stack is
// [region, heap window].
func BuildProfile(report *Report) (*profile.Profile, error) {
	if report == nil {
		return nil, fmt.Errorf("nil report")
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: hugePageSampleType, Unit: hugePageSampleUnit},
			{Type: "mapped_space", Unit: "bytes"},
		},
		DefaultSampleType: hugePageSampleType,
		PeriodType:        &profile.ValueType{Type: "space", Unit: "bytes"},
		Period:            1,
		TimeNanos:         time.Now().UnixNano(),
		Comments: []string{
			fmt.Sprintf("verdict=%s", report.Verdict),
			fmt.Sprintf("heap_base=0x%x window=%d threshold=%d total=%d",
				report.HeapBase, report.Window, report.Threshold, report.Total),
		},
	}

	rootFn := &profile.Function{ID: 1, Name: heapWindowFrame, SystemName: heapWindowFrame}
	rootLoc := &profile.Location{ID: 1, Line: []profile.Line{{Function: rootFn}}}
	p.Function = append(p.Function, rootFn)
	p.Location = append(p.Location, rootLoc)

	for i, r := range report.Regions {
		id := uint64(i + 2)
		name := regionName(r)
		m := &profile.Mapping{
			ID:    uint64(i + 1),
			Start: r.Start,
			Limit: r.End,
			File:  r.Path,
		}
		fn := &profile.Function{ID: id, Name: name, SystemName: name, Filename: r.Path}
		loc := &profile.Location{
			ID:      id,
			Mapping: m,
			Address: r.Start,
			Line:    []profile.Line{{Function: fn}},
		}
		p.Mapping = append(p.Mapping, m)
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc, rootLoc},
			Value:    []int64{int64(r.AnonHugePagesBytes), int64(r.Size())},
			Label: map[string][]string{
				"perms": {r.Perms},
			},
			NumLabel: map[string][]int64{
				"start": {int64(r.Start)},
			},
		})
	}

	if err := p.CheckValid(); err != nil {
		return nil, fmt.Errorf("invalid huge page profile: %w", err)
	}
	return p, nil
}

// WriteProfile writes the gzip-compressed protobuf form of BuildProfile(report).
func WriteProfile(w io.Writer, report *Report) error {
	p, err := BuildProfile(report)
	if err != nil {
		return err
	}
	if err := p.Write(w); err != nil {
		return fmt.Errorf("failed to write huge page profile: %w", err)
	}
	return nil
}
