package domain

import (
	"fmt"

	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// DatesRequest asks for the available year-month range of each darwin.
type DatesRequest struct {
	Darwins []string
	Verbose int
}

// DownloadRequest carries every parameter of a download run. It is passed by
// value through the whole traversal and never mutated along the way.
type DownloadRequest struct {
	Darwins      []string
	IncludeVar10 bool
	StartPeriod  schema.Period
	EndPeriod    schema.Period
	Resample     schema.Frequency
	// SnapshotDir enables snapshot persistence after every darwin. Empty disables it.
	SnapshotDir string
	// Resume seeds the run with the snapshot found in SnapshotDir.
	Resume  bool
	Verbose int
}

// Validate normalizes darwin codes and checks the period bounds.
func (r DownloadRequest) Validate() (DownloadRequest, error) {
	r.Darwins = schema.NormalizeDarwins(r.Darwins)
	if len(r.Darwins) == 0 {
		return r, fmt.Errorf("no darwins requested")
	}

	start, err := schema.ParsePeriod(string(r.StartPeriod))
	if err != nil {
		return r, fmt.Errorf("start period: %w", err)
	}
	end, err := schema.ParsePeriod(string(r.EndPeriod))
	if err != nil {
		return r, fmt.Errorf("end period: %w", err)
	}
	if start > end {
		return r, fmt.Errorf("start period %s is after end period %s", start, end)
	}
	r.StartPeriod, r.EndPeriod = start, end

	if r.Verbose < 0 {
		r.Verbose = 0
	}
	if r.Verbose > 3 {
		r.Verbose = 3
	}
	return r, nil
}

// Target identifies one darwin data stream inside a run.
type Target struct {
	Darwin  string
	Variant schema.Variant
}

// Column is the combined-table column this target fills.
func (t Target) Column() string {
	return t.Variant.Column(t.Darwin)
}

func (t Target) String() string {
	return t.Column()
}
