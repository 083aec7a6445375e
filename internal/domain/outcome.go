package domain

import (
	"time"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/internal/frame"
)

// OutcomeStatus tags a MergeOutcome.
type OutcomeStatus string

const (
	// OutcomeMerged carries the new combined table.
	OutcomeMerged OutcomeStatus = "merged"
	// OutcomeSkipped leaves the combined table unchanged and says why.
	OutcomeSkipped OutcomeStatus = "skipped"
	// OutcomeFailed aborts the run.
	OutcomeFailed OutcomeStatus = "failed"
)

// MergeOutcome is the result of merging one target into the combined table.
// Callers must switch on Status; Table is only set for OutcomeMerged.
type MergeOutcome struct {
	Status OutcomeStatus
	Target Target
	Table  *frame.Table
	Rows   int
	Files  int
	Reason string
	Err    error
}

func Merged(target Target, table *frame.Table, rows, files int) MergeOutcome {
	return MergeOutcome{Status: OutcomeMerged, Target: target, Table: table, Rows: rows, Files: files}
}

func Skipped(target Target, reason string, err error) MergeOutcome {
	return MergeOutcome{Status: OutcomeSkipped, Target: target, Reason: reason, Err: err}
}

func Failed(target Target, err error) MergeOutcome {
	return MergeOutcome{Status: OutcomeFailed, Target: target, Reason: err.Error(), Err: err}
}

// Warning is a non-fatal event reported back to the caller with the darwin it concerns.
type Warning struct {
	Darwin  string
	Variant string
	Kind    apperr.Kind
	Message string
}

// Report summarizes a download run.
type Report struct {
	RunID            string
	StartedAt        time.Time
	FinishedAt       time.Time
	Resumed          bool
	ResumedRows      int
	Merged           []MergeOutcome
	Warnings         []Warning
	SnapshotPath     string
	SnapshotsWritten int
}

func (r *Report) Warn(w Warning) {
	r.Warnings = append(r.Warnings, w)
}

// WarningsOf returns the warnings of one kind.
func (r *Report) WarningsOf(kind apperr.Kind) []Warning {
	var out []Warning
	for _, w := range r.Warnings {
		if w.Kind == kind {
			out = append(out, w)
		}
	}
	return out
}

// Files counts the files downloaded across merged targets.
func (r *Report) Files() int {
	n := 0
	for _, m := range r.Merged {
		n += m.Files
	}
	return n
}
