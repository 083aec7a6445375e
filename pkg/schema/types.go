package schema

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Variant names the data stream a darwin column comes from.
type Variant string

const (
	VariantCurrent Variant = ""
	VariantVar10   Variant = "_var10"
)

// Suffix is appended to the darwin code to build column names.
func (v Variant) Suffix() string {
	return string(v)
}

func (v Variant) String() string {
	if v == VariantCurrent {
		return "current"
	}
	return "var10"
}

// Column returns the combined-table column name for a darwin in this variant.
func (v Variant) Column(darwin string) string {
	return darwin + v.Suffix()
}

var periodPattern = regexp.MustCompile(`^\d{4}-(0[1-9]|1[0-2])$`)

// Period is a year-month in YYYY-MM form. The fixed width makes string
// comparison chronological.
type Period string

func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	if !periodPattern.MatchString(s) {
		return "", fmt.Errorf("invalid period %q: want YYYY-MM", s)
	}
	return Period(s), nil
}

// IsPeriod reports whether name is a well formed year-month folder name.
func IsPeriod(name string) bool {
	return periodPattern.MatchString(name)
}

func (p Period) String() string {
	return string(p)
}

func (p Period) IsZero() bool {
	return p == ""
}

// Contains reports whether folder lies within [start, end], both inclusive.
func Contains(start, end Period, folder string) bool {
	return folder >= string(start) && folder <= string(end)
}

// Time returns the first instant of the period in UTC.
func (p Period) Time() (time.Time, error) {
	return time.Parse("2006-01", string(p))
}

// DarwinDates is the fixed-schema discovery record for one darwin. Empty
// periods mean the corresponding remote directory was not found.
type DarwinDates struct {
	Darwin     string `yaml:"darwin" json:"darwin"`
	Start      Period `yaml:"start,omitempty" json:"start,omitempty"`
	End        Period `yaml:"end,omitempty" json:"end,omitempty"`
	StartVar10 Period `yaml:"start_var10,omitempty" json:"start_var10,omitempty"`
	EndVar10   Period `yaml:"end_var10,omitempty" json:"end_var10,omitempty"`
}

func (d DarwinDates) HasCurrent() bool {
	return !d.Start.IsZero() && !d.End.IsZero()
}

func (d DarwinDates) HasVar10() bool {
	return !d.StartVar10.IsZero() && !d.EndVar10.IsZero()
}

// Set stores a range for the given variant.
func (d *DarwinDates) Set(v Variant, start, end Period) {
	if v == VariantVar10 {
		d.StartVar10, d.EndVar10 = start, end
		return
	}
	d.Start, d.End = start, end
}

type Quote struct {
	Timestamp time.Time
	Value     float64
}

// NormalizeDarwin trims a darwin code. Case is kept: codes name remote
// directories and the server compares them case-sensitively.
func NormalizeDarwin(code string) string {
	return strings.TrimSpace(code)
}

// NormalizeDarwins normalizes codes, dropping blanks and duplicates while
// keeping first-seen order.
func NormalizeDarwins(codes []string) []string {
	seen := make(map[string]struct{}, len(codes))
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		n := NormalizeDarwin(c)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
