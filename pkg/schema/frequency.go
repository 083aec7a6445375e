package schema

import (
	"fmt"
	"strings"
	"time"
)

// Frequency is a downsampling rule. Every rule keeps the last observation
// per bucket.
type Frequency string

const (
	FrequencyNone        Frequency = ""
	FrequencyMinute      Frequency = "T"
	FrequencyHour        Frequency = "H"
	FrequencyDay         Frequency = "D"
	FrequencyBusinessDay Frequency = "B"
	FrequencyWeek        Frequency = "W"
	FrequencyMonth       Frequency = "M"
)

var AllFrequencies = []Frequency{
	FrequencyMinute, FrequencyHour, FrequencyDay,
	FrequencyBusinessDay, FrequencyWeek, FrequencyMonth,
}

var frequencyAliases = map[string]Frequency{
	"":      FrequencyNone,
	"none":  FrequencyNone,
	"t":     FrequencyMinute,
	"min":   FrequencyMinute,
	"1m":    FrequencyMinute,
	"h":     FrequencyHour,
	"1h":    FrequencyHour,
	"d":     FrequencyDay,
	"1d":    FrequencyDay,
	"b":     FrequencyBusinessDay,
	"bd":    FrequencyBusinessDay,
	"w":     FrequencyWeek,
	"1w":    FrequencyWeek,
	"m":     FrequencyMonth,
	"ms":    FrequencyMonth,
	"month": FrequencyMonth,
}

// ParseFrequency accepts the canonical letters and a few common aliases.
func ParseFrequency(s string) (Frequency, error) {
	f, ok := frequencyAliases[strings.ToLower(strings.TrimSpace(s))]
	if !ok {
		return FrequencyNone, fmt.Errorf("unsupported resample frequency: %s", s)
	}
	return f, nil
}

func (f Frequency) IsNone() bool {
	return f == FrequencyNone
}

// Bucket returns the label of the bucket holding t. Times are bucketed in UTC.
// Every label is the start of its period: W buckets are labelled with their
// Monday and M buckets with the 1st of the month, not the period end.
func (f Frequency) Bucket(t time.Time) time.Time {
	t = t.UTC()
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)

	switch f {
	case FrequencyMinute:
		return t.Truncate(time.Minute)
	case FrequencyHour:
		return t.Truncate(time.Hour)
	case FrequencyDay:
		return day
	case FrequencyBusinessDay:
		// weekend observations belong to the preceding Friday
		switch day.Weekday() {
		case time.Saturday:
			return day.AddDate(0, 0, -1)
		case time.Sunday:
			return day.AddDate(0, 0, -2)
		}
		return day
	case FrequencyWeek:
		days := int(day.Weekday())
		if days == 0 {
			days = 7
		}
		return day.AddDate(0, 0, 1-days)
	case FrequencyMonth:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	default:
		return t
	}
}
