package frame

import (
	"sort"
	"time"

	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

type Point struct {
	Timestamp time.Time
	Value     float64
}

// Series is the per-darwin quote sequence, assembled from every file in the
// requested period.
type Series struct {
	Name   string
	Points []Point
}

func NewSeries(name string) *Series {
	return &Series{Name: name}
}

// Append adds parsed quotes in file order.
func (s *Series) Append(quotes ...schema.Quote) {
	for _, q := range quotes {
		s.Points = append(s.Points, Point{Timestamp: q.Timestamp, Value: q.Value})
	}
}

func (s *Series) Len() int {
	return len(s.Points)
}

// SortByTime orders points ascending. Equal timestamps keep their relative
// order; duplicates are not removed.
func (s *Series) SortByTime() {
	sort.SliceStable(s.Points, func(i, j int) bool {
		return s.Points[i].Timestamp.Before(s.Points[j].Timestamp)
	})
}

// Rename returns a copy of the series under a new name.
func (s *Series) Rename(name string) *Series {
	out := &Series{Name: name, Points: make([]Point, len(s.Points))}
	copy(out.Points, s.Points)
	return out
}

// Resample downsamples to freq, keeping the chronologically last point of
// each bucket, labelled with the bucket start. Empty buckets produce no point.
func (s *Series) Resample(freq schema.Frequency) *Series {
	if freq.IsNone() {
		return s.Rename(s.Name)
	}

	sorted := s.Rename(s.Name)
	sorted.SortByTime()

	out := &Series{Name: s.Name}
	for _, p := range sorted.Points {
		bucket := freq.Bucket(p.Timestamp)
		if n := len(out.Points); n > 0 && out.Points[n-1].Timestamp.Equal(bucket) {
			out.Points[n-1].Value = p.Value
			continue
		}
		out.Points = append(out.Points, Point{Timestamp: bucket, Value: p.Value})
	}
	return out
}

// Span returns the first and last timestamps. ok is false for an empty series.
func (s *Series) Span() (first, last time.Time, ok bool) {
	if len(s.Points) == 0 {
		return time.Time{}, time.Time{}, false
	}
	first, last = s.Points[0].Timestamp, s.Points[0].Timestamp
	for _, p := range s.Points[1:] {
		if p.Timestamp.Before(first) {
			first = p.Timestamp
		}
		if p.Timestamp.After(last) {
			last = p.Timestamp
		}
	}
	return first, last, true
}
