package frame

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
)

// Column holds one darwin's values aligned with Table.Timestamps. Valid is
// false where the darwin has no observation at that timestamp.
type Column struct {
	Name   string
	Values []float64
	Valid  []bool
}

func (c *Column) append(v float64, ok bool) {
	if !ok {
		v = 0
	}
	c.Values = append(c.Values, v)
	c.Valid = append(c.Valid, ok)
}

// Table is the combined, time-indexed quote table.
type Table struct {
	Timestamps []time.Time
	Columns    []*Column
}

func NewTable() *Table {
	return &Table{}
}

// FromSeries builds a one-column table named after the series.
func FromSeries(s *Series) *Table {
	t := &Table{
		Timestamps: make([]time.Time, 0, len(s.Points)),
		Columns:    []*Column{{Name: s.Name}},
	}
	for _, p := range s.Points {
		t.Timestamps = append(t.Timestamps, p.Timestamp)
		t.Columns[0].append(p.Value, true)
	}
	return t
}

func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Timestamps)
}

func (t *Table) IsEmpty() bool {
	return t.Len() == 0
}

func (t *Table) ColumnNames() []string {
	names := make([]string, 0, len(t.Columns))
	for _, c := range t.Columns {
		names = append(names, c.Name)
	}
	return names
}

func (t *Table) Column(name string) (*Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return nil, false
}

// Row is one timestamp with the valid cells keyed by column name.
type Row struct {
	Timestamp time.Time
	Cells     map[string]float64
}

func (t *Table) Row(i int) Row {
	r := Row{Timestamp: t.Timestamps[i], Cells: make(map[string]float64, len(t.Columns))}
	for _, c := range t.Columns {
		if c.Valid[i] {
			r.Cells[c.Name] = c.Values[i]
		}
	}
	return r
}

// Validate checks column names and lengths.
func (t *Table) Validate() error {
	seen := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		if c.Name == "" {
			return fmt.Errorf("unnamed column")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.Values) != len(t.Timestamps) || len(c.Valid) != len(t.Timestamps) {
			return fmt.Errorf("column %q has %d values for %d timestamps", c.Name, len(c.Values), len(t.Timestamps))
		}
	}
	return nil
}

// SortByTime reorders rows ascending by timestamp, keeping ties in place.
func (t *Table) SortByTime() {
	perm := make([]int, len(t.Timestamps))
	for i := range perm {
		perm[i] = i
	}
	sort.SliceStable(perm, func(i, j int) bool {
		return t.Timestamps[perm[i]].Before(t.Timestamps[perm[j]])
	})

	ts := make([]time.Time, len(perm))
	for i, p := range perm {
		ts[i] = t.Timestamps[p]
	}
	t.Timestamps = ts

	for _, c := range t.Columns {
		values := make([]float64, len(perm))
		valid := make([]bool, len(perm))
		for i, p := range perm {
			values[i], valid[i] = c.Values[p], c.Valid[p]
		}
		c.Values, c.Valid = values, valid
	}
}

// Span returns the first and last timestamps of a sorted table.
func (t *Table) Span() (first, last time.Time, ok bool) {
	if t.IsEmpty() {
		return time.Time{}, time.Time{}, false
	}
	return t.Timestamps[0], t.Timestamps[len(t.Timestamps)-1], true
}

// OuterJoin combines t with right on the timestamp plus every column name
// the two share. Rows agreeing on all key values are combined in order:
// the i-th left occurrence of a key pairs with the i-th right occurrence,
// so joining identical data twice yields the same table. Unpaired rows from
// either side are kept with the other side's columns unset. The result is
// sorted by time.
func (t *Table) OuterJoin(right *Table) (*Table, error) {
	if right.IsEmpty() {
		return nil, apperr.Newf(apperr.KindMerge, "join", "", "right table has no rows")
	}
	if err := t.Validate(); err != nil {
		return nil, apperr.New(apperr.KindMerge, "join", "", fmt.Errorf("left: %w", err))
	}
	if err := right.Validate(); err != nil {
		return nil, apperr.New(apperr.KindMerge, "join", "", fmt.Errorf("right: %w", err))
	}

	rightIdx := make(map[string]int, len(right.Columns))
	for i, c := range right.Columns {
		rightIdx[c.Name] = i
	}
	leftNames := make(map[string]struct{}, len(t.Columns))
	for _, c := range t.Columns {
		leftNames[c.Name] = struct{}{}
	}

	// For each left column, its position in right or -1.
	leftToRight := make([]int, len(t.Columns))
	var common []int
	for i, c := range t.Columns {
		leftToRight[i] = -1
		if j, ok := rightIdx[c.Name]; ok {
			leftToRight[i] = j
			common = append(common, i)
		}
	}
	var rightOnly []int
	for j, c := range right.Columns {
		if _, ok := leftNames[c.Name]; !ok {
			rightOnly = append(rightOnly, j)
		}
	}

	out := &Table{}
	for _, c := range t.Columns {
		out.Columns = append(out.Columns, &Column{Name: c.Name})
	}
	for _, j := range rightOnly {
		out.Columns = append(out.Columns, &Column{Name: right.Columns[j].Name})
	}

	emit := func(ts time.Time, li, ri int) {
		out.Timestamps = append(out.Timestamps, ts)
		for k, c := range t.Columns {
			switch {
			case li >= 0:
				out.Columns[k].append(c.Values[li], c.Valid[li])
			case leftToRight[k] >= 0:
				rc := right.Columns[leftToRight[k]]
				out.Columns[k].append(rc.Values[ri], rc.Valid[ri])
			default:
				out.Columns[k].append(0, false)
			}
		}
		for n, j := range rightOnly {
			col := out.Columns[len(t.Columns)+n]
			if ri < 0 {
				col.append(0, false)
				continue
			}
			rc := right.Columns[j]
			col.append(rc.Values[ri], rc.Valid[ri])
		}
	}

	leftCommon := make([]*Column, len(common))
	rightCommon := make([]*Column, len(common))
	for n, i := range common {
		leftCommon[n] = t.Columns[i]
		rightCommon[n] = right.Columns[leftToRight[i]]
	}

	byKey := make(map[string][]int, right.Len())
	for r := 0; r < right.Len(); r++ {
		k := rowKey(right.Timestamps[r], rightCommon, r)
		byKey[k] = append(byKey[k], r)
	}

	matched := make([]bool, right.Len())
	for l := 0; l < t.Len(); l++ {
		k := rowKey(t.Timestamps[l], leftCommon, l)
		rows := byKey[k]
		if len(rows) == 0 {
			emit(t.Timestamps[l], l, -1)
			continue
		}
		r := rows[0]
		byKey[k] = rows[1:]
		emit(t.Timestamps[l], l, r)
		matched[r] = true
	}
	for r := 0; r < right.Len(); r++ {
		if !matched[r] {
			emit(right.Timestamps[r], -1, r)
		}
	}

	out.SortByTime()
	return out, nil
}

func rowKey(ts time.Time, cols []*Column, row int) string {
	var b strings.Builder
	b.WriteString(strconv.FormatInt(ts.UnixNano(), 10))
	for _, c := range cols {
		b.WriteByte('|')
		if !c.Valid[row] {
			b.WriteString("null")
			continue
		}
		b.WriteString(strconv.FormatUint(math.Float64bits(c.Values[row]), 16))
	}
	return b.String()
}
