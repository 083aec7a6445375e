package arrow

import (
	"fmt"
	"time"

	"github.com/apache/arrow/go/v17/arrow"

	"github.com/trade-engine/darwinex-ftp/internal/frame"
)

// TimestampField is the first field of every snapshot.
const TimestampField = "timestamp"

// Schema metadata keys.
const (
	metaRunID    = "run_id"
	metaSavedAt  = "saved_at"
	metaResample = "resample"
	metaFormat   = "format"

	formatVersion = "darwinex-quotes/1"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Millisecond, TimeZone: "UTC"}

// Meta is carried in the schema metadata of a snapshot.
type Meta struct {
	RunID    string
	SavedAt  time.Time
	Resample string
}

// TableSchema returns the snapshot schema of t: a non-null millisecond
// timestamp followed by one nullable float64 per column in table order.
func TableSchema(t *frame.Table, meta Meta) *arrow.Schema {
	fields := make([]arrow.Field, 0, len(t.Columns)+1)
	fields = append(fields, arrow.Field{Name: TimestampField, Type: timestampType, Nullable: false})
	for _, c := range t.Columns {
		fields = append(fields, arrow.Field{Name: c.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}

	keys := []string{metaFormat, metaRunID, metaSavedAt, metaResample}
	values := []string{
		formatVersion,
		meta.RunID,
		meta.SavedAt.UTC().Format(time.RFC3339),
		meta.Resample,
	}
	md := arrow.NewMetadata(keys, values)
	return arrow.NewSchema(fields, &md)
}

// checkSchema verifies a schema read back from disk has the snapshot shape.
func checkSchema(s *arrow.Schema) error {
	fields := s.Fields()
	if len(fields) == 0 || fields[0].Name != TimestampField {
		return fmt.Errorf("first field must be %q", TimestampField)
	}
	if _, ok := fields[0].Type.(*arrow.TimestampType); !ok {
		return fmt.Errorf("field %q has type %s", TimestampField, fields[0].Type)
	}
	for _, f := range fields[1:] {
		if f.Type.ID() != arrow.FLOAT64 {
			return fmt.Errorf("column %q has type %s, want float64", f.Name, f.Type)
		}
	}
	return nil
}

func metaFromSchema(s *arrow.Schema) Meta {
	md := s.Metadata()
	get := func(key string) string {
		if i := md.FindKey(key); i >= 0 {
			return md.Values()[i]
		}
		return ""
	}

	m := Meta{
		RunID:    get(metaRunID),
		Resample: get(metaResample),
	}
	if ts, err := time.Parse(time.RFC3339, get(metaSavedAt)); err == nil {
		m.SavedAt = ts.UTC()
	}
	return m
}
