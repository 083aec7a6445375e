package arrow

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow/go/v17/arrow"
	"github.com/apache/arrow/go/v17/arrow/array"
	"github.com/apache/arrow/go/v17/arrow/ipc"
	"github.com/apache/arrow/go/v17/arrow/memory"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/internal/frame"
)

const (
	// FileName is the snapshot file inside the snapshot directory.
	FileName = "quotes_data.arrow"

	tempSuffix         = ".tmp"
	defaultLockTimeout = 10 * time.Second
)

// SnapshotStore saves and loads the combined quote table.
type SnapshotStore struct {
	logger      *zap.Logger
	pool        memory.Allocator
	lockTimeout time.Duration
}

// Summary describes a snapshot on disk without keeping its data.
type Summary struct {
	Path    string
	Size    int64
	Rows    int
	Columns []string
	First   time.Time
	Last    time.Time
	Latest  frame.Row
	Meta    Meta
}

func NewSnapshotStore(logger *zap.Logger) *SnapshotStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotStore{
		logger:      logger,
		pool:        memory.NewGoAllocator(),
		lockTimeout: defaultLockTimeout,
	}
}

// WithLockTimeout changes how long Save waits for the directory lock. A
// non-positive d keeps the default.
func (s *SnapshotStore) WithLockTimeout(d time.Duration) *SnapshotStore {
	if d > 0 {
		s.lockTimeout = d
	}
	return s
}

// Path returns the snapshot file path inside dir.
func (s *SnapshotStore) Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Save writes t to dir atomically: the record is written to a temporary file,
// synced and renamed over the previous snapshot under the directory lock.
func (s *SnapshotStore) Save(dir string, t *frame.Table, meta Meta) (string, error) {
	path := s.Path(dir)
	if t == nil {
		t = frame.NewTable()
	}
	if err := t.Validate(); err != nil {
		return path, apperr.New(apperr.KindSnapshot, "save", path, err)
	}
	if meta.SavedAt.IsZero() {
		meta.SavedAt = time.Now()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return path, apperr.New(apperr.KindSnapshot, "save", path, err)
	}

	err := WithLock(dir, meta.RunID, "save", s.lockTimeout, func() error {
		return s.writeFile(path, t, meta)
	})
	if err != nil {
		return path, apperr.New(apperr.KindSnapshot, "save", path, err)
	}

	s.logger.Debug("Snapshot saved",
		zap.String("path", path),
		zap.Int("rows", t.Len()),
		zap.Int("columns", len(t.Columns)))
	return path, nil
}

func (s *SnapshotStore) writeFile(path string, t *frame.Table, meta Meta) (err error) {
	tempPath := path + tempSuffix
	file, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tempPath)
		}
	}()

	schema := TableSchema(t, meta)
	writer, err := ipc.NewFileWriter(file, ipc.WithSchema(schema), ipc.WithAllocator(s.pool))
	if err != nil {
		return fmt.Errorf("create arrow file writer: %w", err)
	}

	record := s.buildRecord(schema, t)
	defer record.Release()

	if err := writer.Write(record); err != nil {
		return multierr.Append(fmt.Errorf("write record: %w", err), writer.Close())
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close arrow writer: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

func (s *SnapshotStore) buildRecord(schema *arrow.Schema, t *frame.Table) arrow.Record {
	builder := array.NewRecordBuilder(s.pool, schema)
	defer builder.Release()

	ts := builder.Field(0).(*array.TimestampBuilder)
	ts.Reserve(t.Len())
	for _, v := range t.Timestamps {
		ts.Append(arrow.Timestamp(v.UnixMilli()))
	}

	for i, c := range t.Columns {
		fb := builder.Field(i + 1).(*array.Float64Builder)
		fb.Reserve(len(c.Values))
		fb.AppendValues(c.Values, c.Valid)
	}
	return builder.NewRecord()
}

// Load reads the snapshot in dir. A missing file is a snapshot error
// wrapping fs.ErrNotExist.
func (s *SnapshotStore) Load(dir string) (*frame.Table, Meta, error) {
	path := s.Path(dir)
	file, err := os.Open(path)
	if err != nil {
		return nil, Meta{}, apperr.New(apperr.KindSnapshot, "load", path, err)
	}
	defer file.Close()

	reader, err := ipc.NewFileReader(file, ipc.WithAllocator(s.pool))
	if err != nil {
		return nil, Meta{}, apperr.New(apperr.KindSnapshot, "load", path, fmt.Errorf("open arrow file: %w", err))
	}
	defer reader.Close()

	schema := reader.Schema()
	if err := checkSchema(schema); err != nil {
		return nil, Meta{}, apperr.New(apperr.KindSnapshot, "load", path, err)
	}

	t := frame.NewTable()
	for _, f := range schema.Fields()[1:] {
		t.Columns = append(t.Columns, &frame.Column{Name: f.Name})
	}

	for i := 0; i < reader.NumRecords(); i++ {
		record, err := reader.Record(i)
		if err != nil {
			return nil, Meta{}, apperr.New(apperr.KindSnapshot, "load", path, fmt.Errorf("read record %d: %w", i, err))
		}
		appendRecord(t, record)
	}

	if err := t.Validate(); err != nil {
		return nil, Meta{}, apperr.New(apperr.KindSnapshot, "load", path, err)
	}
	return t, metaFromSchema(schema), nil
}

func appendRecord(t *frame.Table, record arrow.Record) {
	ts := record.Column(0).(*array.Timestamp)
	for row := 0; row < ts.Len(); row++ {
		t.Timestamps = append(t.Timestamps, time.UnixMilli(int64(ts.Value(row))).UTC())
	}

	for i, c := range t.Columns {
		values := record.Column(i + 1).(*array.Float64)
		for row := 0; row < values.Len(); row++ {
			if values.IsNull(row) {
				c.Values = append(c.Values, 0)
				c.Valid = append(c.Valid, false)
				continue
			}
			c.Values = append(c.Values, values.Value(row))
			c.Valid = append(c.Valid, true)
		}
	}
}

// Exists reports whether dir holds a snapshot.
func (s *SnapshotStore) Exists(dir string) bool {
	_, err := os.Stat(s.Path(dir))
	return err == nil
}

// Summary loads the snapshot in dir and describes it.
func (s *SnapshotStore) Summary(dir string) (Summary, error) {
	path := s.Path(dir)
	info, err := os.Stat(path)
	if err != nil {
		return Summary{}, apperr.New(apperr.KindSnapshot, "summary", path, err)
	}

	t, meta, err := s.Load(dir)
	if err != nil {
		return Summary{}, err
	}

	sum := Summary{
		Path:    path,
		Size:    info.Size(),
		Rows:    t.Len(),
		Columns: t.ColumnNames(),
		Meta:    meta,
	}
	var ok bool
	if sum.First, sum.Last, ok = t.Span(); ok {
		sum.Latest = t.Row(t.Len() - 1)
	}
	return sum, nil
}

// IsNotExist reports whether err is a snapshot miss rather than a bad file.
func IsNotExist(err error) bool {
	return apperr.KindOf(err) == apperr.KindSnapshot && errors.Is(err, fs.ErrNotExist)
}
