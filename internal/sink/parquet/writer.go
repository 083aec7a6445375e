package parquet

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/frame"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// QuoteRow is one valid cell of the combined table in long format.
type QuoteRow struct {
	Timestamp int64   `parquet:"timestamp_ms"`
	Column    string  `parquet:"column,dict"`
	Darwin    string  `parquet:"darwin,dict"`
	Variant   string  `parquet:"variant,dict"`
	Quote     float64 `parquet:"quote"`
}

// Time returns the row timestamp in UTC.
func (r QuoteRow) Time() time.Time {
	return time.UnixMilli(r.Timestamp).UTC()
}

const batchSize = 4096

// Writer exports combined tables as Parquet files.
type Writer struct {
	compression parquet.WriterOption
	logger      *zap.Logger
}

// NewWriter builds a writer using the named codec: zstd (default), gzip or snappy.
func NewWriter(compression string, logger *zap.Logger) *Writer {
	if logger == nil {
		logger = zap.NewNop()
	}

	var opt parquet.WriterOption
	switch strings.ToLower(compression) {
	case "gzip":
		opt = parquet.Compression(&parquet.Gzip)
	case "snappy":
		opt = parquet.Compression(&parquet.Snappy)
	default:
		opt = parquet.Compression(&parquet.Zstd)
	}

	return &Writer{
		compression: opt,
		logger:      logger,
	}
}

// WriteLong writes every valid cell of t as a QuoteRow, row by row in table
// order. The file is written next to path and renamed into place.
func (w *Writer) WriteLong(path string, t *frame.Table) (n int, err error) {
	if err := t.Validate(); err != nil {
		return 0, fmt.Errorf("export %s: %w", path, err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("create export directory: %w", err)
	}

	tempPath := path + ".tmp"
	file, err := os.Create(tempPath)
	if err != nil {
		return 0, fmt.Errorf("create export file: %w", err)
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, file.Close())
			os.Remove(tempPath)
		}
	}()

	pw := parquet.NewGenericWriter[QuoteRow](file, w.compression)

	names := make([]string, len(t.Columns))
	darwins := make([]string, len(t.Columns))
	variants := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
		darwins[i], variants[i] = splitColumn(c.Name)
	}

	batch := make([]QuoteRow, 0, batchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.Write(batch); err != nil {
			return fmt.Errorf("write rows: %w", err)
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}

	for row, ts := range t.Timestamps {
		for i, c := range t.Columns {
			if !c.Valid[row] {
				continue
			}
			batch = append(batch, QuoteRow{
				Timestamp: ts.UnixMilli(),
				Column:    names[i],
				Darwin:    darwins[i],
				Variant:   variants[i],
				Quote:     c.Values[row],
			})
			if len(batch) == batchSize {
				if err := flush(); err != nil {
					return n, multierr.Append(err, pw.Close())
				}
			}
		}
	}
	if err := flush(); err != nil {
		return n, multierr.Append(err, pw.Close())
	}

	if err := pw.Close(); err != nil {
		return n, fmt.Errorf("close parquet writer: %w", err)
	}
	if err := file.Sync(); err != nil {
		return n, fmt.Errorf("sync export file: %w", err)
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		return n, fmt.Errorf("rename export file: %w", err)
	}

	w.logger.Info("Parquet export written",
		zap.String("path", path),
		zap.Int("rows", n),
		zap.Int("columns", len(t.Columns)))
	return n, nil
}

// ReadLong reads back a file written by WriteLong.
func ReadLong(path string) ([]QuoteRow, error) {
	rows, err := parquet.ReadFile[QuoteRow](path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return rows, nil
}

func splitColumn(name string) (darwin, variant string) {
	if code, ok := strings.CutSuffix(name, schema.VariantVar10.Suffix()); ok {
		return code, schema.VariantVar10.String()
	}
	return name, schema.VariantCurrent.String()
}
