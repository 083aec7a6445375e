package quotes

import (
	"encoding/csv"
	"errors"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"

	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

const (
	// FileSuffix marks compressed quote files inside a month folder.
	FileSuffix = ".gz"

	TimestampColumn = "timestamp"
	QuoteColumn     = "quote"
)

// Decompress opens a single-member gzip container for streaming reads.
func Decompress(r io.Reader) (io.ReadCloser, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, apperr.New(apperr.KindDecode, "gunzip", "", err)
	}
	zr.Multistream(false)
	return &decodeReader{zr: zr}, nil
}

// decodeReader reports truncated or corrupt payloads as decode errors.
type decodeReader struct {
	zr *gzip.Reader
}

func (d *decodeReader) Read(p []byte) (int, error) {
	n, err := d.zr.Read(p)
	if err != nil && err != io.EOF {
		return n, apperr.New(apperr.KindDecode, "gunzip", "", err)
	}
	return n, err
}

func (d *decodeReader) Close() error {
	return d.zr.Close()
}

// Parse reads CSV with a header row holding at least the timestamp (epoch
// milliseconds) and quote columns. Other columns are ignored.
func Parse(r io.Reader) ([]schema.Quote, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.ReuseRecord = true
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperr.Newf(apperr.KindParse, "parse", "", "empty input: missing header")
	}
	if err != nil {
		return nil, wrapReadErr(err)
	}

	tsIdx, quoteIdx := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case TimestampColumn:
			tsIdx = i
		case QuoteColumn:
			quoteIdx = i
		}
	}
	if tsIdx < 0 {
		return nil, apperr.Newf(apperr.KindParse, "parse", "", "missing column %q", TimestampColumn)
	}
	if quoteIdx < 0 {
		return nil, apperr.Newf(apperr.KindParse, "parse", "", "missing column %q", QuoteColumn)
	}

	var out []schema.Quote
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, wrapReadErr(err)
		}
		line, _ := cr.FieldPos(0)

		if len(record) == 1 && strings.TrimSpace(record[0]) == "" {
			continue
		}
		if tsIdx >= len(record) || quoteIdx >= len(record) {
			return nil, apperr.Newf(apperr.KindParse, "parse", "", "line %d: expected at least %d fields, got %d",
				line, max(tsIdx, quoteIdx)+1, len(record))
		}

		ms, err := strconv.ParseInt(strings.TrimSpace(record[tsIdx]), 10, 64)
		if err != nil {
			return nil, apperr.Newf(apperr.KindParse, "parse", "", "line %d: bad timestamp %q", line, record[tsIdx])
		}
		value, err := strconv.ParseFloat(strings.TrimSpace(record[quoteIdx]), 64)
		if err != nil {
			return nil, apperr.Newf(apperr.KindParse, "parse", "", "line %d: bad quote %q", line, record[quoteIdx])
		}

		out = append(out, schema.Quote{
			Timestamp: time.UnixMilli(ms).UTC(),
			Value:     value,
		})
	}

	return out, nil
}

// ParseFile decompresses and parses one fetched file.
func ParseFile(r io.Reader) ([]schema.Quote, error) {
	rc, err := Decompress(r)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	return Parse(rc)
}

func wrapReadErr(err error) error {
	var decodeErr *apperr.Error
	if errors.As(err, &decodeErr) && decodeErr.Kind == apperr.KindDecode {
		return err
	}
	return apperr.New(apperr.KindParse, "parse", "", err)
}

// Encode writes quotes as gzip-compressed CSV in the provider's layout.
func Encode(w io.Writer, quotes []schema.Quote) error {
	zw := gzip.NewWriter(w)
	if err := WriteCSV(zw, quotes); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// WriteCSV writes the uncompressed timestamp,quote CSV.
func WriteCSV(w io.Writer, quotes []schema.Quote) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{TimestampColumn, QuoteColumn}); err != nil {
		return err
	}
	for _, q := range quotes {
		row := []string{
			strconv.FormatInt(q.Timestamp.UnixMilli(), 10),
			strconv.FormatFloat(q.Value, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
