package darwinex

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trade-engine/darwinex-ftp/internal/domain"
	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/internal/frame"
	"github.com/trade-engine/darwinex-ftp/internal/quotes"
	"github.com/trade-engine/darwinex-ftp/internal/remote/remotetest"
	arrowsink "github.com/trade-engine/darwinex-ftp/internal/sink/arrow"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

func ms(v int64) time.Time {
	return time.UnixMilli(v).UTC()
}

func gz(t *testing.T, rows ...schema.Quote) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, quotes.Encode(&buf, rows))
	return buf.Bytes()
}

func q(millis int64, v float64) schema.Quote {
	return schema.Quote{Timestamp: ms(millis), Value: v}
}

func request(darwins ...string) domain.DownloadRequest {
	return domain.DownloadRequest{
		Darwins:     darwins,
		StartPeriod: "2023-01",
		EndPeriod:   "2023-01",
	}
}

func values(t *testing.T, tbl *frame.Table, name string) []any {
	t.Helper()
	c, ok := tbl.Column(name)
	require.True(t, ok, "column %s", name)
	out := make([]any, len(c.Values))
	for i := range c.Values {
		if c.Valid[i] {
			out[i] = c.Values[i]
		}
	}
	return out
}

// thaServer holds the THA file used across scenarios.
func thaServer(t *testing.T) *remotetest.MemorySession {
	mem := remotetest.NewMemorySession()
	mem.AddFile("/THA/quotes/2023-01/q1.gz", gz(t, q(1672531200000, 10.5), q(1672531260000, 10.7)))
	return mem
}

func TestDownloadQuotes_SingleDarwin(t *testing.T) {
	c := NewWithSession(thaServer(t), nil)

	tbl, report, err := c.DownloadQuotes(context.Background(), request("THA"))
	require.NoError(t, err)

	assert.Equal(t, []time.Time{ms(1672531200000), ms(1672531260000)}, tbl.Timestamps)
	assert.Equal(t, []string{"THA"}, tbl.ColumnNames())
	assert.Equal(t, []any{10.5, 10.7}, values(t, tbl, "THA"))

	assert.NotEmpty(t, report.RunID)
	assert.Empty(t, report.Warnings)
	require.Len(t, report.Merged, 1)
	assert.Equal(t, 1, report.Files())
	assert.Equal(t, 2, report.Merged[0].Rows)
	assert.Zero(t, report.SnapshotsWritten)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))
}

func TestDownloadQuotes_MissingVar10IsNotice(t *testing.T) {
	without, _, err := NewWithSession(thaServer(t), nil).DownloadQuotes(context.Background(), request("THA"))
	require.NoError(t, err)

	req := request("THA")
	req.IncludeVar10 = true
	with, report, err := NewWithSession(thaServer(t), nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, without, with)
	notFound := report.WarningsOf(apperr.KindNotFound)
	require.Len(t, notFound, 1)
	assert.Equal(t, "THA", notFound[0].Darwin)
	assert.Equal(t, "var10", notFound[0].Variant)
}

func TestDownloadQuotes_Var10Locations(t *testing.T) {
	testCases := []struct {
		name string
		dir  string
	}{
		{name: "nested", dir: "/THA/_THA_former_var10"},
		{name: "top level", dir: "/_THA_former_var10"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := thaServer(t)
			mem.AddFile(tc.dir+"/quotes/2023-01/old.gz", gz(t, q(1672531200000, 9.5), q(1672531320000, 9.9)))

			req := request("THA")
			req.IncludeVar10 = true
			tbl, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
			require.NoError(t, err)

			assert.Empty(t, report.Warnings)
			assert.Equal(t, []string{"THA", "THA_var10"}, tbl.ColumnNames())
			assert.Equal(t, []time.Time{ms(1672531200000), ms(1672531260000), ms(1672531320000)}, tbl.Timestamps)
			assert.Equal(t, []any{10.5, 10.7, nil}, values(t, tbl, "THA"))
			assert.Equal(t, []any{9.5, nil, 9.9}, values(t, tbl, "THA_var10"))
		})
	}
}

func TestDownloadQuotes_DisjointDarwins(t *testing.T) {
	mem := thaServer(t)
	mem.AddFile("/AAA/quotes/2023-01/a.gz", gz(t, q(1672617600000, 20), q(1672617660000, 21)))

	tbl, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), request("THA", "AAA"))
	require.NoError(t, err)

	assert.Empty(t, report.Warnings)
	assert.Equal(t, 4, tbl.Len())
	assert.Equal(t, []any{10.5, 10.7, nil, nil}, values(t, tbl, "THA"))
	assert.Equal(t, []any{nil, nil, 20.0, 21.0}, values(t, tbl, "AAA"))
}

func TestDownloadQuotes_SkipsMissingData(t *testing.T) {
	mem := thaServer(t)
	mem.AddDir("/EMPTY")
	mem.AddDir("/LATE/quotes/2024-06")

	tbl, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), request("NOPE", "THA", "EMPTY", "LATE", "tha"))
	require.NoError(t, err)

	assert.Equal(t, []string{"THA"}, tbl.ColumnNames())
	assert.Equal(t, 2, tbl.Len())

	notFound := report.WarningsOf(apperr.KindNotFound)
	require.Len(t, notFound, 3)
	assert.Equal(t, "NOPE", notFound[0].Darwin)
	assert.Equal(t, "EMPTY", notFound[1].Darwin)
	// remote directories are case-sensitive
	assert.Equal(t, "tha", notFound[2].Darwin)

	merge := report.WarningsOf(apperr.KindMerge)
	require.Len(t, merge, 1)
	assert.Equal(t, "LATE", merge[0].Darwin)
}

func TestDownloadQuotes_PeriodFilter(t *testing.T) {
	mem := thaServer(t)
	mem.AddFile("/THA/quotes/2022-12/old.gz", gz(t, q(1670000000000, 1)))
	mem.AddFile("/THA/quotes/2023-02/new.gz", gz(t, q(1675300000000, 2)))
	mem.AddFile("/THA/quotes/2023-01/notes.txt", []byte("ignored"))

	tbl, _, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), request("THA"))
	require.NoError(t, err)

	assert.Equal(t, []string{"/THA/quotes/2023-01/q1.gz"}, mem.RetrievedUnder("/THA"))
	assert.Equal(t, 2, tbl.Len())
}

func TestDownloadQuotes_FatalErrors(t *testing.T) {
	testCases := []struct {
		name   string
		setup  func(t *testing.T, mem *remotetest.MemorySession)
		target error
	}{
		{
			name: "parse",
			setup: func(t *testing.T, mem *remotetest.MemorySession) {
				mem.AddFile("/AAA/quotes/2023-01/bad.gz", gzipText(t, "time,price\n1,2\n"))
			},
			target: apperr.ErrParse,
		},
		{
			name: "decode",
			setup: func(t *testing.T, mem *remotetest.MemorySession) {
				mem.AddFile("/AAA/quotes/2023-01/bad.gz", []byte("plain text"))
			},
			target: apperr.ErrDecode,
		},
		{
			name: "transfer",
			setup: func(t *testing.T, mem *remotetest.MemorySession) {
				mem.AddFile("/AAA/quotes/2023-01/bad.gz", gz(t, q(1, 1)))
				mem.FailRetrieve("/AAA/quotes/2023-01/bad.gz", errors.New("426 connection closed"))
			},
			target: apperr.ErrTransfer,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			mem := thaServer(t)
			tc.setup(t, mem)

			tbl, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), request("THA", "AAA", "ZZZ"))
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.target)
			assert.Contains(t, err.Error(), "/AAA/quotes/2023-01/bad.gz")

			// The table built before the failure is returned.
			assert.Equal(t, []string{"THA"}, tbl.ColumnNames())
			require.NotNil(t, report)
			assert.Len(t, report.Merged, 1)
		})
	}
}

func gzipText(t *testing.T, text string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(text))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestDownloadQuotes_Resample(t *testing.T) {
	mem := remotetest.NewMemorySession()
	// Fri 2023-01-06, Sat 2023-01-07 and Mon 2023-01-09.
	mem.AddFile("/THA/quotes/2023-01/q.gz", gz(t,
		q(time.Date(2023, 1, 6, 9, 0, 0, 0, time.UTC).UnixMilli(), 1),
		q(time.Date(2023, 1, 6, 17, 0, 0, 0, time.UTC).UnixMilli(), 2),
		q(time.Date(2023, 1, 7, 10, 0, 0, 0, time.UTC).UnixMilli(), 3),
		q(time.Date(2023, 1, 9, 12, 0, 0, 0, time.UTC).UnixMilli(), 4),
	))

	req := request("THA")
	req.Resample = schema.FrequencyBusinessDay
	tbl, _, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, []time.Time{
		time.Date(2023, 1, 6, 0, 0, 0, 0, time.UTC),
		time.Date(2023, 1, 9, 0, 0, 0, 0, time.UTC),
	}, tbl.Timestamps)
	assert.Equal(t, []any{3.0, 4.0}, values(t, tbl, "THA"))
}

func TestDownloadQuotes_ResumeFromSnapshot(t *testing.T) {
	dir := t.TempDir()
	mem := thaServer(t)
	mem.AddFile("/AAA/quotes/2023-01/a.gz", gz(t, q(1672531200000, 20)))

	req := request("THA", "AAA")
	req.SnapshotDir = dir
	req.Resume = true

	first, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, report.Resumed)
	assert.Equal(t, 2, report.SnapshotsWritten)
	assert.FileExists(t, report.SnapshotPath)

	second, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, report.Resumed)
	assert.Equal(t, 2, report.ResumedRows)
	assert.Empty(t, report.Warnings)
	assert.Equal(t, first, second)

	stored, _, err := arrowsink.NewSnapshotStore(nil).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, first, stored)
}

func TestDownloadQuotes_ResumeWithDuplicateTimestamps(t *testing.T) {
	dir := t.TempDir()
	mem := thaServer(t)
	// a second file repeating the first timestamp, once with the same value
	mem.AddFile("/THA/quotes/2023-01/q2.gz", gz(t, q(1672531200000, 10.5), q(1672531200000, 10.6)))

	req := request("THA")
	req.SnapshotDir = dir
	req.Resume = true

	first, _, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)
	require.Equal(t, 4, first.Len())
	assert.Equal(t, []any{10.5, 10.5, 10.6, 10.7}, values(t, first, "THA"))

	for run := 2; run <= 4; run++ {
		tbl, report, err := NewWithSession(mem, nil).DownloadQuotes(context.Background(), req)
		require.NoError(t, err)
		require.True(t, report.Resumed)
		assert.Equal(t, 4, report.ResumedRows, "run %d", run)
		assert.Equal(t, first, tbl, "run %d", run)
	}

	stored, _, err := arrowsink.NewSnapshotStore(nil).Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, stored.Len())
}

func TestDownloadQuotes_ResumeDisabled(t *testing.T) {
	dir := t.TempDir()
	seed := &frame.Table{
		Timestamps: []time.Time{ms(1)},
		Columns:    []*frame.Column{{Name: "OLD", Values: []float64{1}, Valid: []bool{true}}},
	}
	_, err := arrowsink.NewSnapshotStore(nil).Save(dir, seed, arrowsink.Meta{})
	require.NoError(t, err)

	req := request("THA")
	req.SnapshotDir = dir
	tbl, report, err := NewWithSession(thaServer(t), nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)

	assert.False(t, report.Resumed)
	assert.Equal(t, []string{"THA"}, tbl.ColumnNames())
}

func TestDownloadQuotes_CorruptSnapshotIsWarning(t *testing.T) {
	dir := t.TempDir()
	store := arrowsink.NewSnapshotStore(nil)
	require.NoError(t, os.WriteFile(store.Path(dir), []byte("garbage"), 0o644))

	req := request("THA")
	req.SnapshotDir = dir
	req.Resume = true
	tbl, report, err := NewWithSession(thaServer(t), nil).DownloadQuotes(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.False(t, report.Resumed)
	assert.Len(t, report.WarningsOf(apperr.KindSnapshot), 1)
	assert.Equal(t, 1, report.SnapshotsWritten)
}

type failingStore struct{ saves int }

func (f *failingStore) Save(dir string, _ *frame.Table, _ arrowsink.Meta) (string, error) {
	f.saves++
	return dir, apperr.Newf(apperr.KindSnapshot, "save", dir, "disk full")
}

func (f *failingStore) Load(dir string) (*frame.Table, arrowsink.Meta, error) {
	return nil, arrowsink.Meta{}, apperr.New(apperr.KindSnapshot, "load", dir, os.ErrNotExist)
}

func TestDownloadQuotes_SnapshotSaveFailureIsWarning(t *testing.T) {
	store := &failingStore{}
	c := NewWithSession(thaServer(t), nil).WithSnapshotStore(store)

	req := request("THA")
	req.SnapshotDir = "/unused"
	req.Resume = true
	tbl, report, err := c.DownloadQuotes(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 2, tbl.Len())
	assert.Equal(t, 1, store.saves)
	assert.Zero(t, report.SnapshotsWritten)
	assert.Len(t, report.WarningsOf(apperr.KindSnapshot), 1)
}

func TestDownloadQuotes_InvalidRequest(t *testing.T) {
	c := NewWithSession(thaServer(t), nil)

	_, _, err := c.DownloadQuotes(context.Background(), domain.DownloadRequest{Darwins: []string{"THA"}, StartPeriod: "2023-13", EndPeriod: "2023-01"})
	assert.Error(t, err)

	_, _, err = c.DownloadQuotes(context.Background(), domain.DownloadRequest{StartPeriod: "2023-01", EndPeriod: "2023-01"})
	assert.Error(t, err)
}

func TestDownloadQuotes_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tbl, report, err := NewWithSession(thaServer(t), nil).DownloadQuotes(ctx, request("THA"))
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, tbl.IsEmpty())
	assert.NotNil(t, report)
}

func TestDarwinDates(t *testing.T) {
	mem := remotetest.NewMemorySession()
	mem.AddFile("/AAA/quotes/2022-05/a.gz", gz(t, q(1651363200000, 1)))
	mem.AddFile("/THA/quotes/2023-01/q1.gz", gz(t, q(1672531200000, 10.5)))
	mem.AddDir("/THA/quotes/2023-02")
	mem.AddDir("/_THA_former_var10/quotes/2018-01")
	mem.AddDir("/_THA_former_var10/quotes/2019-03")
	mem.AddDir("/_THA_former_var10/quotes/notes")
	mem.AddDir("/LVS/quotes/tmp")
	mem.AddDir("/LVS/_LVS_former_var10/quotes/2017-02")
	mem.AddDir("/NOQ")

	testCases := []struct {
		name     string
		darwins  []string
		want     []schema.DarwinDates
		notFound []string
	}{
		{
			name:    "without var10",
			darwins: []string{"AAA"},
			want:    []schema.DarwinDates{{Darwin: "AAA", Start: "2022-05", End: "2022-05"}},
		},
		{
			name:    "top level var10",
			darwins: []string{"THA"},
			want: []schema.DarwinDates{
				{Darwin: "THA", Start: "2023-01", End: "2023-02", StartVar10: "2018-01", EndVar10: "2019-03"},
			},
		},
		{
			name:    "no month folders",
			darwins: []string{"LVS"},
			want:    []schema.DarwinDates{{Darwin: "LVS", StartVar10: "2017-02", EndVar10: "2017-02"}},
		},
		{
			name:    "no quotes directory",
			darwins: []string{"NOQ"},
			want:    []schema.DarwinDates{{Darwin: "NOQ"}},
		},
		{
			name:     "missing darwin",
			darwins:  []string{"ZZZ"},
			want:     []schema.DarwinDates{},
			notFound: []string{"ZZZ"},
		},
		{
			name:    "request order",
			darwins: []string{"THA", "ZZZ", "AAA", "THA", "QQQ"},
			want: []schema.DarwinDates{
				{Darwin: "THA", Start: "2023-01", End: "2023-02", StartVar10: "2018-01", EndVar10: "2019-03"},
				{Darwin: "AAA", Start: "2022-05", End: "2022-05"},
			},
			notFound: []string{"ZZZ", "QQQ"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, warnings, err := NewWithSession(mem, nil).DarwinDates(context.Background(), domain.DatesRequest{Darwins: tc.darwins})
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)

			var missing []string
			for _, w := range warnings {
				assert.Equal(t, apperr.KindNotFound, w.Kind)
				missing = append(missing, w.Darwin)
			}
			assert.Equal(t, tc.notFound, missing)
		})
	}
	assert.Empty(t, mem.Retrieved)
}

func TestApply_Outcomes(t *testing.T) {
	c := NewWithSession(remotetest.NewMemorySession(), nil)
	acc := frame.FromSeries(frame.NewSeries("THA"))
	target := domain.Target{Darwin: "THA", Variant: schema.VariantCurrent}
	merged := frame.NewTable()

	testCases := []struct {
		name     string
		outcome  domain.MergeOutcome
		want     *frame.Table
		wantErr  bool
		warnings []apperr.Kind
	}{
		{name: "merged", outcome: domain.Merged(target, merged, 0, 0), want: merged},
		{
			name:     "skipped not found",
			outcome:  domain.Skipped(target, "no quotes", apperr.New(apperr.KindNotFound, "scan", "/THA/quotes", nil)),
			want:     acc,
			warnings: []apperr.Kind{apperr.KindNotFound},
		},
		{
			name:     "skipped without kind",
			outcome:  domain.Skipped(target, "empty", nil),
			want:     acc,
			warnings: []apperr.Kind{apperr.KindMerge},
		},
		{
			name:    "skipped with fatal error",
			outcome: domain.Skipped(target, "list", apperr.Newf(apperr.KindTransfer, "nlst", "/THA/quotes", "421 timeout")),
			want:    acc,
			wantErr: true,
		},
		{
			name:    "failed",
			outcome: domain.Failed(target, apperr.Newf(apperr.KindParse, "parse", "/THA/quotes/2023-01/q1.gz", "bad row")),
			want:    acc,
			wantErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			report := &domain.Report{}
			got, err := c.apply(verbosity(0), report, acc, tc.outcome)
			if tc.wantErr {
				require.Error(t, err)
			} else {
				require.NoError(t, err)
			}
			assert.Same(t, tc.want, got)

			var kinds []apperr.Kind
			for _, w := range report.Warnings {
				kinds = append(kinds, w.Kind)
			}
			assert.Equal(t, tc.warnings, kinds)
		})
	}
}

func TestMergeDarwin_DoesNotModifyAccumulator(t *testing.T) {
	c := NewWithSession(thaServer(t), nil)
	req, err := request("THA").Validate()
	require.NoError(t, err)

	acc := frame.NewTable()
	target := domain.Target{Darwin: "THA"}
	outcome := c.MergeDarwin(context.Background(), req, acc, target, "/THA")

	require.Equal(t, domain.OutcomeMerged, outcome.Status)
	assert.Equal(t, 2, outcome.Table.Len())
	assert.Equal(t, 1, outcome.Files)
	assert.True(t, acc.IsEmpty())

	again := c.MergeDarwin(context.Background(), req, outcome.Table, target, "/THA")
	require.Equal(t, domain.OutcomeMerged, again.Status)
	assert.Equal(t, outcome.Table, again.Table)
}

func TestMergeDarwin_NoQuotesDirectory(t *testing.T) {
	mem := remotetest.NewMemorySession()
	mem.AddDir("/THA")
	req, err := request("THA").Validate()
	require.NoError(t, err)

	outcome := NewWithSession(mem, nil).MergeDarwin(context.Background(), req, frame.NewTable(), domain.Target{Darwin: "THA"}, "/THA")
	assert.Equal(t, domain.OutcomeSkipped, outcome.Status)
	assert.ErrorIs(t, outcome.Err, apperr.ErrNotFound)
	assert.Nil(t, outcome.Table)
}

func TestFetchFile(t *testing.T) {
	mem := remotetest.NewMemorySession()
	mem.AddFile("/THA/file.bin", []byte("payload"))
	c := NewWithSession(mem, nil)

	buf, err := c.FetchFile(context.Background(), "/THA/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "payload", buf.String())

	_, err = c.FetchFile(context.Background(), "/THA/missing.bin")
	assert.ErrorIs(t, err, apperr.ErrTransfer)
}

func TestListEntriesAndClose(t *testing.T) {
	mem := thaServer(t)
	mem.AddDir("/AAA")
	c := NewWithSession(mem, nil)

	entries, err := c.ListEntries(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, []string{"AAA", "THA"}, entries)

	entries, err = c.ListEntries(context.Background(), "THA/quotes")
	require.NoError(t, err)
	assert.Equal(t, []string{"2023-01"}, entries)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, 1, mem.Quits)
}
