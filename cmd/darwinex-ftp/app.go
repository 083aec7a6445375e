package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/config"
	"github.com/trade-engine/darwinex-ftp/internal/darwinex"
	"github.com/trade-engine/darwinex-ftp/internal/domain"
	"github.com/trade-engine/darwinex-ftp/internal/frame"
	"github.com/trade-engine/darwinex-ftp/internal/metadata"
	arrowsink "github.com/trade-engine/darwinex-ftp/internal/sink/arrow"
	"github.com/trade-engine/darwinex-ftp/internal/sink/parquet"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// quoteClient is the part of darwinex.Client the commands use.
type quoteClient interface {
	ListEntries(ctx context.Context, dir string) ([]string, error)
	DarwinDates(ctx context.Context, req domain.DatesRequest) ([]schema.DarwinDates, []domain.Warning, error)
	DownloadQuotes(ctx context.Context, req domain.DownloadRequest) (*frame.Table, *domain.Report, error)
	Close() error
}

type app struct {
	cfg     *config.Config
	logger  *zap.Logger
	out     io.Writer
	connect func(ctx context.Context) (quoteClient, error)
	now     func() time.Time
}

func newApp(cfg *config.Config, logger *zap.Logger, out io.Writer) *app {
	a := &app{
		cfg:    cfg,
		logger: logger,
		out:    out,
		now:    time.Now,
	}
	a.connect = func(ctx context.Context) (quoteClient, error) {
		c, err := darwinex.New(ctx, cfg.RemoteOptions(), logger)
		if err != nil {
			return nil, err
		}
		return c.WithSnapshotStore(a.snapshots()), nil
	}
	return a
}

func (a *app) snapshots() *arrowsink.SnapshotStore {
	return arrowsink.NewSnapshotStore(a.logger).WithLockTimeout(a.cfg.Download.SnapshotLockTimeout)
}

func (a *app) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "ls":
		dir := ""
		if len(args) > 0 {
			dir = args[0]
		}
		return a.list(ctx, dir)
	case "dates":
		return a.dates(ctx)
	case "download":
		if a.cfg.Download.Schedule != "" {
			return a.scheduled(ctx, a.cfg.Download.Schedule)
		}
		return a.download(ctx)
	case "inspect":
		return a.inspect()
	default:
		return fmt.Errorf("unknown command %q", command)
	}
}

// withClient connects, runs fn and closes the session whatever fn returns.
func (a *app) withClient(ctx context.Context, fn func(c quoteClient) error) (err error) {
	c, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, c.Close())
	}()
	return fn(c)
}

func (a *app) list(ctx context.Context, dir string) error {
	return a.withClient(ctx, func(c quoteClient) error {
		entries, err := c.ListEntries(ctx, dir)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintln(a.out, e)
		}
		return nil
	})
}

func (a *app) dates(ctx context.Context) error {
	var records []schema.DarwinDates
	err := a.withClient(ctx, func(c quoteClient) error {
		var warnings []domain.Warning
		var err error
		records, warnings, err = c.DarwinDates(ctx, a.cfg.DatesRequest())
		printDates(a.out, records, warnings)
		return err
	})
	if err != nil {
		return err
	}

	if a.cfg.Catalog.Path == "" {
		return nil
	}
	catalog, err := metadata.LoadCatalog(a.cfg.Catalog.Path)
	if err != nil {
		return fmt.Errorf("load catalog: %w", err)
	}
	catalog.Update(records, a.now())
	if err := catalog.Save(a.cfg.Catalog.Path); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	a.logger.Info("Catalog updated", zap.String("path", a.cfg.Catalog.Path), zap.Int("darwins", len(records)))
	return nil
}

func printDates(w io.Writer, records []schema.DarwinDates, warnings []domain.Warning) {
	fmt.Fprintf(w, "%-8s %-8s %-8s %-12s %-10s\n", "darwin", "start", "end", "start_var10", "end_var10")
	for _, r := range records {
		fmt.Fprintf(w, "%-8s %-8s %-8s %-12s %-10s\n",
			r.Darwin, orDash(r.Start), orDash(r.End), orDash(r.StartVar10), orDash(r.EndVar10))
	}
	for _, warn := range warnings {
		fmt.Fprintf(w, "skipped %s: %s\n", warn.Darwin, warn.Message)
	}
}

func orDash(p schema.Period) string {
	if p.IsZero() {
		return "-"
	}
	return p.String()
}

func (a *app) download(ctx context.Context) error {
	req, err := a.cfg.DownloadRequest()
	if err != nil {
		return err
	}

	return a.withClient(ctx, func(c quoteClient) error {
		table, report, err := c.DownloadQuotes(ctx, req)
		if report != nil {
			printReport(a.out, table, report)
		}
		if err != nil {
			return err
		}

		if path := a.cfg.Download.ExportParquet; path != "" {
			n, err := parquet.NewWriter(a.cfg.Download.ParquetCompression, a.logger).WriteLong(path, table)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "exported %d quotes to %s\n", n, path)
		}
		return nil
	})
}

func printReport(w io.Writer, t *frame.Table, r *domain.Report) {
	fmt.Fprintf(w, "run %s\n", r.RunID)
	if r.Resumed {
		fmt.Fprintf(w, "resumed from snapshot with %d rows\n", r.ResumedRows)
	}
	for _, m := range r.Merged {
		fmt.Fprintf(w, "merged %-12s %6d rows from %d files\n", m.Target.Column(), m.Rows, m.Files)
	}
	for _, warn := range r.Warnings {
		fmt.Fprintf(w, "warning %s %s [%s]: %s\n", warn.Darwin, warn.Variant, warn.Kind, warn.Message)
	}
	if t != nil {
		fmt.Fprintf(w, "table: %d rows, columns %v\n", t.Len(), t.ColumnNames())
		if first, last, ok := t.Span(); ok {
			fmt.Fprintf(w, "span: %s .. %s\n", first.Format(time.RFC3339), last.Format(time.RFC3339))
		}
	}
	if r.SnapshotPath != "" {
		fmt.Fprintf(w, "snapshot: %s (%d saves)\n", r.SnapshotPath, r.SnapshotsWritten)
	}
}

// scheduled runs the download now and then on every tick of schedule until ctx
// is cancelled. A failed run is logged and the schedule continues.
func (a *app) scheduled(ctx context.Context, schedule string) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	job := func() {
		if err := a.download(ctx); err != nil {
			a.logger.Error("Scheduled download failed", zap.Error(err))
		}
	}
	if _, err := c.AddFunc(schedule, job); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	a.logger.Info("Download scheduled", zap.String("schedule", schedule))
	job()

	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()

	a.logger.Info("Scheduler stopped")
	return nil
}

func (a *app) inspect() error {
	dir := a.cfg.Download.SnapshotDir
	if dir == "" {
		return fmt.Errorf("no snapshot directory configured")
	}

	store := a.snapshots()
	if !store.Exists(dir) {
		return fmt.Errorf("no snapshot in %s", dir)
	}
	sum, err := store.Summary(dir)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "snapshot: %s (%d bytes)\n", sum.Path, sum.Size)
	fmt.Fprintf(a.out, "run %s saved %s resample %q\n", sum.Meta.RunID, sum.Meta.SavedAt.Format(time.RFC3339), sum.Meta.Resample)
	fmt.Fprintf(a.out, "rows: %d\ncolumns: %v\n", sum.Rows, sum.Columns)
	if sum.Rows > 0 {
		fmt.Fprintf(a.out, "span: %s .. %s\n", sum.First.Format(time.RFC3339), sum.Last.Format(time.RFC3339))
		fmt.Fprintf(a.out, "latest: %s", sum.Latest.Timestamp.Format(time.RFC3339))
		for _, c := range sum.Columns {
			if v, ok := sum.Latest.Cells[c]; ok {
				fmt.Fprintf(a.out, " %s=%g", c, v)
			}
		}
		fmt.Fprintln(a.out)
	}

	path := a.cfg.Download.ExportParquet
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); err != nil {
		a.logger.Debug("No Parquet export to inspect", zap.String("path", path), zap.Error(err))
		return nil
	}
	rows, err := parquet.ReadLong(path)
	if err != nil {
		return err
	}
	counts := make(map[string]int)
	for _, r := range rows {
		counts[r.Column]++
	}
	columns := make([]string, 0, len(counts))
	for c := range counts {
		columns = append(columns, c)
	}
	sort.Strings(columns)

	fmt.Fprintf(a.out, "parquet: %s (%d quotes)\n", path, len(rows))
	for _, c := range columns {
		fmt.Fprintf(a.out, "  %-12s %d\n", c, counts[c])
	}
	return nil
}
