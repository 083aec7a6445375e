package darwinex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/domain"
	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/internal/frame"
	"github.com/trade-engine/darwinex-ftp/internal/quotes"
	"github.com/trade-engine/darwinex-ftp/internal/remote"
	"github.com/trade-engine/darwinex-ftp/internal/services"
	arrowsink "github.com/trade-engine/darwinex-ftp/internal/sink/arrow"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// FetchFile retrieves one remote file into memory, positioned at the start.
func (c *Client) FetchFile(ctx context.Context, path string) (*bytes.Buffer, error) {
	buf := new(bytes.Buffer)
	if err := c.session.Retrieve(ctx, path, buf); err != nil {
		if apperr.KindOf(err) == "" && !isContextErr(err) {
			err = apperr.New(apperr.KindTransfer, "retr", path, err)
		}
		return nil, err
	}
	return buf, nil
}

// DownloadSeries downloads every quote file of the in-period month folders
// below root/quotes into one series named after target. The series is
// sorted by time, keeps duplicate timestamps, and is resampled when the
// request asks for it. files counts the files parsed.
func (c *Client) DownloadSeries(ctx context.Context, req domain.DownloadRequest, target domain.Target, root string) (series *frame.Series, files int, err error) {
	v := verbosity(req.Verbose)
	quotesDir := remote.Join(root, services.QuotesDir)

	folders, err := c.scanner.MonthFolders(quotesDir)
	if err != nil {
		return nil, 0, err
	}
	c.logListing(v, quotesDir, folders)

	series = frame.NewSeries(target.Column())
	for _, folder := range services.FilterPeriod(folders, req.StartPeriod, req.EndPeriod) {
		dir := remote.Join(quotesDir, folder)
		names, err := c.scanner.QuoteFiles(dir, quotes.FileSuffix)
		if err != nil {
			return nil, files, err
		}
		c.logListing(v, dir, names)

		for _, name := range names {
			if err := ctx.Err(); err != nil {
				return nil, files, err
			}

			path := remote.Join(dir, name)
			buf, err := c.FetchFile(ctx, path)
			if err != nil {
				return nil, files, err
			}
			rows, err := quotes.ParseFile(buf)
			if err != nil {
				return nil, files, withPath(err, path)
			}
			series.Append(rows...)
			files++

			if v.listings() {
				c.logger.Debug("Parsed quote file", zap.String("file", path), zap.Int("rows", len(rows)))
			}
		}
	}

	series.SortByTime()
	if !req.Resample.IsNone() {
		series = series.Resample(req.Resample)
	}
	return series, files, nil
}

// MergeDarwin downloads target from root and outer-joins it into acc. acc is
// never modified; a merged outcome carries the new table.
func (c *Client) MergeDarwin(ctx context.Context, req domain.DownloadRequest, acc *frame.Table, target domain.Target, root string) domain.MergeOutcome {
	has, err := c.scanner.HasEntry(root, services.QuotesDir)
	if err != nil {
		return domain.Failed(target, err)
	}
	if !has {
		dir := remote.Join(root, services.QuotesDir)
		return domain.Skipped(target, "no quotes directory",
			apperr.Newf(apperr.KindNotFound, "merge", dir, "no %s directory for %s", services.QuotesDir, target))
	}

	series, files, err := c.DownloadSeries(ctx, req, target, root)
	if err != nil {
		return domain.Failed(target, err)
	}

	merged, err := acc.OuterJoin(frame.FromSeries(series))
	if err != nil {
		return domain.Skipped(target, "join failed", err)
	}
	return domain.Merged(target, merged, series.Len(), files)
}

// DownloadQuotes runs a full download: optional resume from the snapshot,
// then for every darwin the current data, the var10 data when requested, a
// re-sort and a snapshot save. Missing darwins, missing variants, join
// failures and snapshot problems become report warnings. Transfer, decode
// and parse failures abort the run and return the table built so far.
func (c *Client) DownloadQuotes(ctx context.Context, req domain.DownloadRequest) (*frame.Table, *domain.Report, error) {
	req, err := req.Validate()
	if err != nil {
		return nil, nil, err
	}
	v := verbosity(req.Verbose)

	report := &domain.Report{
		RunID:     uuid.NewString(),
		StartedAt: time.Now().UTC(),
	}
	defer func() { report.FinishedAt = time.Now().UTC() }()

	acc := c.resume(v, req, report)

	for _, code := range req.Darwins {
		if err := ctx.Err(); err != nil {
			return acc, report, err
		}

		root := services.DarwinDir(code, schema.VariantCurrent)
		ok, err := c.session.IsDir(root)
		if err != nil {
			return acc, report, err
		}
		if !ok {
			c.warn(report, domain.Warning{
				Darwin:  code,
				Variant: schema.VariantCurrent.String(),
				Kind:    apperr.KindNotFound,
				Message: "no directory " + root,
			})
			continue
		}

		current := domain.Target{Darwin: code, Variant: schema.VariantCurrent}
		if acc, err = c.apply(v, report, acc, c.MergeDarwin(ctx, req, acc, current, root)); err != nil {
			return acc, report, err
		}

		if req.IncludeVar10 {
			var10 := domain.Target{Darwin: code, Variant: schema.VariantVar10}
			dir, found, err := c.scanner.FindVar10Dir(code)
			if err != nil {
				return acc, report, err
			}
			if found {
				if acc, err = c.apply(v, report, acc, c.MergeDarwin(ctx, req, acc, var10, dir)); err != nil {
					return acc, report, err
				}
			} else {
				c.warn(report, domain.Warning{
					Darwin:  code,
					Variant: schema.VariantVar10.String(),
					Kind:    apperr.KindNotFound,
					Message: "no directory " + services.Var10DirName(code),
				})
			}
		}

		acc.SortByTime()
		c.save(v, req, report, acc)
	}

	if v.progress() {
		c.logger.Info("Download finished",
			zap.String("run_id", report.RunID),
			zap.Int("rows", acc.Len()),
			zap.Strings("columns", acc.ColumnNames()),
			zap.Int("files", report.Files()),
			zap.Int("warnings", len(report.Warnings)))
	}
	return acc, report, nil
}

// apply folds an outcome into the run. Only a failed outcome returns an error.
func (c *Client) apply(v verbosity, report *domain.Report, acc *frame.Table, outcome domain.MergeOutcome) (*frame.Table, error) {
	switch outcome.Status {
	case domain.OutcomeMerged:
		report.Merged = append(report.Merged, outcome)
		if v.progress() {
			c.logger.Info("Merged darwin",
				zap.String("column", outcome.Target.Column()),
				zap.Int("rows", outcome.Rows),
				zap.Int("files", outcome.Files),
				zap.Int("table_rows", outcome.Table.Len()))
		}
		return outcome.Table, nil
	case domain.OutcomeSkipped:
		if apperr.IsFatal(outcome.Err) {
			c.logger.Error("Darwin skipped on fatal error",
				zap.String("column", outcome.Target.Column()),
				zap.Error(outcome.Err))
			return acc, outcome.Err
		}
		kind := apperr.KindOf(outcome.Err)
		if kind == "" {
			kind = apperr.KindMerge
		}
		c.warn(report, domain.Warning{
			Darwin:  outcome.Target.Darwin,
			Variant: outcome.Target.Variant.String(),
			Kind:    kind,
			Message: fmt.Sprintf("%s: %v", outcome.Reason, outcome.Err),
		})
		return acc, nil
	case domain.OutcomeFailed:
		c.logger.Error("Darwin download failed",
			zap.String("column", outcome.Target.Column()),
			zap.Error(outcome.Err))
		return acc, outcome.Err
	default:
		return acc, fmt.Errorf("unknown merge outcome %q for %s", outcome.Status, outcome.Target)
	}
}

func (c *Client) warn(report *domain.Report, w domain.Warning) {
	c.logger.Warn("Skipping darwin data",
		zap.String("darwin", w.Darwin),
		zap.String("variant", w.Variant),
		zap.String("kind", string(w.Kind)),
		zap.String("message", w.Message))
	report.Warn(w)
}

// resume seeds the run with the stored snapshot when asked to. Any load
// failure falls back to an empty table.
func (c *Client) resume(v verbosity, req domain.DownloadRequest, report *domain.Report) *frame.Table {
	if req.SnapshotDir == "" || !req.Resume || c.snapshots == nil {
		return frame.NewTable()
	}

	t, meta, err := c.snapshots.Load(req.SnapshotDir)
	switch {
	case err != nil && arrowsink.IsNotExist(err):
		if v.progress() {
			c.logger.Info("No snapshot found, a new one will be created", zap.String("dir", req.SnapshotDir))
		}
		return frame.NewTable()
	case err != nil:
		c.warn(report, domain.Warning{Kind: apperr.KindSnapshot, Message: "load: " + err.Error()})
		return frame.NewTable()
	}

	if meta.Resample != string(req.Resample) {
		c.warn(report, domain.Warning{
			Kind:    apperr.KindSnapshot,
			Message: fmt.Sprintf("snapshot resampled at %q, run uses %q", meta.Resample, req.Resample),
		})
	}

	report.Resumed = true
	report.ResumedRows = t.Len()
	if v.progress() {
		c.logger.Info("Snapshot loaded",
			zap.String("dir", req.SnapshotDir),
			zap.String("run_id", meta.RunID),
			zap.Int("rows", t.Len()))
	}
	if v.notices() {
		c.logger.Info("Snapshot columns", zap.Strings("columns", t.ColumnNames()))
	}
	return t
}

// save writes the snapshot after a darwin. Failures are warnings.
func (c *Client) save(v verbosity, req domain.DownloadRequest, report *domain.Report, acc *frame.Table) {
	if req.SnapshotDir == "" || c.snapshots == nil {
		return
	}

	meta := arrowsink.Meta{
		RunID:    report.RunID,
		SavedAt:  time.Now().UTC(),
		Resample: string(req.Resample),
	}
	path, err := c.snapshots.Save(req.SnapshotDir, acc, meta)
	if err != nil {
		c.warn(report, domain.Warning{Kind: apperr.KindSnapshot, Message: "save: " + err.Error()})
		return
	}

	report.SnapshotPath = path
	report.SnapshotsWritten++
	if v.notices() {
		c.logger.Info("Snapshot saved", zap.String("path", path), zap.Int("rows", acc.Len()))
	}
}

// withPath records the remote file on errors raised without one.
func withPath(err error, path string) error {
	var e *apperr.Error
	if errors.As(err, &e) && e.Path == "" {
		annotated := *e
		annotated.Path = path
		return &annotated
	}
	return err
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
