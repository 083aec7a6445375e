package darwinex

import (
	"context"

	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/domain"
	apperr "github.com/trade-engine/darwinex-ftp/internal/errors"
	"github.com/trade-engine/darwinex-ftp/internal/remote"
	"github.com/trade-engine/darwinex-ftp/internal/services"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// DarwinDates returns the year-month range of every requested darwin that has
// a directory on the server, in request order. Variants without data keep
// their fields empty. Missing darwins are reported as not_found warnings.
func (c *Client) DarwinDates(ctx context.Context, req domain.DatesRequest) ([]schema.DarwinDates, []domain.Warning, error) {
	v := verbosity(req.Verbose)
	darwins := schema.NormalizeDarwins(req.Darwins)

	records := make([]schema.DarwinDates, 0, len(darwins))
	var warnings []domain.Warning

	if v.progress() {
		c.logger.Info("Checking darwins", zap.Strings("darwins", darwins))
	}

	for _, code := range darwins {
		if err := ctx.Err(); err != nil {
			return records, warnings, err
		}

		root := services.DarwinDir(code, schema.VariantCurrent)
		ok, err := c.session.IsDir(root)
		if err != nil {
			return records, warnings, err
		}
		if !ok {
			w := domain.Warning{
				Darwin:  code,
				Variant: schema.VariantCurrent.String(),
				Kind:    apperr.KindNotFound,
				Message: "no directory " + root,
			}
			c.logger.Warn("Darwin not found", zap.String("darwin", code), zap.String("dir", root))
			warnings = append(warnings, w)
			continue
		}

		rec := schema.DarwinDates{Darwin: code}
		if err := c.variantDates(v, &rec, root, schema.VariantCurrent); err != nil {
			return records, warnings, err
		}

		var10Root, found, err := c.scanner.FindVar10Dir(code)
		if err != nil {
			return records, warnings, err
		}
		if found {
			if err := c.variantDates(v, &rec, var10Root, schema.VariantVar10); err != nil {
				return records, warnings, err
			}
		}

		if v.progress() {
			c.logger.Info("Darwin dates",
				zap.String("darwin", code),
				zap.String("start", rec.Start.String()),
				zap.String("end", rec.End.String()),
				zap.String("start_var10", rec.StartVar10.String()),
				zap.String("end_var10", rec.EndVar10.String()))
		}
		records = append(records, rec)
	}

	return records, warnings, nil
}

// variantDates fills rec from the month folders below root/quotes. A root
// without a quotes directory, or without month folders, leaves rec unchanged.
func (c *Client) variantDates(v verbosity, rec *schema.DarwinDates, root string, variant schema.Variant) error {
	has, err := c.scanner.HasEntry(root, services.QuotesDir)
	if err != nil {
		return err
	}
	if !has {
		if v.notices() {
			c.logger.Info("No quotes directory", zap.String("darwin", rec.Darwin), zap.String("variant", variant.String()))
		}
		return nil
	}

	dir := remote.Join(root, services.QuotesDir)
	folders, err := c.scanner.MonthFolders(dir)
	if err != nil {
		return err
	}
	c.logListing(v, dir, folders)

	if start, end, ok := services.DateRange(folders); ok {
		rec.Set(variant, start, end)
	}
	return nil
}
