package main

import (
	"flag"
	"fmt"
	"strings"

	"github.com/trade-engine/darwinex-ftp/internal/config"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// overrides are command-line values that replace config fields when set.
type overrides struct {
	darwins  *string
	start    *string
	end      *string
	var10    *bool
	resample *string
	snapshot *string
	verbose  *int
}

func registerOverrides(fs *flag.FlagSet) *overrides {
	return &overrides{
		darwins:  fs.String("darwins", "", "Comma separated darwin codes"),
		start:    fs.String("start", "", "First year-month to download (YYYY-MM)"),
		end:      fs.String("end", "", "Last year-month to download (YYYY-MM)"),
		var10:    fs.Bool("var10", false, "Also download the former var10 data"),
		resample: fs.String("resample", "", "Resample frequency: T, H, D, B, W or M"),
		snapshot: fs.String("snapshot", "", "Snapshot directory"),
		verbose:  fs.Int("v", 0, "Verbosity 0-3"),
	}
}

// apply copies the flags that were given on the command line into cfg.
func (o *overrides) apply(fs *flag.FlagSet, cfg *config.Config) error {
	var err error
	fs.Visit(func(f *flag.Flag) {
		if err != nil {
			return
		}
		switch f.Name {
		case "darwins":
			cfg.Download.Darwins = splitList(*o.darwins)
		case "start":
			cfg.Download.StartPeriod, err = period(*o.start)
		case "end":
			cfg.Download.EndPeriod, err = period(*o.end)
		case "var10":
			cfg.Download.IncludeVar10 = *o.var10
		case "resample":
			var freq schema.Frequency
			freq, err = schema.ParseFrequency(*o.resample)
			cfg.Download.Resample = string(freq)
		case "snapshot":
			cfg.Download.SnapshotDir = *o.snapshot
		case "v":
			if *o.verbose < 0 || *o.verbose > 3 {
				err = fmt.Errorf("-v must be between 0 and 3, got %d", *o.verbose)
				return
			}
			cfg.Download.Verbose = *o.verbose
		}
	})
	return err
}

func period(s string) (string, error) {
	p, err := schema.ParsePeriod(s)
	return string(p), err
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
