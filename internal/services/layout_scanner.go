package services

import (
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/trade-engine/darwinex-ftp/internal/remote"
	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

const (
	// QuotesDir holds one folder per year-month under each darwin directory.
	QuotesDir = "quotes"
	// The former var10 stream lives in a _<code>_former_var10 directory.
	var10Prefix = "_"
	var10Suffix = "_former_var10"
)

// DarwinDir returns the remote root of a darwin's data in the given variant.
//
//	/THA                   current data
//	/_THA_former_var10     former var10 data
func DarwinDir(darwin string, v schema.Variant) string {
	if v == schema.VariantVar10 {
		return remote.Join(Var10DirName(darwin))
	}
	return remote.Join(darwin)
}

// Var10DirName is the directory name of a darwin's var10 data.
func Var10DirName(darwin string) string {
	return var10Prefix + darwin + var10Suffix
}

// Var10Dirs lists where a darwin's var10 root may live, in lookup order:
// nested in the darwin directory, then at the top level.
func Var10Dirs(darwin string) []string {
	return []string{
		remote.Join(darwin, Var10DirName(darwin)),
		DarwinDir(darwin, schema.VariantVar10),
	}
}

// FindVar10Dir returns the first var10 root that exists. ok is false when
// the darwin has none.
func (ls *LayoutScanner) FindVar10Dir(darwin string) (dir string, ok bool, err error) {
	for _, candidate := range Var10Dirs(darwin) {
		parent, name := path.Split(candidate)
		found, err := ls.HasEntry(parent, name)
		if err != nil {
			return "", false, err
		}
		if found {
			return candidate, true, nil
		}
	}
	return "", false, nil
}

// LayoutScanner lists the remote darwin tree.
type LayoutScanner struct {
	session remote.Session
	logger  *zap.Logger
}

func NewLayoutScanner(session remote.Session, logger *zap.Logger) *LayoutScanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LayoutScanner{
		session: session,
		logger:  logger,
	}
}

// HasEntry reports whether dir lists name.
func (ls *LayoutScanner) HasEntry(dir, name string) (bool, error) {
	entries, err := ls.session.NameList(dir)
	if err != nil {
		return false, err
	}
	for _, e := range entries {
		if e == name {
			return true, nil
		}
	}
	return false, nil
}

// MonthFolders lists dir and keeps the YYYY-MM entries, sorted ascending.
func (ls *LayoutScanner) MonthFolders(dir string) ([]string, error) {
	entries, err := ls.session.NameList(dir)
	if err != nil {
		return nil, err
	}

	folders := make([]string, 0, len(entries))
	for _, e := range entries {
		if !schema.IsPeriod(e) {
			ls.logger.Debug("Ignoring non month entry", zap.String("dir", dir), zap.String("entry", e))
			continue
		}
		folders = append(folders, e)
	}
	sort.Strings(folders)
	return folders, nil
}

// DateRange returns the smallest and largest month folder names. ok is false
// when there are none. YYYY-MM sorts chronologically as a string.
func DateRange(folders []string) (start, end schema.Period, ok bool) {
	for _, f := range folders {
		if !ok || f < string(start) {
			start = schema.Period(f)
		}
		if !ok || f > string(end) {
			end = schema.Period(f)
		}
		ok = true
	}
	return start, end, ok
}

// FilterPeriod keeps folders f with start <= f <= end.
func FilterPeriod(folders []string, start, end schema.Period) []string {
	out := make([]string, 0, len(folders))
	for _, f := range folders {
		if schema.Contains(start, end, f) {
			out = append(out, f)
		}
	}
	return out
}

// QuoteFiles lists the compressed quote files in a month folder, sorted.
func (ls *LayoutScanner) QuoteFiles(dir, suffix string) ([]string, error) {
	entries, err := ls.session.NameList(dir)
	if err != nil {
		return nil, err
	}

	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if strings.HasSuffix(e, suffix) {
			files = append(files, e)
		}
	}
	sort.Strings(files)
	return files, nil
}
