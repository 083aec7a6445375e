package metadata

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/trade-engine/darwinex-ftp/pkg/schema"
)

// Catalog keeps the last discovered date ranges per darwin.
type Catalog struct {
	mu          sync.RWMutex
	Darwins     map[string]CatalogEntry
	RefreshedAt time.Time
}

// CatalogEntry is one darwin's ranges and when they were checked.
type CatalogEntry struct {
	Dates     schema.DarwinDates
	CheckedAt time.Time
}

type catalogFileModel struct {
	RefreshedAt string                      `yaml:"refreshed_at,omitempty"`
	Darwins     map[string]catalogEntryFile `yaml:"darwins"`
}

type catalogEntryFile struct {
	Start      string `yaml:"start,omitempty"`
	End        string `yaml:"end,omitempty"`
	StartVar10 string `yaml:"start_var10,omitempty"`
	EndVar10   string `yaml:"end_var10,omitempty"`
	CheckedAt  string `yaml:"checked_at,omitempty"`
}

// LoadCatalog reads the catalog at path. A missing file or empty path gives
// an empty catalog.
func LoadCatalog(path string) (*Catalog, error) {
	c := &Catalog{Darwins: make(map[string]CatalogEntry)}
	if path == "" {
		return c, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c, nil
	}
	if err != nil {
		return nil, err
	}

	var fileModel catalogFileModel
	if err := yaml.Unmarshal(data, &fileModel); err != nil {
		return nil, err
	}

	c.RefreshedAt = parseTime(fileModel.RefreshedAt)
	for code, e := range fileModel.Darwins {
		code = schema.NormalizeDarwin(code)
		c.Darwins[code] = CatalogEntry{
			Dates: schema.DarwinDates{
				Darwin:     code,
				Start:      period(e.Start),
				End:        period(e.End),
				StartVar10: period(e.StartVar10),
				EndVar10:   period(e.EndVar10),
			},
			CheckedAt: parseTime(e.CheckedAt),
		}
	}
	return c, nil
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return ts.UTC()
}

// period drops values that are not YYYY-MM.
func period(s string) schema.Period {
	p, err := schema.ParsePeriod(s)
	if err != nil {
		return ""
	}
	return p
}

// Update records discovered ranges. Darwins not in records keep their entry.
func (c *Catalog) Update(records []schema.DarwinDates, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.Darwins == nil {
		c.Darwins = make(map[string]CatalogEntry)
	}
	ts = ts.UTC()
	for _, rec := range records {
		c.Darwins[rec.Darwin] = CatalogEntry{Dates: rec, CheckedAt: ts}
	}
	c.RefreshedAt = ts
}

// Lookup returns the stored ranges of one darwin.
func (c *Catalog) Lookup(darwin string) (schema.DarwinDates, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, ok := c.Darwins[schema.NormalizeDarwin(darwin)]
	return e.Dates, ok
}

// Records returns every stored range sorted by darwin code.
func (c *Catalog) Records() []schema.DarwinDates {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]schema.DarwinDates, 0, len(c.Darwins))
	for _, e := range c.Darwins {
		out = append(out, e.Dates)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Darwin < out[j].Darwin })
	return out
}

// Save writes the catalog to path in YAML format.
func (c *Catalog) Save(path string) error {
	if path == "" {
		return errors.New("catalog path is empty")
	}

	c.mu.RLock()
	fileModel := catalogFileModel{Darwins: make(map[string]catalogEntryFile, len(c.Darwins))}
	if !c.RefreshedAt.IsZero() {
		fileModel.RefreshedAt = c.RefreshedAt.UTC().Format(time.RFC3339)
	}
	for code, e := range c.Darwins {
		f := catalogEntryFile{
			Start:      e.Dates.Start.String(),
			End:        e.Dates.End.String(),
			StartVar10: e.Dates.StartVar10.String(),
			EndVar10:   e.Dates.EndVar10.String(),
		}
		if !e.CheckedAt.IsZero() {
			f.CheckedAt = e.CheckedAt.UTC().Format(time.RFC3339)
		}
		fileModel.Darwins[code] = f
	}
	c.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(&fileModel)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
