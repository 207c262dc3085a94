package dataset

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cachedSchema struct {
	schema  *Schema
	modTime time.Time
}

// CSVCatalog serves CSV files below a root directory. Schemas are cached by reference
// and revalidated against the file's modification time.
type CSVCatalog struct {
	root    string
	maxRows int
	cache   *lru.Cache[string, cachedSchema]
}

var _ Catalog = (*CSVCatalog)(nil)

func NewCSVCatalog(root string, cacheSize, maxRows int) (*CSVCatalog, error) {
	if cacheSize <= 0 {
		cacheSize = 128
	}
	if maxRows <= 0 {
		maxRows = 200000
	}
	cache, err := lru.New[string, cachedSchema](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create schema cache: %w", err)
	}
	return &CSVCatalog{root: root, maxRows: maxRows, cache: cache}, nil
}

// Root is the directory references are resolved against
func (c *CSVCatalog) Root() string {
	return c.root
}

// Path resolves a reference to a file inside the root. References that escape the
// root are rejected.
func (c *CSVCatalog) Path(ref string) (string, error) {
	if ref == "" || filepath.IsAbs(ref) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	clean := filepath.Clean(filepath.FromSlash(ref))
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %q", ErrInvalidReference, ref)
	}
	if !strings.EqualFold(filepath.Ext(clean), ".csv") {
		return "", fmt.Errorf("%w: %q is not a csv file", ErrInvalidReference, ref)
	}
	return filepath.Join(c.root, clean), nil
}

func (c *CSVCatalog) stat(ref string) (string, os.FileInfo, error) {
	path, err := c.Path(ref)
	if err != nil {
		return "", nil, err
	}
	info, err := os.Stat(path)
	if errors.Is(err, os.ErrNotExist) {
		return "", nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err != nil {
		return "", nil, err
	}
	return path, info, nil
}

func (c *CSVCatalog) Describe(ctx context.Context, ref string) (*Schema, error) {
	_, info, err := c.stat(ref)
	if err != nil {
		return nil, err
	}
	if hit, ok := c.cache.Get(ref); ok && hit.modTime.Equal(info.ModTime()) {
		return hit.schema, nil
	}

	frame, err := c.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	schema := frame.schema()
	c.cache.Add(ref, cachedSchema{schema: schema, modTime: info.ModTime()})
	return schema, nil
}

func (c *CSVCatalog) Load(ctx context.Context, ref string) (*Frame, error) {
	path, _, err := c.stat(ref)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header of %s: %w", ref, err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	raw := make([][]string, len(header))
	rows := 0
	for rows < c.maxRows {
		if rows%1000 == 0 && ctx.Err() != nil {
			return nil, ctx.Err()
		}
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read %s row %d: %w", ref, rows+2, err)
		}
		for i := range header {
			v := ""
			if i < len(record) {
				v = strings.TrimSpace(record[i])
			}
			raw[i] = append(raw[i], v)
		}
		rows++
	}

	frame := &Frame{
		Reference: ref,
		Columns:   header,
		Numeric:   make(map[string][]float64),
		Text:      make(map[string][]string),
		Rows:      rows,
	}
	for i, name := range header {
		if nums, ok := parseNumeric(raw[i]); ok {
			frame.Numeric[name] = nums
		} else {
			frame.Text[name] = raw[i]
		}
	}
	return frame, nil
}

// parseNumeric converts a column when every non-empty cell is a number. Empty cells
// become NaN.
func parseNumeric(values []string) ([]float64, bool) {
	out := make([]float64, len(values))
	seen := false
	for i, v := range values {
		if v == "" {
			out[i] = math.NaN()
			continue
		}
		f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64)
		if err != nil {
			return nil, false
		}
		out[i] = f
		seen = true
	}
	return out, seen
}

func (f *Frame) schema() *Schema {
	s := &Schema{Reference: f.Reference, Rows: f.Rows}
	for _, name := range f.Columns {
		col := Column{Name: name}
		distinct := make(map[string]struct{})
		if nums, ok := f.Numeric[name]; ok {
			col.Type = Numeric
			for _, v := range nums {
				if math.IsNaN(v) {
					continue
				}
				distinct[strconv.FormatFloat(v, 'g', -1, 64)] = struct{}{}
			}
		} else {
			col.Type = Text
			for _, v := range f.Text[name] {
				if v == "" {
					continue
				}
				distinct[v] = struct{}{}
			}
		}
		col.Cardinality = len(distinct)
		s.Columns = append(s.Columns, col)
	}
	return s
}
