package dataset

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const casesCSV = `county,week,tests,positives,rate
Adams,1,120,6,5%
Adams,2,100,12,12%
Brown,1,80,4,5%
Brown,2,90,,
`

func writeCSV(t *testing.T, dir, name, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(filepath.Join(dir, name)), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
}

func TestDescribeInfersTypesAndCardinality(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "uploads/cases.csv", casesCSV)
	c, err := NewCSVCatalog(dir, 4, 0)
	require.NoError(t, err)

	s, err := c.Describe(context.Background(), "uploads/cases.csv")
	require.NoError(t, err)
	assert.Equal(t, 4, s.Rows)

	county, ok := s.Column("county")
	require.True(t, ok)
	assert.Equal(t, Text, county.Type)
	assert.Equal(t, 2, county.Cardinality)

	positives, ok := s.Column("positives")
	require.True(t, ok)
	assert.Equal(t, Numeric, positives.Type)

	rate, _ := s.Column("rate")
	assert.Equal(t, Numeric, rate.Type)
	assert.Contains(t, s.Describe(), "county (text, 2 distinct)")
}

func TestLoadSplitsColumns(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "cases.csv", casesCSV)
	c, err := NewCSVCatalog(dir, 4, 0)
	require.NoError(t, err)

	f, err := c.Load(context.Background(), "cases.csv")
	require.NoError(t, err)
	assert.Equal(t, []float64{120, 100, 80, 90}, f.Numeric["tests"])
	assert.True(t, math.IsNaN(f.Numeric["positives"][3]))
	assert.Equal(t, []string{"Adams", "Adams", "Brown", "Brown"}, f.Text["county"])
	assert.Equal(t, []string{"positives", "rate", "tests", "week"}, f.NumericColumns())
}

func TestDescribeRevalidatesChangedFiles(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "cases.csv", casesCSV)
	c, err := NewCSVCatalog(dir, 4, 0)
	require.NoError(t, err)

	first, err := c.Describe(context.Background(), "cases.csv")
	require.NoError(t, err)
	again, err := c.Describe(context.Background(), "cases.csv")
	require.NoError(t, err)
	assert.Same(t, first, again, "unchanged file is served from cache")

	writeCSV(t, dir, "cases.csv", "county,tests\nAdams,1\n")
	later := time.Now().Add(time.Minute)
	require.NoError(t, os.Chtimes(filepath.Join(dir, "cases.csv"), later, later))

	changed, err := c.Describe(context.Background(), "cases.csv")
	require.NoError(t, err)
	assert.Equal(t, 1, changed.Rows)
}

func TestReferencesCannotEscapeRoot(t *testing.T) {
	c, err := NewCSVCatalog(t.TempDir(), 4, 0)
	require.NoError(t, err)

	for _, ref := range []string{"", "../secrets.csv", "/etc/passwd", "a/../../b.csv", "notes.txt"} {
		_, err := c.Describe(context.Background(), ref)
		assert.ErrorIs(t, err, ErrInvalidReference, ref)
	}

	_, err = c.Describe(context.Background(), "missing.csv")
	assert.ErrorIs(t, err, ErrNotFound)
}
