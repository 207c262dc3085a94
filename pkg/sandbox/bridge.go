package sandbox

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"sync"

	"epichat-be/pkg/artifact"
	"epichat-be/pkg/dataset"

	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

// bridgePath is the import path generated code uses to reach the session's data
const bridgePath = "epichat/analysis"

const maxArtifacts = 5

var errNoData = errors.New("no dataset is attached to this session")

// run is the per-execution state behind the analysis bridge. Every interpreter gets its
// own run; nothing here outlives the execution.
type run struct {
	frame *dataset.Frame

	mu        sync.Mutex
	out       bytes.Buffer
	maxOutput int
	truncated bool
	artifacts []artifact.Artifact
}

func newRun(frame *dataset.Frame, maxOutput int) *run {
	if maxOutput <= 0 {
		maxOutput = 8 << 10
	}
	return &run{frame: frame, maxOutput: maxOutput}
}

// Write collects program output up to the configured limit
func (r *run) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room := r.maxOutput - r.out.Len()
	if room <= 0 {
		r.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		r.out.Write(p[:room])
		r.truncated = true
		return len(p), nil
	}
	return r.out.Write(p)
}

func (r *run) output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := strings.TrimSpace(r.out.String())
	if r.truncated {
		s += "\n[output truncated]"
	}
	return s
}

func (r *run) produced() []artifact.Artifact {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]artifact.Artifact(nil), r.artifacts...)
}

func bridgeExports(r *run) map[string]reflect.Value {
	return map[string]reflect.Value{
		"Columns": reflect.ValueOf(r.Columns),
		"Rows":    reflect.ValueOf(r.Rows),
		"Numeric": reflect.ValueOf(r.Numeric),
		"Text":    reflect.ValueOf(r.Text),
		"Group":   reflect.ValueOf(r.Group),
		"Count":   reflect.ValueOf(r.Count),
		"Report":  reflect.ValueOf(r.Report),
		"Chart":   reflect.ValueOf(r.Chart),
		"Table":   reflect.ValueOf(r.Table),
		"Median":  reflect.ValueOf(Median),
		"Sorted":  reflect.ValueOf(Sorted),
		"TopN":    reflect.ValueOf(TopN),
		"TTest":   reflect.ValueOf(WelchTTest),
	}
}

// Columns lists every column of the attached dataset
func (r *run) Columns() []string {
	if r.frame == nil {
		return nil
	}
	return append([]string(nil), r.frame.Columns...)
}

// Rows is the row count of the attached dataset
func (r *run) Rows() int {
	if r.frame == nil {
		return 0
	}
	return r.frame.Rows
}

// Numeric returns a numeric column with missing cells dropped
func (r *run) Numeric(name string) ([]float64, error) {
	if r.frame == nil {
		return nil, errNoData
	}
	values, ok := r.frame.Numeric[name]
	if !ok {
		return nil, fmt.Errorf("no numeric column %q; numeric columns: %s", name, strings.Join(r.frame.NumericColumns(), ", "))
	}
	out := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

// Text returns a column as strings; numeric columns are formatted
func (r *run) Text(name string) ([]string, error) {
	if r.frame == nil {
		return nil, errNoData
	}
	if values, ok := r.frame.Text[name]; ok {
		return append([]string(nil), values...), nil
	}
	if values, ok := r.frame.Numeric[name]; ok {
		out := make([]string, len(values))
		for i, v := range values {
			if !math.IsNaN(v) {
				out[i] = strconv.FormatFloat(v, 'g', -1, 64)
			}
		}
		return out, nil
	}
	return nil, fmt.Errorf("no column %q; columns: %s", name, strings.Join(r.frame.Columns, ", "))
}

// Group splits a numeric column by the values of a key column, skipping missing cells
func (r *run) Group(key, value string) (map[string][]float64, error) {
	keys, err := r.Text(key)
	if err != nil {
		return nil, err
	}
	values, ok := r.frame.Numeric[value]
	if !ok {
		return nil, fmt.Errorf("no numeric column %q; numeric columns: %s", value, strings.Join(r.frame.NumericColumns(), ", "))
	}
	out := make(map[string][]float64)
	for i, k := range keys {
		if k == "" || i >= len(values) || math.IsNaN(values[i]) {
			continue
		}
		out[k] = append(out[k], values[i])
	}
	return out, nil
}

// Count tallies the distinct values of a column
func (r *run) Count(key string) (map[string]int, error) {
	keys, err := r.Text(key)
	if err != nil {
		return nil, err
	}
	out := make(map[string]int)
	for _, k := range keys {
		if k != "" {
			out[k]++
		}
	}
	return out, nil
}

// Report appends a formatted line to the answer
func (r *run) Report(format string, args ...interface{}) {
	line := fmt.Sprintf(format, args...)
	if !strings.HasSuffix(line, "\n") {
		line += "\n"
	}
	r.Write([]byte(line))
}

// Chart emits a bar chart artifact
func (r *run) Chart(title string, labels []string, values []float64) error {
	if len(labels) != len(values) {
		return fmt.Errorf("chart %q: %d labels for %d values", title, len(labels), len(values))
	}
	return r.emit(artifact.KindChart, title, artifact.MIMEChart, map[string]interface{}{
		"type":   "bar",
		"labels": labels,
		"values": values,
	})
}

// Table emits a table artifact
func (r *run) Table(title string, header []string, rows [][]string) error {
	for i, row := range rows {
		if len(row) != len(header) {
			return fmt.Errorf("table %q: row %d has %d cells, header has %d", title, i, len(row), len(header))
		}
	}
	return r.emit(artifact.KindTable, title, artifact.MIMETable, map[string]interface{}{
		"header": header,
		"rows":   rows,
	})
}

func (r *run) emit(kind, title, mime string, payload interface{}) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.artifacts) >= maxArtifacts {
		return fmt.Errorf("at most %d artifacts per analysis", maxArtifacts)
	}
	r.artifacts = append(r.artifacts, artifact.Artifact{Kind: kind, Title: title, MIME: mime, Payload: raw})
	return nil
}

// Sorted returns a sorted copy, as stat.Quantile requires
func Sorted(xs []float64) []float64 {
	out := append([]float64(nil), xs...)
	sort.Float64s(out)
	return out
}

// Median is the empirical 0.5 quantile
func Median(xs []float64) float64 {
	if len(xs) == 0 {
		return math.NaN()
	}
	return stat.Quantile(0.5, stat.Empirical, Sorted(xs), nil)
}

// TopN returns the n keys with the largest values, ties broken by key
func TopN(m map[string]float64, n int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if m[keys[i]] != m[keys[j]] {
			return m[keys[i]] > m[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n >= 0 && n < len(keys) {
		keys = keys[:n]
	}
	return keys
}

// WelchTTest compares two sample means without assuming equal variances. It returns the
// t statistic, the Welch-Satterthwaite degrees of freedom and the two-sided p-value.
func WelchTTest(a, b []float64) (t, df, p float64, err error) {
	if len(a) < 2 || len(b) < 2 {
		return 0, 0, 0, fmt.Errorf("t-test needs at least two values per group, got %d and %d", len(a), len(b))
	}
	ma, va := stat.MeanVariance(a, nil)
	mb, vb := stat.MeanVariance(b, nil)
	na, nb := float64(len(a)), float64(len(b))

	sa, sb := va/na, vb/nb
	se := math.Sqrt(sa + sb)
	if se == 0 {
		return 0, 0, 0, errors.New("t-test is undefined when both groups are constant")
	}

	t = (ma - mb) / se
	df = (sa + sb) * (sa + sb) / (sa*sa/(na-1) + sb*sb/(nb-1))
	dist := distuv.StudentsT{Mu: 0, Sigma: 1, Nu: df}
	p = 2 * (1 - dist.CDF(math.Abs(t)))
	return t, df, p, nil
}
