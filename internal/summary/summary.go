// Package summary defines the DatasetSummary value object produced by the
// EDA backend and the tolerant accessors the views render from.
//
// A DatasetSummary is immutable once decoded. It remembers the exact JSON it
// was decoded from so that it can be sent back to the backend unchanged.
package summary

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/koustreak/edasync/internal/errs"
)

// Shape is the (row_count, column_count) pair, encoded as a JSON array.
type Shape struct {
	Rows    int64
	Columns int64
}

func (s *Shape) UnmarshalJSON(b []byte) error {
	var pair []Count
	if err := json.Unmarshal(b, &pair); err != nil {
		return fmt.Errorf("shape: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("shape: want 2 elements, got %d", len(pair))
	}
	s.Rows, s.Columns = int64(pair[0]), int64(pair[1])
	return nil
}

func (s Shape) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]int64{s.Rows, s.Columns})
}

// Count is a non-negative per-column counter. It accepts integral floats and
// null (treated as zero) since the backend serialises numpy scalars loosely.
type Count int64

func (c *Count) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		*c = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		return err
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		*c = 0
		return nil
	}
	*c = Count(int64(f))
	return nil
}

// ColumnStats holds descriptive statistics for one numeric column. Numeric
// fields are nil when the backend reported NaN.
type ColumnStats struct {
	Mean   *float64    `json:"mean"`
	Median *float64    `json:"median"`
	Mode   interface{} `json:"mode,omitempty"`
	StdDev *float64    `json:"std_dev"`
}

// FileInfo describes the uploaded source file as the backend saw it.
type FileInfo struct {
	Filename     string `json:"filename"`
	SizeReadable string `json:"size_readable"`
}

// Row is one sample row: column name to scalar or nil.
type Row map[string]interface{}

// DatasetSummary is the structured profile of an uploaded dataset.
type DatasetSummary struct {
	Shape            Shape                  `json:"shape"`
	Columns          []string               `json:"columns"`
	DataTypes        map[string]string      `json:"data_types"`
	MissingValues    map[string]Count       `json:"missing_values"`
	UniqueCounts     map[string]Count       `json:"unique_counts"`
	DescriptiveStats map[string]ColumnStats `json:"descriptive_stats,omitempty"`
	FileInfo         FileInfo               `json:"file_info"`
	SampleData       []Row                  `json:"sample_data"`
	MemoryUsage      string                 `json:"memory_usage,omitempty"`

	raw json.RawMessage
}

// Decode parses a summary object. Numbers in sample rows are kept as
// json.Number so integers render without a decimal point.
func Decode(raw []byte) (*DatasetSummary, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, errs.New(errs.ErrKindProtocol, "Unexpected server response: summary is missing")
	}

	type plain DatasetSummary
	var p plain
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return nil, errs.Wrap(errs.ErrKindProtocol, "Unexpected server response: malformed summary", err)
	}

	s := DatasetSummary(p)
	s.raw = append(json.RawMessage(nil), trimmed...)
	return &s, nil
}

// MarshalJSON returns the bytes the summary was decoded from, or a fresh
// encoding for summaries built in code.
func (s *DatasetSummary) MarshalJSON() ([]byte, error) {
	if s == nil {
		return []byte("null"), nil
	}
	if len(s.raw) > 0 {
		return s.raw, nil
	}
	type plain DatasetSummary
	return json.Marshal((*plain)(s))
}

// Validate reports violations of the structural invariants. Callers log the
// result; rendering never depends on it.
func (s *DatasetSummary) Validate() error {
	if s == nil {
		return errs.New(errs.ErrKindValidation, "summary is nil")
	}

	var problems []error
	if s.Shape.Rows < 0 || s.Shape.Columns < 0 {
		problems = append(problems, fmt.Errorf("negative shape %dx%d", s.Shape.Rows, s.Shape.Columns))
	}
	if int64(len(s.Columns)) != s.Shape.Columns {
		problems = append(problems, fmt.Errorf("%d columns declared, shape says %d", len(s.Columns), s.Shape.Columns))
	}

	known := make(map[string]struct{}, len(s.Columns))
	for _, c := range s.Columns {
		if _, dup := known[c]; dup {
			problems = append(problems, fmt.Errorf("duplicate column %q", c))
		}
		known[c] = struct{}{}
	}

	checkKeys := func(field string, keys []string) {
		for _, k := range keys {
			if _, ok := known[k]; !ok {
				problems = append(problems, fmt.Errorf("%s has unknown column %q", field, k))
			}
		}
	}
	checkKeys("data_types", keysOf(s.DataTypes))
	checkKeys("missing_values", keysOf(s.MissingValues))
	checkKeys("unique_counts", keysOf(s.UniqueCounts))

	for col, n := range s.MissingValues {
		if n < 0 {
			problems = append(problems, fmt.Errorf("missing_values[%q] is negative", col))
		}
	}
	for col, n := range s.UniqueCounts {
		if n < 0 {
			problems = append(problems, fmt.Errorf("unique_counts[%q] is negative", col))
		}
	}

	return errors.Join(problems...)
}

// --- Tolerant accessors ---

// RowCount returns the number of rows, or 0 for a nil summary.
func (s *DatasetSummary) RowCount() int64 {
	if s == nil {
		return 0
	}
	return s.Shape.Rows
}

// ColumnCount returns the number of columns, or 0 for a nil summary.
func (s *DatasetSummary) ColumnCount() int64 {
	if s == nil {
		return 0
	}
	return s.Shape.Columns
}

// DistinctColumns returns the declared columns with duplicates removed,
// first occurrence wins.
func (s *DatasetSummary) DistinctColumns() []string {
	if s == nil {
		return nil
	}
	seen := make(map[string]struct{}, len(s.Columns))
	out := make([]string, 0, len(s.Columns))
	for _, c := range s.Columns {
		if _, ok := seen[c]; ok {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// TypeOf returns the dtype label for col, or "unknown".
func (s *DatasetSummary) TypeOf(col string) string {
	if s == nil {
		return "unknown"
	}
	if t, ok := s.DataTypes[col]; ok && t != "" {
		return t
	}
	return "unknown"
}

// Missing returns the missing-value count for col; absent means zero.
func (s *DatasetSummary) Missing(col string) int64 {
	if s == nil {
		return 0
	}
	return int64(s.MissingValues[col])
}

// Unique returns the distinct-value count for col; absent means zero.
func (s *DatasetSummary) Unique(col string) int64 {
	if s == nil {
		return 0
	}
	return int64(s.UniqueCounts[col])
}

// Stats returns the descriptive statistics for col, if any.
func (s *DatasetSummary) Stats(col string) (ColumnStats, bool) {
	if s == nil {
		return ColumnStats{}, false
	}
	st, ok := s.DescriptiveStats[col]
	return st, ok
}

// TotalMissing sums missing values over the declared columns.
func (s *DatasetSummary) TotalMissing() int64 {
	var total int64
	for _, c := range s.DistinctColumns() {
		total += s.Missing(c)
	}
	return total
}

// Filename returns file_info.filename, or "".
func (s *DatasetSummary) Filename() string {
	if s == nil {
		return ""
	}
	return s.FileInfo.Filename
}

func keysOf[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
