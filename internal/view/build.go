// Package view holds the presentation surfaces the controller keeps in sync
// with the current summary: summary cards, the filterable column table, the
// sample preview, the chart panel and the status region.
//
// The Build* functions are pure derivations from a summary. They tolerate
// absent per-column entries (rendered as unknown or zero) and never fail.
package view

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/koustreak/edasync/internal/summary"
)

// Card ids.
const (
	CardRows    = "rows"
	CardColumns = "columns"
	CardMissing = "missing"
	CardFile    = "file"
	CardMemory  = "memory"
)

const placeholder = "-"

// Card is one headline number.
type Card struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Value string `json:"value"`
	Hint  string `json:"hint,omitempty"`
}

// ColumnRow is one line of the column table.
type ColumnRow struct {
	Column  string `json:"column"`
	Type    string `json:"type"`
	Missing int64  `json:"missing"`
	Unique  int64  `json:"unique"`
	Mean    string `json:"mean"`
	Median  string `json:"median"`
	Mode    string `json:"mode"`
	StdDev  string `json:"std_dev"`
}

// Preview is the sample-data grid, cells already formatted.
type Preview struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// BuildCards derives the headline cards. A nil summary yields placeholders.
func BuildCards(s *summary.DatasetSummary) []Card {
	if s == nil {
		return []Card{
			{ID: CardRows, Label: "Rows", Value: placeholder},
			{ID: CardColumns, Label: "Columns", Value: placeholder},
			{ID: CardMissing, Label: "Missing values", Value: placeholder},
			{ID: CardFile, Label: "File", Value: placeholder},
			{ID: CardMemory, Label: "Memory", Value: placeholder},
		}
	}

	missing := s.TotalMissing()
	missingHint := ""
	if cells := s.RowCount() * int64(len(s.DistinctColumns())); cells > 0 {
		missingHint = fmt.Sprintf("%.1f%% of cells", float64(missing)*100/float64(cells))
	}

	file := s.FileInfo.Filename
	if file == "" {
		file = placeholder
	}
	memory := s.MemoryUsage
	if memory == "" {
		memory = placeholder
	}

	return []Card{
		{ID: CardRows, Label: "Rows", Value: humanize.Comma(s.RowCount())},
		{ID: CardColumns, Label: "Columns", Value: humanize.Comma(s.ColumnCount())},
		{ID: CardMissing, Label: "Missing values", Value: humanize.Comma(missing), Hint: missingHint},
		{ID: CardFile, Label: "File", Value: file, Hint: s.FileInfo.SizeReadable},
		{ID: CardMemory, Label: "Memory", Value: memory},
	}
}

// BuildColumnRows derives one row per declared column, in declared order.
func BuildColumnRows(s *summary.DatasetSummary) []ColumnRow {
	cols := s.DistinctColumns()
	rows := make([]ColumnRow, 0, len(cols))
	for _, c := range cols {
		row := ColumnRow{
			Column:  c,
			Type:    s.TypeOf(c),
			Missing: s.Missing(c),
			Unique:  s.Unique(c),
			Mean:    placeholder,
			Median:  placeholder,
			Mode:    placeholder,
			StdDev:  placeholder,
		}
		if st, ok := s.Stats(c); ok {
			row.Mean = formatFloat(st.Mean)
			row.Median = formatFloat(st.Median)
			row.StdDev = formatFloat(st.StdDev)
			if st.Mode != nil {
				row.Mode = FormatCell(st.Mode)
			}
		}
		rows = append(rows, row)
	}
	return rows
}

// BuildPreview lays the sample rows out in declared column order.
func BuildPreview(s *summary.DatasetSummary) Preview {
	cols := s.DistinctColumns()
	p := Preview{Columns: cols, Rows: [][]string{}}
	if s == nil {
		return p
	}
	for _, r := range s.SampleData {
		line := make([]string, len(cols))
		for i, c := range cols {
			line[i] = FormatCell(r[c])
		}
		p.Rows = append(p.Rows, line)
	}
	return p
}

// FormatCell renders a sample value. nil is shown as an empty cell.
func FormatCell(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f *float64) string {
	if f == nil {
		return placeholder
	}
	return strconv.FormatFloat(*f, 'f', 2, 64)
}
