package view

import (
	"strings"

	"github.com/koustreak/edasync/internal/charts"
)

// Level is the severity of the status message.
type Level string

const (
	LevelInfo    Level = "info"
	LevelSuccess Level = "success"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// Status is the single user-visible status/error region.
type Status struct {
	Level   Level  `json:"level,omitempty"`
	Message string `json:"message,omitempty"`
}

// Table is the filterable column table. Replace swaps all rows at once;
// the filter survives replacement.
type Table struct {
	rows   []ColumnRow
	filter string
}

// Replace installs rows as the complete table content.
func (t *Table) Replace(rows []ColumnRow) {
	t.rows = append([]ColumnRow(nil), rows...)
}

// SetFilter sets the case-insensitive filter on column name or type.
func (t *Table) SetFilter(q string) {
	t.filter = strings.TrimSpace(q)
}

func (t *Table) Filter() string {
	return t.filter
}

// Rows returns every row regardless of the filter.
func (t *Table) Rows() []ColumnRow {
	return append([]ColumnRow(nil), t.rows...)
}

// Visible returns the rows matching the current filter.
func (t *Table) Visible() []ColumnRow {
	if t.filter == "" {
		return t.Rows()
	}
	q := strings.ToLower(t.filter)
	var out []ColumnRow
	for _, r := range t.rows {
		if strings.Contains(strings.ToLower(r.Column), q) || strings.Contains(strings.ToLower(r.Type), q) {
			out = append(out, r)
		}
	}
	return out
}

// ChartPanel shows the selected charts of one file.
type ChartPanel struct {
	filename string
	charts   []charts.Chart
}

// Show replaces the panel content.
func (p *ChartPanel) Show(filename string, selected []charts.Chart) {
	p.filename = filename
	p.charts = append([]charts.Chart(nil), selected...)
}

// Clear empties the panel.
func (p *ChartPanel) Clear() {
	p.filename = ""
	p.charts = nil
}

// Filename is the file the shown charts belong to, "" when empty.
func (p *ChartPanel) Filename() string {
	return p.filename
}

func (p *ChartPanel) Charts() []charts.Chart {
	return append([]charts.Chart(nil), p.charts...)
}

// Page groups every surface. It is not safe for concurrent use; the
// controller serialises access.
type Page struct {
	Cards   []Card
	Table   Table
	Preview Preview
	Charts  ChartPanel
	Status  Status
}

// NewPage returns a page showing placeholders.
func NewPage() *Page {
	return &Page{
		Cards:   BuildCards(nil),
		Preview: Preview{Rows: [][]string{}},
	}
}

// Card returns the card with id, if present.
func (p *Page) Card(id string) (Card, bool) {
	for _, c := range p.Cards {
		if c.ID == id {
			return c, true
		}
	}
	return Card{}, false
}

// ChartView is the JSON form of a shown chart.
type ChartView struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Kind    string `json:"kind"`
	DataURI string `json:"data_uri"`
}

// TableView is the JSON form of the table.
type TableView struct {
	Filter string      `json:"filter"`
	Total  int         `json:"total"`
	Rows   []ColumnRow `json:"rows"`
}

// PageSnapshot is a deep copy of a Page, safe to hand to other goroutines.
type PageSnapshot struct {
	Cards     []Card      `json:"cards"`
	Table     TableView   `json:"table"`
	Preview   Preview     `json:"preview"`
	ChartsFor string      `json:"charts_for,omitempty"`
	Charts    []ChartView `json:"charts"`
	Status    Status      `json:"status"`
}

// Snapshot copies the page.
func (p *Page) Snapshot() PageSnapshot {
	visible := p.Table.Visible()
	if visible == nil {
		visible = []ColumnRow{}
	}
	preview := Preview{Columns: append([]string(nil), p.Preview.Columns...), Rows: make([][]string, len(p.Preview.Rows))}
	for i, r := range p.Preview.Rows {
		preview.Rows[i] = append([]string(nil), r...)
	}

	shown := p.Charts.Charts()
	views := make([]ChartView, len(shown))
	for i, c := range shown {
		views[i] = ChartView{ID: c.ID(), Title: c.Title(), Kind: string(c.Kind), DataURI: c.DataURI()}
	}

	return PageSnapshot{
		Cards:     append([]Card(nil), p.Cards...),
		Table:     TableView{Filter: p.Table.Filter(), Total: len(p.Table.rows), Rows: visible},
		Preview:   preview,
		ChartsFor: p.Charts.Filename(),
		Charts:    views,
		Status:    p.Status,
	}
}
