// Package workbook reads and writes the engine's xlsx files: per-entity
// collection workbooks, per-session source and snapshot workbooks and the
// category ledgers.
package workbook

import (
	"strings"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Table is the raw text content of one sheet: the first row is the header,
// every following row is data. Cells are kept as entered so that columns the
// engine does not know survive a read/write round trip.
type Table struct {
	Sheet  string
	Header []string
	Rows   [][]string
}

// NewTable returns an empty table with the canonical header.
func NewTable(sheet string) *Table {
	header := make([]string, 0, len(domain.Columns))
	for _, c := range domain.Columns {
		header = append(header, c.Header())
	}
	return &Table{Sheet: sheet, Header: header}
}

// Resolve matches the header against the column aliases.
func (t *Table) Resolve() (domain.HeaderIndex, []domain.Column) {
	return domain.ResolveHeader(t.Header)
}

// RawRows returns the data rows resolved against idx. Completely blank rows
// are dropped; Line keeps the 1-based sheet row number.
func (t *Table) RawRows(idx domain.HeaderIndex) []domain.RawRow {
	out := make([]domain.RawRow, 0, len(t.Rows))
	for i, cells := range t.Rows {
		if blank(cells) {
			continue
		}
		out = append(out, domain.RowFromCells(i+2, cells, idx))
	}
	return out
}

// FindRow returns the index into Rows of the row holding patientNumber, or -1.
func (t *Table) FindRow(idx domain.HeaderIndex, patientNumber string) int {
	col, ok := idx[domain.ColPatientNumber]
	if !ok {
		return -1
	}
	want, ok := domain.CleanIdentifier(patientNumber)
	if !ok {
		return -1
	}
	for i, cells := range t.Rows {
		if col >= len(cells) {
			continue
		}
		if got, ok := domain.CleanIdentifier(cells[col]); ok && got == want {
			return i
		}
	}
	return -1
}

// Set writes value into the given data row and column. A column missing from
// the header is appended with its canonical header; the updated index is
// returned.
func (t *Table) Set(idx domain.HeaderIndex, row int, col domain.Column, value string) domain.HeaderIndex {
	i, ok := idx[col]
	if !ok {
		i = len(t.Header)
		t.Header = append(t.Header, col.Header())
		idx[col] = i
	}
	for len(t.Rows[row]) <= i {
		t.Rows[row] = append(t.Rows[row], "")
	}
	t.Rows[row][i] = value
	return idx
}

// Clone returns a deep copy of t under another sheet name.
func (t *Table) Clone(sheet string) *Table {
	out := &Table{Sheet: sheet, Header: append([]string(nil), t.Header...)}
	out.Rows = make([][]string, len(t.Rows))
	for i, r := range t.Rows {
		out.Rows[i] = append([]string(nil), r...)
	}
	return out
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
