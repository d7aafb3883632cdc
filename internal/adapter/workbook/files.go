package workbook

import "io"

// Files exposes the package functions as methods so services can depend on
// a narrow interface and tests can substitute it.
type Files struct{}

func (Files) ReadTable(path, sheet string) (*Table, error) { return ReadTable(path, sheet) }

func (Files) ReadDateTables(path string, layouts []string) ([]DatedTable, []string, error) {
	return ReadDateTables(path, layouts)
}

func (Files) WriteTable(path string, t *Table) error { return WriteTable(path, t) }

func (Files) WriteTableTo(w io.Writer, t *Table) error { return WriteTableTo(w, t) }

func (Files) ReplaceSheet(path string, t *Table) error { return ReplaceSheet(path, t) }

func (Files) LedgerKeys(path string) (map[string]bool, error) { return LedgerKeys(path) }

func (Files) InsertLedgerRows(path, annotationHeader string, rows []LedgerRow) error {
	return InsertLedgerRows(path, annotationHeader, rows)
}
