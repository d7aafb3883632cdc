package workbook

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// DatedTable is a sheet whose name is a session date.
type DatedTable struct {
	Date time.Time
	*Table
}

// ReadTable reads one sheet of the workbook at path. An empty sheet name
// selects the first sheet.
func ReadTable(path, sheet string) (*Table, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fileio.Classify("open workbook", path, err)
	}
	defer f.Close()

	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("workbook %s has no sheets", path)
		}
		sheet = sheets[0]
	}
	if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
		return nil, fileio.Classify("read sheet", path+"#"+sheet, domain.ErrNotFound)
	}

	return readSheet(f, sheet)
}

// ReadDateTables reads every sheet of a collection workbook whose name parses
// as a date. The names of all other sheets are returned in skipped.
func ReadDateTables(path string, layouts []string) (tables []DatedTable, skipped []string, err error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fileio.Classify("open workbook", path, err)
	}
	defer f.Close()

	for _, sheet := range f.GetSheetList() {
		date, ok := domain.ParseSheetDate(sheet, layouts...)
		if !ok {
			skipped = append(skipped, sheet)
			continue
		}
		t, err := readSheet(f, sheet)
		if err != nil {
			return nil, nil, err
		}
		tables = append(tables, DatedTable{Date: date, Table: t})
	}
	return tables, skipped, nil
}

func readSheet(f *excelize.File, sheet string) (*Table, error) {
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", sheet, err)
	}

	t := &Table{Sheet: sheet}
	if len(rows) == 0 {
		return t, nil
	}
	t.Header = rows[0]
	t.Rows = rows[1:]

	convertSerialDates(t)
	return t, nil
}

// convertSerialDates rewrites birth-date cells stored as spreadsheet date
// serials ("21990") into ISO dates so the normalizer sees text.
func convertSerialDates(t *Table) {
	idx, _ := t.Resolve()
	col, ok := idx[domain.ColBirthDate]
	if !ok {
		return
	}
	for _, cells := range t.Rows {
		if col >= len(cells) {
			continue
		}
		raw := strings.TrimSpace(cells[col])
		serial, err := strconv.ParseFloat(raw, 64)
		if err != nil || serial <= 0 {
			continue
		}
		if d, err := excelize.ExcelDateToTime(serial, false); err == nil {
			cells[col] = d.Format(time.DateOnly)
		}
	}
}
