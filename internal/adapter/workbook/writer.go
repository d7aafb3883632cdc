package workbook

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xuri/excelize/v2"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
)

const defaultSheet = "Sheet1"

// WriteTable writes t as the only sheet of a new workbook at path,
// overwriting any existing file.
func WriteTable(path string, t *Table) error {
	f, err := newWorkbook(t)
	if err != nil {
		return err
	}
	defer f.Close()
	return save(f, path)
}

// WriteTableTo writes t as the only sheet of a new workbook to w.
func WriteTableTo(w io.Writer, t *Table) error {
	f, err := newWorkbook(t)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := f.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func newWorkbook(t *Table) (*excelize.File, error) {
	f := excelize.NewFile()
	if t.Sheet != defaultSheet {
		if err := f.SetSheetName(defaultSheet, t.Sheet); err != nil {
			_ = f.Close()
			return nil, fmt.Errorf("rename sheet: %w", err)
		}
	}
	if err := writeRows(f, t.Sheet, t); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

// ReplaceSheet writes t into the workbook at path, replacing the content of
// the sheet with the same name and keeping every other sheet. The workbook
// and the sheet are created when missing.
func ReplaceSheet(path string, t *Table) error {
	f, err := excelize.OpenFile(path)
	switch {
	case os.IsNotExist(err):
		return WriteTable(path, t)
	case err != nil:
		return fileio.Classify("open workbook", path, err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex(t.Sheet); idx < 0 {
		if _, err := f.NewSheet(t.Sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", t.Sheet, err)
		}
	} else {
		rows, err := f.GetRows(t.Sheet, excelize.Options{RawCellValue: true})
		if err != nil {
			return fmt.Errorf("read sheet %s: %w", t.Sheet, err)
		}
		if err := clearRows(f, t.Sheet, rows); err != nil {
			return err
		}
	}

	if err := writeRows(f, t.Sheet, t); err != nil {
		return err
	}
	return save(f, path)
}

func writeRows(f *excelize.File, sheet string, t *Table) error {
	all := append([][]string{t.Header}, t.Rows...)
	for i, cells := range all {
		if err := setRow(f, sheet, i+1, cells); err != nil {
			return err
		}
	}
	return nil
}

func clearRows(f *excelize.File, sheet string, rows [][]string) error {
	for i, cells := range rows {
		empty := make([]any, len(cells))
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(sheet, cell, &empty); err != nil {
			return fmt.Errorf("clear row %d: %w", i+1, err)
		}
	}
	return nil
}

func setRow(f *excelize.File, sheet string, row int, cells []string) error {
	values := make([]any, len(cells))
	for i, c := range cells {
		values[i] = c
	}
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return err
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row %d of %s: %w", row, sheet, err)
	}
	return nil
}

func save(f *excelize.File, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fileio.Classify("mkdir", filepath.Dir(path), err)
	}
	if err := f.SaveAs(path); err != nil {
		return fileio.Classify("save workbook", path, err)
	}
	return nil
}
