package workbook_test

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// buildCollection writes a collection workbook with two session sheets and
// an overview sheet. The second session stores the birth date as a serial.
func buildCollection(t *testing.T, path string) {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "Übersicht"))
	require.NoError(t, f.SetCellStr("Übersicht", "A1", "not a session"))

	_, err := f.NewSheet("01_06_2024")
	require.NoError(t, err)
	rows := [][]any{
		{"PatNr", "Name", "Geburtsdatum", "Diagnose", "ICD-10", "Radiotherapie indiziert", "Aufgebot", "Bemerkung", "Studie", "Intern"},
		{"12345.0", "Muster", "15.03.1960", "NSCLC", "C34.1", "ja", "Kategorie 1: dringend", "ok", "nein", "keep me"},
		{"", "", "", "", "", "", "", "", "", ""},
		{"777", "Beispiel", "1970-01-02", "", "", "nein", "", "", "", ""},
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, f.SetSheetRow("01_06_2024", cell, &r))
	}

	_, err = f.NewSheet("08_06_2024")
	require.NoError(t, err)
	require.NoError(t, f.SetSheetRow("08_06_2024", "A1", &[]any{"PatNr", "Name", "Geburtsdatum"}))
	require.NoError(t, f.SetSheetRow("08_06_2024", "A2", &[]any{"1", "Serial", 21990}))

	require.NoError(t, f.SaveAs(path))
}

func TestReadDateTables(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Thorax_collection.xlsx")
	buildCollection(t, path)

	tables, skipped, err := workbook.ReadDateTables(path, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"Übersicht"}, skipped)
	require.Len(t, tables, 2)

	first := tables[0]
	assert.Equal(t, "01_06_2024", first.Sheet)
	assert.Equal(t, 2024, first.Date.Year())

	idx, missing := first.Resolve()
	assert.Empty(t, missing)

	rows := first.RawRows(idx)
	require.Len(t, rows, 2, "blank rows are dropped")
	assert.Equal(t, 2, rows[0].Line)
	assert.Equal(t, "12345.0", rows[0].Get(domain.ColPatientNumber))
	assert.Equal(t, "C34.1", rows[0].Get(domain.ColDiagnosisCode))
	assert.Equal(t, 4, rows[1].Line)

	serial := tables[1]
	sidx, _ := serial.Resolve()
	srows := serial.RawRows(sidx)
	require.Len(t, srows, 1)
	assert.Equal(t, "1960-03-15", srows[0].Get(domain.ColBirthDate))
}

func TestReadTable_MissingFile(t *testing.T) {
	t.Parallel()

	_, err := workbook.ReadTable(filepath.Join(t.TempDir(), "none.xlsx"), "")
	assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
}

func TestReadTable_MissingSheet(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "c.xlsx")
	buildCollection(t, path)

	_, err := workbook.ReadTable(path, "02_02_2020")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestWriteTable_RoundTrip(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "sessions", "01_06_2024.xlsx")

	tbl := workbook.NewTable("01_06_2024")
	tbl.Rows = [][]string{{"42", "Muster"}, {"43", "Beispiel"}}
	require.NoError(t, workbook.WriteTable(path, tbl))

	got, err := workbook.ReadTable(path, "")
	require.NoError(t, err)
	assert.Equal(t, "01_06_2024", got.Sheet)
	assert.Equal(t, tbl.Header, got.Header)
	assert.Equal(t, tbl.Rows, got.Rows)
}

func TestTable_FindAndSet(t *testing.T) {
	t.Parallel()

	tbl := &workbook.Table{
		Sheet:  "01_06_2024",
		Header: []string{"PatNr", "Name"},
		Rows:   [][]string{{"12345.0", "Muster"}, {"99"}},
	}
	idx, _ := tbl.Resolve()

	row := tbl.FindRow(idx, "12345")
	require.Equal(t, 0, row)
	assert.Equal(t, -1, tbl.FindRow(idx, "1"))

	idx = tbl.Set(idx, 1, domain.ColRemarks, "besprochen")
	assert.Equal(t, domain.ColRemarks.Header(), tbl.Header[2])
	assert.Equal(t, []string{"99", "", "besprochen"}, tbl.Rows[1])
	assert.Equal(t, 2, idx[domain.ColRemarks])

	clone := tbl.Clone("x")
	clone.Rows[0][0] = "changed"
	assert.Equal(t, "12345.0", tbl.Rows[0][0])
}

func TestReplaceSheet_KeepsOtherSheets(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "Thorax_collection.xlsx")
	buildCollection(t, path)

	repl := &workbook.Table{
		Sheet:  "01_06_2024",
		Header: []string{"PatNr", "Name"},
		Rows:   [][]string{{"1", "Only"}},
	}
	require.NoError(t, workbook.ReplaceSheet(path, repl))

	got, err := workbook.ReadTable(path, "01_06_2024")
	require.NoError(t, err)
	assert.Equal(t, repl.Header, got.Header)
	assert.Equal(t, repl.Rows, got.Rows, "old rows and columns must be cleared")

	other, err := workbook.ReadTable(path, "08_06_2024")
	require.NoError(t, err)
	assert.Len(t, other.Rows, 1)

	added := &workbook.Table{Sheet: "15_06_2024", Header: []string{"PatNr"}, Rows: [][]string{{"5"}}}
	require.NoError(t, workbook.ReplaceSheet(path, added))
	tables, _, err := workbook.ReadDateTables(path, nil)
	require.NoError(t, err)
	assert.Len(t, tables, 3)
}

func TestLedger_InsertAtTopKeepsAnnotations(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "aufgebot_dringend.xlsx")

	keys, err := workbook.LedgerKeys(path)
	require.NoError(t, err)
	assert.Empty(t, keys)

	first := domain.PatientRecord{
		SessionDate: domain.DateOnly(mustDate(t, "2024-06-01")), EntityName: "Thorax",
		PatientNumber: "1", Name: "Alt", CasePriority: domain.Ptr(1),
	}
	require.NoError(t, workbook.InsertLedgerRows(path, "Notiz", []workbook.LedgerRow{workbook.LedgerRowFromRecord(&first)}))

	// An operator annotates the existing row.
	f, err := excelize.OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, f.SetCellStr(workbook.LedgerSheet, "J2", "angerufen"))
	require.NoError(t, f.Save())
	require.NoError(t, f.Close())

	second := first
	second.SessionDate = domain.DateOnly(mustDate(t, "2024-06-08"))
	second.PatientNumber = "2"
	second.Name = "Neu"
	require.NoError(t, workbook.InsertLedgerRows(path, "Notiz", []workbook.LedgerRow{workbook.LedgerRowFromRecord(&second)}))

	tbl, err := workbook.ReadLedger(path)
	require.NoError(t, err)
	require.Len(t, tbl.Rows, 2)
	assert.Equal(t, "Notiz", tbl.Header[9])
	assert.Equal(t, "Neu", tbl.Rows[0][3], "new rows go on top")
	assert.Equal(t, "Alt", tbl.Rows[1][3])
	assert.Equal(t, "angerufen", tbl.Rows[1][9], "annotations move with their row")

	keys, err = workbook.LedgerKeys(path)
	require.NoError(t, err)
	assert.True(t, keys[workbook.LedgerRowFromRecord(&first).Key()])
	assert.True(t, keys[workbook.LedgerRowFromRecord(&second).Key()])
}

func mustDate(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := time.Parse(time.DateOnly, s)
	require.NoError(t, err)
	return d
}
