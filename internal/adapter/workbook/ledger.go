package workbook

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// LedgerSheet is the sheet every ledger workbook keeps its rows in.
const LedgerSheet = "Aufgebot"

// LedgerDateLayout is the layout of the date column in ledgers.
const LedgerDateLayout = "02.01.2006"

// Ledger column headers, in order. The annotation column follows them.
const (
	ledgerHeaderDate      = "Datum"
	ledgerHeaderEntity    = "Tumorboard"
	ledgerHeaderNumber    = "Patientennummer"
	ledgerHeaderName      = "Name"
	ledgerHeaderBirthDate = "Geburtsdatum"
	ledgerHeaderDiagnosis = "Diagnose"
	ledgerHeaderCode      = "ICD-Code"
	ledgerHeaderCase      = "Fallpriorität"
	ledgerHeaderRemarks   = "Bemerkung"
)

var ledgerHeader = []string{
	ledgerHeaderDate, ledgerHeaderEntity, ledgerHeaderNumber, ledgerHeaderName,
	ledgerHeaderBirthDate, ledgerHeaderDiagnosis, ledgerHeaderCode,
	ledgerHeaderCase, ledgerHeaderRemarks,
}

// LedgerRow is one routed record as written into a ledger.
type LedgerRow struct {
	Date          time.Time
	Entity        string
	PatientNumber string
	Name          string
	BirthDate     string
	Diagnosis     string
	DiagnosisCode string
	CasePriority  string
	Remarks       string
}

// Key identifies the routed record inside a ledger.
func (r LedgerRow) Key() string {
	return ledgerKey(r.Date.Format(LedgerDateLayout), r.Entity, r.PatientNumber)
}

func (r LedgerRow) cells() []string {
	return []string{
		r.Date.Format(LedgerDateLayout), r.Entity, r.PatientNumber, r.Name,
		r.BirthDate, r.Diagnosis, r.DiagnosisCode, r.CasePriority, r.Remarks,
	}
}

func ledgerKey(date, entity, number string) string {
	return strings.Join([]string{strings.TrimSpace(date), strings.TrimSpace(entity), strings.TrimSpace(number)}, "|")
}

// LedgerKeys returns the keys of every row already in the ledger. A missing
// ledger has no keys.
func LedgerKeys(path string) (map[string]bool, error) {
	keys := make(map[string]bool)

	f, err := excelize.OpenFile(path)
	switch {
	case os.IsNotExist(err):
		return keys, nil
	case err != nil:
		return nil, fileio.Classify("open ledger", path, err)
	}
	defer f.Close()

	rows, err := f.GetRows(LedgerSheet)
	if err != nil {
		return nil, fmt.Errorf("read ledger %s: %w", path, err)
	}
	if len(rows) == 0 {
		return keys, nil
	}

	pos := headerPositions(rows[0])
	dateCol, entityCol, numberCol := position(pos, ledgerHeaderDate), position(pos, ledgerHeaderEntity), position(pos, ledgerHeaderNumber)
	for _, cells := range rows[1:] {
		keys[ledgerKey(cell(cells, dateCol), cell(cells, entityCol), cell(cells, numberCol))] = true
	}
	return keys, nil
}

// InsertLedgerRows inserts rows at the top of the ledger's data region, in the
// given order, directly below the header. Existing rows move down unchanged,
// including their annotation cells. The ledger is created when missing, and
// the annotation column is added to the header when absent.
func InsertLedgerRows(path, annotationHeader string, rows []LedgerRow) error {
	if len(rows) == 0 {
		return nil
	}

	f, err := excelize.OpenFile(path)
	switch {
	case os.IsNotExist(err):
		f, err = newLedger()
		if err != nil {
			return err
		}
	case err != nil:
		return fileio.Classify("open ledger", path, err)
	}
	defer f.Close()

	if err := ensureAnnotation(f, annotationHeader); err != nil {
		return err
	}

	if err := f.InsertRows(LedgerSheet, 2, len(rows)); err != nil {
		return fmt.Errorf("insert ledger rows: %w", err)
	}
	for i, r := range rows {
		if err := setRow(f, LedgerSheet, i+2, r.cells()); err != nil {
			return err
		}
	}

	return save(f, path)
}

func newLedger() (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName(defaultSheet, LedgerSheet); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("create ledger: %w", err)
	}
	if err := setRow(f, LedgerSheet, 1, ledgerHeader); err != nil {
		_ = f.Close()
		return nil, err
	}
	return f, nil
}

func ensureAnnotation(f *excelize.File, annotationHeader string) error {
	rows, err := f.GetRows(LedgerSheet)
	if err != nil {
		return fmt.Errorf("read ledger header: %w", err)
	}
	var header []string
	if len(rows) > 0 {
		header = rows[0]
	}
	if _, ok := headerPositions(header)[annotationHeader]; ok {
		return nil
	}

	col := len(ledgerHeader) + 1
	if len(header) >= col {
		col = len(header) + 1
	}
	cellName, err := excelize.CoordinatesToCellName(col, 1)
	if err != nil {
		return err
	}
	return f.SetCellStr(LedgerSheet, cellName, annotationHeader)
}

func headerPositions(header []string) map[string]int {
	pos := make(map[string]int, len(header))
	for i, h := range header {
		h = strings.TrimSpace(h)
		if _, dup := pos[h]; !dup && h != "" {
			pos[h] = i
		}
	}
	return pos
}

func position(pos map[string]int, header string) int {
	if i, ok := pos[header]; ok {
		return i
	}
	return -1
}

func cell(cells []string, i int) string {
	if i < 0 || i >= len(cells) {
		return ""
	}
	return cells[i]
}

// ReadLedger returns the ledger's header and data rows as text.
func ReadLedger(path string) (*Table, error) {
	return ReadTable(path, LedgerSheet)
}

// LedgerRowFromRecord builds the ledger row of a routed record.
func LedgerRowFromRecord(r *domain.PatientRecord) LedgerRow {
	row := LedgerRow{
		Date:          r.SessionDate,
		Entity:        r.EntityName,
		PatientNumber: r.PatientNumber,
		Name:          r.Name,
	}
	if r.BirthDate != nil {
		row.BirthDate = r.BirthDate.Format(LedgerDateLayout)
	}
	if r.Diagnosis != nil {
		row.Diagnosis = *r.Diagnosis
	}
	if r.DiagnosisCode != nil {
		row.DiagnosisCode = *r.DiagnosisCode
	}
	if r.CasePriority != nil {
		row.CasePriority = fmt.Sprint(*r.CasePriority)
	}
	if r.Remarks != nil {
		row.Remarks = *r.Remarks
	}
	return row
}
