package domain

import (
	"fmt"
	"strings"
)

// Column is a logical workbook column. Headers are matched against the
// column's alias list, not against the logical name.
type Column string

const (
	ColPatientNumber Column = "patient_number"
	ColName          Column = "name"
	ColBirthDate     Column = "birth_date"
	ColDiagnosis     Column = "diagnosis"
	ColDiagnosisCode Column = "diagnosis_code"
	ColRTIndication  Column = "rt_indication"
	ColCallPriority  Column = "call_priority"
	ColCasePriority  Column = "case_priority"
	ColRemarks       Column = "remarks"
	ColStudy         Column = "study"
)

// Columns lists every logical column in canonical workbook order.
var Columns = []Column{
	ColPatientNumber, ColName, ColBirthDate, ColDiagnosis, ColDiagnosisCode,
	ColRTIndication, ColCallPriority, ColCasePriority, ColRemarks, ColStudy,
}

// RequiredColumns must be present in a sheet for it to be imported.
var RequiredColumns = []Column{ColPatientNumber, ColName}

// columnAliases holds accepted header spellings per column, in preference
// order. The first alias is the header written into new workbooks.
var columnAliases = map[Column][]string{
	ColPatientNumber: {"Patientennummer", "Patient Number", "PatNr", "Pat.-Nr.", "PID"},
	ColName:          {"Name", "Patient", "Patientenname"},
	ColBirthDate:     {"Geburtsdatum", "Birth Date", "Geb.-Datum", "DOB"},
	ColDiagnosis:     {"Diagnose", "Diagnosis"},
	ColDiagnosisCode: {"ICD-Code", "ICD Code", "ICD-10", "ICD10", "ICD", "Diagnosecode", "Diagnosis Code"},
	ColRTIndication:  {"RT-Indikation", "Radiotherapie indiziert", "RT indiziert", "RT Indication"},
	ColCallPriority:  {"Aufgebot", "Call Priority", "Aufgebotspriorität"},
	ColCasePriority:  {"Fallpriorität", "Case Priority", "Reihenfolge"},
	ColRemarks:       {"Bemerkung", "Bemerkungen", "Remarks"},
	ColStudy:         {"Studie", "Studienteilnahme", "Study"},
}

// Header returns the canonical header written for c.
func (c Column) Header() string {
	if aliases := columnAliases[c]; len(aliases) > 0 {
		return aliases[0]
	}
	return string(c)
}

// Aliases returns the accepted header spellings for c.
func (c Column) Aliases() []string {
	return columnAliases[c]
}

// ParseColumn resolves a column from its logical name or any header alias.
func ParseColumn(s string) (Column, error) {
	key := headerKey(s)
	for _, col := range Columns {
		if key == string(col) {
			return col, nil
		}
		for _, alias := range columnAliases[col] {
			if key == headerKey(alias) {
				return col, nil
			}
		}
	}
	return "", NewValidationError("column", fmt.Sprintf("unknown column %q", s))
}

// HeaderIndex maps each resolved column to its zero-based cell index.
type HeaderIndex map[Column]int

// ResolveHeader matches a header row against the alias table once.
// Matching is case-insensitive and ignores surrounding whitespace. For each
// column the earliest alias found wins. Required columns that could not be
// resolved are returned in missing.
func ResolveHeader(header []string) (idx HeaderIndex, missing []Column) {
	byName := make(map[string]int, len(header))
	for i, h := range header {
		key := headerKey(h)
		if key == "" {
			continue
		}
		if _, dup := byName[key]; !dup {
			byName[key] = i
		}
	}

	idx = make(HeaderIndex, len(Columns))
	for _, col := range Columns {
		for _, alias := range columnAliases[col] {
			if i, ok := byName[headerKey(alias)]; ok {
				idx[col] = i
				break
			}
		}
	}

	for _, col := range RequiredColumns {
		if _, ok := idx[col]; !ok {
			missing = append(missing, col)
		}
	}
	return idx, missing
}

func headerKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// RawRow is one data row of a sheet before normalization.
type RawRow struct {
	// Line is the 1-based row number in the sheet.
	Line  int
	Cells map[Column]string
}

// RowFromCells builds a RawRow from a sheet row using a resolved header.
func RowFromCells(line int, cells []string, idx HeaderIndex) RawRow {
	row := RawRow{Line: line, Cells: make(map[Column]string, len(idx))}
	for col, i := range idx {
		if i < len(cells) {
			row.Cells[col] = cells[i]
		}
	}
	return row
}

// Get returns the raw cell text for col ("" when absent).
func (r RawRow) Get(col Column) string {
	return r.Cells[col]
}
