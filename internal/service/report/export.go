package report

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Format is an export encoding.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

func (f Format) String() string { return string(f) }

// ParseFormat validates an export format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatXLSX, FormatJSON, FormatYAML:
		return f, nil
	case "yml":
		return FormatYAML, nil
	}
	return "", domain.NewValidationError("format", fmt.Sprintf("unknown format %q (xlsx, json, yaml)", s))
}

// exportSheet is the sheet name of xlsx exports.
const exportSheet = "Export"

// Extra leading columns of xlsx exports.
const (
	exportHeaderDate   = "Datum"
	exportHeaderEntity = "Tumorboard"
)

// ---------------------------------------------------------------------------
// Export
// ---------------------------------------------------------------------------

// Export writes the records matching f to w and returns how many were
// written. An xlsx export carries the session date and entity in front of
// the regular columns.
func (s *Service) Export(ctx context.Context, w io.Writer, f domain.ReportFilter, format Format) (int, error) {
	records, err := s.Records(ctx, f)
	if err != nil {
		return 0, err
	}

	switch format {
	case FormatXLSX:
		err = s.tables.WriteTableTo(w, recordsTable(records))
	case FormatJSON, FormatYAML:
		dtos := make([]RecordDTO, 0, len(records))
		for _, r := range records {
			dtos = append(dtos, toRecordDTO(r))
		}
		err = encode(w, format, dtos)
	default:
		err = domain.NewValidationError("format", fmt.Sprintf("unknown format %q", format))
	}
	if err != nil {
		return 0, domain.NewStepError(domain.StepReport, err)
	}

	s.log.InfoContext(ctx, "records exported",
		slog.String("format", format.String()),
		slog.Int("records", len(records)),
	)
	return len(records), nil
}

// WriteOverview encodes ov as JSON or YAML.
func WriteOverview(w io.Writer, ov *domain.Overview, format Format) error {
	if format == FormatXLSX {
		return domain.NewValidationError("format", "overview supports json and yaml")
	}
	return encode(w, format, toOverviewDTO(ov))
}

// WriteCounts encodes one breakdown as JSON or YAML.
func WriteCounts(w io.Writer, counts []domain.Count, format Format) error {
	if format == FormatXLSX {
		return domain.NewValidationError("format", "breakdowns support json and yaml")
	}
	return encode(w, format, toCountDTOs(counts))
}

func encode(w io.Writer, format Format, v any) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return domain.NewValidationError("format", fmt.Sprintf("unknown format %q", format))
}

// recordsTable lays records out in workbook columns.
func recordsTable(records []*domain.PatientRecord) *workbook.Table {
	t := workbook.NewTable(exportSheet)
	t.Header = append([]string{exportHeaderDate, exportHeaderEntity}, t.Header...)

	for _, r := range records {
		cells := []string{r.SessionDate.Format(workbook.LedgerDateLayout), r.EntityName}
		for _, col := range domain.Columns {
			cells = append(cells, cellValue(r, col))
		}
		t.Rows = append(t.Rows, cells)
	}
	return t
}

func cellValue(r *domain.PatientRecord, col domain.Column) string {
	switch col {
	case domain.ColPatientNumber:
		return r.PatientNumber
	case domain.ColName:
		return r.Name
	case domain.ColBirthDate:
		if r.BirthDate != nil {
			return r.BirthDate.Format(workbook.LedgerDateLayout)
		}
	case domain.ColDiagnosis:
		return deref(r.Diagnosis)
	case domain.ColDiagnosisCode:
		return deref(r.DiagnosisCode)
	case domain.ColRTIndication:
		if r.RTIndication != nil {
			return r.RTIndication.String()
		}
	case domain.ColCallPriority:
		if r.CallPriority != nil {
			return r.CallPriority.String()
		}
	case domain.ColCasePriority:
		if r.CasePriority != nil {
			return strconv.Itoa(*r.CasePriority)
		}
	case domain.ColRemarks:
		return deref(r.Remarks)
	case domain.ColStudy:
		if r.StudyEnrolled != nil {
			if *r.StudyEnrolled {
				return "ja"
			}
			return "nein"
		}
	}
	return ""
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ---------------------------------------------------------------------------
// DTOs
// ---------------------------------------------------------------------------

// RecordDTO is the JSON/YAML shape of an exported record.
type RecordDTO struct {
	SessionDate     string  `json:"session_date"               yaml:"session_date"`
	Entity          string  `json:"entity"                     yaml:"entity"`
	PatientNumber   string  `json:"patient_number"             yaml:"patient_number"`
	Name            string  `json:"name"                       yaml:"name"`
	BirthDate       *string `json:"birth_date,omitempty"       yaml:"birth_date,omitempty"`
	Age             *int    `json:"age,omitempty"              yaml:"age,omitempty"`
	Diagnosis       *string `json:"diagnosis,omitempty"        yaml:"diagnosis,omitempty"`
	DiagnosisCode   *string `json:"diagnosis_code,omitempty"   yaml:"diagnosis_code,omitempty"`
	DiagnosisFamily *string `json:"diagnosis_family,omitempty" yaml:"diagnosis_family,omitempty"`
	RTIndication    *string `json:"rt_indication,omitempty"    yaml:"rt_indication,omitempty"`
	CallPriority    *string `json:"call_priority,omitempty"    yaml:"call_priority,omitempty"`
	CasePriority    *int    `json:"case_priority,omitempty"    yaml:"case_priority,omitempty"`
	Remarks         *string `json:"remarks,omitempty"          yaml:"remarks,omitempty"`
	StudyEnrolled   *bool   `json:"study_enrolled,omitempty"   yaml:"study_enrolled,omitempty"`
}

func toRecordDTO(r *domain.PatientRecord) RecordDTO {
	dto := RecordDTO{
		SessionDate:     r.SessionDate.Format(time.DateOnly),
		Entity:          r.EntityName,
		PatientNumber:   r.PatientNumber,
		Name:            r.Name,
		Age:             r.Age,
		Diagnosis:       r.Diagnosis,
		DiagnosisCode:   r.DiagnosisCode,
		DiagnosisFamily: r.DiagnosisFamily,
		CasePriority:    r.CasePriority,
		Remarks:         r.Remarks,
		StudyEnrolled:   r.StudyEnrolled,
	}
	if r.BirthDate != nil {
		dto.BirthDate = domain.Ptr(r.BirthDate.Format(time.DateOnly))
	}
	if r.RTIndication != nil {
		dto.RTIndication = domain.Ptr(r.RTIndication.String())
	}
	if r.CallPriority != nil {
		dto.CallPriority = domain.Ptr(r.CallPriority.String())
	}
	return dto
}

// CountDTO is the JSON/YAML shape of one aggregate row.
type CountDTO struct {
	Key      string `json:"key"      yaml:"key"`
	Sessions int    `json:"sessions" yaml:"sessions"`
	Records  int    `json:"records"  yaml:"records"`
}

func toCountDTOs(counts []domain.Count) []CountDTO {
	out := make([]CountDTO, 0, len(counts))
	for _, c := range counts {
		out = append(out, CountDTO{Key: c.Key, Sessions: c.Sessions, Records: c.Records})
	}
	return out
}

// OverviewDTO is the JSON/YAML shape of domain.Overview.
type OverviewDTO struct {
	Entity         string     `json:"entity,omitempty" yaml:"entity,omitempty"`
	From           *string    `json:"from,omitempty"   yaml:"from,omitempty"`
	To             *string    `json:"to,omitempty"     yaml:"to,omitempty"`
	TotalSessions  int        `json:"total_sessions"   yaml:"total_sessions"`
	TotalRecords   int        `json:"total_records"    yaml:"total_records"`
	ByEntity       []CountDTO `json:"by_entity"        yaml:"by_entity"`
	ByMonth        []CountDTO `json:"by_month"         yaml:"by_month"`
	ByCallPriority []CountDTO `json:"by_call_priority" yaml:"by_call_priority"`
	ByRTIndication []CountDTO `json:"by_rt_indication" yaml:"by_rt_indication"`
	ByFamily       []CountDTO `json:"by_family"        yaml:"by_family"`
	ByStudy        []CountDTO `json:"by_study"         yaml:"by_study"`
}

func toOverviewDTO(ov *domain.Overview) OverviewDTO {
	dto := OverviewDTO{
		Entity:         ov.Filter.Entity,
		TotalSessions:  ov.TotalSessions,
		TotalRecords:   ov.TotalRecords,
		ByEntity:       toCountDTOs(ov.ByEntity),
		ByMonth:        toCountDTOs(ov.ByMonth),
		ByCallPriority: toCountDTOs(ov.ByCallPriority),
		ByRTIndication: toCountDTOs(ov.ByRTIndication),
		ByFamily:       toCountDTOs(ov.ByFamily),
		ByStudy:        toCountDTOs(ov.ByStudy),
	}
	if ov.Filter.From != nil {
		dto.From = domain.Ptr(ov.Filter.From.Format(time.DateOnly))
	}
	if ov.Filter.To != nil {
		dto.To = domain.Ptr(ov.Filter.To.Format(time.DateOnly))
	}
	return dto
}
