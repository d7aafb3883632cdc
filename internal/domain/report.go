package domain

import (
	"fmt"
	"time"
)

// ReportFilter narrows read-only queries. Zero fields do not filter.
type ReportFilter struct {
	Entity string
	From   *time.Time
	To     *time.Time
}

// Validate checks that the date range is ordered.
func (f ReportFilter) Validate() error {
	if f.From != nil && f.To != nil && f.To.Before(*f.From) {
		return NewValidationError("to", "must not be before from")
	}
	return nil
}

// Period is a temporal bucket size.
type Period string

const (
	PeriodMonth   Period = "month"
	PeriodQuarter Period = "quarter"
	PeriodYear    Period = "year"
)

func (p Period) String() string { return string(p) }

func (p Period) IsValid() bool {
	switch p {
	case PeriodMonth, PeriodQuarter, PeriodYear:
		return true
	}
	return false
}

// Breakdown is a categorical dimension records can be grouped by.
type Breakdown string

const (
	BreakdownCallPriority    Breakdown = "call_priority"
	BreakdownRTIndication    Breakdown = "rt_indication"
	BreakdownDiagnosisFamily Breakdown = "diagnosis_family"
	BreakdownStudy           Breakdown = "study"
)

func (b Breakdown) String() string { return string(b) }

func (b Breakdown) IsValid() bool {
	switch b {
	case BreakdownCallPriority, BreakdownRTIndication, BreakdownDiagnosisFamily, BreakdownStudy:
		return true
	}
	return false
}

// ParseBreakdown validates a breakdown name.
func ParseBreakdown(s string) (Breakdown, error) {
	b := Breakdown(s)
	if !b.IsValid() {
		return "", NewValidationError("breakdown", fmt.Sprintf("unknown breakdown %q", s))
	}
	return b, nil
}

// Count is one aggregate row. Key is "" for records where the grouped
// field is unset.
type Count struct {
	Key      string
	Sessions int
	Records  int
}

// Overview bundles the standard statistics shown for a filter.
type Overview struct {
	Filter         ReportFilter
	TotalSessions  int
	TotalRecords   int
	ByEntity       []Count
	ByMonth        []Count
	ByCallPriority []Count
	ByRTIndication []Count
	ByFamily       []Count
	ByStudy        []Count
}
