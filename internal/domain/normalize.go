package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultDateLayouts are the textual date layouts accepted in cells, tried in order.
var DefaultDateLayouts = []string{
	"02.01.2006",
	"2.1.2006",
	"2006-01-02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	time.RFC3339,
	SheetDateLayout,
}

// absentValues are cell texts that mean "no value" (case-insensitive).
var absentValues = map[string]bool{
	"nan": true, "none": true, "nat": true, "null": true, "<na>": true,
}

var (
	fractionalIDPattern    = regexp.MustCompile(`^(\d+)\.0+$`)
	diagnosisFamilyPattern = regexp.MustCompile(`^([A-Z]\d{1,2})(?:[.\s-]|$)`)
)

// CleanCell trims a raw cell and reports whether it carries a value.
// Blank cells and NaN-like spreadsheet artifacts are absent.
func CleanCell(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" || absentValues[strings.ToLower(s)] {
		return "", false
	}
	return s, true
}

// CleanIdentifier cleans an identifier cell and strips a spurious fractional
// suffix that spreadsheets add to numeric ids ("12345.0" -> "12345").
func CleanIdentifier(raw string) (string, bool) {
	s, ok := CleanCell(raw)
	if !ok {
		return "", false
	}
	if m := fractionalIDPattern.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	return s, true
}

// ParseDate parses a date cell using layouts (DefaultDateLayouts when empty).
// The result is truncated to the calendar day.
func ParseDate(raw string, layouts ...string) (time.Time, bool) {
	s, ok := CleanCell(raw)
	if !ok {
		return time.Time{}, false
	}
	if len(layouts) == 0 {
		layouts = DefaultDateLayouts
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return DateOnly(t), true
		}
	}
	return time.Time{}, false
}

// ParseSheetDate derives a session date from a sheet name. Sheets whose name
// is not a date (overview sheets) return false.
func ParseSheetDate(name string, layouts ...string) (time.Time, bool) {
	if len(layouts) == 0 {
		layouts = []string{SheetDateLayout, "02.01.2006", "2006-01-02", "02-01-2006"}
	}
	return ParseDate(name, layouts...)
}

// AgeAt returns the age in completed years of someone born on birth at date at.
func AgeAt(birth, at time.Time) int {
	age := at.Year() - birth.Year()
	if at.Month() < birth.Month() || (at.Month() == birth.Month() && at.Day() < birth.Day()) {
		age--
	}
	return age
}

// DiagnosisFamily extracts the leading category of a diagnosis code:
// one letter followed by one or two digits ("C34.1" -> "C34"). Codes that
// do not match the pattern have no family.
func DiagnosisFamily(code string) *string {
	s := strings.ToUpper(strings.TrimSpace(code))
	m := diagnosisFamilyPattern.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	family := m[1]
	return &family
}

type priorityRule struct {
	pattern  string
	category CallPriority
}

// callPriorityRules are matched as substrings of the normalized text, longest
// pattern first, so specific descriptions win over short codes they contain.
var callPriorityRules = sortedRules([]priorityRule{
	{"kategorie 1", CallPriorityUrgent},
	{"kat i", CallPriorityUrgent},
	{"notfall", CallPriorityUrgent},
	{"sofort", CallPriorityUrgent},
	{"dringend", CallPriorityUrgent},
	{"urgent", CallPriorityUrgent},
	{"innerhalb 1 woche", CallPriorityUrgent},
	{"innert 1 woche", CallPriorityUrgent},

	{"kategorie 2", CallPrioritySoon},
	{"kat ii", CallPrioritySoon},
	{"zeitnah", CallPrioritySoon},
	{"soon", CallPrioritySoon},
	{"innerhalb 2 wochen", CallPrioritySoon},
	{"innert 2 wochen", CallPrioritySoon},

	{"kategorie 3", CallPriorityRoutine},
	{"kat iii", CallPriorityRoutine},
	{"nicht dringend", CallPriorityRoutine},
	{"elektiv", CallPriorityRoutine},
	{"routine", CallPriorityRoutine},
	{"innerhalb 4 wochen", CallPriorityRoutine},
	{"innert 4 wochen", CallPriorityRoutine},
})

// callPriorityCodes are short codes that only match the whole cell.
var callPriorityCodes = map[string]CallPriority{
	"1": CallPriorityUrgent, "i": CallPriorityUrgent, "a": CallPriorityUrgent,
	"2": CallPrioritySoon, "ii": CallPrioritySoon, "b": CallPrioritySoon,
	"3": CallPriorityRoutine, "iii": CallPriorityRoutine, "c": CallPriorityRoutine,
}

func sortedRules(rules []priorityRule) []priorityRule {
	sort.SliceStable(rules, func(i, j int) bool {
		return len(rules[i].pattern) > len(rules[j].pattern)
	})
	return rules
}

// NormalizeCallPriority maps free text onto the fixed categories. Text that
// matches no rule is returned unchanged so it is never silently dropped.
func NormalizeCallPriority(raw string) *CallPriority {
	s, ok := CleanCell(raw)
	if !ok {
		return nil
	}
	key := priorityKey(s)
	if cat, ok := callPriorityCodes[key]; ok {
		return &cat
	}
	for _, rule := range callPriorityRules {
		if matchesAffirmed(key, rule.pattern) {
			cat := rule.category
			return &cat
		}
	}
	preserved := CallPriority(s)
	return &preserved
}

var negations = map[string]bool{"kein": true, "keine": true, "nicht": true, "no": true, "not": true}

// matchesAffirmed reports whether pattern occurs in key at least once without
// a negation word directly before it. "kein notfall" does not match "notfall".
func matchesAffirmed(key, pattern string) bool {
	for from := 0; ; {
		i := strings.Index(key[from:], pattern)
		if i < 0 {
			return false
		}
		i += from
		before := strings.Fields(key[:i])
		if len(before) == 0 || !negations[before[len(before)-1]] {
			return true
		}
		from = i + len(pattern)
	}
}

func priorityKey(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, ".", " ")
	s = strings.ReplaceAll(s, ":", " ")
	return strings.Join(strings.Fields(s), " ")
}

var (
	yesWords = map[string]bool{"ja": true, "j": true, "yes": true, "y": true, "x": true, "1": true, "true": true, "wahr": true, "indiziert": true}
	noWords  = map[string]bool{"nein": true, "n": true, "no": true, "0": true, "false": true, "falsch": true}
)

// NormalizeRTIndication maps yes/no spellings to the canonical flag. Other
// text, including SkipMarker, is preserved.
func NormalizeRTIndication(raw string) *RTIndication {
	s, ok := CleanCell(raw)
	if !ok {
		return nil
	}
	lower := strings.ToLower(s)
	first := strings.Trim(strings.Fields(lower)[0], ",;.")
	switch {
	case strings.HasPrefix(lower, "nicht indiziert"):
		v := RTIndicationNo
		return &v
	case yesWords[lower] || yesWords[first]:
		v := RTIndicationYes
		return &v
	case noWords[lower] || noWords[first]:
		v := RTIndicationNo
		return &v
	}
	v := RTIndication(s)
	return &v
}

// ParseBool parses a yes/no flag cell.
func ParseBool(raw string) (*bool, bool) {
	s, ok := CleanCell(raw)
	if !ok {
		return nil, true
	}
	lower := strings.ToLower(s)
	switch {
	case yesWords[lower]:
		return Ptr(true), true
	case noWords[lower]:
		return Ptr(false), true
	}
	return nil, false
}

// ParseCasePriority parses the case ordering number. SkipMarker is absent.
func ParseCasePriority(raw string) (*int, bool) {
	s, ok := CleanIdentifier(raw)
	if !ok || s == SkipMarker {
		return nil, true
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return nil, false
	}
	return &n, true
}

// Normalizer turns raw rows into PatientRecords.
type Normalizer struct {
	dateLayouts []string
}

// NewNormalizer creates a Normalizer. Empty layouts use DefaultDateLayouts.
func NewNormalizer(dateLayouts []string) *Normalizer {
	if len(dateLayouts) == 0 {
		dateLayouts = DefaultDateLayouts
	}
	return &Normalizer{dateLayouts: dateLayouts}
}

// Normalize converts one raw row of the given session into a record.
// A returned error means the row must be skipped. Warnings describe cells
// that were dropped or preserved unrecognized; the row is still usable.
func (n *Normalizer) Normalize(row RawRow, key SessionKey) (*PatientRecord, []string, error) {
	number, ok := CleanIdentifier(row.Get(ColPatientNumber))
	if !ok {
		return nil, nil, NewValidationError(string(ColPatientNumber), fmt.Sprintf("row %d: empty patient number", row.Line))
	}
	name, ok := CleanCell(row.Get(ColName))
	if !ok {
		return nil, nil, NewValidationError(string(ColName), fmt.Sprintf("row %d: empty name", row.Line))
	}

	rec := &PatientRecord{
		SessionDate:   key.Date,
		PatientNumber: number,
		EntityName:    key.Entity,
		Name:          name,
	}

	var warnings []string

	if raw, ok := CleanCell(row.Get(ColBirthDate)); ok {
		if birth, ok := ParseDate(raw, n.dateLayouts...); ok {
			rec.BirthDate = &birth
			rec.Age = Ptr(AgeAt(birth, key.Date))
		} else {
			warnings = append(warnings, fmt.Sprintf("unparseable birth date %q", raw))
		}
	}

	if s, ok := CleanCell(row.Get(ColDiagnosis)); ok {
		rec.Diagnosis = &s
	}
	if s, ok := CleanCell(row.Get(ColDiagnosisCode)); ok {
		code := strings.ToUpper(s)
		rec.DiagnosisCode = &code
		rec.DiagnosisFamily = DiagnosisFamily(code)
	}

	rec.RTIndication = NormalizeRTIndication(row.Get(ColRTIndication))
	rec.CallPriority = NormalizeCallPriority(row.Get(ColCallPriority))
	if rec.CallPriority != nil && !rec.CallPriority.IsKnown() && string(*rec.CallPriority) != SkipMarker {
		warnings = append(warnings, fmt.Sprintf("unrecognized call priority %q preserved", *rec.CallPriority))
	}

	if cp, ok := ParseCasePriority(row.Get(ColCasePriority)); ok {
		rec.CasePriority = cp
	} else {
		warnings = append(warnings, fmt.Sprintf("unparseable case priority %q", row.Get(ColCasePriority)))
	}

	if s, ok := CleanCell(row.Get(ColRemarks)); ok {
		rec.Remarks = &s
	}

	if b, ok := ParseBool(row.Get(ColStudy)); ok {
		rec.StudyEnrolled = b
	} else {
		warnings = append(warnings, fmt.Sprintf("unrecognized study flag %q", row.Get(ColStudy)))
	}

	return rec, warnings, nil
}
