package report

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite/patient"
	reportrepo "github.com/heartmarshall/tumorboard/internal/adapter/sqlite/report"
	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite/testhelper"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// ===========================================================================
// Manual mocks (moq-style with func fields)
// ===========================================================================

type mockReportRepo struct {
	CountsByFunc func(ctx context.Context, f domain.ReportFilter, b domain.Breakdown) ([]domain.Count, error)
}

func (m *mockReportRepo) Totals(context.Context, domain.ReportFilter) (int, int, error) {
	return 1, 2, nil
}

func (m *mockReportRepo) CountsByEntity(context.Context, domain.ReportFilter) ([]domain.Count, error) {
	return nil, nil
}

func (m *mockReportRepo) CountsByPeriod(context.Context, domain.ReportFilter, domain.Period) ([]domain.Count, error) {
	return nil, nil
}

func (m *mockReportRepo) CountsBy(ctx context.Context, f domain.ReportFilter, b domain.Breakdown) ([]domain.Count, error) {
	if m.CountsByFunc != nil {
		return m.CountsByFunc(ctx, f, b)
	}
	return nil, nil
}

type mockPatientRepo struct{}

func (mockPatientRepo) List(context.Context, domain.ReportFilter) ([]*domain.PatientRecord, error) {
	return nil, nil
}

// ===========================================================================
// Helpers
// ===========================================================================

func newStoreService(t *testing.T) (*Service, *sql.DB) {
	t.Helper()
	db := testhelper.SetupTestDB(t)
	return NewService(slog.Default(), reportrepo.New(db), patient.New(db), workbook.Files{}), db
}

// seed stores three Thorax records over two sessions and one Gyn record.
func seed(t *testing.T, db *sql.DB) {
	t.Helper()
	repo := patient.New(db)
	add := func(key domain.SessionKey, sid int64, number string, mutate func(*domain.PatientRecord)) {
		rec := testhelper.Record(sid, key, number, "P"+number)
		mutate(rec)
		_, err := repo.Upsert(context.Background(), rec, time.Now())
		require.NoError(t, err)
	}

	jun := domain.NewSessionKey("Thorax", testhelper.Date(2024, 6, 1))
	junID := testhelper.SeedSession(t, db, jun)
	add(jun, junID, "1", func(r *domain.PatientRecord) {
		r.BirthDate = domain.Ptr(testhelper.Date(1960, 3, 15))
		r.Age = domain.Ptr(64)
		r.DiagnosisCode = domain.Ptr("C34.1")
		r.DiagnosisFamily = domain.Ptr("C34")
		r.RTIndication = domain.Ptr(domain.RTIndicationYes)
		r.CallPriority = domain.Ptr(domain.CallPriorityUrgent)
		r.CasePriority = domain.Ptr(1)
		r.StudyEnrolled = domain.Ptr(true)
	})
	add(jun, junID, "2", func(r *domain.PatientRecord) {
		r.RTIndication = domain.Ptr(domain.RTIndicationNo)
	})

	jul := domain.NewSessionKey("Thorax", testhelper.Date(2024, 7, 6))
	add(jul, testhelper.SeedSession(t, db, jul), "3", func(r *domain.PatientRecord) {
		r.RTIndication = domain.Ptr(domain.RTIndicationYes)
		r.CallPriority = domain.Ptr(domain.CallPriorityUrgent)
	})

	gyn := domain.NewSessionKey("Gyn", testhelper.Date(2024, 6, 3))
	add(gyn, testhelper.SeedSession(t, db, gyn), "4", func(r *domain.PatientRecord) {})
}

func countOf(counts []domain.Count, key string) int {
	for _, c := range counts {
		if c.Key == key {
			return c.Records
		}
	}
	return 0
}

// ===========================================================================
// Overview / Breakdown
// ===========================================================================

func TestOverview_EmptyStore(t *testing.T) {
	t.Parallel()
	svc, _ := newStoreService(t)

	ov, err := svc.Overview(context.Background(), domain.ReportFilter{})
	require.NoError(t, err)
	assert.Zero(t, ov.TotalSessions)
	assert.Zero(t, ov.TotalRecords)
	assert.Empty(t, ov.ByMonth)
	assert.Empty(t, ov.ByCallPriority)
}

func TestOverview_Store(t *testing.T) {
	t.Parallel()
	svc, db := newStoreService(t)
	seed(t, db)

	ov, err := svc.Overview(context.Background(), domain.ReportFilter{Entity: "Thorax"})
	require.NoError(t, err)

	assert.Equal(t, 2, ov.TotalSessions)
	assert.Equal(t, 3, ov.TotalRecords)
	assert.Equal(t, 3, countOf(ov.ByEntity, "Thorax"))
	assert.Equal(t, 2, countOf(ov.ByMonth, "2024-06"))
	assert.Equal(t, 1, countOf(ov.ByMonth, "2024-07"))
	assert.Equal(t, 2, countOf(ov.ByCallPriority, "urgent"))
	assert.Equal(t, 1, countOf(ov.ByRTIndication, "no"))
	assert.Equal(t, 1, countOf(ov.ByFamily, "C34"))
	assert.Equal(t, 1, countOf(ov.ByStudy, "yes"))
}

func TestOverview_Errors(t *testing.T) {
	t.Parallel()

	from, to := testhelper.Date(2024, 6, 1), testhelper.Date(2024, 5, 1)
	tests := []struct {
		name   string
		filter domain.ReportFilter
		repo   *mockReportRepo
		want   error
	}{
		{
			name:   "reversed range",
			filter: domain.ReportFilter{From: &from, To: &to},
			repo:   &mockReportRepo{},
			want:   domain.ErrValidation,
		},
		{
			name: "breakdown fails",
			repo: &mockReportRepo{CountsByFunc: func(context.Context, domain.ReportFilter, domain.Breakdown) ([]domain.Count, error) {
				return nil, errors.New("no such column")
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			svc := NewService(slog.Default(), tt.repo, mockPatientRepo{}, workbook.Files{})

			_, err := svc.Overview(context.Background(), tt.filter)
			require.Error(t, err)
			assert.Equal(t, domain.StepReport, domain.StepOf(err))
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}

func TestBreakdown(t *testing.T) {
	t.Parallel()
	svc, db := newStoreService(t)
	seed(t, db)
	ctx := context.Background()

	tests := []struct {
		dimension string
		key       string
		want      int
	}{
		{dimension: "entity", key: "Gyn", want: 1},
		{dimension: "month", key: "2024-06", want: 3},
		{dimension: "quarter", key: "2024-Q3", want: 1},
		{dimension: "year", key: "2024", want: 4},
		{dimension: "call_priority", key: "", want: 2},
		{dimension: "diagnosis_family", key: "C34", want: 1},
	}
	for _, tt := range tests {
		t.Run(tt.dimension, func(t *testing.T) {
			counts, err := svc.Breakdown(ctx, domain.ReportFilter{}, tt.dimension)
			require.NoError(t, err)
			assert.Equal(t, tt.want, countOf(counts, tt.key))
		})
	}

	_, err := svc.Breakdown(ctx, domain.ReportFilter{}, "weekday")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

// ===========================================================================
// Export
// ===========================================================================

func TestExport_JSON(t *testing.T) {
	t.Parallel()
	svc, db := newStoreService(t)
	seed(t, db)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, domain.ReportFilter{Entity: "Thorax"}, FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	var got []RecordDTO
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 3)
	assert.Equal(t, "2024-06-01", got[0].SessionDate)
	assert.Equal(t, "1", got[0].PatientNumber)
	require.NotNil(t, got[0].BirthDate)
	assert.Equal(t, "1960-03-15", *got[0].BirthDate)
	assert.Equal(t, "urgent", *got[0].CallPriority)
	assert.Nil(t, got[1].CallPriority)
}

func TestExport_YAML(t *testing.T) {
	t.Parallel()
	svc, db := newStoreService(t)
	seed(t, db)

	var buf bytes.Buffer
	_, err := svc.Export(context.Background(), &buf, domain.ReportFilter{Entity: "Gyn"}, FormatYAML)
	require.NoError(t, err)

	var got []map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "4", got[0]["patient_number"])
	assert.NotContains(t, got[0], "remarks")
}

func TestExport_XLSX(t *testing.T) {
	t.Parallel()
	svc, db := newStoreService(t)
	seed(t, db)

	var buf bytes.Buffer
	n, err := svc.Export(context.Background(), &buf, domain.ReportFilter{}, FormatXLSX)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, []string{"Datum", "Tumorboard", "Patientennummer", "Name"}, rows[0][:4])
	assert.Equal(t, []string{"01.06.2024", "Thorax", "1", "P1", "15.03.1960"}, rows[1][:5])
}

func TestWriteOverview(t *testing.T) {
	t.Parallel()
	from := testhelper.Date(2024, 1, 1)
	ov := &domain.Overview{
		Filter:        domain.ReportFilter{Entity: "Thorax", From: &from},
		TotalSessions: 2,
		TotalRecords:  3,
		ByEntity:      []domain.Count{{Key: "Thorax", Sessions: 2, Records: 3}},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteOverview(&buf, ov, FormatYAML))
	assert.Contains(t, buf.String(), "total_records: 3")
	assert.Contains(t, buf.String(), "2024-01-01")

	assert.ErrorIs(t, WriteOverview(&buf, ov, FormatXLSX), domain.ErrValidation)
}

func TestParseFormat(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "xlsx", want: FormatXLSX},
		{in: " JSON ", want: FormatJSON},
		{in: "yml", want: FormatYAML},
		{in: "csv", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.wantErr {
			assert.ErrorIs(t, err, domain.ErrValidation, tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got)
	}
}
