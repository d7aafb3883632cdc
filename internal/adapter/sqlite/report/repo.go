// Package report implements read-only aggregate queries over the store.
// Nothing in this package writes; an empty store yields empty results.
package report

import (
	"context"
	"database/sql"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

// Repo runs aggregate queries.
type Repo struct {
	db *sql.DB
}

// New creates a new report repository.
func New(db *sql.DB) *Repo {
	return &Repo{db: db}
}

// periodExpr maps a bucket size to the SQL expression yielding its label.
var periodExpr = map[domain.Period]string{
	domain.PeriodMonth:   "strftime('%Y-%m', session_date)",
	domain.PeriodQuarter: quarterExpr,
	domain.PeriodYear:    "strftime('%Y', session_date)",
}

const quarterExpr = "strftime('%Y', session_date) || '-Q' || ((CAST(strftime('%m', session_date) AS INTEGER) + 2) / 3)"

// breakdownExpr maps a categorical dimension to the column expression it
// groups by. Unset values group under "".
var breakdownExpr = map[domain.Breakdown]string{
	domain.BreakdownCallPriority:    "COALESCE(call_priority, '')",
	domain.BreakdownRTIndication:    "COALESCE(rt_indication, '')",
	domain.BreakdownDiagnosisFamily: "COALESCE(icd_family, '')",
	domain.BreakdownStudy:           "CASE study_enrolled WHEN 1 THEN 'yes' WHEN 0 THEN 'no' ELSE '' END",
}

// Totals returns the number of sessions that have records and the number of
// records matching f.
func (r *Repo) Totals(ctx context.Context, f domain.ReportFilter) (sessions, records int, err error) {
	query := filtered(sqlite.Builder().
		Select("COUNT(DISTINCT session_id)", "COUNT(*)").
		From("patient_records"), f)

	stmt, args, err := query.ToSql()
	if err != nil {
		return 0, 0, fmt.Errorf("build totals: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	if err := querier.QueryRowContext(ctx, stmt, args...).Scan(&sessions, &records); err != nil {
		return 0, 0, fmt.Errorf("totals: %w", err)
	}
	return sessions, records, nil
}

// CountsByEntity returns session and record counts per entity. Entities
// without records are included with zero counts unless f names another one.
func (r *Repo) CountsByEntity(ctx context.Context, f domain.ReportFilter) ([]domain.Count, error) {
	join := "LEFT JOIN patient_records p ON p.entity_name = e.name"
	var joinArgs []any
	if f.From != nil {
		join += " AND p.session_date >= ?"
		joinArgs = append(joinArgs, sqlite.FormatDate(*f.From))
	}
	if f.To != nil {
		join += " AND p.session_date <= ?"
		joinArgs = append(joinArgs, sqlite.FormatDate(*f.To))
	}

	query := sqlite.Builder().
		Select("e.name", "COUNT(DISTINCT p.session_id)", "COUNT(p.id)").
		From("entities e").
		JoinClause(join, joinArgs...).
		GroupBy("e.name").
		OrderBy("e.name")
	query = sqlite.WhereIf(query, f.Entity != "", sq.Eq{"e.name": f.Entity})

	return r.counts(ctx, query)
}

// CountsByPeriod returns counts bucketed by month, quarter or year, in
// chronological order.
func (r *Repo) CountsByPeriod(ctx context.Context, f domain.ReportFilter, p domain.Period) ([]domain.Count, error) {
	expr, ok := periodExpr[p]
	if !ok {
		return nil, domain.NewValidationError("period", fmt.Sprintf("unknown period %q", p))
	}
	return r.groupBy(ctx, f, expr, "1")
}

// CountsBy returns counts grouped by a categorical dimension, largest group
// first.
func (r *Repo) CountsBy(ctx context.Context, f domain.ReportFilter, b domain.Breakdown) ([]domain.Count, error) {
	expr, ok := breakdownExpr[b]
	if !ok {
		return nil, domain.NewValidationError("breakdown", fmt.Sprintf("unknown breakdown %q", b))
	}
	return r.groupBy(ctx, f, expr, "3 DESC", "1")
}

func (r *Repo) groupBy(ctx context.Context, f domain.ReportFilter, expr string, orderBy ...string) ([]domain.Count, error) {
	query := filtered(sqlite.Builder().
		Select(expr+" AS bucket", "COUNT(DISTINCT session_id)", "COUNT(*)").
		From("patient_records").
		GroupBy("bucket").
		OrderBy(orderBy...), f)

	return r.counts(ctx, query)
}

func (r *Repo) counts(ctx context.Context, query sq.SelectBuilder) ([]domain.Count, error) {
	stmt, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build aggregate: %w", err)
	}

	querier := sqlite.QuerierFromCtx(ctx, r.db)
	rows, err := querier.QueryContext(ctx, stmt, args...)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	defer rows.Close()

	counts := []domain.Count{}
	for rows.Next() {
		var c domain.Count
		if err := rows.Scan(&c.Key, &c.Sessions, &c.Records); err != nil {
			return nil, fmt.Errorf("aggregate: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return counts, nil
}

func filtered(query sq.SelectBuilder, f domain.ReportFilter) sq.SelectBuilder {
	query = sqlite.WhereIf(query, f.Entity != "", sq.Eq{"entity_name": f.Entity})
	if f.From != nil {
		query = query.Where(sq.GtOrEq{"session_date": sqlite.FormatDate(*f.From)})
	}
	if f.To != nil {
		query = query.Where(sq.LtOrEq{"session_date": sqlite.FormatDate(*f.To)})
	}
	return query
}
