package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/adapter/workbook"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// ---------------------------------------------------------------------------
// RouteFinalizedSession
// ---------------------------------------------------------------------------

// RouteFinalizedSession inserts the indicated records of key into their
// category ledgers. Each record lands in exactly one ledger; records whose
// call priority is not a known category are logged and left out.
//
// Ledgers are backed up before they change, new rows go on top of the data
// region and existing rows are never moved or removed. A record already in
// any ledger is not inserted again, so routing a session twice is safe. When
// an edit moved a routed record to another category it stays where it was and
// the move is reported for manual follow-up.
func (s *Service) RouteFinalizedSession(ctx context.Context, key domain.SessionKey) (*Result, error) {
	ctx = ctxutil.EnsureOperationID(ctx)
	if err := key.Validate(); err != nil {
		return nil, domain.NewStepError(domain.StepRoute, err)
	}

	result, err := s.route(ctx, key)
	if err != nil {
		s.metrics.StepFailures.WithLabelValues(domain.StepRoute.String()).Inc()
		return nil, domain.NewStepError(domain.StepRoute, err)
	}

	s.log.InfoContext(ctx, "session routed",
		slog.String("session", key.String()),
		slog.Int("inserted", result.Total()),
		slog.Int("already_present", result.AlreadyPresent),
		slog.Int("unrouted", len(result.Unrouted)),
		slog.Int("reassigned", len(result.Reassigned)),
	)
	return result, nil
}

func (s *Service) route(ctx context.Context, key domain.SessionKey) (*Result, error) {
	session, err := s.sessions.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	records, err := s.patients.ListIndicated(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	result := &Result{Key: key, Routed: make(map[domain.CallPriority]int, len(domain.CallPriorities))}
	byCategory := make(map[domain.CallPriority][]workbook.LedgerRow, len(domain.CallPriorities))

	for _, rec := range records {
		if rec.CallPriority == nil || !rec.CallPriority.IsKnown() {
			priority := ""
			if rec.CallPriority != nil {
				priority = string(*rec.CallPriority)
			}
			s.log.WarnContext(ctx, "call priority maps to no category, record not routed",
				slog.String("session", key.String()),
				slog.String("patient", rec.PatientNumber),
				slog.String("call_priority", priority),
			)
			s.metrics.Unrouted.WithLabelValues(key.Entity).Inc()
			result.Unrouted = append(result.Unrouted, rec.PatientNumber)
			continue
		}
		byCategory[*rec.CallPriority] = append(byCategory[*rec.CallPriority], workbook.LedgerRowFromRecord(rec))
	}

	ledgers := s.cfg.Ledgers()
	paths := make(map[domain.CallPriority]string, len(domain.CallPriorities))
	keys := make(map[domain.CallPriority]map[string]bool, len(domain.CallPriorities))
	for _, category := range domain.CallPriorities {
		path := s.paths.LedgerPath(ledgers[category.String()])
		existing, err := s.ledgers.LedgerKeys(path)
		if err != nil {
			return nil, fmt.Errorf("ledger %s: %w", category, err)
		}
		paths[category], keys[category] = path, existing
	}

	for _, category := range domain.CallPriorities {
		var fresh []workbook.LedgerRow
		for _, r := range byCategory[category] {
			switch held, ok := heldBy(keys, r.Key()); {
			case !ok:
				fresh = append(fresh, r)
			case held == category:
				result.AlreadyPresent++
			default:
				s.log.WarnContext(ctx, "call priority changed since routing, record stays in its earlier ledger",
					slog.String("session", key.String()),
					slog.String("patient", r.PatientNumber),
					slog.String("ledger", paths[held]),
					slog.String("new_ledger", paths[category]),
				)
				result.Reassigned = append(result.Reassigned, Reassignment{
					PatientNumber: r.PatientNumber, From: held, To: category,
				})
			}
		}
		if len(fresh) == 0 {
			continue
		}

		if err := s.insert(ctx, category, paths[category], fresh); err != nil {
			return nil, fmt.Errorf("ledger %s: %w", category, err)
		}
		result.Routed[category] = len(fresh)
	}
	return result, nil
}

// heldBy returns the category whose ledger already holds key.
func heldBy(keys map[domain.CallPriority]map[string]bool, key string) (domain.CallPriority, bool) {
	for _, category := range domain.CallPriorities {
		if keys[category][key] {
			return category, true
		}
	}
	return "", false
}

// insert backs up the ledger at path and writes fresh on top of it.
func (s *Service) insert(ctx context.Context, category domain.CallPriority, path string, fresh []workbook.LedgerRow) error {
	backupPath, err := s.backups.Backup(ctx, path, "ledger_"+category.String())
	if err != nil {
		return fmt.Errorf("backup: %w", err)
	}
	if backupPath != "" {
		s.metrics.Backups.Inc()
	}

	err = s.retry.Do(ctx, "insert ledger rows", func() error {
		if err := fileio.ProbeIfExists(path); err != nil {
			return err
		}
		return s.ledgers.InsertLedgerRows(path, s.cfg.AnnotationHeader, fresh)
	})
	if err != nil {
		return err
	}

	s.metrics.Routed.WithLabelValues(category.String()).Add(float64(len(fresh)))
	s.log.DebugContext(ctx, "ledger rows inserted",
		slog.String("ledger", path),
		slog.Int("rows", len(fresh)),
	)
	return nil
}
