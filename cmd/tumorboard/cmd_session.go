package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/app"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/service/router"
	"github.com/heartmarshall/tumorboard/internal/service/session"
)

func (c *cli) sessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Open, edit and finalize one tumorboard session",
	}
	cmd.AddCommand(
		c.sessionOpenCmd(),
		c.sessionRestoreCmd(),
		c.sessionEditCmd(),
		c.sessionStatusCmd(),
		c.sessionFinalizeCmd(),
		c.sessionDiscardCmd(),
		c.sessionListCmd(),
	)
	return cmd
}

// ---------------------------------------------------------------------------
// open / restore
// ---------------------------------------------------------------------------

func (c *cli) sessionOpenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "open <entity> <date>",
		Short: "Create the working snapshot of a session",
		Long: `Create the working snapshot of a session from its source workbook.
The source is created from the collection workbook when it does not exist yet.
If a snapshot is left over from an earlier run, you are asked whether to
continue with it or to discard it and start over.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				st, err := e.Sessions.Open(ctx, key)
				var restore *domain.RestoreRequiredError
				if errors.As(err, &restore) && interactive() {
					choice, perr := promptRestore(restore)
					if perr != nil {
						return perr
					}
					st, err = e.Sessions.Restore(ctx, key, choice)
				}
				if err != nil {
					return err
				}
				successf(c.stdout, "session %s open", key)
				return c.printSession(ctx, e, st)
			})
		},
	}
}

func (c *cli) sessionRestoreCmd() *cobra.Command {
	var choice string
	cmd := &cobra.Command{
		Use:   "restore <entity> <date>",
		Short: "Continue or discard a snapshot left over from an earlier run",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				rc := domain.RestoreChoice(choice)
				if choice == "" && interactive() {
					st, err := e.Sessions.Status(ctx, key)
					if err != nil {
						return err
					}
					if st.State != session.StateSnapshotActive {
						return domain.NewStepError(domain.StepSnapshotRestore, domain.ErrNoSnapshot)
					}
					info := &domain.RestoreRequiredError{Key: key, SnapshotPath: e.Sessions.SnapshotPath(key)}
					if st.SnapshotModifiedAt != nil {
						info.ModifiedAt = *st.SnapshotModifiedAt
					}
					if rc, err = promptRestore(info); err != nil {
						return err
					}
				}
				if !rc.IsValid() {
					return domain.NewValidationError("choice", "must be continue or discard")
				}
				st, err := e.Sessions.Restore(ctx, key, rc)
				if err != nil {
					return err
				}
				successf(c.stdout, "session %s restored (%s)", key, rc)
				return c.printSession(ctx, e, st)
			})
		},
	}
	cmd.Flags().StringVar(&choice, "choice", "", "continue or discard")
	return cmd
}

func promptRestore(r *domain.RestoreRequiredError) (domain.RestoreChoice, error) {
	var choice string
	form := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title(fmt.Sprintf("A snapshot of %s was left open", r.Key)).
				Description(fmt.Sprintf("%s, last modified %s", r.SnapshotPath, r.ModifiedAt.Format(time.DateTime))).
				Options(
					huh.NewOption("Continue with the snapshot", string(domain.RestoreContinue)),
					huh.NewOption("Discard it and start from the source", string(domain.RestoreDiscard)),
				).
				Value(&choice),
		),
	)
	if err := form.Run(); err != nil {
		return "", fmt.Errorf("restore prompt: %w", err)
	}
	return domain.RestoreChoice(choice), nil
}

// ---------------------------------------------------------------------------
// edit
// ---------------------------------------------------------------------------

func (c *cli) sessionEditCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "edit <entity> <date> <patient-number> <column> [value]",
		Short: "Change one field of a record in the working snapshot",
		Long: `Change one field of a record in the working snapshot. The column is a
logical name (e.g. call_priority) or any accepted header (e.g. Aufgebot).
Omitting the value clears the field.`,
		Args: cobra.RangeArgs(4, 5),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			col, err := domain.ParseColumn(args[3])
			if err != nil {
				return err
			}
			var value string
			if len(args) == 5 {
				value = args[4]
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				v, err := e.Sessions.UpdateField(ctx, key, args[2], col, value)
				if err != nil {
					return err
				}
				successf(c.stdout, "%s of patient %s set", col.Header(), args[2])
				fmt.Fprintln(c.stdout, renderRecords([]session.RecordView{*v}))
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// status / list
// ---------------------------------------------------------------------------

func (c *cli) sessionStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <entity> <date>",
		Short: "Show snapshot state, finalization history and record markers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				st, err := e.Sessions.Status(ctx, key)
				if err != nil {
					return err
				}
				return c.printSession(ctx, e, st)
			})
		},
	}
}

func (c *cli) sessionListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List working snapshots on disk",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				snapshots, err := e.Sessions.ListSnapshots(ctx)
				if err != nil {
					return err
				}
				if len(snapshots) == 0 {
					fmt.Fprintln(c.stdout, styles.Muted.Render("no open sessions"))
					return nil
				}
				rows := make([][]string, 0, len(snapshots))
				for _, s := range snapshots {
					rows = append(rows, []string{
						s.Key.Entity,
						s.Key.Date.Format(time.DateOnly),
						yesNo(s.Dirty),
						s.ModifiedAt.Format(time.DateTime),
					})
				}
				fmt.Fprintln(c.stdout, renderTable([]string{"Entity", "Date", "Unsaved", "Modified"}, rows))
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// finalize / discard
// ---------------------------------------------------------------------------

func (c *cli) sessionFinalizeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "finalize <entity> <date>",
		Short: "Commit the snapshot to the source, the store and the call ledgers",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				res, err := e.Sessions.Finalize(ctx, key)
				if err != nil {
					return err
				}
				successf(c.stdout, "session %s %s by %s at %s",
					key, strings.ToLower(res.Kind.String()), res.Actor, res.At.Local().Format(time.DateTime))
				if res.Sync != nil {
					fmt.Fprintf(c.stdout, "  %s store: %d records written, %d unchanged, %d pruned\n",
						iconArrow, res.Sync.Records, res.Sync.Unchanged, res.Sync.Pruned)
				}
				if res.Route != nil {
					printRoute(c.stdout, res.Route)
				}
				return nil
			})
		},
	}
}

func (c *cli) sessionDiscardCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "discard <entity> <date>",
		Short: "Drop the unsaved flag; the snapshot stays restorable",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if err := e.Sessions.Discard(ctx, key); err != nil {
					return err
				}
				successf(c.stdout, "session %s closed; snapshot kept at %s", key, e.Sessions.SnapshotPath(key))
				return nil
			})
		},
	}
}

// ---------------------------------------------------------------------------
// Output
// ---------------------------------------------------------------------------

func (c *cli) printSession(ctx context.Context, e *app.Engine, st *session.Status) error {
	lines := []string{
		styles.Title.Render(st.Key.String()),
		fmt.Sprintf("state      %s", st.State),
	}
	if st.SnapshotModifiedAt != nil {
		lines = append(lines, fmt.Sprintf("snapshot   %s", st.SnapshotModifiedAt.Local().Format(time.DateTime)))
	}
	if st.Dirty {
		lines = append(lines, styles.Warning.Render("unsaved    yes"))
	}
	if s := st.Session; s != nil {
		if s.IsFinalized() {
			lines = append(lines, fmt.Sprintf("finalized  %s by %s", s.FinalizedAt.Local().Format(time.DateTime), deref(s.FinalizedBy)))
		}
		if s.LastEditedAt != nil {
			lines = append(lines, fmt.Sprintf("edited     %s by %s", s.LastEditedAt.Local().Format(time.DateTime), deref(s.LastEditedBy)))
		}
	} else {
		lines = append(lines, styles.Muted.Render("not imported yet"))
	}
	fmt.Fprintln(c.stdout, styles.Box.Render(strings.Join(lines, "\n")))

	if st.State != session.StateSnapshotActive {
		return nil
	}

	views, err := e.Sessions.Records(ctx, st.Key)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, renderRecords(views))

	statuses := make([]string, 0, len(st.Counts))
	for s := range st.Counts {
		statuses = append(statuses, string(s))
	}
	sort.Strings(statuses)
	parts := make([]string, 0, len(statuses))
	for _, s := range statuses {
		parts = append(parts, fmt.Sprintf("%s %d", s, st.Counts[domain.RecordStatus(s)]))
	}
	fmt.Fprintln(c.stdout, styles.Muted.Render(strings.Join(parts, ", ")))

	if st.Finalizable() {
		successf(c.stdout, "ready to finalize")
	} else {
		warnf(c.stdout, "%d record(s) block finalization", st.Blocking)
	}
	return nil
}

func renderRecords(views []session.RecordView) string {
	rows := make([][]string, 0, len(views))
	for _, v := range views {
		r := v.Record
		rows = append(rows, []string{
			statusIcon(v.Status),
			strconv.Itoa(v.Line),
			r.PatientNumber,
			r.Name,
			deref(r.DiagnosisCode),
			rtIndication(r.RTIndication),
			callPriority(r.CallPriority),
			columnList(v.Missing),
		})
	}
	return renderTable([]string{"", "Row", "Number", "Name", "ICD", "RT", "Call", "Missing"}, rows)
}

func printRoute(w io.Writer, res *router.Result) {
	for _, cat := range domain.CallPriorities {
		fmt.Fprintf(w, "  %s ledger %s: %d inserted\n", iconArrow, cat, res.Routed[cat])
	}
	if res.AlreadyPresent > 0 {
		fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("  %d already present", res.AlreadyPresent)))
	}
	if len(res.Unrouted) > 0 {
		warnf(w, "no ledger for patient(s) %s", strings.Join(res.Unrouted, ", "))
	}
	for _, r := range res.Reassigned {
		warnf(w, "patient %s stays in ledger %s, now %s: move it by hand", r.PatientNumber, r.From, r.To)
	}
}

func columnList(cols []domain.Column) string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Header()
	}
	return strings.Join(names, ", ")
}

func rtIndication(v *domain.RTIndication) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func callPriority(v *domain.CallPriority) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
