package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/adapter/sqlite"
	"github.com/heartmarshall/tumorboard/internal/domain"
)

func (c *cli) migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema steps to the store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := sqlite.OpenNoMigrate(ctx, c.cfg.Store)
			if err != nil {
				return domain.NewStepError(domain.StepMigrate, err)
			}
			defer db.Close()

			applied, err := sqlite.Migrate(ctx, db, c.log)
			if err != nil {
				return domain.NewStepError(domain.StepMigrate, err)
			}
			successf(c.stdout, "%d schema step(s) applied to %s", applied, c.cfg.Store.Path)
			return nil
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "List schema steps and whether they are applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			db, err := sqlite.OpenNoMigrate(ctx, c.cfg.Store)
			if err != nil {
				return domain.NewStepError(domain.StepMigrate, err)
			}
			defer db.Close()

			steps, err := sqlite.Status(ctx, db)
			if err != nil {
				return domain.NewStepError(domain.StepMigrate, err)
			}
			rows := make([][]string, 0, len(steps))
			for _, s := range steps {
				state, at := styles.Muted.Render(iconPending), ""
				if s.Applied {
					state, at = styles.Success.Render(iconOK), s.AppliedAt.Local().Format(time.DateTime)
				}
				rows = append(rows, []string{state, strconv.FormatInt(s.Version, 10), at})
			}
			fmt.Fprintln(c.stdout, renderTable([]string{"", "Step", "Applied"}, rows))
			return nil
		},
	})
	return cmd
}
