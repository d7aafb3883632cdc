package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/app"
	"github.com/heartmarshall/tumorboard/internal/service/importer"
)

func (c *cli) importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import [entity...]",
		Short: "Import collection workbooks into the store",
		Long: `Import the collection workbook of each named entity, or of every entity
directory under paths.data_root when none is named. Importing is idempotent:
an unchanged workbook leaves the store untouched.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if len(args) == 0 {
					results, err := e.Importer.ImportAll(ctx)
					for _, r := range results {
						printImport(c.stdout, r)
					}
					return err
				}
				for _, entity := range args {
					r, err := e.Importer.ImportCollection(ctx, entity, c.cfg.Paths.CollectionPath(entity))
					if err != nil {
						return err
					}
					printImport(c.stdout, r)
				}
				return nil
			})
		},
	}
}

func printImport(w io.Writer, r *importer.Result) {
	successf(w, "%s: %d sessions, %d records written, %d unchanged",
		r.Entity, r.Sessions, r.Records, r.Unchanged)
	if r.Skipped > 0 {
		warnf(w, "%s: %d row(s) skipped", r.Entity, r.Skipped)
	}
	if r.Pruned > 0 {
		fmt.Fprintf(w, "  %s %d record(s) pruned\n", iconArrow, r.Pruned)
	}
	if len(r.SkippedSheets) > 0 {
		fmt.Fprintln(w, styles.Muted.Render("  sheets ignored: "+strings.Join(r.SkippedSheets, ", ")))
	}
}
