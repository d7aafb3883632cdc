package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/adapter/fileio"
	"github.com/heartmarshall/tumorboard/internal/app"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/internal/service/report"
)

const formatText = "text"

func (c *cli) reportCmd() *cobra.Command {
	var (
		ff     filterFlags
		by     string
		format string
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Show statistics over the stored records",
		Long: `Show statistics over the stored records. Without --by an overview is
printed; --by groups by entity, month, quarter, year, call_priority,
rt_indication, diagnosis_family or study.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := c.filter(ff)
			if err != nil {
				return err
			}
			var rf report.Format
			if format != formatText {
				if rf, err = report.ParseFormat(format); err != nil {
					return err
				}
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				if by != "" {
					counts, err := e.Reports.Breakdown(ctx, f, by)
					if err != nil {
						return err
					}
					if format == formatText {
						fmt.Fprintln(c.stdout, renderCounts(by, counts))
						return nil
					}
					return report.WriteCounts(c.stdout, counts, rf)
				}

				ov, err := e.Reports.Overview(ctx, f)
				if err != nil {
					return err
				}
				if format == formatText {
					printOverview(c.stdout, ov)
					return nil
				}
				return report.WriteOverview(c.stdout, ov, rf)
			})
		},
	}
	ff.bind(cmd)
	cmd.Flags().StringVar(&by, "by", "", "group by one dimension")
	cmd.Flags().StringVarP(&format, "format", "f", formatText, "text, json or yaml")
	return cmd
}

func (c *cli) exportCmd() *cobra.Command {
	var (
		ff     filterFlags
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the stored records as xlsx, json or yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, err := c.filter(ff)
			if err != nil {
				return err
			}
			rf, err := report.ParseFormat(format)
			if err != nil {
				return err
			}
			if out == "" && rf == report.FormatXLSX && isTerminal(os.Stdout) {
				return domain.NewValidationError("out", "xlsx export needs --out when stdout is a terminal")
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				var w io.Writer = c.stdout
				if out != "" {
					if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
						return fileio.Classify("mkdir", filepath.Dir(out), err)
					}
					file, err := os.Create(out)
					if err != nil {
						return fileio.Classify("create", out, err)
					}
					defer file.Close()
					w = file
				}
				n, err := e.Reports.Export(ctx, w, f, rf)
				if err != nil {
					return err
				}
				if out != "" {
					successf(c.stderr, "%d record(s) exported to %s", n, out)
				}
				return nil
			})
		},
	}
	ff.bind(cmd)
	cmd.Flags().StringVarP(&format, "format", "f", string(report.FormatXLSX), "xlsx, json or yaml")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	return cmd
}

func printOverview(w io.Writer, ov *domain.Overview) {
	fmt.Fprintln(w, styles.Box.Render(fmt.Sprintf("%s\nsessions  %d\nrecords   %d",
		styles.Title.Render("Tumorboard overview"), ov.TotalSessions, ov.TotalRecords)))

	sections := []struct {
		title  string
		counts []domain.Count
	}{
		{"Entity", ov.ByEntity},
		{"Month", ov.ByMonth},
		{"Call priority", ov.ByCallPriority},
		{"RT indication", ov.ByRTIndication},
		{"Diagnosis family", ov.ByFamily},
		{"Study", ov.ByStudy},
	}
	for _, s := range sections {
		if len(s.counts) == 0 {
			continue
		}
		fmt.Fprintln(w, renderCounts(s.title, s.counts))
	}
}

func renderCounts(title string, counts []domain.Count) string {
	rows := make([][]string, 0, len(counts))
	for _, c := range counts {
		key := c.Key
		if key == "" {
			key = styles.Muted.Render("(none)")
		}
		rows = append(rows, []string{key, strconv.Itoa(c.Sessions), strconv.Itoa(c.Records)})
	}
	return renderTable([]string{title, "Sessions", "Records"}, rows)
}
