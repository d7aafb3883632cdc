package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/domain"
)

// parseDate accepts the configured import layouts plus ISO and sheet names.
func (c *cli) parseDate(field, raw string) (time.Time, error) {
	layouts := append([]string{time.DateOnly, domain.SheetDateLayout}, c.cfg.Import.DateLayouts...)
	if len(c.cfg.Import.DateLayouts) == 0 {
		layouts = append(layouts, domain.DefaultDateLayouts...)
	}
	t, ok := domain.ParseDate(raw, layouts...)
	if !ok {
		return time.Time{}, domain.NewValidationError(field, fmt.Sprintf("unrecognized date %q", raw))
	}
	return t, nil
}

func (c *cli) sessionKey(entity, date string) (domain.SessionKey, error) {
	d, err := c.parseDate("date", date)
	if err != nil {
		return domain.SessionKey{}, err
	}
	return domain.NewSessionKey(entity, d), nil
}

// filterFlags binds the --entity/--from/--to flags shared by report and export.
type filterFlags struct {
	entity string
	from   string
	to     string
}

func (ff *filterFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&ff.entity, "entity", "e", "", "only records of this entity")
	cmd.Flags().StringVar(&ff.from, "from", "", "first session date (inclusive)")
	cmd.Flags().StringVar(&ff.to, "to", "", "last session date (inclusive)")
}

func (c *cli) filter(ff filterFlags) (domain.ReportFilter, error) {
	f := domain.ReportFilter{Entity: ff.entity}
	if ff.from != "" {
		t, err := c.parseDate("from", ff.from)
		if err != nil {
			return f, err
		}
		f.From = &t
	}
	if ff.to != "" {
		t, err := c.parseDate("to", ff.to)
		if err != nil {
			return f, err
		}
		f.To = &t
	}
	return f, f.Validate()
}
