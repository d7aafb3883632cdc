package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/app"
)

func (c *cli) versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		// No config needed.
		PersistentPreRunE: func(*cobra.Command, []string) error { return nil },
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(c.stdout, "tumorboard "+app.BuildVersion())
		},
	}
}
