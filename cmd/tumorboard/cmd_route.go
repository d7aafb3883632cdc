package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/app"
)

func (c *cli) routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <entity> <date>",
		Short: "Insert the indicated patients of a finalized session into the call ledgers",
		Long: `Insert the indicated patients of a finalized session into the call ledgers.
Finalize already does this; the command repeats it after a ledger was locked.
Records a ledger already holds are not inserted twice.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := c.sessionKey(args[0], args[1])
			if err != nil {
				return err
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				res, err := e.Router.RouteFinalizedSession(ctx, key)
				if err != nil {
					return err
				}
				successf(c.stdout, "session %s routed: %d inserted", key, res.Total())
				printRoute(c.stdout, res)
				return nil
			})
		},
	}
}
