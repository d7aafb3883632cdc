package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/heartmarshall/tumorboard/internal/app"
	"github.com/heartmarshall/tumorboard/internal/transport/rest"
)

const shutdownTimeout = 5 * time.Second

func (c *cli) watchCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Re-import collection workbooks whenever they change",
		Long: `Re-import collection workbooks whenever they change. With --listen (or
watch.listen) the status endpoints /live, /ready, /health and /metrics are
served on that address while watching.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen == "" {
				listen = c.cfg.Watch.Listen
			}
			return c.withEngine(cmd, func(ctx context.Context, e *app.Engine) error {
				g, ctx := errgroup.WithContext(ctx)

				g.Go(func() error {
					successf(c.stderr, "watching %s (debounce %s), Ctrl+C to stop",
						c.cfg.Paths.DataRoot, c.cfg.Watch.Debounce)
					return e.Watcher.Run(ctx)
				})

				if listen != "" {
					srv := &http.Server{
						Addr:              listen,
						Handler:           rest.NewRouter(rest.NewStatusHandler(e, e.Sessions, c.cfg.Paths.DataRoot, app.BuildVersion()), e.Metrics.Registry(), c.log),
						ReadHeaderTimeout: 5 * time.Second,
					}
					g.Go(func() error {
						c.log.InfoContext(ctx, "status endpoints listening", slog.String("addr", listen))
						if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
							return err
						}
						return nil
					})
					g.Go(func() error {
						<-ctx.Done()
						shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
						defer cancel()
						return srv.Shutdown(shutdownCtx)
					})
				}

				if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "serve status endpoints on this address")
	return cmd
}
