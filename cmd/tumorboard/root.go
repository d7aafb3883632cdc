package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/heartmarshall/tumorboard/internal/app"
	"github.com/heartmarshall/tumorboard/internal/config"
	"github.com/heartmarshall/tumorboard/internal/domain"
	"github.com/heartmarshall/tumorboard/pkg/ctxutil"
)

// cli carries the state shared by all commands of one invocation.
type cli struct {
	configPath string
	actor      string

	cfg *config.Config
	log *slog.Logger

	stdout io.Writer
	stderr io.Writer
}

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}

	root := &cobra.Command{
		Use:               "tumorboard",
		Short:             "Tumorboard session and collection synchronization",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "config file (default $CONFIG_PATH or ./config.yaml)")
	root.PersistentFlags().StringVar(&c.actor, "actor", "", "operator recorded on finalization (default session.actor or OS user)")

	root.AddCommand(
		c.importCmd(),
		c.sessionCmd(),
		c.routeCmd(),
		c.reportCmd(),
		c.exportCmd(),
		c.watchCmd(),
		c.migrateCmd(),
		c.versionCmd(),
	)
	return root
}

// setup loads configuration and the logger and tags the command context
// with an operation id and the actor.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	path := c.configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	cfg, err := config.LoadFile(path)
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = app.NewLogger(cfg.Log)

	ctx := ctxutil.EnsureOperationID(cmd.Context())
	if c.actor != "" {
		ctx = ctxutil.WithActor(ctx, c.actor)
	}
	cmd.SetContext(ctx)

	c.log.DebugContext(ctx, "starting", slog.String("command", cmd.CommandPath()), slog.String("version", app.BuildVersion()))
	return nil
}

// withEngine builds the engine, reports crash-left snapshots and runs fn.
// The engine is closed afterwards, which also writes the metrics textfile.
func (c *cli) withEngine(cmd *cobra.Command, fn func(ctx context.Context, e *app.Engine) error) (err error) {
	ctx := cmd.Context()

	e, err := app.NewEngine(ctx, c.cfg, c.log)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := e.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	c.reportPendingSnapshots(ctx, e)

	return fn(ctx, e)
}

func (c *cli) reportPendingSnapshots(ctx context.Context, e *app.Engine) {
	snapshots, err := e.Sessions.ListSnapshots(ctx)
	if err != nil {
		c.log.WarnContext(ctx, "list snapshots", slog.String("error", err.Error()))
		return
	}
	for _, s := range snapshots {
		state := "clean"
		if s.Dirty {
			state = "unsaved changes"
		}
		warnf(c.stderr, "pending snapshot %s (%s, last modified %s)", s.Key, state, s.ModifiedAt.Format(time.DateTime))
	}
}

// reportError logs the failure with its step and prints it for the operator.
func reportError(ctx context.Context, w io.Writer, err error) {
	attrs := []any{slog.String("error", err.Error())}
	if step := domain.StepOf(err); step != "" {
		attrs = append(attrs, slog.String("step", step.String()))
	}
	slog.ErrorContext(ctx, "command failed", attrs...)

	failf(w, "%v", err)

	var restore *domain.RestoreRequiredError
	if errors.As(err, &restore) {
		fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf(
			"  run: tumorboard session restore %q %s --choice continue|discard",
			restore.Key.Entity, restore.Key.Date.Format(time.DateOnly))))
	}
}
