// Command tumorboard imports tumorboard collection workbooks into the store,
// runs per-session editing with crash-safe snapshots, routes finalized
// sessions into the call ledgers and reports over the stored records.
//
// Usage:
//
//	tumorboard [--config path] [--actor name] <command>
//
// Configuration comes from --config, CONFIG_PATH or ./config.yaml, with
// environment variables taking precedence.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(os.Stdout, os.Stderr).ExecuteContext(ctx); err != nil {
		reportError(ctx, os.Stderr, err)
		return 1
	}
	return 0
}
