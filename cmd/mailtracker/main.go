package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/wesm/mailtracker/cmd/mailtracker/cmd"
)

const (
	exitCodeConfig      = 1
	exitCodeRuntime     = 2
	exitCodeInterrupted = 130 // 128 + SIGINT, mirrors shell convention
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := cmd.ExecuteContext(ctx)
	switch {
	case err == nil:
		return 0
	case isSignalCanceled(err, ctx):
		return exitCodeInterrupted
	case cmd.IsConfigError(err):
		return exitCodeConfig
	default:
		return exitCodeRuntime
	}
}

func isSignalCanceled(err error, ctx context.Context) bool {
	return errors.Is(err, context.Canceled) && ctx.Err() == context.Canceled
}
