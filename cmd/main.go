package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	service "github.com/okian/ladder/internal/app"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/pkg/logger"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
)

func main() {
	os.Exit(run(context.Background(), os.Stderr))
}

// run executes one pipeline and returns the process exit code. Deferred
// cleanups run before the caller exits.
func run(parent context.Context, stderr io.Writer) int {
	if err := logger.Init(logger.WithWriter(stderr)); err != nil {
		fmt.Fprintf(stderr, "[ERROR] failed to initialize logging: %v\n", err)
		return exitFailure
	}
	defer func() {
		_ = logger.Sync()
	}()

	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitFailure
	}

	if err := logger.Init(logger.WithWriter(stderr), logger.WithFormat(cfg.LogFormat)); err != nil {
		fmt.Fprintf(stderr, "[ERROR] failed to initialize logging: %v\n", err)
		return exitFailure
	}
	log := logger.Get()
	cfg.ApplyLogLevel(ctx, log)

	p, closeSources, err := service.FromConfig(*cfg, log)
	if err != nil {
		fmt.Fprintf(stderr, "[ERROR] %v\n", err)
		return exitFailure
	}
	defer func() {
		if err := closeSources(); err != nil {
			log.Warn(ctx, "closing sources", logger.Error(err))
		}
	}()

	_, runErr := p.Run(ctx)
	// Export failures are logged and never change the exit code.
	_ = service.ExportMetrics(ctx, cfg.Metrics, log.Named("metrics"))
	if runErr != nil {
		if errors.Is(runErr, context.Canceled) {
			fmt.Fprintln(stderr, "[ERROR] interrupted")
			return exitFailure
		}
		fmt.Fprintf(stderr, "[ERROR] %v\n", runErr)
		return exitFailure
	}
	return exitOK
}
