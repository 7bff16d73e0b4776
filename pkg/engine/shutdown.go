package engine

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"
)

const defaultShutdownTimeout = 30 * time.Second

// ErrShutdownTimeout is returned when a run does not drain in time after a
// shutdown signal.
var ErrShutdownTimeout = errors.New("shutdown timeout expired")

// RunWithGracefulShutdown runs fn with a context that is cancelled on
// SIGINT or SIGTERM. After a signal, fn gets timeout to return.
func RunWithGracefulShutdown(ctx context.Context, fn func(ctx context.Context) error, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result := make(chan error, 1)
	go func() { result <- fn(runCtx) }()

	select {
	case err := <-result:
		return err
	case <-runCtx.Done():
	}

	if ctx.Err() == nil {
		slog.Info("shutdown signal received, draining", "timeout", timeout)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		return err
	case <-timer.C:
		slog.Warn("run did not drain before the shutdown timeout", "timeout", timeout)
		return ErrShutdownTimeout
	}
}
