package pipeline

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// ForcedExitCode is used when a second signal arrives during shutdown.
const ForcedExitCode = 130

// SetupSignalHandler returns a context that is cancelled on the first SIGTERM
// or SIGINT. onShutdown, when not nil, runs before the cancel. A second signal
// exits the process immediately.
func SetupSignalHandler(parent context.Context, logger *zap.Logger, onShutdown func()) context.Context {
	ctx, cancel := context.WithCancel(parent)

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, shutting down gracefully", zap.Stringer("signal", sig))
		case <-ctx.Done():
			signal.Stop(sigCh)
			return
		}

		if onShutdown != nil {
			onShutdown()
		}
		cancel()

		sig := <-sigCh
		logger.Warn("received second signal, forcing exit", zap.Stringer("signal", sig))
		_ = logger.Sync()
		os.Exit(ForcedExitCode)
	}()

	return ctx
}
