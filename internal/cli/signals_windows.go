//go:build windows

package cli

import (
	"context"
	"log/slog"
	"os"
	"syscall"
)

func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

func handlePlatformSignal(context.Context, os.Signal, *app, *slog.Logger) bool {
	return false
}
