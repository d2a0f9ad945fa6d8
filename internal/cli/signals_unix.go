//go:build !windows

package cli

import (
	"context"
	"log/slog"
	"os"
	"syscall"
)

// shutdownSignals returns the signals serve listens for.
func shutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP}
}

// handlePlatformSignal handles platform-specific signals. It returns true
// when serving should continue.
func handlePlatformSignal(ctx context.Context, sig os.Signal, a *app, logger *slog.Logger) bool {
	if sig == syscall.SIGHUP {
		snap := a.store.Reload(ctx)
		logger.Info("reload signal received", "profile_source", snap.Source, "fallback", snap.Fallback)
		return true
	}
	return false
}
