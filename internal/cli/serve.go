package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/api"
	"github.com/clawinfra/toolgate/internal/audit"
	"github.com/clawinfra/toolgate/internal/config"
	"github.com/clawinfra/toolgate/internal/security"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the authorization HTTP API",
		Long: `Serve the authorization API until interrupted.

The profile document and the config file are watched and reloaded when they
change. SIGHUP reloads the profile immediately. Set ` + security.JWTSecretEnv + `
to require bearer tokens.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, level, err := setup(cmd, g)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return serve(cmd.Context(), g.path(), cfg, logger, level)
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	return cmd
}

func serve(parent context.Context, cfgPath string, cfg *config.Config, logger *slog.Logger, level *slog.LevelVar) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	a, err := build(ctx, cfg, logger, buildOptions{mqtt: true})
	if err != nil {
		return err
	}
	defer a.Close()

	retention, err := audit.NewRetention(a.sink, cfg.Audit.RetentionSchedule, cfg.Audit.RetentionKeep, logger)
	if err != nil {
		return err
	}
	if err := retention.Start(); err != nil {
		return err
	}
	defer retention.Stop()

	if cfg.Profile.Path != "" {
		w := a.store.Watch(ctx, time.Duration(cfg.Profile.WatchIntervalSec)*time.Second)
		defer w.Stop()
	}
	if cfgPath != "" {
		w := config.NewWatcher(cfgPath, 0, logger, func(ctx context.Context) {
			result, err := cfg.Reload(cfgPath)
			if err != nil {
				logger.Error("config reload failed", "error", err)
				return
			}
			result.LogResult(logger)
			config.RLock()
			level.Set(parseLogLevel(cfg.Server.LogLevel))
			config.RUnlock()
			if err := a.apply(ctx); err != nil {
				logger.Error("applying reloaded config", "error", err)
			}
		})
		w.Start(ctx)
		defer w.Stop()
	}

	srv := api.NewServer(api.Options{
		Port:      cfg.Server.Port,
		Gateway:   a.gateway,
		Profiles:  a.store,
		Breaker:   breakerControl{a},
		Batch:     batchControl{a},
		AuditPath: a.sink.Path(),
		JWTSecret: security.GetJWTSecret(),
		Logger:    logger,
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, shutdownSignals()...)
	defer signal.Stop(sigCh)

	logger.Info("toolgate serving", "port", cfg.Server.Port, "layers", a.gateway.Layers())
	for {
		select {
		case sig := <-sigCh:
			if handlePlatformSignal(ctx, sig, a, logger) {
				continue
			}
			logger.Info("shutdown signal received", "signal", sig)
			cancel()
			return <-errCh
		case err := <-errCh:
			if err != nil {
				return fmt.Errorf("api server: %w", err)
			}
			return nil
		}
	}
}
