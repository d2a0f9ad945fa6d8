package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/clawinfra/toolgate/internal/config"
)

// globalFlags are shared by every command.
type globalFlags struct {
	configPath string
	logLevel   string
}

// exitError carries a process exit code through cobra.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// loadConfig loads the config file named by --config (or TOOLGATE_CONFIG),
// then applies --log-level.
func loadConfig(g *globalFlags) (*config.Config, error) {
	cfg, err := config.Load(g.path())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Server.LogLevel = g.logLevel
	}
	return cfg, nil
}

// path returns the effective config file path, if any.
func (g *globalFlags) path() string {
	if g.configPath != "" {
		return g.configPath
	}
	return os.Getenv("TOOLGATE_CONFIG")
}

// newLogger returns a text logger on w. stdout carries protocol output, so
// w is normally stderr.
func newLogger(w io.Writer, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{}
	if level != nil {
		opts.Level = level
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setup loads config and builds a logger at the configured level.
func setup(cmd *cobra.Command, g *globalFlags) (*config.Config, *slog.Logger, *slog.LevelVar, error) {
	cfg, err := loadConfig(g)
	if err != nil {
		return nil, nil, nil, err
	}
	level := new(slog.LevelVar)
	level.Set(parseLogLevel(cfg.Server.LogLevel))
	return cfg, newLogger(cmd.ErrOrStderr(), level), level, nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
